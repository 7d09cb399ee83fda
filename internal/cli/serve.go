package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/uptimed/internal/httpapi"
	apimw "github.com/hamed0406/uptimed/internal/httpapi/middleware"
	"github.com/hamed0406/uptimed/internal/notify"
	"github.com/hamed0406/uptimed/internal/scheduler"
	"github.com/hamed0406/uptimed/internal/status"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Probe targets continuously and serve their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) (err error) {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("config_loaded", zap.String("file", cfg.File), zap.String("backend", cfg.Storage.Backend))

	targets, _ := loadTargets(cfg, log)

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Error("state_store_unavailable", zap.Error(err))
		return fmt.Errorf("open %s state store: %w", cfg.Storage.Backend, err)
	}

	hub := httpapi.NewHub(log)
	store := status.New(log, backend, notify.Multi{notify.Log{L: log}, hub})
	sched := scheduler.New(log, newRegistry(cfg), store)
	sched.Register(targets...)
	store.Register(sched.Targets()...)

	if _, rerr := store.Restore(ctx, cfg.Storage.WarmStartMaxAge); rerr != nil {
		log.Warn("warm_start_failed", zap.Error(rerr))
	}

	api := httpapi.NewServer(log, store, sched, newAuthorizer(cfg, log), hub)
	limits := apimw.Limits{
		PerMinute:  cfg.RateLimit.RPM,
		Burst:      cfg.RateLimit.Burst,
		TrustProxy: cfg.RateLimit.TrustProxy,
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(limits),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		log.Info("api_listen", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	log.Info("shutdown_started", zap.Duration("grace", cfg.Server.ShutdownGrace))
	if !sched.Wait(cfg.Server.ShutdownGrace) {
		log.Warn("probes_abandoned")
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownGrace)
	defer cancel()
	err = multierr.Combine(err, store.Close(cctx), backend.Close())
	if err != nil {
		log.Error("shutdown_error", zap.Error(err))
		return err
	}
	log.Info("shutdown_complete")
	return nil
}
