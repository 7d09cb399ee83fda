package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/config"
)

func newPreflightCmd(opts *rootOptions) *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Validate configuration, API keys and storage settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := false
			fail := func(msg string) { fmt.Fprintln(opts.stderr, "✖", msg); failed = true }
			warn := func(msg string) { fmt.Fprintln(opts.stderr, "⚠", msg) }
			ok := func(msg string) { fmt.Fprintln(opts.stdout, "✔", msg) }

			cfg, err := opts.load()
			if err != nil {
				fail(err.Error())
				return err
			}
			if cfg.File == "" {
				warn("no config file found; running on defaults and environment only")
			} else {
				ok("config " + cfg.File)
			}
			ok("server.addr=" + cfg.Server.Addr)

			switch {
			case cfg.Auth.Disabled:
				warn("auth.disabled is set; the API is open to anyone who can reach it")
			case len(cfg.Auth.PublicKeys) == 0 && len(cfg.Auth.AdminKeys) == 0:
				fail("no API keys configured (every status request will get 401)")
			default:
				if len(cfg.Auth.AdminKeys) == 0 {
					warn("auth.admin_keys is empty (admin routes will 403)")
				}
				ok(fmt.Sprintf("%d public and %d admin API keys", len(cfg.Auth.PublicKeys), len(cfg.Auth.AdminKeys)))
			}

			targets, terrs := cfg.Targets()
			for _, e := range terrs {
				fail(e.Error())
			}
			rejected := 0
			probers := newRegistry(cfg)
			for _, t := range targets {
				if _, err := probers.For(t); err != nil {
					fail(err.Error())
					rejected++
				}
			}
			if len(targets) == 0 && len(terrs) == 0 {
				warn("no targets configured")
			} else if n := len(targets) - rejected; n > 0 {
				ok(fmt.Sprintf("%d targets valid", n))
			}

			if cfg.Storage.Backend == config.BackendMemory {
				warn("storage.backend=memory; verdicts will not survive a restart")
			} else {
				ok("storage.backend=" + cfg.Storage.Backend)
			}
			if connect {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				be, err := openBackend(ctx, cfg, zap.NewNop())
				if err != nil {
					fail("storage unreachable: " + err.Error())
				} else {
					ok("storage reachable")
					_ = be.Close()
				}
			}

			if failed {
				return fmt.Errorf("%w: preflight failed", errConfig)
			}
			ok("preflight passed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "also connect to the configured storage backend")
	return cmd
}
