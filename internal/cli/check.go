package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/scheduler"
)

type checkRow struct {
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	Kind       string  `json:"kind" yaml:"kind"`
	Address    string  `json:"address" yaml:"address"`
	Success    bool    `json:"success" yaml:"success"`
	LatencyMS  float64 `json:"latency_ms" yaml:"latency_ms"`
	Class      string  `json:"class,omitempty" yaml:"class,omitempty"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
	StatusCode int     `json:"status_code,omitempty" yaml:"status_code,omitempty"`
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		output      string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every target once and exit non-zero if any failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validOutput(output); err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = cfg.Probe.Concurrency
			}

			targets, terrs := loadTargets(cfg, zap.NewNop())
			for _, e := range terrs {
				fmt.Fprintln(opts.stderr, "skipped:", e.Error())
			}

			checked, invalid := scheduler.ProbeAll(cmd.Context(), newRegistry(cfg), targets, concurrency)
			for _, e := range multierr.Errors(invalid) {
				fmt.Fprintln(opts.stderr, "skipped:", e.Error())
			}

			rows := make([]checkRow, 0, len(checked))
			table := make([][]string, 0, len(checked))
			failed := len(terrs) + len(multierr.Errors(invalid))
			for _, c := range checked {
				r := checkRow{
					ID:         string(c.Target.ID),
					Name:       c.Target.Name,
					Kind:       string(c.Target.Kind),
					Address:    c.Target.Address,
					Success:    c.Outcome.Success,
					LatencyMS:  float64(c.Outcome.Latency) / float64(time.Millisecond),
					Class:      string(c.Outcome.Class),
					Error:      c.Outcome.Error,
					StatusCode: c.Outcome.StatusCode,
				}
				if !r.Success {
					failed++
				}
				rows = append(rows, r)
				result := "OK"
				if !r.Success {
					result = "FAIL " + r.Class
				}
				table = append(table, []string{
					r.Name, r.Kind, result, strconv.FormatFloat(r.LatencyMS, 'f', 1, 64) + "ms", r.Error,
				})
			}

			if err := render(opts.stdout, output, rows, []string{"TARGET", "KIND", "RESULT", "LATENCY", "DETAIL"}, table); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d", errChecksFailed, failed, len(cfg.RawTargets))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table, json or yaml")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum probes in flight (default probe.concurrency)")
	return cmd
}
