// Package cli wires the uptimed commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimed/internal/config"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitChecksFailed = 2
	ExitConfig       = 3
)

var (
	errChecksFailed = errors.New("one or more checks failed")
	errConfig       = errors.New("configuration error")
)

type rootOptions struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	return cfg, nil
}

// NewRootCmd builds the command tree. Output goes to stdout/stderr.
func NewRootCmd(version string, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "uptimed",
		Short: "Liveness monitoring agent",
		Long: `uptimed probes the configured targets (ICMP, HTTP, TCP, UDP, DNS) on their own
schedules, keeps a hysteresis-filtered UP/DOWN verdict per target and serves it
over an authenticated HTTP API.

Usage: uptimed [--config=path/to/uptimed.yaml] serve`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file (default ./uptimed.yaml or /etc/uptimed/uptimed.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newPreflightCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, version string, args []string) int {
	root := NewRootCmd(version, os.Stdout, os.Stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintln(os.Stderr, "uptimed:", err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errChecksFailed):
		return ExitChecksFailed
	case errors.Is(err, errConfig):
		return ExitConfig
	default:
		return ExitFailure
	}
}
