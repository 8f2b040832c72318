// Package cli implements policyctl, an operator tool that reads and reconciles
// the shared policy document outside the orchestrator.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"catalogpolicy/internal/app"
	"catalogpolicy/internal/platform/config"
	"catalogpolicy/internal/platform/logger"
	"catalogpolicy/internal/policystore/factory"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

var ValidFormats = []string{FormatText, FormatJSON}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format      string
	Backend     string
	MaxAttempts int
	Timeout     time.Duration
	Verbose     bool

	// Open replaces the backend selected by configuration; tests use it to
	// share a store across commands.
	Open func(ctx context.Context, cfg config.Config) (*factory.Backend, error)
}

// NewRootCommand creates the policyctl root command.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policyctl",
		Short: "Inspect and reconcile the shared catalog resource policy",
		Long: `policyctl reads and reconciles the shared catalog resource policy.

Statements are owned by Sid: apply and remove only ever touch the Sids they
name and leave every other statement exactly as it was.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "policy backend (glue|redis|postgres|memory); defaults to POLICY_BACKEND")
	cmd.PersistentFlags().IntVar(&opts.MaxAttempts, "max-attempts", 0, "conflict retry bound; defaults to RECONCILE_MAX_ATTEMPTS")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall deadline for the command")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log reconciliation steps to stderr")

	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// commandContext bounds a command by --timeout.
func (o *RootOptions) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

// loadConfig layers the global flags over the environment.
func (o *RootOptions) loadConfig() config.Config {
	cfg := config.FromEnv()
	if o.Backend != "" {
		cfg.Store.Backend = o.Backend
	}
	if o.MaxAttempts > 0 {
		cfg.Reconcile.MaxAttempts = o.MaxAttempts
	}
	return cfg
}

func (o *RootOptions) newLogger(cmd *cobra.Command) *slog.Logger {
	if !o.Verbose {
		return slog.New(slog.DiscardHandler)
	}
	return logger.NewWithWriter(cmd.ErrOrStderr(), config.Log{Level: "debug", Format: FormatText})
}

// open builds the dependency graph for one command. Metrics stay on a private
// registry; nothing scrapes a CLI.
func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg := o.loadConfig()
	var appOpts []app.Option
	if o.Open != nil {
		backend, err := o.Open(ctx, cfg)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open policy store", err)
		}
		appOpts = append(appOpts, app.WithBackend(backend))
	}
	a, err := app.New(ctx, cfg, o.newLogger(cmd), prometheus.NewRegistry(), appOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open policy store", err)
	}
	return a, nil
}
