package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/config"
	"github.com/roach88/hybridstore/internal/hybrid"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to YAML config; empty means memory only
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the hybridstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "hybridstore",
		Short: "hybridstore - multi-backend record store",
		Long: `Operate a hybrid store: records in a durable backend, a read-through
cache and an eventually consistent search index, with an in-memory fallback.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (default: memory only)")

	cmd.AddCommand(NewHealthCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// logger writes text logs to w; --verbose lowers the level to debug.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.Config == "" {
		return config.Default(), nil
	}
	return config.Load(o.Config)
}

// open builds a coordinator from the config. Callers must Close it.
func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command, f *OutputFormatter) (*hybrid.Coordinator, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, err)
	}

	b, err := cfg.Builder(hybrid.WithLogger(o.logger(cmd.ErrOrStderr())))
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	c, err := b.Build(ctx)
	if err != nil {
		if backend.CodeOf(err) == backend.CodeInvalid {
			return nil, f.Fail(ExitCommandError, ErrCodeConfig, err)
		}
		return nil, f.Fail(ExitFailure, ErrCodeUnavailable, err)
	}

	for _, name := range c.Backends() {
		f.VerboseLog("backend %s: %s", name, c.Statuses()[name])
	}
	return c, nil
}
