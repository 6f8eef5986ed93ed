package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hybridstore/internal/hybrid"
)

// healthView renders a health report in backend order.
type healthView struct {
	hybrid.HealthReport
	order []string
}

func (h healthView) String() string {
	var sb strings.Builder
	if h.Healthy {
		sb.WriteString("healthy")
	} else {
		sb.WriteString("unhealthy")
	}
	for _, name := range h.order {
		state := "down"
		if h.Backends[name] {
			state = "up"
		}
		fmt.Fprintf(&sb, "\n  %-12s %s", name, state)
	}
	return sb.String()
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every configured backend",
		Long: `Initialize the configured backends and probe each one.

Exits 0 when at least one backend, the memory fallback included, is healthy.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(rootOpts, cmd)
		},
	}

	return cmd
}

func runHealth(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := opts.formatter(cmd)

	c, err := opts.open(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	report := c.CheckHealth(ctx)
	if err := f.Success(healthView{HealthReport: report, order: c.Backends()}); err != nil {
		return err
	}
	if !report.Healthy {
		return NewExitError(ExitFailure, ErrCodeUnhealthy)
	}
	return nil
}
