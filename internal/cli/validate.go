package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/config"
)

// ValidationResult is the validate command's output.
type ValidationResult struct {
	Valid bool                      `json:"valid"`
	Roles map[backend.Role][]string `json:"roles"`
}

func (r ValidationResult) String() string {
	var sb strings.Builder
	sb.WriteString("config valid")
	for _, role := range backend.Roles {
		fmt.Fprintf(&sb, "\n  %-7s %s", string(role)+":", strings.Join(r.Roles[role], ", "))
	}
	return sb.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file without connecting to backends",
		Long: `Validate a hybridstore config file against the schema and check that
every backend reference resolves. Backends are not contacted.

The file defaults to --config.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	if path == "" {
		return f.Fail(ExitCommandError, ErrCodeConfig, fmt.Errorf("no config file given"))
	}
	f.VerboseLog("validating %s", path)

	cfg, err := config.Load(path)
	if err != nil {
		details := strings.Split(err.Error(), "\n")
		if outErr := f.Error(ErrCodeConfig, "config invalid", details); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, ErrCodeConfig, err)
	}

	return f.Success(ValidationResult{Valid: true, Roles: cfg.Preferences()})
}
