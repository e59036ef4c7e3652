package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/unifeed/internal/config"
)

// Error codes for CLI responses.
const (
	ErrCodeConfig  = "E001" // configuration unreadable or invalid
	ErrCodeQueue   = "E002" // queue database unavailable
	ErrCodeOffline = "E003" // connectivity lost during replay
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool   `json:"valid"`
	Accounts int    `json:"accounts"`
	Error    string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate",
		Short:         "Validate the configuration file",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		if formatter.JSON() {
			_ = formatter.Success(ValidationResult{Valid: false, Error: err.Error()})
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %v\n", err)
		}
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}

	formatter.VerboseLog("configuration %s parsed", opts.ConfigPath)

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Accounts: len(cfg.Accounts)})
	}
	fmt.Fprintf(formatter.Writer, "✓ configuration valid (%d account(s))\n", len(cfg.Accounts))
	return nil
}
