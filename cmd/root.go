package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"nascert/internal/config"
	"nascert/internal/mount"
)

// Exit codes for CLI commands. These are stable so CI pipelines can
// distinguish test failures from setup problems.
const (
	// ExitCodeSuccess indicates every executed test passed.
	ExitCodeSuccess = 0
	// ExitCodeError indicates test failures or a general error.
	ExitCodeError = 1
	// ExitCodePrecondition indicates the run never started: missing
	// privileges or an invalid configuration.
	ExitCodePrecondition = 2
)

// rootCmd represents the base command for the nascert application.
var rootCmd = &cobra.Command{
	Use:   "nascert",
	Short: "Protocol conformance validation for network-attached storage",
	Long: `nascert mounts NFS and SMB exports from storage appliances, runs a
protocol conformance test suite against each one, captures the audit
syslog the appliance emits while under test, and writes per-target
reports for certification submissions.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. It is called from
// the main package with the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and exits the process with a semantic code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "nascert version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps errors to exit codes: precondition failures (not
// root, bad configuration) are distinguished from test failures.
func getExitCode(err error) int {
	if errors.Is(err, mount.ErrNotRoot) {
		return ExitCodePrecondition
	}
	var validationErrs config.ValidationErrors
	if errors.As(err, &validationErrs) {
		return ExitCodePrecondition
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return ExitCodePrecondition
	}
	return ExitCodeError
}

// configError wraps configuration loading problems so they map to the
// precondition exit code.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
