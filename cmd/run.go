package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nascert/internal/config"
	"nascert/internal/mount"
	"nascert/internal/report"
	"nascert/internal/runner"
	"nascert/pkg/logging"
)

var (
	runConfigPath string
	runDryRun     bool
	runVerbose    bool
	runQuiet      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the conformance suite against the configured targets",
	Long: `Run mounts every configured target, executes the protocol conformance
tests against it, and writes one report per target plus the captured
appliance syslog to the output directory.

Mounting requires root. With --dry-run the mount commands are logged
instead of executed, no tests run, and root is not required.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if runVerbose {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	if !runDryRun && os.Geteuid() != 0 {
		return fmt.Errorf("mounting filesystems requires root: %w", mount.ErrNotRoot)
	}

	cfg, targets, err := config.Load(runConfigPath)
	if err != nil {
		return &configError{err: err}
	}
	if len(targets) == 0 {
		return &configError{err: fmt.Errorf("configuration %s defines no targets", runConfigPath)}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := runner.New(cfg, targets, runDryRun)
	r.Quiet = runQuiet

	summary, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if runDryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Dry run complete, no tests executed.")
		return nil
	}

	report.ConsoleSummary(cmd.OutOrStdout(), summary)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d tests failed", summary.Failed, summary.Total)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "nascert.yaml", "Path to the run configuration file")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Log mount commands without executing anything")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress spinners")
}
