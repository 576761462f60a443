package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"nascert/internal/syslogd"
	"nascert/pkg/logging"
)

var (
	listenHost    string
	listenPort    int
	listenOutput  string
	listenVerbose bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the syslog capture service on its own",
	Long: `Listen starts the UDP+TCP syslog capture service without running any
tests, writing every received record to the capture file. This is
useful for validating appliance forwarding configuration by hand, or
for running the capture side as a long-lived service.

The service runs until interrupted; on SIGINT or SIGTERM the capture
file is flushed and closed before exit.`,
	RunE: runListen,
}

func runListen(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if listenVerbose {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	capture, err := syslogd.NewCapture(listenOutput, os.Getuid(), os.Getgid())
	if err != nil {
		return err
	}

	server := syslogd.NewServer(capture)
	if err := server.Start(listenHost, listenPort); err != nil {
		capture.Close()
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Capturing syslog on %s to %s\n", server.Addr(), listenOutput)

	// Under systemd (Type=notify) this flips the unit to active; when
	// running standalone SdNotify is a no-op.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("Syslog", "sd_notify failed: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logging.Info("Syslog", "received %s, flushing capture", sig)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logging.Warn("Syslog", "sd_notify failed: %v", err)
	}

	if err := server.Stop(); err != nil {
		capture.Close()
		return err
	}
	if err := capture.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Captured %d records to %s\n", capture.Count(), listenOutput)
	return nil
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVar(&listenHost, "host", "0.0.0.0", "Address to listen on")
	listenCmd.Flags().IntVarP(&listenPort, "port", "p", 55555, "Port for both UDP and TCP listeners")
	listenCmd.Flags().StringVarP(&listenOutput, "output", "o", "syslog-capture.log", "Capture file path")
	listenCmd.Flags().BoolVarP(&listenVerbose, "verbose", "v", false, "Enable debug logging")
}
