package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running Niko server",
		Long: `Send SIGTERM to the server started with 'niko serve' and wait for it to
drain. By default the wait matches server.shutdown_timeout plus a short
margin for the purge sweep to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wait <= 0 {
				wait = drainWait()
			}
			return runStop(wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "How long to wait for the server to exit (default: shutdown timeout + 5s)")
	return cmd
}

// drainWait is how long a server may take to exit after SIGTERM.
func drainWait() time.Duration {
	const margin = 5 * time.Second
	cfg, err := loadConfig()
	if err != nil {
		return 30*time.Second + margin
	}
	d, err := cfg.ShutdownTimeout()
	if err != nil {
		return 30*time.Second + margin
	}
	return d + margin
}

func runStop(wait time.Duration) error {
	pid, err := readPID()
	if err != nil {
		return fmt.Errorf("no running server found (missing PID file at %s)", pidFilePath())
	}
	if !isProcessRunning(pid) {
		removePID()
		return fmt.Errorf("server (PID %d) is not running (stale PID file removed)", pid)
	}

	fmt.Printf("Stopping Niko server (PID %d)...\n", pid)
	if err := stopProcess(pid); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(wait)
	for {
		select {
		case <-ticker.C:
			if !isProcessRunning(pid) {
				removePID()
				fmt.Println("Server stopped.")
				return nil
			}
		case <-deadline:
			return fmt.Errorf("server (PID %d) still running after %s; it may still be draining connections", pid, wait)
		}
	}
}
