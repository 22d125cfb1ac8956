package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running keygate server",
		Long:  "Signal a keygate server started with 'keygate serve' to shut down gracefully.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop()
		},
	}
}

func runStop() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pid, err := readPID(cfg)
	if err != nil {
		return fmt.Errorf("no running server found (missing PID file at %s)", pidFilePath(cfg))
	}

	if !isProcessRunning(pid) {
		removePID(cfg)
		return fmt.Errorf("server (PID %d) is not running (stale PID file removed)", pid)
	}

	fmt.Printf("Stopping keygate server (PID %d)...\n", pid)

	if err := stopProcess(pid); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	// The server drains requests and pending usage writes before exiting.
	for i := 0; i < 100; i++ { // up to 10 seconds
		time.Sleep(100 * time.Millisecond)
		if !isProcessRunning(pid) {
			fmt.Println("Server stopped.")
			return nil
		}
	}

	return fmt.Errorf("server (PID %d) did not stop within 10 seconds; it may still be draining connections", pid)
}
