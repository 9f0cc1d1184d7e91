package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/state"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gateway",
	Long: `Stop a running Tool Gate gateway by reading its PID file and sending SIGTERM.

The PID file is located in the state directory (default ~/.toolgate).

Examples:
  # Stop the running gateway
  tool-gate stop`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	stateDir, err := resolveStateDir()
	if err != nil {
		return fmt.Errorf("resolve state directory: %w", err)
	}
	store, err := state.NewStore(stateDir, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		return fmt.Errorf("open state directory: %w", err)
	}

	pid, err := store.ReadPID()
	if err != nil || pid == 0 {
		return fmt.Errorf("no gateway PID file found at %s\nIs the gateway running?", store.PIDPath())
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		_ = store.RemovePID()
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}

	// Check if the process is actually alive.
	if !gatewayAlive(proc) {
		_ = store.RemovePID()
		return fmt.Errorf("gateway process %d is not running (stale PID file removed)", pid)
	}

	// Send graceful stop signal (SIGTERM on Unix, Kill on Windows).
	fmt.Fprintf(os.Stderr, "Stopping Tool Gate gateway (PID %d)...\n", pid)
	if err := requestShutdown(proc); err != nil {
		return fmt.Errorf("failed to stop gateway: %w", err)
	}

	// Wait for the process to exit (poll every 200ms, max 10s).
	for i := 0; i < 50; i++ {
		time.Sleep(200 * time.Millisecond)
		if !gatewayAlive(proc) {
			_ = store.RemovePID()
			fmt.Fprintf(os.Stderr, "Gateway stopped.\n")
			return nil
		}
	}

	// Still alive after 10s, force kill.
	fmt.Fprintf(os.Stderr, "Gateway did not stop gracefully, sending SIGKILL...\n")
	_ = proc.Kill()
	_ = store.RemovePID()
	fmt.Fprintf(os.Stderr, "Gateway killed.\n")
	return nil
}
