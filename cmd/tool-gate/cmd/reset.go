package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/state"
	"github.com/Tool-Gate/Toolgate/internal/config"
)

var (
	resetIncludeAudit bool
	resetForce        bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset Tool Gate to a clean state",
	Long: `Reset Tool Gate by removing persistent state files.

By default, state.json (with its backup), the master key, and the PID
file are removed from the state directory. This clears the enrolled
admin key hash and invalidates every credential encrypted under the
master key.

On next start, Tool Gate will boot fresh: a new master key is generated
and the credential store starts empty.

Optional flags:
  --include-audit   Also remove the audit directory
  --force           Skip confirmation prompt

Examples:
  # Reset state only (interactive confirmation)
  tool-gate reset

  # Reset everything without prompting
  tool-gate reset --include-audit --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeAudit, "include-audit", false, "Also remove the audit directory")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	stateDir, err := resolveStateDir()
	if err != nil {
		return fmt.Errorf("resolve state directory: %w", err)
	}
	store, err := state.NewStore(stateDir, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		return fmt.Errorf("open state directory: %w", err)
	}

	// Build list of targets to show.
	type target struct {
		path string
		desc string
	}
	targets := []target{
		{filepath.Join(store.Dir(), "state.json"), "state file"},
		{filepath.Join(store.Dir(), "state.json.bak"), "state backup"},
		{filepath.Join(store.Dir(), "master.key"), "master key"},
		{store.PIDPath(), "PID file"},
	}

	// Optional: audit directory from config.
	var auditDir string
	if resetIncludeAudit {
		cfg, err := config.LoadConfigRaw()
		if err == nil && cfg.Audit.Dir != "" {
			auditDir = cfg.Audit.Dir
			targets = append(targets, target{auditDir, "audit directory"})
		}
	}

	// Check what actually exists.
	var existing []target
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset, no state files found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	// Confirm unless --force.
	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	if err := store.Reset(); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	if auditDir != "" {
		if err := os.RemoveAll(auditDir); err != nil {
			return fmt.Errorf("remove audit directory: %w", err)
		}
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. Tool Gate will start fresh on next launch.")
	return nil
}
