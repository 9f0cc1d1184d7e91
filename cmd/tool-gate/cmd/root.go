// Package cmd provides the CLI commands for Tool Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/state"
	"github.com/Tool-Gate/Toolgate/internal/config"
)

var cfgFile string
var stateDirPath string

var rootCmd = &cobra.Command{
	Use:   "tool-gate",
	Short: "Tool Gate - Agent Tool Gateway",
	Long: `Tool Gate is a gateway between agent clients and executable tools.

It accepts requests in six wire protocols (MCP, A2A, UCP, ACP, and the
legacy v1/v2 formats), normalizes them into a common intent form, routes
each intent to the best matching tool by embedding similarity, and runs
the tool inside a pooled sandbox. Every stage of the pipeline is recorded
on the audit stream.

Quick start:
  1. Create a config file: tool-gate.yaml
  2. Create a tool catalog and point catalog.path at it
  3. Run: tool-gate start

Configuration:
  Config is loaded from tool-gate.yaml in the current directory,
  $HOME/.tool-gate/, or /etc/tool-gate/.

  Environment variables can override config values with the TOOL_GATE_ prefix.
  Example: TOOL_GATE_SERVER_LOG_LEVEL=debug

Commands:
  start       Start the gateway on stdin/stdout
  run         Process a single payload and exit
  stop        Stop the running gateway
  reset       Reset to clean state (remove state and keys)
  hash-key    Generate an argon2id hash for the admin key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tool-gate.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDirPath, "state", "", "state directory (default: ~/.toolgate)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// resolveStateDir picks the state directory: CLI flag > env var > default.
func resolveStateDir() (string, error) {
	if stateDirPath != "" {
		return stateDirPath, nil
	}
	if dir := os.Getenv("TOOL_GATE_STATE_DIR"); dir != "" {
		return dir, nil
	}
	return state.DefaultDir()
}
