package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tool-Gate/Toolgate/internal/adapter/inbound/stdio"
	"github.com/Tool-Gate/Toolgate/internal/config"
)

var runPayloadFile string

var runCmd = &cobra.Command{
	Use:   "run [payload]",
	Short: "Process a single payload and exit",
	Long: `Run one payload through the full pipeline and print the result.

The payload is taken from the first argument, from --file, or from stdin
when neither is given. The result is written to stdout as one JSON line,
the same shape "tool-gate start" produces.

Requests that park at the approval gate cannot be reviewed in one-shot
mode; run in dev mode to auto-approve, or use "tool-gate start".

Examples:
  # Payload as an argument
  tool-gate run '{"jsonrpc":"2.0","method":"tools/call","params":{"name":"search"},"id":1}'

  # Payload from a file
  tool-gate run --file request.json

  # Payload from stdin
  echo '{"protocol":"acp","operation":"tool.invoke"}' | tool-gate run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPayloadFile, "file", "", "Read the payload from a file")
	runCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, auto-approve)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	raw, err := readPayload(args)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}

	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	stateDir, err := resolveStateDir()
	if err != nil {
		return fmt.Errorf("resolve state directory: %w", err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, stateDir, logger)
	if err != nil {
		return err
	}
	defer a.close()

	transport := stdio.NewTransport(a.gateway, logger)
	return transport.HandleOne(ctx, raw)
}

// readPayload resolves the payload source: argument > --file > stdin.
func readPayload(args []string) ([]byte, error) {
	if len(args) > 0 {
		return []byte(args[0]), nil
	}
	if runPayloadFile != "" {
		raw, err := os.ReadFile(runPayloadFile)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		return raw, nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload from stdin: %w", err)
	}
	return raw, nil
}
