package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"

	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/state"
)

var hashKeyEnroll bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [admin-key]",
	Short: "Generate an argon2id hash for the admin key",
	Long: `Generate an argon2id hash of the admin key for use in config.

The output is a PHC-format string ("$argon2id$...") that goes into the
credentials.admin_key_hash config field. When no key is given, a random
one is generated and printed alongside its hash.

With --enroll, the hash is also written to state.json so the gateway
picks it up without a config change.

Example:
  tool-gate hash-key "my-admin-key"
  tool-gate hash-key --enroll

Security note: a key passed as an argument will appear in shell history.
Consider generating one, or using an environment variable:
  tool-gate hash-key "$TOOL_GATE_ADMIN_KEY"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashKey,
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyEnroll, "enroll", false, "Also write the hash to state.json")
	rootCmd.AddCommand(hashKeyCmd)
}

func runHashKey(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) > 0 {
		key = args[0]
	} else {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate admin key: %w", err)
		}
		key = base64.RawURLEncoding.EncodeToString(buf)
		fmt.Fprintln(os.Stderr, "Generated admin key (store it safely, it is not recoverable):")
		fmt.Printf("key:  %s\n", key)
	}

	hash, err := argon2id.CreateHash(key, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("hash admin key: %w", err)
	}
	fmt.Printf("hash: %s\n", hash)

	if !hashKeyEnroll {
		return nil
	}

	stateDir, err := resolveStateDir()
	if err != nil {
		return fmt.Errorf("resolve state directory: %w", err)
	}
	store, err := state.NewStore(stateDir, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		return fmt.Errorf("open state directory: %w", err)
	}
	appState, err := store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	appState.AdminKeyHash = hash
	appState.UpdatedAt = time.Now().UTC()
	if err := store.Save(appState); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Enrolled admin key hash in %s\n", store.Dir())
	return nil
}
