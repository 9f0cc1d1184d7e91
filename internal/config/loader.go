// Package config provides configuration loading for Tool Gate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for tool-gate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("tool-gate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: TOOL_GATE_ROUTER_SIMILARITY_THRESHOLD
	viper.SetEnvPrefix("TOOL_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a tool-gate config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "tool-gate" (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".tool-gate"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\tool-gate (typically C:\ProgramData\tool-gate)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "tool-gate"))
		}
	} else {
		paths = append(paths, "/etc/tool-gate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for tool-gate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "tool-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// This enables overriding nested config values via environment variables.
// Example: TOOL_GATE_SANDBOX_MAX_INSTANCES overrides sandbox.max_instances
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.session_timeout")

	// Embedding config
	_ = viper.BindEnv("embedding.model")
	_ = viper.BindEnv("embedding.dimensions")
	_ = viper.BindEnv("embedding.cache_ttl_ms")

	// Router config
	_ = viper.BindEnv("router.similarity_threshold")
	_ = viper.BindEnv("router.min_confidence")
	_ = viper.BindEnv("router.max_alternatives")
	_ = viper.BindEnv("router.cost_optimization")
	_ = viper.BindEnv("router.latency_optimization")
	_ = viper.BindEnv("router.timeout_ms")

	// Sandbox config
	_ = viper.BindEnv("sandbox.min_instances")
	_ = viper.BindEnv("sandbox.max_instances")
	_ = viper.BindEnv("sandbox.idle_timeout_ms")
	_ = viper.BindEnv("sandbox.warmup_interval_ms")
	_ = viper.BindEnv("sandbox.exec_timeout_ms")
	_ = viper.BindEnv("sandbox.driver")
	_ = viper.BindEnv("sandbox.command")

	// Audit config
	_ = viper.BindEnv("audit.buffer_size")
	_ = viper.BindEnv("audit.flush_interval_ms")
	_ = viper.BindEnv("audit.retention_days")
	_ = viper.BindEnv("audit.compression")
	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.dir")

	// Catalog config
	_ = viper.BindEnv("catalog.path")

	// Credentials config
	_ = viper.BindEnv("credentials.admin_key_hash")

	// Rate limit config
	_ = viper.BindEnv("rate_limit.budget")

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// Note: Caller should apply any CLI flag overrides (e.g. --dev), then call
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
		// This allows running with pure environment variable configuration
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// In dev mode, apply permissive defaults before the general ones
	cfg.SetDevDefaults()

	// Apply default values for optional fields
	cfg.SetDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
