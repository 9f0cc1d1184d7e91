// Package config provides configuration types for Tool Gate.
//
// The schema is file-based and intentionally small: everything the gateway
// needs to run fits in one YAML document, and every key can be overridden
// through TOOL_GATE_* environment variables. Features that would require
// external infrastructure are excluded:
//
//   - NO external embedding API (deterministic local provider)
//   - NO container runtime integration (sandbox drivers are in-process)
//   - NO remote audit shipping (stdout, file, or sqlite only)
//   - NO multi-tenant support
//   - NO TLS configuration (handle via reverse proxy)
package config

import (
	"time"
)

// Config is the top-level configuration for Tool Gate.
type Config struct {
	// Server configures logging and session handling.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Embedding configures the embedding provider and its cache.
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`

	// Router tunes the semantic routing algorithm.
	Router RouterConfig `yaml:"router" mapstructure:"router"`

	// Sandbox configures the execution pool.
	Sandbox SandboxConfig `yaml:"sandbox" mapstructure:"sandbox"`

	// Audit configures the audit stream and its persistence.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Catalog points at the tool catalog file.
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`

	// Credentials configures the credential facade.
	Credentials CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`

	// RateLimit configures the per-second request budget.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// DevMode enables development conveniences (debug logging,
	// auto-approval of gated requests).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures logging and sessions.
type ServerConfig struct {
	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// SessionTimeout is the duration before idle sessions expire
	// (e.g. "30m", "1h"). Defaults to "30m" if not specified.
	SessionTimeout string `yaml:"session_timeout" mapstructure:"session_timeout" validate:"omitempty"`
}

// EmbeddingConfig configures the embedding provider and cache.
type EmbeddingConfig struct {
	// Model is the identifier stored with produced embeddings.
	// Defaults to "deterministic-v1".
	Model string `yaml:"model" mapstructure:"model"`

	// Dimensions is the embedding vector width. Defaults to 384.
	Dimensions int `yaml:"dimensions" mapstructure:"dimensions" validate:"omitempty,min=1"`

	// CacheTTLMs is how long a cached embedding stays valid, in
	// milliseconds. Defaults to 300000 (5 minutes).
	CacheTTLMs int `yaml:"cache_ttl_ms" mapstructure:"cache_ttl_ms" validate:"omitempty,min=1"`
}

// RouterConfig tunes the routing algorithm.
type RouterConfig struct {
	// SimilarityThreshold is the minimum cosine similarity for a
	// candidate to be considered a match. Defaults to 0.85.
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold" validate:"omitempty,gt=0,lte=1"`

	// MinConfidence is the floor below which a routing decision is
	// rejected outright. Defaults to 0.70.
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence" validate:"omitempty,gt=0,lte=1"`

	// MaxAlternatives is how many runner-up candidates a decision
	// carries. Defaults to 3.
	MaxAlternatives int `yaml:"max_alternatives" mapstructure:"max_alternatives" validate:"omitempty,min=0"`

	// CostOptimization scales confidence by tool cost when enabled.
	CostOptimization bool `yaml:"cost_optimization" mapstructure:"cost_optimization"`

	// LatencyOptimization scales confidence by expected latency when
	// enabled.
	LatencyOptimization bool `yaml:"latency_optimization" mapstructure:"latency_optimization"`

	// TimeoutMs bounds a single routing decision, in milliseconds.
	// Defaults to 50.
	TimeoutMs int `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"omitempty,min=1"`
}

// SandboxConfig configures the execution pool.
type SandboxConfig struct {
	// MinInstances is the warm floor maintained by the warmup loop.
	// Defaults to 2.
	MinInstances int `yaml:"min_instances" mapstructure:"min_instances" validate:"omitempty,min=0"`

	// MaxInstances caps concurrent sandboxes. Defaults to 100.
	MaxInstances int `yaml:"max_instances" mapstructure:"max_instances" validate:"omitempty,min=1"`

	// IdleTimeoutMs is how long a ready sandbox may sit unused before
	// the reaper destroys it, in milliseconds. Defaults to 300000.
	IdleTimeoutMs int `yaml:"idle_timeout_ms" mapstructure:"idle_timeout_ms" validate:"omitempty,min=1"`

	// WarmupIntervalMs is how often the maintenance loop runs, in
	// milliseconds. Defaults to 60000.
	WarmupIntervalMs int `yaml:"warmup_interval_ms" mapstructure:"warmup_interval_ms" validate:"omitempty,min=1"`

	// ExecTimeoutMs bounds a single tool execution, in milliseconds.
	// Defaults to 30000.
	ExecTimeoutMs int `yaml:"exec_timeout_ms" mapstructure:"exec_timeout_ms" validate:"omitempty,min=1"`

	// Driver selects the sandbox driver implementation.
	// Valid values: "memory" (in-process simulation), "subprocess"
	// (worker process per instance). Defaults to "memory".
	Driver string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=memory subprocess"`

	// Command is the worker executable for the "subprocess" driver.
	// The worker reads one JSON request per line on stdin and writes one
	// JSON response per line on stdout.
	Command string `yaml:"command" mapstructure:"command"`

	// Args are passed to the worker executable.
	Args []string `yaml:"args" mapstructure:"args"`
}

// AuditConfig configures the audit stream and persistence.
type AuditConfig struct {
	// BufferSize is how many entries the stream buffers before a
	// capacity flush. Defaults to 100.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// FlushIntervalMs is how often buffered entries are flushed, in
	// milliseconds. Defaults to 5000.
	FlushIntervalMs int `yaml:"flush_interval_ms" mapstructure:"flush_interval_ms" validate:"omitempty,min=1"`

	// RetentionDays is how many days of file-sink output to keep.
	// Only used with the "file" output. Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// Compression gzips rotated file-sink output when enabled.
	Compression bool `yaml:"compression" mapstructure:"compression"`

	// Output selects where flushed batches are persisted.
	// Valid values: "stdout", "file", "sqlite".
	// Defaults to "stdout" if empty.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// Dir is the directory for "file" and "sqlite" outputs.
	// Required when Output is not "stdout".
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// CatalogConfig points at the tool catalog.
type CatalogConfig struct {
	// Path is the YAML file the catalog is loaded from.
	// Optional: when empty the gateway starts with an empty catalog.
	Path string `yaml:"path" mapstructure:"path"`
}

// CredentialsConfig configures the credential facade.
type CredentialsConfig struct {
	// AdminKeyHash is the argon2id hash of the admin key that gates
	// credential mutations. Generate with: tool-gate hash-key
	// When empty, enroll/delete over the wire are disabled.
	AdminKeyHash string `yaml:"admin_key_hash" mapstructure:"admin_key_hash" validate:"omitempty,startswith=$argon2id$"`
}

// RateLimitConfig configures the request-rate counter.
// The gateway observes the budget but never drops requests; saturation is
// surfaced through logs and metrics.
type RateLimitConfig struct {
	// Budget is the maximum requests per second before the counter
	// reports saturation. Defaults to 1000.
	Budget int `yaml:"budget" mapstructure:"budget" validate:"omitempty,min=1"`
}

// SessionTimeoutDuration parses the session timeout, falling back to 30m.
func (c *ServerConfig) SessionTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.SessionTimeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Minute
}

// CacheTTL returns the embedding cache TTL as a duration.
func (c *EmbeddingConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}

// Timeout returns the routing timeout as a duration.
func (c *RouterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// IdleTimeout returns the idle timeout as a duration.
func (c *SandboxConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// WarmupInterval returns the warmup interval as a duration.
func (c *SandboxConfig) WarmupInterval() time.Duration {
	return time.Duration(c.WarmupIntervalMs) * time.Millisecond
}

// ExecTimeout returns the execution timeout as a duration.
func (c *SandboxConfig) ExecTimeout() time.Duration {
	return time.Duration(c.ExecTimeoutMs) * time.Millisecond
}

// FlushInterval returns the audit flush interval as a duration.
func (c *AuditConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// SetDevDefaults applies permissive defaults for development mode.
// These are applied BEFORE validation so a bare "dev_mode: true" config
// runs out of the box.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"

	// Dev runs keep audit entries local unless told otherwise.
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.SessionTimeout == "" {
		c.Server.SessionTimeout = "30m"
	}

	// Embedding defaults
	if c.Embedding.Model == "" {
		c.Embedding.Model = "deterministic-v1"
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Embedding.CacheTTLMs == 0 {
		c.Embedding.CacheTTLMs = 300_000
	}

	// Router defaults
	if c.Router.SimilarityThreshold == 0 {
		c.Router.SimilarityThreshold = 0.85
	}
	if c.Router.MinConfidence == 0 {
		c.Router.MinConfidence = 0.70
	}
	if c.Router.MaxAlternatives == 0 {
		c.Router.MaxAlternatives = 3
	}
	if c.Router.TimeoutMs == 0 {
		c.Router.TimeoutMs = 50
	}

	// Sandbox defaults
	if c.Sandbox.MinInstances == 0 {
		c.Sandbox.MinInstances = 2
	}
	if c.Sandbox.MaxInstances == 0 {
		c.Sandbox.MaxInstances = 100
	}
	if c.Sandbox.IdleTimeoutMs == 0 {
		c.Sandbox.IdleTimeoutMs = 300_000
	}
	if c.Sandbox.WarmupIntervalMs == 0 {
		c.Sandbox.WarmupIntervalMs = 60_000
	}
	if c.Sandbox.ExecTimeoutMs == 0 {
		c.Sandbox.ExecTimeoutMs = 30_000
	}
	if c.Sandbox.Driver == "" {
		c.Sandbox.Driver = "memory"
	}

	// Audit defaults
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 100
	}
	if c.Audit.FlushIntervalMs == 0 {
		c.Audit.FlushIntervalMs = 5000
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}

	// Rate limit defaults
	if c.RateLimit.Budget == 0 {
		c.RateLimit.Budget = 1000
	}
}
