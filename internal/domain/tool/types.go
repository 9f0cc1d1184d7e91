// Package tool contains the tool catalog domain types and risk classification.
package tool

import (
	"encoding/json"
)

// RiskLevel represents the security risk level of a tool.
type RiskLevel string

const (
	// RiskLevelLow indicates read-only, informational operations.
	// Examples: list_files, get_status, help, version.
	RiskLevelLow RiskLevel = "LOW"

	// RiskLevelMedium indicates read operations with potential sensitivity.
	// Examples: fetch_data, download_file, export_report, search_users.
	RiskLevelMedium RiskLevel = "MEDIUM"

	// RiskLevelHigh indicates write operations or network access.
	// Examples: file_write, create_user, update_config, send_email.
	RiskLevelHigh RiskLevel = "HIGH"

	// RiskLevelCritical indicates destructive operations, system commands, or admin ops.
	// Examples: file_delete, execute_command, shell_exec, admin_reset.
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// IsValid returns true if the risk level is a known valid level.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return true
	default:
		return false
	}
}

// Definition describes one executable tool in the catalog. Catalog entries
// are immutable for the lifetime of a routing call; the router borrows a
// snapshot and never writes through it.
type Definition struct {
	// ID is the unique catalog identifier (required).
	ID string `json:"id" yaml:"id" validate:"required"`

	// Name is the human-readable tool name (required).
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is the text the embedding service matches intents against.
	Description string `json:"description" yaml:"description" validate:"required"`

	// Protocol is the source protocol the tool was registered through.
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`

	// ParameterSchema is the JSON Schema for the tool's arguments.
	ParameterSchema json.RawMessage `json:"parameter_schema,omitempty" yaml:"parameter_schema,omitempty"`

	// ReturnSchema is an optional JSON Schema for the tool's output.
	ReturnSchema json.RawMessage `json:"return_schema,omitempty" yaml:"return_schema,omitempty"`

	// CostEstimate is the expected cost per invocation, nil when unknown.
	CostEstimate *float64 `json:"cost_estimate,omitempty" yaml:"cost_estimate,omitempty" validate:"omitempty,gte=0"`

	// LatencyEstimateMs is the expected latency per invocation, nil when unknown.
	LatencyEstimateMs *int64 `json:"latency_estimate_ms,omitempty" yaml:"latency_estimate_ms,omitempty" validate:"omitempty,gte=0"`

	// RequiredCredentialIDs lists credential ids the runtime must resolve
	// before executing the tool.
	RequiredCredentialIDs []string `json:"required_credential_ids,omitempty" yaml:"required_credential_ids,omitempty"`

	// RiskLevel is the computed security risk level (added by the classifier,
	// not part of the registered definition).
	RiskLevel RiskLevel `json:"-" yaml:"-"`
}

// HasCost reports whether the definition carries a cost estimate.
func (d *Definition) HasCost() bool {
	return d.CostEstimate != nil
}

// HasLatency reports whether the definition carries a latency estimate.
func (d *Definition) HasLatency() bool {
	return d.LatencyEstimateMs != nil
}

// Cost returns the cost estimate, or 0 when unset.
func (d *Definition) Cost() float64 {
	if d.CostEstimate == nil {
		return 0
	}
	return *d.CostEstimate
}

// LatencyMs returns the latency estimate in milliseconds, or 0 when unset.
func (d *Definition) LatencyMs() int64 {
	if d.LatencyEstimateMs == nil {
		return 0
	}
	return *d.LatencyEstimateMs
}
