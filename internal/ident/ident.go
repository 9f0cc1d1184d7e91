// Package ident generates the prefixed identifiers used across the gateway.
// Prefixes make ids self-describing in audit views and logs.
package ident

import "github.com/google/uuid"

// RequestID returns a new normalized-request id.
func RequestID() string {
	return "req_" + uuid.NewString()
}

// SandboxID returns a new sandbox instance id.
func SandboxID() string {
	return "sbx_" + uuid.NewString()
}

// AuditID returns a new audit entry id.
func AuditID() string {
	return "aud_" + uuid.NewString()
}

// TraceID returns a new trace id for requests that arrive without one.
func TraceID() string {
	return "trace_" + uuid.NewString()
}

// IntentID returns a new normalized-intent id.
func IntentID() string {
	return "int_" + uuid.NewString()
}

// SessionID returns a new client session id.
func SessionID() string {
	return "ses_" + uuid.NewString()
}
