// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// TraceIDKey is the context key type for the trace id that correlates a request
// across the adapter, router, runtime, and audit stream.
type TraceIDKey struct{}

// ActorKey is the context key type for the calling actor (agent or user id).
// Audit entries fall back to "system" when no actor is present.
type ActorKey struct{}

// SessionIDKey is the context key type for the client session id used to enrich
// normalized requests with conversation history.
type SessionIDKey struct{}
