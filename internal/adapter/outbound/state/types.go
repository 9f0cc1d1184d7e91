// Package state provides file-based persistence for Toolgate runtime state:
// the state.json document, the daemon pid file, and the credential master
// key. Writes are atomic (write-tmp-then-rename) behind an flock so
// concurrent gateway processes never interleave.
package state

import "time"

// AppState is the top-level structure persisted in state.json. It holds the
// runtime configuration that survives restarts.
type AppState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// AdminKeyHash is the Argon2id hash of the credential-admin key.
	// Empty string means no admin key has been enrolled; Put/Delete on the
	// credential service are rejected until one is.
	AdminKeyHash string `json:"admin_key_hash"`

	// EnrolledCredentialIDs lists credential ids enrolled so far. The
	// secrets themselves never touch disk; this list lets Health report
	// missing references across restarts.
	EnrolledCredentialIDs []string `json:"enrolled_credential_ids,omitempty"`

	// CreatedAt is when this state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this state file was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
