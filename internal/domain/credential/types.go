// Package credential defines the lookup contract the core uses to resolve
// per-tool secrets. Enrollment and the template catalog live outside the
// core; only resolution and health reporting cross this boundary.
package credential

import (
	"errors"
	"fmt"
	"time"
)

// Secret is one resolved, decrypted credential value. The value is never
// written to logs or audit details.
type Secret struct {
	// ID is the credential id tools reference in RequiredCredentialIDs.
	ID string `json:"id"`
	// Value is the decrypted secret material.
	Value string `json:"-"`
	// Kind describes the secret shape (api_key, token, basic_auth).
	Kind string `json:"kind,omitempty"`
	// UpdatedAt is when the secret was last stored.
	UpdatedAt time.Time `json:"updated_at"`
}

// Health summarizes the credential subsystem for operators.
type Health struct {
	// Healthy reports whether the store responded.
	Healthy bool `json:"healthy"`
	// Total is the number of stored secrets.
	Total int `json:"total"`
	// MissingReferences lists catalog-declared credential ids with no
	// stored secret; guided enrollment starts from this list.
	MissingReferences []string `json:"missing_references,omitempty"`
	// LastError is the most recent store failure, empty when healthy.
	LastError string `json:"last_error,omitempty"`
}

// ErrMissing is the sentinel for errors.Is checks on failed resolutions.
var ErrMissing = errors.New("credential missing")

// MissingError reports a credential id with no stored secret.
type MissingError struct {
	// ID is the credential id that failed to resolve.
	ID string
}

// Error implements the error interface.
func (e *MissingError) Error() string {
	return fmt.Sprintf("credential %q is not enrolled", e.ID)
}

// Unwrap returns ErrMissing so errors.Is(err, ErrMissing) works.
func (e *MissingError) Unwrap() error {
	return ErrMissing
}

// Code returns the stable error code for the boundary.
func (e *MissingError) Code() string {
	return "CREDENTIAL_MISSING"
}

// Suggestion returns an actionable hint for the caller.
func (e *MissingError) Suggestion() string {
	return fmt.Sprintf("enroll credential %q before routing to tools that require it", e.ID)
}
