package outbound

import (
	"context"

	"github.com/Tool-Gate/Toolgate/internal/domain/credential"
)

// CredentialStore holds enrolled secrets. Implementations keep values
// encrypted at rest; Get returns the decrypted secret.
type CredentialStore interface {
	// Get returns the secret for the given id, or *credential.MissingError.
	Get(ctx context.Context, id string) (credential.Secret, error)

	// Put stores or replaces a secret.
	Put(ctx context.Context, secret credential.Secret) error

	// Delete removes a secret. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns the ids of all enrolled secrets, sorted.
	List(ctx context.Context) ([]string, error)
}
