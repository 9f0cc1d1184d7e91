package memory

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/domain/credential"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// encryptedSecret is the at-rest form of one credential. Only the value is
// sealed; the metadata stays readable for List and Health.
type encryptedSecret struct {
	id         string
	kind       string
	updatedAt  time.Time
	ciphertext []byte
	nonce      []byte
}

// CredentialStore keeps secrets AES-256-GCM sealed in memory. This limits
// exposure in heap dumps; it is not key management. The master key comes
// from the state directory at startup.
type CredentialStore struct {
	mu      sync.RWMutex
	aead    cipher.AEAD
	secrets map[string]encryptedSecret
}

// NewCredentialStore builds a store sealed with the given 32-byte master
// key.
func NewCredentialStore(masterKey []byte) (*CredentialStore, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential aead: %w", err)
	}
	return &CredentialStore{
		aead:    aead,
		secrets: make(map[string]encryptedSecret),
	}, nil
}

// Get implements the credential port.
func (s *CredentialStore) Get(_ context.Context, id string) (credential.Secret, error) {
	s.mu.RLock()
	enc, ok := s.secrets[id]
	s.mu.RUnlock()
	if !ok {
		return credential.Secret{}, &credential.MissingError{ID: id}
	}

	plain, err := s.aead.Open(nil, enc.nonce, enc.ciphertext, []byte(enc.id))
	if err != nil {
		return credential.Secret{}, fmt.Errorf("unseal credential %q: %w", id, err)
	}
	return credential.Secret{
		ID:        enc.id,
		Value:     string(plain),
		Kind:      enc.kind,
		UpdatedAt: enc.updatedAt,
	}, nil
}

// Put implements the credential port.
func (s *CredentialStore) Put(_ context.Context, secret credential.Secret) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("credential nonce: %w", err)
	}
	// The id is bound as additional data so a ciphertext cannot be swapped
	// between entries.
	ct := s.aead.Seal(nil, nonce, []byte(secret.Value), []byte(secret.ID))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[secret.ID] = encryptedSecret{
		id:         secret.ID,
		kind:       secret.Kind,
		updatedAt:  secret.UpdatedAt,
		ciphertext: ct,
		nonce:      nonce,
	}
	return nil
}

// Delete implements the credential port.
func (s *CredentialStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, id)
	return nil
}

// List implements the credential port.
func (s *CredentialStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.secrets))
	for id := range s.secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Compile-time interface verification.
var _ outbound.CredentialStore = (*CredentialStore)(nil)
