package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexedwards/argon2id"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/domain/credential"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// ErrAdminKeyRejected is returned when a mutation carries a wrong or absent
// admin key.
var ErrAdminKeyRejected = errors.New("admin key rejected")

// CredentialService is the lookup facade over the credential store. Every
// resolution lands in the audit stream; secret values never appear in logs
// or audit details. Mutations require the argon2id-hashed admin key.
type CredentialService struct {
	store        outbound.CredentialStore
	catalog      outbound.CatalogStore
	stream       *AuditService
	logger       *slog.Logger
	adminKeyHash string
}

// NewCredentialService builds the facade. The audit stream may be nil
// (resolutions are then unaudited, tests only); adminKeyHash empty disables
// mutations entirely.
func NewCredentialService(store outbound.CredentialStore, catalog outbound.CatalogStore, stream *AuditService, adminKeyHash string, logger *slog.Logger) *CredentialService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialService{
		store:        store,
		catalog:      catalog,
		stream:       stream,
		logger:       logger,
		adminKeyHash: adminKeyHash,
	}
}

// Resolve returns the decrypted secret for one credential id and records the
// access. Absent ids return *credential.MissingError.
func (s *CredentialService) Resolve(ctx context.Context, id string) (credential.Secret, error) {
	secret, err := s.store.Get(ctx, id)
	s.auditAccess(id, err)
	if err != nil {
		return credential.Secret{}, err
	}
	return secret, nil
}

// ResolveFor resolves every credential a tool requires, in declaration
// order. The first missing credential fails the whole resolution.
func (s *CredentialService) ResolveFor(ctx context.Context, ids []string) ([]credential.Secret, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	secrets := make([]credential.Secret, 0, len(ids))
	for _, id := range ids {
		secret, err := s.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, secret)
	}
	return secrets, nil
}

// Health reports store reachability, the enrolled count, and every
// catalog-declared credential id with no stored secret.
func (s *CredentialService) Health(ctx context.Context) credential.Health {
	var h credential.Health

	ids, err := s.store.List(ctx)
	if err != nil {
		h.LastError = err.Error()
		return h
	}
	h.Healthy = true
	h.Total = len(ids)

	enrolled := make(map[string]bool, len(ids))
	for _, id := range ids {
		enrolled[id] = true
	}

	defs, err := s.catalog.Snapshot(ctx)
	if err != nil {
		h.LastError = err.Error()
		return h
	}
	seen := make(map[string]bool)
	for _, def := range defs {
		for _, ref := range def.RequiredCredentialIDs {
			if !enrolled[ref] && !seen[ref] {
				seen[ref] = true
				h.MissingReferences = append(h.MissingReferences, ref)
			}
		}
	}
	return h
}

// Put stores a secret after verifying the admin key.
func (s *CredentialService) Put(ctx context.Context, adminKey string, secret credential.Secret) error {
	if err := s.verifyAdminKey(adminKey); err != nil {
		return err
	}
	if secret.ID == "" || secret.Value == "" {
		return errors.New("credential id and value are required")
	}
	if err := s.store.Put(ctx, secret); err != nil {
		return fmt.Errorf("store credential %q: %w", secret.ID, err)
	}
	s.logger.Info("credential enrolled", "credential_id", secret.ID, "kind", secret.Kind)
	return nil
}

// Delete removes a secret after verifying the admin key.
func (s *CredentialService) Delete(ctx context.Context, adminKey, id string) error {
	if err := s.verifyAdminKey(adminKey); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete credential %q: %w", id, err)
	}
	s.logger.Info("credential removed", "credential_id", id)
	return nil
}

func (s *CredentialService) verifyAdminKey(key string) error {
	if s.adminKeyHash == "" {
		return fmt.Errorf("%w: no admin key configured", ErrAdminKeyRejected)
	}
	match, err := argon2id.ComparePasswordAndHash(key, s.adminKeyHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdminKeyRejected, err)
	}
	if !match {
		return ErrAdminKeyRejected
	}
	return nil
}

// auditAccess records one resolution attempt. Only the id and outcome are
// written; the value never leaves the store boundary.
func (s *CredentialService) auditAccess(id string, resolveErr error) {
	if s.stream == nil {
		return
	}
	severity := audit.SeverityInfo
	outcome := "resolved"
	if resolveErr != nil {
		severity = audit.SeverityWarning
		outcome = "missing"
	}
	s.stream.Write(&audit.Entry{
		EventType: audit.EventCredentialAccessed,
		Severity:  severity,
		Actor:     "system",
		Action:    "resolve_credential",
		Target:    id,
		Details:   map[string]interface{}{"outcome": outcome},
	})
}
