package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alexedwards/argon2id"

	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/memory"
	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/domain/credential"
	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
)

type credFixture struct {
	store   *memory.CredentialStore
	catalog *memory.CatalogStore
	stream  *AuditService
	svc     *CredentialService
}

func newCredFixture(t *testing.T, adminKeyHash string) *credFixture {
	t.Helper()
	store, err := memory.NewCredentialStore(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewCredentialStore: %v", err)
	}
	catalog := memory.NewCatalogStore()
	stream := newAuditStream(t, memory.NewAuditSink(100))
	return &credFixture{
		store:   store,
		catalog: catalog,
		stream:  stream,
		svc:     NewCredentialService(store, catalog, stream, adminKeyHash, testLogger()),
	}
}

func TestResolveEmitsAuditEntry(t *testing.T) {
	f := newCredFixture(t, "")
	ctx := context.Background()
	if err := f.store.Put(ctx, credential.Secret{ID: "github_api", Value: "ghp_secret", Kind: "token"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	secret, err := f.svc.Resolve(ctx, "github_api")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret.Value != "ghp_secret" {
		t.Errorf("unexpected value: %q", secret.Value)
	}

	entries, err := f.stream.Query(ctx, audit.Filter{
		EventTypes: []audit.EventType{audit.EventCredentialAccessed},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one access entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Target != "github_api" || e.Severity != audit.SeverityInfo {
		t.Errorf("unexpected entry: %+v", e)
	}
	for _, v := range e.Details {
		if v == "ghp_secret" {
			t.Fatal("secret value leaked into audit details")
		}
	}
}

func TestResolveMissing(t *testing.T) {
	f := newCredFixture(t, "")
	ctx := context.Background()

	_, err := f.svc.Resolve(ctx, "absent")
	if !errors.Is(err, credential.ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}

	entries, _ := f.stream.Query(ctx, audit.Filter{
		EventTypes: []audit.EventType{audit.EventCredentialAccessed},
	})
	if len(entries) != 1 || entries[0].Severity != audit.SeverityWarning {
		t.Errorf("failed resolution should audit at warning, got %v", entries)
	}
}

func TestResolveForStopsAtFirstMissing(t *testing.T) {
	f := newCredFixture(t, "")
	ctx := context.Background()
	_ = f.store.Put(ctx, credential.Secret{ID: "a", Value: "1"})

	secrets, err := f.svc.ResolveFor(ctx, []string{"a", "b"})
	if !errors.Is(err, credential.ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
	if secrets != nil {
		t.Error("partial resolutions must not be returned")
	}
}

func TestHealthReportsMissingReferences(t *testing.T) {
	f := newCredFixture(t, "")
	ctx := context.Background()
	_ = f.store.Put(ctx, credential.Secret{ID: "enrolled", Value: "v"})
	_ = f.catalog.Put(ctx, &tool.Definition{
		ID: "t1", Name: "T1", Description: "d",
		RequiredCredentialIDs: []string{"enrolled", "absent_one"},
	})
	_ = f.catalog.Put(ctx, &tool.Definition{
		ID: "t2", Name: "T2", Description: "d",
		RequiredCredentialIDs: []string{"absent_one", "absent_two"},
	})

	h := f.svc.Health(ctx)
	if !h.Healthy {
		t.Fatalf("store is reachable, health=%+v", h)
	}
	if h.Total != 1 {
		t.Errorf("expected 1 enrolled, got %d", h.Total)
	}
	if len(h.MissingReferences) != 2 {
		t.Errorf("expected 2 deduplicated missing refs, got %v", h.MissingReferences)
	}
}

func TestAdminKeyGatesMutations(t *testing.T) {
	hash, err := argon2id.CreateHash("correct-horse", argon2id.DefaultParams)
	if err != nil {
		t.Fatalf("CreateHash: %v", err)
	}
	f := newCredFixture(t, hash)
	ctx := context.Background()
	secret := credential.Secret{ID: "slack_bot", Value: "xoxb-1", Kind: "token"}

	if err := f.svc.Put(ctx, "wrong", secret); !errors.Is(err, ErrAdminKeyRejected) {
		t.Fatalf("wrong key should be rejected, got %v", err)
	}
	if err := f.svc.Put(ctx, "correct-horse", secret); err != nil {
		t.Fatalf("Put with valid key: %v", err)
	}
	if _, err := f.svc.Resolve(ctx, "slack_bot"); err != nil {
		t.Errorf("enrolled credential should resolve: %v", err)
	}

	if err := f.svc.Delete(ctx, "wrong", "slack_bot"); !errors.Is(err, ErrAdminKeyRejected) {
		t.Fatalf("wrong key should be rejected, got %v", err)
	}
	if err := f.svc.Delete(ctx, "correct-horse", "slack_bot"); err != nil {
		t.Fatalf("Delete with valid key: %v", err)
	}
	if _, err := f.svc.Resolve(ctx, "slack_bot"); !errors.Is(err, credential.ErrMissing) {
		t.Errorf("deleted credential should be missing, got %v", err)
	}
}

func TestMutationsDisabledWithoutAdminKeyHash(t *testing.T) {
	f := newCredFixture(t, "")
	err := f.svc.Put(context.Background(), "any", credential.Secret{ID: "x", Value: "v"})
	if !errors.Is(err, ErrAdminKeyRejected) {
		t.Errorf("mutations must be disabled without a configured hash, got %v", err)
	}
}
