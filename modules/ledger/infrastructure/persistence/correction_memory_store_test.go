package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stetops/stet/modules/ledger/domain/ports"
	"github.com/stetops/stet/modules/ledger/domain/types"
	"github.com/stetops/stet/pkg/access"
	"github.com/stetops/stet/pkg/httperr"
)

const testTenant = "00000000-0000-0000-0000-000000000001"

func spec(id, key string) ports.CreateSpec {
	return ports.CreateSpec{
		CorrectionID:   id,
		TenantID:       testTenant,
		Subject:        types.Subject{Type: "employee", ID: "emp-1"},
		FieldKey:       "profile.email",
		Value:          json.RawMessage(`"a@example.com"`),
		Class:          types.ClassFact,
		Permissions:    access.Permissions{Readers: []string{"hr-1"}},
		Actor:          types.Actor{Type: "user", ID: "hr-1"},
		IdempotencyKey: key,
		PayloadHash:    "hash-" + key,
		Origin:         types.Origin{Service: "stet-api", Version: "test", Environment: "test"},
	}
}

func TestMemoryStore_CreateUsesInjectedClock(t *testing.T) {
	s := NewCorrectionMemoryStore()
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return at })

	res, err := s.Create(context.Background(), spec("c-1", "k-1"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !res.CreatedAt.Equal(at) {
		t.Fatalf("created_at=%v", res.CreatedAt)
	}
}

func TestMemoryStore_SupersedeFlipIsAtomicPerField(t *testing.T) {
	s := NewCorrectionMemoryStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, spec("c-1", "k-1")); err != nil {
		t.Fatalf("err=%v", err)
	}
	res, err := s.Create(ctx, spec("c-2", "k-2"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Supersedes != "c-1" {
		t.Fatalf("supersedes=%q", res.Supersedes)
	}

	rows, err := s.ListHistory(ctx, testTenant, spec("", "").Subject, "profile.email", false)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	statuses := map[string]types.Status{}
	for _, c := range rows {
		statuses[c.CorrectionID] = c.Status
	}
	if statuses["c-1"] != types.StatusSuperseded || statuses["c-2"] != types.StatusActive {
		t.Fatalf("statuses=%v", statuses)
	}
}

func TestMemoryStore_IdempotencyRecordSurvivesSupersede(t *testing.T) {
	s := NewCorrectionMemoryStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, spec("c-1", "k-1")); err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, err := s.Create(ctx, spec("c-2", "k-2")); err != nil {
		t.Fatalf("err=%v", err)
	}

	// Replaying the first key returns the superseded row as it stands now.
	res, err := s.Create(ctx, spec("c-ignored", "k-1"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !res.Replayed || res.CorrectionID != "c-1" {
		t.Fatalf("res=%+v", res)
	}
	if res.Status != types.StatusSuperseded {
		t.Fatalf("status=%s; replay must report current status", res.Status)
	}
}

func TestMemoryStore_Revoke(t *testing.T) {
	s := NewCorrectionMemoryStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, spec("c-1", "k-1")); err != nil {
		t.Fatalf("err=%v", err)
	}
	if err := s.Revoke(ctx, testTenant, "c-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	facts, err := s.ListActiveFacts(ctx, testTenant, spec("", "").Subject)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("revoked row still active: %+v", facts)
	}

	if err := s.Revoke(ctx, testTenant, "no-such-row"); !httperr.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
	if err := s.Revoke(ctx, "00000000-0000-0000-0000-000000000002", "c-1"); !httperr.IsNotFound(err) {
		t.Fatalf("cross-tenant revoke must miss, got %v", err)
	}
}

func TestMemoryStore_ListActiveFactsOrdering(t *testing.T) {
	s := NewCorrectionMemoryStore()
	ctx := context.Background()

	b := spec("c-1", "k-1")
	b.FieldKey = "profile.b"
	a := spec("c-2", "k-2")
	a.FieldKey = "profile.a"
	for _, sp := range []ports.CreateSpec{b, a} {
		if _, err := s.Create(ctx, sp); err != nil {
			t.Fatalf("err=%v", err)
		}
	}

	facts, err := s.ListActiveFacts(ctx, testTenant, a.Subject)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(facts) != 2 || facts[0].FieldKey != "profile.a" || facts[1].FieldKey != "profile.b" {
		t.Fatalf("facts=%+v", facts)
	}
}
