package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stetops/stet/modules/enforcement/domain/types"
)

func hb(tenant, system string, at time.Time) types.Heartbeat {
	return types.Heartbeat{
		TenantID:                  tenant,
		SystemID:                  system,
		EnforcedCorrectionVersion: at.Add(-time.Hour),
		ReportedAt:                at,
		Origin:                    types.Origin{Service: "stet-api", Version: "test", Environment: "test"},
	}
}

func TestHeartbeatMemoryStore_Latest(t *testing.T) {
	s := NewHeartbeatMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Append(ctx, hb("t-1", "s-1", t0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, hb("t-1", "s-1", t0.Add(time.Minute))); err != nil {
		t.Fatalf("append: %v", err)
	}

	latest, found, err := s.Latest(ctx, "t-1", "s-1")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !found || !latest.ReportedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("latest=%+v found=%v", latest, found)
	}

	if _, found, _ := s.Latest(ctx, "t-1", "unknown"); found {
		t.Fatal("unknown system reported found")
	}
	if _, found, _ := s.Latest(ctx, "t-2", "s-1"); found {
		t.Fatal("cross-tenant read")
	}
}

func TestHeartbeatMemoryStore_LatestPerSystem(t *testing.T) {
	s := NewHeartbeatMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for _, h := range []types.Heartbeat{
		hb("t-1", "s-b", t0),
		hb("t-1", "s-a", t0.Add(time.Second)),
		hb("t-1", "s-b", t0.Add(2*time.Second)),
		hb("t-2", "s-c", t0),
	} {
		if err := s.Append(ctx, h); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	out, err := s.LatestPerSystem(ctx, "t-1")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(out) != 2 {
		t.Fatalf("out=%+v", out)
	}
	if out[0].SystemID != "s-a" || out[1].SystemID != "s-b" {
		t.Fatalf("order: %+v", out)
	}
	if !out[1].ReportedAt.Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("stale row won: %+v", out[1])
	}
}
