package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/stetops/stet/modules/enforcement/domain/ports"
	"github.com/stetops/stet/modules/enforcement/domain/types"
)

// HeartbeatMemoryStore mirrors the pg store for tests and pool-less
// construction. Rows are append-only here too.
type HeartbeatMemoryStore struct {
	mu   sync.Mutex
	rows []types.Heartbeat
}

func NewHeartbeatMemoryStore() *HeartbeatMemoryStore {
	return &HeartbeatMemoryStore{}
}

var _ ports.HeartbeatStore = (*HeartbeatMemoryStore)(nil)

func (s *HeartbeatMemoryStore) Append(ctx context.Context, hb types.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, hb)
	return nil
}

func (s *HeartbeatMemoryStore) Latest(ctx context.Context, tenantID string, systemID string) (types.Heartbeat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest types.Heartbeat
	found := false
	for _, hb := range s.rows {
		if hb.TenantID != tenantID || hb.SystemID != systemID {
			continue
		}
		if !found || hb.ReportedAt.After(latest.ReportedAt) {
			latest = hb
			found = true
		}
	}
	return latest, found, nil
}

func (s *HeartbeatMemoryStore) LatestPerSystem(ctx context.Context, tenantID string) ([]types.Heartbeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]types.Heartbeat)
	for _, hb := range s.rows {
		if hb.TenantID != tenantID {
			continue
		}
		cur, ok := latest[hb.SystemID]
		if !ok || hb.ReportedAt.After(cur.ReportedAt) {
			latest[hb.SystemID] = hb
		}
	}

	out := make([]types.Heartbeat, 0, len(latest))
	for _, hb := range latest {
		out = append(out, hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SystemID < out[j].SystemID })
	return out, nil
}
