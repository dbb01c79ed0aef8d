package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stetops/stet/modules/ledger/domain/ports"
	"github.com/stetops/stet/modules/ledger/domain/types"
	"github.com/stetops/stet/pkg/httperr"
)

type idempotencyRecord struct {
	correctionID string
	payloadHash  string
}

// CorrectionMemoryStore mirrors the pg store's semantics under one mutex.
// It backs tests and pool-less handler construction.
type CorrectionMemoryStore struct {
	mu          sync.Mutex
	corrections []types.Correction
	idempotency map[string]idempotencyRecord // tenant + "\x00" + key
	now         func() time.Time
}

func NewCorrectionMemoryStore() *CorrectionMemoryStore {
	return &CorrectionMemoryStore{
		idempotency: make(map[string]idempotencyRecord),
		now:         time.Now,
	}
}

var _ ports.CorrectionWriteStore = (*CorrectionMemoryStore)(nil)
var _ ports.CorrectionReadStore = (*CorrectionMemoryStore)(nil)

// SetClock overrides the creation timestamp source. Test hook.
func (s *CorrectionMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func idemKey(tenantID, key string) string { return tenantID + "\x00" + key }

func (s *CorrectionMemoryStore) Create(ctx context.Context, spec ports.CreateSpec) (ports.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.idempotency[idemKey(spec.TenantID, spec.IdempotencyKey)]; ok {
		if rec.payloadHash != spec.PayloadHash {
			return ports.CreateResult{}, httperr.NewIdempotencyConflict("idempotency key used with different payload")
		}
		for _, c := range s.corrections {
			if c.TenantID == spec.TenantID && c.CorrectionID == rec.correctionID {
				return ports.CreateResult{
					CorrectionID: c.CorrectionID,
					Status:       c.Status,
					Supersedes:   c.Supersedes,
					CreatedAt:    c.CreatedAt,
					Replayed:     true,
				}, nil
			}
		}
		return ports.CreateResult{}, httperr.NewInternalConsistency("idempotency record points to missing correction")
	}

	supersededID, err := s.resolveSupersedeTarget(spec)
	if err != nil {
		return ports.CreateResult{}, err
	}

	if supersededID != "" {
		for i := range s.corrections {
			if s.corrections[i].TenantID == spec.TenantID && s.corrections[i].CorrectionID == supersededID {
				s.corrections[i].Status = types.StatusSuperseded
			}
		}
	}

	// Uniqueness backstop, mirroring the partial index.
	for _, c := range s.corrections {
		if c.TenantID == spec.TenantID && c.Subject == spec.Subject &&
			c.FieldKey == spec.FieldKey && c.Status == types.StatusActive {
			return ports.CreateResult{}, httperr.NewConcurrentWriteConflict("concurrent write on subject field")
		}
	}

	now := s.now().UTC()
	s.corrections = append(s.corrections, types.Correction{
		CorrectionID:   spec.CorrectionID,
		TenantID:       spec.TenantID,
		Subject:        spec.Subject,
		FieldKey:       spec.FieldKey,
		Value:          spec.Value,
		Class:          spec.Class,
		Status:         types.StatusActive,
		Supersedes:     supersededID,
		Permissions:    spec.Permissions,
		Actor:          spec.Actor,
		CreatedAt:      now,
		IdempotencyKey: spec.IdempotencyKey,
		Origin:         spec.Origin,
	})
	s.idempotency[idemKey(spec.TenantID, spec.IdempotencyKey)] = idempotencyRecord{
		correctionID: spec.CorrectionID,
		payloadHash:  spec.PayloadHash,
	}

	return ports.CreateResult{
		CorrectionID: spec.CorrectionID,
		Status:       types.StatusActive,
		Supersedes:   supersededID,
		CreatedAt:    now,
	}, nil
}

func (s *CorrectionMemoryStore) resolveSupersedeTarget(spec ports.CreateSpec) (string, error) {
	if spec.Supersedes != "" {
		for _, c := range s.corrections {
			if c.TenantID != spec.TenantID || c.CorrectionID != spec.Supersedes {
				continue
			}
			if c.Status != types.StatusActive {
				return "", httperr.NewInvalidRequest("supersedes target is not ACTIVE")
			}
			if c.Subject != spec.Subject || c.FieldKey != spec.FieldKey {
				return "", httperr.NewInvalidRequest("supersedes target does not match subject and field")
			}
			return spec.Supersedes, nil
		}
		return "", httperr.NewNotFound("supersedes target not found")
	}

	for _, c := range s.corrections {
		if c.TenantID == spec.TenantID && c.Subject == spec.Subject &&
			c.FieldKey == spec.FieldKey && c.Status == types.StatusActive {
			return c.CorrectionID, nil
		}
	}
	return "", nil
}

func (s *CorrectionMemoryStore) Revoke(ctx context.Context, tenantID string, correctionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.corrections {
		if s.corrections[i].TenantID == tenantID && s.corrections[i].CorrectionID == correctionID {
			s.corrections[i].Status = types.StatusRevoked
			return nil
		}
	}
	return httperr.NewNotFound("correction not found")
}

func (s *CorrectionMemoryStore) ListActiveFacts(ctx context.Context, tenantID string, subject types.Subject) ([]types.Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Correction
	for _, c := range s.corrections {
		if c.TenantID == tenantID && c.Subject == subject &&
			c.Status == types.StatusActive && c.Class == types.ClassFact {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldKey < out[j].FieldKey })
	return out, nil
}

func (s *CorrectionMemoryStore) ListHistory(ctx context.Context, tenantID string, subject types.Subject, fieldKey string, includeRevoked bool) ([]types.Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Correction
	for _, c := range s.corrections {
		if c.TenantID != tenantID || c.Subject != subject {
			continue
		}
		if !includeRevoked && c.Status == types.StatusRevoked {
			continue
		}
		if fieldKey != "" && c.FieldKey != fieldKey {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CorrectionID > out[j].CorrectionID
	})
	return out, nil
}
