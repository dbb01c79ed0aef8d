package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/stetops/stet/modules/ledger/domain/ports"
	"github.com/stetops/stet/modules/ledger/domain/types"
	"github.com/stetops/stet/pkg/access"
	"github.com/stetops/stet/pkg/httperr"
)

// Fact is one permitted, current FACT-class value.
type Fact struct {
	FieldKey     string
	Value        json.RawMessage
	CorrectedAt  time.Time
	CorrectionID string
	Actor        types.Actor
}

// HistoryEntry is one permitted correction version. SupersededBy is
// derived at read time from the permitted result set only; it is never
// persisted, and whether it appears can depend on the requester's
// permissions. That asymmetry is deliberate.
type HistoryEntry struct {
	CorrectionID string
	FieldKey     string
	Value        json.RawMessage
	Class        types.Class
	Status       types.Status
	Supersedes   string
	SupersededBy string
	CreatedAt    time.Time
	Actor        types.Actor
}

// FactsQuery narrows the facts projection. FieldKeys is an allow-list;
// Query is a case-insensitive substring match over field key or
// serialized value.
type FactsQuery struct {
	RequesterID     string
	RequesterScopes []string
	FieldKeys       []string
	Query           string
}

type HistoryQuery struct {
	RequesterID     string
	RequesterScopes []string
	FieldKey        string
	IncludeRevoked  bool
}

type CorrectionProjector interface {
	GetFacts(ctx context.Context, tenantID string, subject types.Subject, q FactsQuery) ([]Fact, error)
	GetHistory(ctx context.Context, tenantID string, subject types.Subject, q HistoryQuery) ([]HistoryEntry, error)
}

type correctionProjector struct {
	store ports.CorrectionReadStore
}

func NewCorrectionProjector(store ports.CorrectionReadStore) CorrectionProjector {
	return &correctionProjector{store: store}
}

func (p *correctionProjector) GetFacts(ctx context.Context, tenantID string, subject types.Subject, q FactsQuery) ([]Fact, error) {
	if strings.TrimSpace(q.RequesterID) == "" {
		return nil, httperr.NewInvalidRequest("requester_id required")
	}

	rows, err := p.store.ListActiveFacts(ctx, tenantID, subject)
	if err != nil {
		return nil, err
	}

	var allowKeys map[string]struct{}
	if len(q.FieldKeys) > 0 {
		allowKeys = make(map[string]struct{}, len(q.FieldKeys))
		for _, k := range q.FieldKeys {
			allowKeys[k] = struct{}{}
		}
	}
	needle := strings.ToLower(q.Query)

	facts := make([]Fact, 0, len(rows))
	for _, c := range rows {
		if !access.IsAllowed(q.RequesterID, q.RequesterScopes, c.Permissions) {
			continue
		}
		if allowKeys != nil {
			if _, ok := allowKeys[c.FieldKey]; !ok {
				continue
			}
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(c.FieldKey), needle) &&
			!strings.Contains(strings.ToLower(string(c.Value)), needle) {
			continue
		}
		facts = append(facts, Fact{
			FieldKey:     c.FieldKey,
			Value:        c.Value,
			CorrectedAt:  c.CreatedAt,
			CorrectionID: c.CorrectionID,
			Actor:        c.Actor,
		})
	}
	return facts, nil
}

func (p *correctionProjector) GetHistory(ctx context.Context, tenantID string, subject types.Subject, q HistoryQuery) ([]HistoryEntry, error) {
	if strings.TrimSpace(q.RequesterID) == "" {
		return nil, httperr.NewInvalidRequest("requester_id required")
	}

	rows, err := p.store.ListHistory(ctx, tenantID, subject, q.FieldKey, q.IncludeRevoked)
	if err != nil {
		return nil, err
	}

	var permitted []types.Correction
	for _, c := range rows {
		if access.IsAllowed(q.RequesterID, q.RequesterScopes, c.Permissions) {
			permitted = append(permitted, c)
		}
	}

	// The back-link is derived from the permitted set, not all rows: a
	// successor the requester cannot read does not surface here.
	supersededBy := make(map[string]string, len(permitted))
	for _, c := range permitted {
		if c.Supersedes != "" {
			supersededBy[c.Supersedes] = c.CorrectionID
		}
	}

	entries := make([]HistoryEntry, 0, len(permitted))
	for _, c := range permitted {
		entries = append(entries, HistoryEntry{
			CorrectionID: c.CorrectionID,
			FieldKey:     c.FieldKey,
			Value:        c.Value,
			Class:        c.Class,
			Status:       c.Status,
			Supersedes:   c.Supersedes,
			SupersededBy: supersededBy[c.CorrectionID],
			CreatedAt:    c.CreatedAt,
			Actor:        c.Actor,
		})
	}
	return entries, nil
}
