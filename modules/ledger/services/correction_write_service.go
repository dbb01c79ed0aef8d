// Package services holds the ledger's application services: the write
// service orchestrating creates and the projector deriving read views.
package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/stetops/stet/modules/ledger/domain/ports"
	"github.com/stetops/stet/modules/ledger/domain/types"
	"github.com/stetops/stet/pkg/access"
	"github.com/stetops/stet/pkg/canonhash"
	"github.com/stetops/stet/pkg/httperr"
	"github.com/stetops/stet/pkg/uuidv7"
)

var newCorrectionID = uuidv7.NewString

// CreateCorrectionRequest is the boundary-validated write request. Class
// arrives as its wire string and is parsed here; Supersedes empty selects
// auto-chaining.
type CreateCorrectionRequest struct {
	Subject        types.Subject
	FieldKey       string
	Value          json.RawMessage
	Class          string
	Permissions    access.Permissions
	Actor          types.Actor
	IdempotencyKey string
	Supersedes     string
}

type CorrectionWriteService interface {
	Create(ctx context.Context, tenantID string, req CreateCorrectionRequest) (ports.CreateResult, error)
}

type correctionWriteService struct {
	store  ports.CorrectionWriteStore
	origin types.Origin
}

// NewCorrectionWriteService binds the write path to a store. origin is
// this process's provenance attestation, recorded on every row it writes.
func NewCorrectionWriteService(store ports.CorrectionWriteStore, origin types.Origin) CorrectionWriteService {
	return &correctionWriteService{store: store, origin: origin}
}

func (s *correctionWriteService) Create(ctx context.Context, tenantID string, req CreateCorrectionRequest) (ports.CreateResult, error) {
	if strings.TrimSpace(tenantID) == "" {
		return ports.CreateResult{}, httperr.NewInvalidRequest("tenant id required")
	}
	if strings.TrimSpace(req.Subject.Type) == "" || strings.TrimSpace(req.Subject.ID) == "" {
		return ports.CreateResult{}, httperr.NewInvalidRequest("subject type and id required")
	}
	if strings.TrimSpace(req.FieldKey) == "" {
		return ports.CreateResult{}, httperr.NewInvalidRequest("field_key required")
	}
	if strings.TrimSpace(req.Actor.Type) == "" || strings.TrimSpace(req.Actor.ID) == "" {
		return ports.CreateResult{}, httperr.NewInvalidRequest("actor type and id required")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return ports.CreateResult{}, httperr.NewInvalidRequest("idempotency_key required")
	}
	if !req.Permissions.Grants() {
		return ports.CreateResult{}, httperr.NewInvalidRequest("permissions must include readers or scopes")
	}
	class, err := types.ParseClass(req.Class)
	if err != nil {
		return ports.CreateResult{}, err
	}

	value := req.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}

	payloadHash, err := fingerprint(req, value)
	if err != nil {
		return ports.CreateResult{}, httperr.NewInvalidRequest("value is not canonicalizable json")
	}

	correctionID, err := newCorrectionID()
	if err != nil {
		return ports.CreateResult{}, err
	}

	return s.store.Create(ctx, ports.CreateSpec{
		CorrectionID:   correctionID,
		TenantID:       tenantID,
		Subject:        req.Subject,
		FieldKey:       req.FieldKey,
		Value:          value,
		Class:          class,
		Supersedes:     req.Supersedes,
		Permissions:    req.Permissions,
		Actor:          req.Actor,
		IdempotencyKey: req.IdempotencyKey,
		PayloadHash:    payloadHash,
		Origin:         s.origin,
	})
}

// fingerprint hashes the full request payload in its canonical form. A
// retried request hashes identically regardless of JSON key order or
// whitespace; any semantic change produces a different fingerprint.
func fingerprint(req CreateCorrectionRequest, value json.RawMessage) (string, error) {
	payload := map[string]any{
		"subject": map[string]any{
			"type": req.Subject.Type,
			"id":   req.Subject.ID,
		},
		"field_key": req.FieldKey,
		"value":     value,
		"class":     req.Class,
		"permissions": map[string]any{
			"readers":   req.Permissions.Readers,
			"scopes":    req.Permissions.Scopes,
			"deny_list": req.Permissions.DenyList,
		},
		"actor": map[string]any{
			"type": req.Actor.Type,
			"id":   req.Actor.ID,
		},
		"idempotency_key": req.IdempotencyKey,
	}
	if req.Supersedes != "" {
		payload["supersedes"] = req.Supersedes
	}
	return canonhash.SumHex(payload)
}
