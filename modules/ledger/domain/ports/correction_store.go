// Package ports declares the storage contracts the ledger services are
// written against. The pg store and the memory store both satisfy them
// with identical observable semantics.
package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stetops/stet/modules/ledger/domain/types"
	"github.com/stetops/stet/pkg/access"
)

// CreateSpec is a fully validated create request with its id and
// idempotency fingerprint already assigned by the write service.
type CreateSpec struct {
	CorrectionID   string
	TenantID       string
	Subject        types.Subject
	FieldKey       string
	Value          json.RawMessage
	Class          types.Class
	Supersedes     string // explicit target id, empty selects auto-chaining
	Permissions    access.Permissions
	Actor          types.Actor
	IdempotencyKey string
	PayloadHash    string
	Origin         types.Origin
}

// CreateResult reports what a create landed as. Replayed means the
// idempotency record matched and no new row was written.
type CreateResult struct {
	CorrectionID string
	Status       types.Status
	Supersedes   string
	CreatedAt    time.Time
	Replayed     bool
}

// CorrectionWriteStore owns correction and idempotency rows. Create must
// run the supersede flip, the insert, and the idempotency insert in one
// atomic transaction; a rejected insert leaves no partial effect.
type CorrectionWriteStore interface {
	Create(ctx context.Context, spec CreateSpec) (CreateResult, error)

	// Revoke flips a correction to REVOKED. Administrative surface only
	// (cmd/dbtool); the HTTP API never exposes it.
	Revoke(ctx context.Context, tenantID string, correctionID string) error
}

// CorrectionReadStore serves the projector. Results are tenant-scoped and
// unfiltered by permissions; permission filtering is a read-path concern.
type CorrectionReadStore interface {
	// ListActiveFacts returns ACTIVE corrections of class FACT for the
	// subject, ordered by field key.
	ListActiveFacts(ctx context.Context, tenantID string, subject types.Subject) ([]types.Correction, error)

	// ListHistory returns all correction versions for the subject, newest
	// first, optionally narrowed to one field key. REVOKED rows are
	// excluded unless includeRevoked.
	ListHistory(ctx context.Context, tenantID string, subject types.Subject, fieldKey string, includeRevoked bool) ([]types.Correction, error)
}
