// Package persistence implements the ledger's stores. The pg store is the
// production path; the memory store mirrors its observable semantics for
// tests and pool-less construction.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stetops/stet/modules/ledger/domain/ports"
	"github.com/stetops/stet/modules/ledger/domain/types"
	"github.com/stetops/stet/pkg/access"
	"github.com/stetops/stet/pkg/httperr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type CorrectionPGStore struct {
	pool pgBeginner
}

func NewCorrectionPGStore(pool pgBeginner) *CorrectionPGStore {
	return &CorrectionPGStore{pool: pool}
}

var _ ports.CorrectionWriteStore = (*CorrectionPGStore)(nil)
var _ ports.CorrectionReadStore = (*CorrectionPGStore)(nil)

// setTenantConfig pins the row-level-security tenant for the transaction.
// Every statement after it only sees the tenant's rows.
func setTenantConfig(ctx context.Context, tx pgx.Tx, tenantID string) error {
	_, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID)
	return err
}

// Create runs the whole write algorithm in one transaction: idempotency
// lookup, supersede target resolution, flip-then-insert, idempotency
// record. The partial unique index on (tenant, subject, field) WHERE
// status='ACTIVE' is the backstop against racing writers; its violation
// surfaces as ConcurrentWriteConflict.
func (s *CorrectionPGStore) Create(ctx context.Context, spec ports.CreateSpec) (ports.CreateResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ports.CreateResult{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := setTenantConfig(ctx, tx, spec.TenantID); err != nil {
		return ports.CreateResult{}, err
	}

	var storedCorrectionID, storedHash string
	err = tx.QueryRow(ctx, `
SELECT correction_id, payload_hash FROM idempotency
WHERE tenant_id=$1 AND key=$2
`, spec.TenantID, spec.IdempotencyKey).Scan(&storedCorrectionID, &storedHash)
	switch {
	case err == nil:
		if storedHash != spec.PayloadHash {
			return ports.CreateResult{}, httperr.NewIdempotencyConflict("idempotency key used with different payload")
		}
		return s.replay(ctx, tx, spec.TenantID, storedCorrectionID)
	case err == pgx.ErrNoRows:
		// first sighting of this key
	default:
		return ports.CreateResult{}, err
	}

	supersededID, err := resolveSupersedeTarget(ctx, tx, spec)
	if err != nil {
		return ports.CreateResult{}, err
	}

	// Flip before insert so the window where two rows are ACTIVE is never
	// observable, not even inside this transaction.
	if supersededID != "" {
		if _, err := tx.Exec(ctx, `
UPDATE corrections SET status='SUPERSEDED'
WHERE tenant_id=$1 AND correction_id=$2
`, spec.TenantID, supersededID); err != nil {
			return ports.CreateResult{}, err
		}
	}

	permsJSON, err := json.Marshal(spec.Permissions)
	if err != nil {
		return ports.CreateResult{}, err
	}
	originJSON, err := json.Marshal(spec.Origin)
	if err != nil {
		return ports.CreateResult{}, err
	}

	now := time.Now().UTC()
	var supersedesValue any
	if supersededID != "" {
		supersedesValue = supersededID
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO corrections (
  correction_id, tenant_id, subject_type, subject_id,
  field_key, value, class, status, supersedes,
  permissions, actor_type, actor_id,
  idempotency_key, created_at, origin
) VALUES ($1,$2,$3,$4,$5,$6,$7,'ACTIVE',$8,$9,$10,$11,$12,$13,$14)
`,
		spec.CorrectionID, spec.TenantID, spec.Subject.Type, spec.Subject.ID,
		spec.FieldKey, []byte(spec.Value), string(spec.Class), supersedesValue,
		permsJSON, spec.Actor.Type, spec.Actor.ID,
		spec.IdempotencyKey, now, originJSON,
	); err != nil {
		if isUniqueViolation(err) {
			return ports.CreateResult{}, httperr.NewConcurrentWriteConflict("concurrent write on subject field")
		}
		return ports.CreateResult{}, err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO idempotency (tenant_id, key, correction_id, payload_hash)
VALUES ($1,$2,$3,$4)
`, spec.TenantID, spec.IdempotencyKey, spec.CorrectionID, spec.PayloadHash); err != nil {
		if isUniqueViolation(err) {
			return ports.CreateResult{}, httperr.NewConcurrentWriteConflict("concurrent write with same idempotency key")
		}
		return ports.CreateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return ports.CreateResult{}, httperr.NewConcurrentWriteConflict("concurrent write on subject field")
		}
		return ports.CreateResult{}, err
	}

	return ports.CreateResult{
		CorrectionID: spec.CorrectionID,
		Status:       types.StatusActive,
		Supersedes:   supersededID,
		CreatedAt:    now,
	}, nil
}

func (s *CorrectionPGStore) replay(ctx context.Context, tx pgx.Tx, tenantID string, correctionID string) (ports.CreateResult, error) {
	var statusRaw string
	var supersedes *string
	var createdAt time.Time
	err := tx.QueryRow(ctx, `
SELECT status, supersedes, created_at FROM corrections
WHERE tenant_id=$1 AND correction_id=$2
`, tenantID, correctionID).Scan(&statusRaw, &supersedes, &createdAt)
	if err == pgx.ErrNoRows {
		return ports.CreateResult{}, httperr.NewInternalConsistency("idempotency record points to missing correction")
	}
	if err != nil {
		return ports.CreateResult{}, err
	}
	status, err := types.ParseStatus(statusRaw)
	if err != nil {
		return ports.CreateResult{}, err
	}
	res := ports.CreateResult{
		CorrectionID: correctionID,
		Status:       status,
		CreatedAt:    createdAt,
		Replayed:     true,
	}
	if supersedes != nil {
		res.Supersedes = *supersedes
	}
	if err := tx.Commit(ctx); err != nil {
		return ports.CreateResult{}, err
	}
	return res, nil
}

// resolveSupersedeTarget is the single decision point for both supersede
// variants. An explicit target is validated strictly; an omitted target
// auto-chains onto whatever is currently ACTIVE for the field, if anything.
func resolveSupersedeTarget(ctx context.Context, tx pgx.Tx, spec ports.CreateSpec) (string, error) {
	if spec.Supersedes != "" {
		var subjectType, subjectID, fieldKey, statusRaw string
		err := tx.QueryRow(ctx, `
SELECT subject_type, subject_id, field_key, status FROM corrections
WHERE tenant_id=$1 AND correction_id=$2
`, spec.TenantID, spec.Supersedes).Scan(&subjectType, &subjectID, &fieldKey, &statusRaw)
		if err == pgx.ErrNoRows {
			return "", httperr.NewNotFound("supersedes target not found")
		}
		if err != nil {
			return "", err
		}
		if types.Status(statusRaw) != types.StatusActive {
			return "", httperr.NewInvalidRequest("supersedes target is not ACTIVE")
		}
		if subjectType != spec.Subject.Type || subjectID != spec.Subject.ID || fieldKey != spec.FieldKey {
			return "", httperr.NewInvalidRequest("supersedes target does not match subject and field")
		}
		return spec.Supersedes, nil
	}

	var activeID string
	err := tx.QueryRow(ctx, `
SELECT correction_id FROM corrections
WHERE tenant_id=$1 AND subject_type=$2 AND subject_id=$3
  AND field_key=$4 AND status='ACTIVE'
`, spec.TenantID, spec.Subject.Type, spec.Subject.ID, spec.FieldKey).Scan(&activeID)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return activeID, nil
}

// Revoke is the administrative path only; no API route reaches it.
func (s *CorrectionPGStore) Revoke(ctx context.Context, tenantID string, correctionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := setTenantConfig(ctx, tx, tenantID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
UPDATE corrections SET status='REVOKED'
WHERE tenant_id=$1 AND correction_id=$2
`, tenantID, correctionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httperr.NewNotFound("correction not found")
	}
	return tx.Commit(ctx)
}

func (s *CorrectionPGStore) ListActiveFacts(ctx context.Context, tenantID string, subject types.Subject) ([]types.Correction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := setTenantConfig(ctx, tx, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT correction_id, field_key, value, class, status, supersedes,
       permissions, actor_type, actor_id, created_at
FROM corrections
WHERE tenant_id=$1 AND subject_type=$2 AND subject_id=$3
  AND status='ACTIVE' AND class='FACT'
ORDER BY field_key
`, tenantID, subject.Type, subject.ID)
	if err != nil {
		return nil, err
	}
	out, err := scanCorrections(rows, tenantID, subject)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *CorrectionPGStore) ListHistory(ctx context.Context, tenantID string, subject types.Subject, fieldKey string, includeRevoked bool) ([]types.Correction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := setTenantConfig(ctx, tx, tenantID); err != nil {
		return nil, err
	}

	sql := `
SELECT correction_id, field_key, value, class, status, supersedes,
       permissions, actor_type, actor_id, created_at
FROM corrections
WHERE tenant_id=$1 AND subject_type=$2 AND subject_id=$3`
	args := []any{tenantID, subject.Type, subject.ID}

	if !includeRevoked {
		sql += ` AND status != 'REVOKED'`
	}
	if fieldKey != "" {
		sql += ` AND field_key=$4`
		args = append(args, fieldKey)
	}
	sql += ` ORDER BY created_at DESC, correction_id DESC`

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out, err := scanCorrections(rows, tenantID, subject)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func scanCorrections(rows pgx.Rows, tenantID string, subject types.Subject) ([]types.Correction, error) {
	defer rows.Close()

	var out []types.Correction
	for rows.Next() {
		var (
			c          types.Correction
			classRaw   string
			statusRaw  string
			supersedes *string
			permsJSON  []byte
			value      []byte
		)
		if err := rows.Scan(
			&c.CorrectionID, &c.FieldKey, &value, &classRaw, &statusRaw,
			&supersedes, &permsJSON, &c.Actor.Type, &c.Actor.ID, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		class, err := types.ParseClass(classRaw)
		if err != nil {
			return nil, httperr.NewInternalConsistency("unknown correction class: " + classRaw)
		}
		status, err := types.ParseStatus(statusRaw)
		if err != nil {
			return nil, err
		}
		var perms access.Permissions
		if err := json.Unmarshal(permsJSON, &perms); err != nil {
			return nil, httperr.NewInternalConsistency("unreadable permissions object")
		}
		c.TenantID = tenantID
		c.Subject = subject
		c.Value = json.RawMessage(value)
		c.Class = class
		c.Status = status
		c.Permissions = perms
		if supersedes != nil {
			c.Supersedes = *supersedes
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
