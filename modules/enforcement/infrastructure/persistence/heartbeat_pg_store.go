// Package persistence implements the heartbeat stores.
package persistence

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/stetops/stet/modules/enforcement/domain/ports"
	"github.com/stetops/stet/modules/enforcement/domain/types"
	"github.com/stetops/stet/pkg/httperr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type HeartbeatPGStore struct {
	pool pgBeginner
}

func NewHeartbeatPGStore(pool pgBeginner) *HeartbeatPGStore {
	return &HeartbeatPGStore{pool: pool}
}

var _ ports.HeartbeatStore = (*HeartbeatPGStore)(nil)

// setTenantConfig pins the row-level-security tenant for the transaction.
func setTenantConfig(ctx context.Context, tx pgx.Tx, tenantID string) error {
	_, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID)
	return err
}

func (s *HeartbeatPGStore) Append(ctx context.Context, hb types.Heartbeat) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := setTenantConfig(ctx, tx, hb.TenantID); err != nil {
		return err
	}

	originJSON, err := json.Marshal(hb.Origin)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO enforcement_heartbeats (
  tenant_id, system_id, enforced_correction_version, reported_at, origin
) VALUES ($1,$2,$3,$4,$5)
`, hb.TenantID, hb.SystemID, hb.EnforcedCorrectionVersion, hb.ReportedAt, originJSON); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *HeartbeatPGStore) Latest(ctx context.Context, tenantID string, systemID string) (types.Heartbeat, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Heartbeat{}, false, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := setTenantConfig(ctx, tx, tenantID); err != nil {
		return types.Heartbeat{}, false, err
	}

	hb := types.Heartbeat{TenantID: tenantID, SystemID: systemID}
	var originJSON []byte
	err = tx.QueryRow(ctx, `
SELECT enforced_correction_version, reported_at, origin
FROM enforcement_heartbeats
WHERE tenant_id=$1 AND system_id=$2
ORDER BY reported_at DESC
LIMIT 1
`, tenantID, systemID).Scan(&hb.EnforcedCorrectionVersion, &hb.ReportedAt, &originJSON)
	if err == pgx.ErrNoRows {
		return types.Heartbeat{}, false, nil
	}
	if err != nil {
		return types.Heartbeat{}, false, err
	}
	if err := json.Unmarshal(originJSON, &hb.Origin); err != nil {
		return types.Heartbeat{}, false, httperr.NewInternalConsistency("unreadable heartbeat origin")
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Heartbeat{}, false, err
	}
	return hb, true, nil
}

func (s *HeartbeatPGStore) LatestPerSystem(ctx context.Context, tenantID string) ([]types.Heartbeat, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := setTenantConfig(ctx, tx, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT DISTINCT ON (system_id)
       system_id, enforced_correction_version, reported_at, origin
FROM enforcement_heartbeats
WHERE tenant_id=$1
ORDER BY system_id, reported_at DESC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Heartbeat
	for rows.Next() {
		hb := types.Heartbeat{TenantID: tenantID}
		var originJSON []byte
		if err := rows.Scan(&hb.SystemID, &hb.EnforcedCorrectionVersion, &hb.ReportedAt, &originJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(originJSON, &hb.Origin); err != nil {
			return nil, httperr.NewInternalConsistency("unreadable heartbeat origin")
		}
		out = append(out, hb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}
