// Package ports declares the heartbeat storage contract.
package ports

import (
	"context"

	"github.com/stetops/stet/modules/enforcement/domain/types"
)

// HeartbeatStore owns the append-only heartbeat rows. Nothing here
// updates or deletes; evaluation only ever needs the most recent report
// per system.
type HeartbeatStore interface {
	Append(ctx context.Context, hb types.Heartbeat) error

	// Latest returns the most recent heartbeat for one system.
	Latest(ctx context.Context, tenantID string, systemID string) (types.Heartbeat, bool, error)

	// LatestPerSystem returns the most recent heartbeat of every system
	// that has ever reported for the tenant, ordered by system id.
	// Absence is not membership: systems that never reported cannot be
	// enumerated.
	LatestPerSystem(ctx context.Context, tenantID string) ([]types.Heartbeat, error)
}
