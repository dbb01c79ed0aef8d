package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/stetops/stet/modules/enforcement/domain/ports"
	"github.com/stetops/stet/modules/enforcement/domain/types"
	"github.com/stetops/stet/pkg/httperr"
)

// Thresholds are injected, not owned: interval and grace multiplier come
// from deployment configuration.
type Thresholds struct {
	HeartbeatIntervalSeconds int
	GraceMultiplier          float64
}

// Window is the maximum heartbeat age still classified OK.
func (t Thresholds) Window() time.Duration {
	return time.Duration(float64(t.HeartbeatIntervalSeconds) * t.GraceMultiplier * float64(time.Second))
}

// HeartbeatRequest is a boundary-validated enforcement report.
type HeartbeatRequest struct {
	SystemID                  string
	EnforcedCorrectionVersion time.Time
	Origin                    types.Origin
}

type DriftEvaluator interface {
	RecordHeartbeat(ctx context.Context, tenantID string, req HeartbeatRequest) error

	// EvaluateStatus classifies one system (systemID given — a system that
	// never reported comes back MISSING) or every system that has ever
	// reported for the tenant (systemID empty).
	EvaluateStatus(ctx context.Context, tenantID string, systemID string) ([]types.SystemStatus, error)

	EvaluateEscalation(ctx context.Context, tenantID string, systemID string) (types.EscalationReport, error)
}

type driftEvaluator struct {
	store      ports.HeartbeatStore
	thresholds Thresholds
	rules      []EscalationRule
	now        func() time.Time
}

func NewDriftEvaluator(store ports.HeartbeatStore, thresholds Thresholds, rules []EscalationRule) DriftEvaluator {
	return &driftEvaluator{
		store:      store,
		thresholds: thresholds,
		rules:      rules,
		now:        time.Now,
	}
}

func (e *driftEvaluator) RecordHeartbeat(ctx context.Context, tenantID string, req HeartbeatRequest) error {
	if strings.TrimSpace(tenantID) == "" {
		return httperr.NewInvalidRequest("tenant id required")
	}
	if strings.TrimSpace(req.SystemID) == "" {
		return httperr.NewInvalidRequest("system_id required")
	}
	if req.EnforcedCorrectionVersion.IsZero() {
		return httperr.NewInvalidRequest("enforced_correction_version required")
	}
	if strings.TrimSpace(req.Origin.Service) == "" || strings.TrimSpace(req.Origin.Version) == "" {
		return httperr.NewInvalidRequest("origin attestation required")
	}

	return e.store.Append(ctx, types.Heartbeat{
		TenantID:                  tenantID,
		SystemID:                  req.SystemID,
		EnforcedCorrectionVersion: req.EnforcedCorrectionVersion,
		ReportedAt:                e.now().UTC(),
		Origin:                    req.Origin,
	})
}

func (e *driftEvaluator) EvaluateStatus(ctx context.Context, tenantID string, systemID string) ([]types.SystemStatus, error) {
	if systemID != "" {
		hb, found, err := e.store.Latest(ctx, tenantID, systemID)
		if err != nil {
			return nil, err
		}
		if !found {
			return []types.SystemStatus{{SystemID: systemID, State: types.StateMissing}}, nil
		}
		return []types.SystemStatus{e.classify(hb)}, nil
	}

	latest, err := e.store.LatestPerSystem(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	statuses := make([]types.SystemStatus, 0, len(latest))
	for _, hb := range latest {
		statuses = append(statuses, e.classify(hb))
	}
	return statuses, nil
}

func (e *driftEvaluator) classify(hb types.Heartbeat) types.SystemStatus {
	age := e.now().UTC().Sub(hb.ReportedAt)
	state := types.StateOK
	if age > e.thresholds.Window() {
		state = types.StateStale
	}
	return types.SystemStatus{
		SystemID:                  hb.SystemID,
		State:                     state,
		LastReportedAt:            hb.ReportedAt,
		EnforcedCorrectionVersion: hb.EnforcedCorrectionVersion,
		AgeSeconds:                int64(age / time.Second),
	}
}

const (
	reasonSystemMissing = "ENFORCEMENT_SYSTEM_MISSING"
	reasonSystemStale   = "ENFORCEMENT_SYSTEM_STALE"
)

func (e *driftEvaluator) EvaluateEscalation(ctx context.Context, tenantID string, systemID string) (types.EscalationReport, error) {
	statuses, err := e.EvaluateStatus(ctx, tenantID, systemID)
	if err != nil {
		return types.EscalationReport{}, err
	}

	report := types.EscalationReport{TenantID: tenantID, Escalation: types.EscalationNone}
	for _, st := range statuses {
		switch st.State {
		case types.StateOK:
			report.Summary.OK++
		case types.StateStale:
			report.Summary.Stale++
		case types.StateMissing:
			report.Summary.Missing++
		}
		if st.State != types.StateOK {
			report.AffectedSystems = append(report.AffectedSystems, st)
		}
	}

	// Strict precedence: one MISSING system forces CRITICAL regardless of
	// how many are merely STALE.
	switch {
	case report.Summary.Missing > 0:
		report.Escalation = types.EscalationCritical
		report.ReasonCode = reasonSystemMissing
	case report.Summary.Stale > 0:
		report.Escalation = types.EscalationWarn
		report.ReasonCode = reasonSystemStale
	}

	if len(e.rules) > 0 {
		override, reasonCode, fired, err := evaluateOverrides(e.rules, map[string]string{
			"tenant_id": tenantID,
			"system_id": systemID,
			"ok":        strconv.Itoa(report.Summary.OK),
			"stale":     strconv.Itoa(report.Summary.Stale),
			"missing":   strconv.Itoa(report.Summary.Missing),
			"total":     strconv.Itoa(len(statuses)),
			"level":     string(report.Escalation),
		})
		if err != nil {
			return types.EscalationReport{}, err
		}
		// Overrides only tighten; the built-in level is the floor.
		if fired && escalationRank(override) > escalationRank(report.Escalation) {
			report.Escalation = override
			report.ReasonCode = reasonCode
		}
	}

	return report, nil
}
