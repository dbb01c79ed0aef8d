package services

import (
	"context"
	"testing"
	"time"

	"github.com/stetops/stet/modules/enforcement/domain/types"
	"github.com/stetops/stet/modules/enforcement/infrastructure/persistence"
	"github.com/stetops/stet/pkg/httperr"
)

const testTenant = "00000000-0000-0000-0000-000000000001"

var testOrigin = types.Origin{Service: "stet-api", Version: "test", Environment: "test"}

// newDriftFixture pins the clock so OK/STALE boundaries are exact.
func newDriftFixture(rules []EscalationRule) (*driftEvaluator, *persistence.HeartbeatMemoryStore, *time.Time) {
	store := persistence.NewHeartbeatMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e := &driftEvaluator{
		store:      store,
		thresholds: Thresholds{HeartbeatIntervalSeconds: 60, GraceMultiplier: 1.5},
		rules:      rules,
		now:        func() time.Time { return now },
	}
	return e, store, &now
}

func reportAt(t *testing.T, e *driftEvaluator, systemID string) {
	t.Helper()
	err := e.RecordHeartbeat(context.Background(), testTenant, HeartbeatRequest{
		SystemID:                  systemID,
		EnforcedCorrectionVersion: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		Origin:                    testOrigin,
	})
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}

func TestRecordHeartbeat_Validation(t *testing.T) {
	e, _, _ := newDriftFixture(nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  HeartbeatRequest
	}{
		{"missing system id", HeartbeatRequest{EnforcedCorrectionVersion: time.Now(), Origin: testOrigin}},
		{"missing version", HeartbeatRequest{SystemID: "s-1", Origin: testOrigin}},
		{"missing origin service", HeartbeatRequest{SystemID: "s-1", EnforcedCorrectionVersion: time.Now(), Origin: types.Origin{Version: "v"}}},
		{"missing origin version", HeartbeatRequest{SystemID: "s-1", EnforcedCorrectionVersion: time.Now(), Origin: types.Origin{Service: "s"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := e.RecordHeartbeat(ctx, testTenant, tc.req); !httperr.IsInvalidRequest(err) {
				t.Fatalf("want invalid request, got %v", err)
			}
		})
	}
}

func TestEvaluateStatus_Classification(t *testing.T) {
	e, _, now := newDriftFixture(nil)
	ctx := context.Background()

	reportAt(t, e, "fresh")
	*now = now.Add(89 * time.Second)
	// "fresh" is now 89s old, inside the 90s window.

	statuses, err := e.EvaluateStatus(ctx, testTenant, "fresh")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(statuses) != 1 || statuses[0].State != types.StateOK {
		t.Fatalf("statuses=%+v", statuses)
	}
	if statuses[0].AgeSeconds != 89 {
		t.Fatalf("age=%d", statuses[0].AgeSeconds)
	}

	*now = now.Add(2 * time.Second)
	statuses, err = e.EvaluateStatus(ctx, testTenant, "fresh")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if statuses[0].State != types.StateStale {
		t.Fatalf("state=%s want STALE past the window", statuses[0].State)
	}
}

func TestEvaluateStatus_MissingOnlyWhenQueriedByID(t *testing.T) {
	e, _, _ := newDriftFixture(nil)
	ctx := context.Background()

	reportAt(t, e, "reported")

	byID, err := e.EvaluateStatus(ctx, testTenant, "never-reported")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(byID) != 1 || byID[0].State != types.StateMissing {
		t.Fatalf("byID=%+v", byID)
	}
	if byID[0].SystemID != "never-reported" {
		t.Fatalf("system_id=%s", byID[0].SystemID)
	}

	// Absence is not membership: the fleet view only lists reporters.
	all, err := e.EvaluateStatus(ctx, testTenant, "")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(all) != 1 || all[0].SystemID != "reported" {
		t.Fatalf("all=%+v", all)
	}
}

func TestEvaluateStatus_UsesLatestHeartbeat(t *testing.T) {
	e, _, now := newDriftFixture(nil)
	ctx := context.Background()

	reportAt(t, e, "s-1")
	*now = now.Add(10 * time.Minute)
	reportAt(t, e, "s-1")

	statuses, err := e.EvaluateStatus(ctx, testTenant, "s-1")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if statuses[0].State != types.StateOK {
		t.Fatalf("state=%s; stale first heartbeat must not win", statuses[0].State)
	}
}

func TestEvaluateEscalation_Precedence(t *testing.T) {
	ctx := context.Background()

	t.Run("all ok", func(t *testing.T) {
		e, _, _ := newDriftFixture(nil)
		reportAt(t, e, "s-1")
		report, err := e.EvaluateEscalation(ctx, testTenant, "")
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if report.Escalation != types.EscalationNone || report.Summary.OK != 1 {
			t.Fatalf("report=%+v", report)
		}
		if len(report.AffectedSystems) != 0 {
			t.Fatalf("affected=%+v", report.AffectedSystems)
		}
	})

	t.Run("stale warns", func(t *testing.T) {
		e, _, now := newDriftFixture(nil)
		reportAt(t, e, "s-1")
		*now = now.Add(5 * time.Minute)
		reportAt(t, e, "s-2")
		report, err := e.EvaluateEscalation(ctx, testTenant, "")
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if report.Escalation != types.EscalationWarn {
			t.Fatalf("escalation=%s", report.Escalation)
		}
		if report.ReasonCode != "ENFORCEMENT_SYSTEM_STALE" {
			t.Fatalf("reason=%s", report.ReasonCode)
		}
		if report.Summary.OK != 1 || report.Summary.Stale != 1 {
			t.Fatalf("summary=%+v", report.Summary)
		}
		if len(report.AffectedSystems) != 1 || report.AffectedSystems[0].SystemID != "s-1" {
			t.Fatalf("affected=%+v", report.AffectedSystems)
		}
	})

	t.Run("missing forces critical over stale", func(t *testing.T) {
		e, _, now := newDriftFixture(nil)
		reportAt(t, e, "s-1")
		*now = now.Add(5 * time.Minute)
		report, err := e.EvaluateEscalation(ctx, testTenant, "never-reported")
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if report.Escalation != types.EscalationCritical {
			t.Fatalf("escalation=%s", report.Escalation)
		}
		if report.ReasonCode != "ENFORCEMENT_SYSTEM_MISSING" {
			t.Fatalf("reason=%s", report.ReasonCode)
		}
		if report.Summary.Missing != 1 {
			t.Fatalf("summary=%+v", report.Summary)
		}
	})
}

// The shipped override rules must each be able to change an outcome:
// overrides are raise-only, so a rule whose eligibility already implies
// its own decision level is dead configuration.
func TestEvaluateEscalation_ShippedRulesRaise(t *testing.T) {
	ctx := context.Background()
	rules, err := LoadEscalationRules("../../../config/enforcement/escalation_rules.yaml")
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if len(rules) == 0 {
		t.Fatal("no shipped rules")
	}

	t.Run("sole system stale", func(t *testing.T) {
		e, _, now := newDriftFixture(rules)
		reportAt(t, e, "only")
		*now = now.Add(5 * time.Minute)
		report, err := e.EvaluateEscalation(ctx, testTenant, "")
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if report.Escalation != types.EscalationCritical {
			t.Fatalf("escalation=%s", report.Escalation)
		}
		if report.ReasonCode != "ENFORCEMENT_SOLE_SYSTEM_STALE" {
			t.Fatalf("reason=%s", report.ReasonCode)
		}
	})

	t.Run("fleet majority stale", func(t *testing.T) {
		e, _, now := newDriftFixture(rules)
		reportAt(t, e, "s-1")
		reportAt(t, e, "s-2")
		*now = now.Add(5 * time.Minute)
		reportAt(t, e, "s-3")
		report, err := e.EvaluateEscalation(ctx, testTenant, "")
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if report.Escalation != types.EscalationCritical {
			t.Fatalf("escalation=%s", report.Escalation)
		}
		if report.ReasonCode != "ENFORCEMENT_FLEET_DEGRADED" {
			t.Fatalf("reason=%s", report.ReasonCode)
		}
	})
}

func TestEvaluateEscalation_OverridesOnlyRaise(t *testing.T) {
	ctx := context.Background()

	raise := []EscalationRule{{
		RuleID:          "fleet-majority-stale",
		Priority:        10,
		EligibilityExpr: `int(ctx["stale"]) * 2 > int(ctx["total"]) && int(ctx["total"]) > 0`,
		DecisionExpr:    `"CRITICAL"`,
		ReasonCode:      "ENFORCEMENT_FLEET_DEGRADED",
	}}

	t.Run("raises warn to critical", func(t *testing.T) {
		e, _, now := newDriftFixture(raise)
		reportAt(t, e, "s-1")
		*now = now.Add(5 * time.Minute)
		report, err := e.EvaluateEscalation(ctx, testTenant, "")
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if report.Escalation != types.EscalationCritical {
			t.Fatalf("escalation=%s", report.Escalation)
		}
		if report.ReasonCode != "ENFORCEMENT_FLEET_DEGRADED" {
			t.Fatalf("reason=%s", report.ReasonCode)
		}
	})

	lower := []EscalationRule{{
		RuleID:          "downgrade-everything",
		Priority:        10,
		EligibilityExpr: `true`,
		DecisionExpr:    `"NONE"`,
		ReasonCode:      "NOISY_RULE",
	}}

	t.Run("cannot lower the built-in level", func(t *testing.T) {
		e, _, _ := newDriftFixture(lower)
		report, err := e.EvaluateEscalation(ctx, testTenant, "never-reported")
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if report.Escalation != types.EscalationCritical {
			t.Fatalf("escalation=%s; override lowered the level", report.Escalation)
		}
		if report.ReasonCode != "ENFORCEMENT_SYSTEM_MISSING" {
			t.Fatalf("reason=%s", report.ReasonCode)
		}
	})
}

func TestEvaluateEscalation_BadRuleSurfacesError(t *testing.T) {
	e, _, _ := newDriftFixture([]EscalationRule{{
		RuleID:          "broken",
		Priority:        1,
		EligibilityExpr: `true`,
		DecisionExpr:    `"SHOUTING"`,
	}})
	reportAt(t, e, "s-1")

	if _, err := e.EvaluateEscalation(context.Background(), testTenant, ""); err == nil {
		t.Fatal("expected error for unknown escalation level")
	}
}
