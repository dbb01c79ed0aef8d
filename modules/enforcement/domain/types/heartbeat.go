// Package types holds the enforcement subsystem's entities: append-only
// heartbeats from downstream systems and the classifications derived
// from them.
package types

import "time"

// Origin attests which service reported a heartbeat. Service and Version
// are mandatory; a heartbeat without attestation is rejected.
type Origin struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// Heartbeat is one append-only report. EnforcedCorrectionVersion is the
// correction issuance timestamp the system claims to have applied;
// ReportedAt is assigned at ingestion.
type Heartbeat struct {
	TenantID                  string
	SystemID                  string
	EnforcedCorrectionVersion time.Time
	ReportedAt                time.Time
	Origin                    Origin
}

type SystemState string

const (
	StateOK      SystemState = "OK"
	StateStale   SystemState = "STALE"
	StateMissing SystemState = "MISSING"
)

type EscalationLevel string

const (
	EscalationNone     EscalationLevel = "NONE"
	EscalationWarn     EscalationLevel = "WARN"
	EscalationCritical EscalationLevel = "CRITICAL"
)

// SystemStatus is the per-system freshness classification.
type SystemStatus struct {
	SystemID                  string
	State                     SystemState
	LastReportedAt            time.Time // zero when MISSING
	EnforcedCorrectionVersion time.Time // zero when MISSING
	AgeSeconds                int64     // zero when MISSING
}

// StatusSummary counts systems per state.
type StatusSummary struct {
	OK      int
	Stale   int
	Missing int
}

// EscalationReport aggregates a tenant's drift into one severity.
type EscalationReport struct {
	TenantID        string
	Escalation      EscalationLevel
	ReasonCode      string
	Summary         StatusSummary
	AffectedSystems []SystemStatus
}
