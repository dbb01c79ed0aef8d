// Package types holds the correction ledger's domain entities. Status and
// class are closed variants with an explicit two-way mapping to their
// persisted string form; reads validate rather than trust the store.
package types

import (
	"encoding/json"
	"time"

	"github.com/stetops/stet/pkg/access"
	"github.com/stetops/stet/pkg/httperr"
)

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusSuperseded Status = "SUPERSEDED"
	StatusRevoked    Status = "REVOKED"
)

// ParseStatus maps a persisted string back to a Status.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusActive, StatusSuperseded, StatusRevoked:
		return Status(raw), nil
	default:
		return "", httperr.NewInternalConsistency("unknown correction status: " + raw)
	}
}

type Class string

const (
	// ClassFact corrections surface through the facts projection.
	ClassFact Class = "FACT"
	// ClassDiscardable corrections are history-only annotations.
	ClassDiscardable Class = "DISCARDABLE"
)

// ParseClass validates caller-supplied class strings.
func ParseClass(raw string) (Class, error) {
	switch Class(raw) {
	case ClassFact, ClassDiscardable:
		return Class(raw), nil
	default:
		return "", httperr.NewInvalidRequest("class must be FACT or DISCARDABLE")
	}
}

// Subject identifies the real-world entity a correction concerns.
type Subject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Actor identifies who or what asserted a correction.
type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Origin is write-time provenance. Recorded for audit, never surfaced in
// responses.
type Origin struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// Correction is one immutable asserted version of a field's value.
// Supersedes is the ownership-free back-reference to the replaced
// correction; the inverse link is derived at read time only.
type Correction struct {
	CorrectionID   string
	TenantID       string
	Subject        Subject
	FieldKey       string
	Value          json.RawMessage
	Class          Class
	Status         Status
	Supersedes     string
	Permissions    access.Permissions
	Actor          Actor
	CreatedAt      time.Time
	IdempotencyKey string
	Origin         Origin
}
