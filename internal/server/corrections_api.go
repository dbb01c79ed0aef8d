package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/stetops/stet/internal/routing"
	"github.com/stetops/stet/modules/ledger/domain/types"
	ledgerservices "github.com/stetops/stet/modules/ledger/services"
	"github.com/stetops/stet/pkg/access"
)

type subjectDTO struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type actorDTO struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type createCorrectionRequest struct {
	Subject        subjectDTO         `json:"subject"`
	FieldKey       string             `json:"field_key"`
	Value          json.RawMessage    `json:"value"`
	Class          string             `json:"class"`
	Permissions    access.Permissions `json:"permissions"`
	Actor          actorDTO           `json:"actor"`
	IdempotencyKey string             `json:"idempotency_key"`
	Supersedes     string             `json:"supersedes"`
}

type createCorrectionResponse struct {
	CorrectionID string    `json:"correction_id"`
	Status       string    `json:"status"`
	Supersedes   *string   `json:"supersedes"`
	CreatedAt    time.Time `json:"created_at"`
}

func handleCorrectionsAPI(w http.ResponseWriter, r *http.Request, svc ledgerservices.CorrectionWriteService, m *serverMetrics) {
	rc := routing.RouteClassPublicAPI

	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	var req createCorrectionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		routing.WriteError(w, r, rc, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}

	res, err := svc.Create(r.Context(), tenant, ledgerservices.CreateCorrectionRequest{
		Subject:        types.Subject{Type: req.Subject.Type, ID: req.Subject.ID},
		FieldKey:       req.FieldKey,
		Value:          req.Value,
		Class:          req.Class,
		Permissions:    req.Permissions,
		Actor:          types.Actor{Type: req.Actor.Type, ID: req.Actor.ID},
		IdempotencyKey: req.IdempotencyKey,
		Supersedes:     req.Supersedes,
	})
	if err != nil {
		m.CorrectionsTotal.WithLabelValues("error").Inc()
		writeDomainError(w, r, rc, err)
		return
	}

	var supersedes *string
	if res.Supersedes != "" {
		s := res.Supersedes
		supersedes = &s
	}

	status := http.StatusCreated
	outcome := "created"
	if res.Replayed {
		status = http.StatusOK
		outcome = "replayed"
	}
	m.CorrectionsTotal.WithLabelValues(outcome).Inc()

	writeJSON(w, status, createCorrectionResponse{
		CorrectionID: res.CorrectionID,
		Status:       string(res.Status),
		Supersedes:   supersedes,
		CreatedAt:    res.CreatedAt.UTC(),
	})
}
