package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/stetops/stet/internal/routing"
	"github.com/stetops/stet/modules/ledger/domain/types"
	ledgerservices "github.com/stetops/stet/modules/ledger/services"
)

type factDTO struct {
	FieldKey     string          `json:"field_key"`
	Value        json.RawMessage `json:"value"`
	CorrectedAt  time.Time       `json:"corrected_at"`
	CorrectionID string          `json:"correction_id"`
	Actor        actorDTO        `json:"actor"`
}

type factsResponse struct {
	Subject subjectDTO `json:"subject"`
	Facts   []factDTO  `json:"facts"`
}

func handleFactsAPI(w http.ResponseWriter, r *http.Request, projector ledgerservices.CorrectionProjector) {
	rc := routing.RouteClassPublicAPI

	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	qs := r.URL.Query()
	subjectType := qs.Get("subject_type")
	subjectID := qs.Get("subject_id")
	if subjectType == "" || subjectID == "" {
		routing.WriteError(w, r, rc, http.StatusBadRequest, "invalid_request", "subject_type and subject_id required")
		return
	}

	subject := types.Subject{Type: subjectType, ID: subjectID}
	facts, err := projector.GetFacts(r.Context(), tenant, subject, ledgerservices.FactsQuery{
		RequesterID:     qs.Get("requester_id"),
		RequesterScopes: splitCSVParam(qs.Get("requester_scopes")),
		FieldKeys:       splitCSVParam(qs.Get("field_keys")),
		Query:           qs.Get("q"),
	})
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}

	out := factsResponse{
		Subject: subjectDTO{Type: subjectType, ID: subjectID},
		Facts:   make([]factDTO, 0, len(facts)),
	}
	for _, f := range facts {
		out.Facts = append(out.Facts, factDTO{
			FieldKey:     f.FieldKey,
			Value:        f.Value,
			CorrectedAt:  f.CorrectedAt.UTC(),
			CorrectionID: f.CorrectionID,
			Actor:        actorDTO{Type: f.Actor.Type, ID: f.Actor.ID},
		})
	}
	writeJSON(w, http.StatusOK, out)
}
