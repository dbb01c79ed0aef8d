package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/stetops/stet/internal/routing"
	"github.com/stetops/stet/modules/ledger/domain/types"
	ledgerservices "github.com/stetops/stet/modules/ledger/services"
)

type historyItemDTO struct {
	CorrectionID string          `json:"correction_id"`
	FieldKey     string          `json:"field_key"`
	Value        json.RawMessage `json:"value"`
	Class        string          `json:"class"`
	Status       string          `json:"status"`
	Supersedes   *string         `json:"supersedes"`
	SupersededBy *string         `json:"superseded_by"`
	CreatedAt    time.Time       `json:"created_at"`
	Actor        actorDTO        `json:"actor"`
}

type historyResponse struct {
	Subject subjectDTO       `json:"subject"`
	History []historyItemDTO `json:"history"`
}

func handleHistoryAPI(w http.ResponseWriter, r *http.Request, projector ledgerservices.CorrectionProjector) {
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

	includeRevoked := false
	if raw := qs.Get("include_revoked"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusBadRequest, "invalid_request", "include_revoked must be a boolean")
			return
		}
		includeRevoked = v
	}

	subject := types.Subject{Type: subjectType, ID: subjectID}
	entries, err := projector.GetHistory(r.Context(), tenant, subject, ledgerservices.HistoryQuery{
		RequesterID:     qs.Get("requester_id"),
		RequesterScopes: splitCSVParam(qs.Get("requester_scopes")),
		FieldKey:        qs.Get("field_key"),
		IncludeRevoked:  includeRevoked,
	})
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}

	out := historyResponse{
		Subject: subjectDTO{Type: subjectType, ID: subjectID},
		History: make([]historyItemDTO, 0, len(entries)),
	}
	for _, e := range entries {
		out.History = append(out.History, historyItemDTO{
			CorrectionID: e.CorrectionID,
			FieldKey:     e.FieldKey,
			Value:        e.Value,
			Class:        string(e.Class),
			Status:       string(e.Status),
			Supersedes:   optionalID(e.Supersedes),
			SupersededBy: optionalID(e.SupersededBy),
			CreatedAt:    e.CreatedAt.UTC(),
			Actor:        actorDTO{Type: e.Actor.Type, ID: e.Actor.ID},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
