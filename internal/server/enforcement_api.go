package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/stetops/stet/internal/routing"
	"github.com/stetops/stet/modules/enforcement/domain/types"
	enforcementservices "github.com/stetops/stet/modules/enforcement/services"
)

type heartbeatRequest struct {
	SystemID                  string    `json:"system_id"`
	EnforcedCorrectionVersion time.Time `json:"enforced_correction_version"`
}

type systemStatusDTO struct {
	SystemID                  string     `json:"system_id"`
	Status                    string     `json:"status"`
	LastReportedAt            *time.Time `json:"last_reported_at"`
	EnforcedCorrectionVersion *time.Time `json:"enforced_correction_version"`
	AgeSeconds                int64      `json:"age_seconds"`
}

type thresholdsDTO struct {
	HeartbeatIntervalSeconds int     `json:"heartbeat_interval_seconds"`
	GraceMultiplier          float64 `json:"grace_multiplier"`
	WindowSeconds            int64   `json:"window_seconds"`
}

type enforcementStatusResponse struct {
	TenantID   string            `json:"tenant_id"`
	Thresholds thresholdsDTO     `json:"thresholds"`
	Systems    []systemStatusDTO `json:"systems"`
}

type escalationSummaryDTO struct {
	OK      int `json:"ok"`
	Stale   int `json:"stale"`
	Missing int `json:"missing"`
}

type escalationResponse struct {
	TenantID        string               `json:"tenant_id"`
	Escalation      string               `json:"escalation"`
	ReasonCode      string               `json:"reason_code,omitempty"`
	Summary         escalationSummaryDTO `json:"summary"`
	AffectedSystems []systemStatusDTO    `json:"affected_systems"`
}

func handleEnforcementHeartbeatAPI(w http.ResponseWriter, r *http.Request, evaluator enforcementservices.DriftEvaluator, origin types.Origin, m *serverMetrics) {
	rc := routing.RouteClassPublicAPI

	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	var req heartbeatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		routing.WriteError(w, r, rc, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}

	err := evaluator.RecordHeartbeat(r.Context(), tenant, enforcementservices.HeartbeatRequest{
		SystemID:                  req.SystemID,
		EnforcedCorrectionVersion: req.EnforcedCorrectionVersion,
		Origin:                    origin,
	})
	if err != nil {
		m.HeartbeatsTotal.WithLabelValues("error").Inc()
		writeDomainError(w, r, rc, err)
		return
	}

	m.HeartbeatsTotal.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func handleEnforcementStatusAPI(w http.ResponseWriter, r *http.Request, evaluator enforcementservices.DriftEvaluator, thresholds enforcementservices.Thresholds) {
	rc := routing.RouteClassPublicAPI

	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	statuses, err := evaluator.EvaluateStatus(r.Context(), tenant, r.URL.Query().Get("system_id"))
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}

	out := enforcementStatusResponse{
		TenantID: tenant,
		Thresholds: thresholdsDTO{
			HeartbeatIntervalSeconds: thresholds.HeartbeatIntervalSeconds,
			GraceMultiplier:          thresholds.GraceMultiplier,
			WindowSeconds:            int64(thresholds.Window().Seconds()),
		},
		Systems: make([]systemStatusDTO, 0, len(statuses)),
	}
	for _, st := range statuses {
		out.Systems = append(out.Systems, systemStatusToDTO(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func handleEnforcementEscalationAPI(w http.ResponseWriter, r *http.Request, evaluator enforcementservices.DriftEvaluator) {
	rc := routing.RouteClassPublicAPI

	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	report, err := evaluator.EvaluateEscalation(r.Context(), tenant, r.URL.Query().Get("system_id"))
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}

	out := escalationResponse{
		TenantID:   report.TenantID,
		Escalation: string(report.Escalation),
		ReasonCode: report.ReasonCode,
		Summary: escalationSummaryDTO{
			OK:      report.Summary.OK,
			Stale:   report.Summary.Stale,
			Missing: report.Summary.Missing,
		},
		AffectedSystems: make([]systemStatusDTO, 0, len(report.AffectedSystems)),
	}
	for _, st := range report.AffectedSystems {
		out.AffectedSystems = append(out.AffectedSystems, systemStatusToDTO(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func systemStatusToDTO(st types.SystemStatus) systemStatusDTO {
	dto := systemStatusDTO{
		SystemID:   st.SystemID,
		Status:     string(st.State),
		AgeSeconds: st.AgeSeconds,
	}
	if !st.LastReportedAt.IsZero() {
		t := st.LastReportedAt.UTC()
		dto.LastReportedAt = &t
	}
	if !st.EnforcedCorrectionVersion.IsZero() {
		t := st.EnforcedCorrectionVersion.UTC()
		dto.EnforcedCorrectionVersion = &t
	}
	return dto
}
