package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stetops/stet/internal/routing"
	"github.com/stetops/stet/pkg/httperr"
)

// writeDomainError maps the write/read taxonomy onto HTTP. Anything
// outside the taxonomy is an internal error and the message is not
// echoed to the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, rc routing.RouteClass, err error) {
	switch {
	case httperr.IsInvalidRequest(err):
		routing.WriteError(w, r, rc, http.StatusBadRequest, "invalid_request", err.Error())
	case httperr.IsNotFound(err):
		routing.WriteError(w, r, rc, http.StatusNotFound, "not_found", err.Error())
	case httperr.IsIdempotencyConflict(err):
		routing.WriteError(w, r, rc, http.StatusConflict, "idempotency_conflict", err.Error())
	case httperr.IsConcurrentWriteConflict(err):
		routing.WriteError(w, r, rc, http.StatusConflict, "concurrent_write_conflict", err.Error())
	default:
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// splitCSVParam splits a comma separated query value, dropping empty
// segments, so "a,,b" and "a, b" both yield ["a", "b"].
func splitCSVParam(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
