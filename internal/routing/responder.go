package routing

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ErrorEnvelope is the wire shape of every error this service emits.
type ErrorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	TraceID string            `json:"trace_id"`
	Meta    ErrorEnvelopeMeta `json:"meta"`
}

type ErrorEnvelopeMeta struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

// WriteError renders the JSON envelope. Every route class on this service
// is machine-facing, so there is no content negotiation.
func WriteError(w http.ResponseWriter, r *http.Request, rc RouteClass, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorEnvelope{
		Code:    code,
		Message: message,
		TraceID: TraceIDFromRequest(r),
		Meta: ErrorEnvelopeMeta{
			Path:   r.URL.Path,
			Method: r.Method,
		},
	})
}

// TraceIDFromRequest extracts the trace id from a W3C traceparent header,
// or returns empty when absent or malformed.
func TraceIDFromRequest(r *http.Request) string {
	traceparent := strings.TrimSpace(r.Header.Get("traceparent"))
	if traceparent == "" {
		return ""
	}
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return ""
	}
	traceID := strings.ToLower(parts[1])
	if len(traceID) != 32 || traceID == "00000000000000000000000000000000" {
		return ""
	}
	for _, ch := range traceID {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return ""
		}
	}
	return traceID
}
