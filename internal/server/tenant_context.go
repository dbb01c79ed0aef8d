package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/stetops/stet/internal/routing"
)

type tenantCtxKey struct{}

func withTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenantID)
}

func currentTenant(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(string)
	return t, ok
}

const tenantHeader = "X-Tenant-Id"

// withTenantHeader resolves the tenant from the X-Tenant-Id header on
// every request except the unscoped ops routes. Authentication happened
// upstream; by the time a request reaches this core the header is a
// trusted, already-resolved tenant id and only its shape is validated.
func withTenantHeader(classifier *routing.Classifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rc := routing.RouteClassPublicAPI
		if classifier != nil {
			rc = classifier.Classify(r.URL.Path)
		}

		raw := strings.TrimSpace(r.Header.Get(tenantHeader))
		if raw == "" {
			routing.WriteError(w, r, rc, http.StatusBadRequest, "tenant_required", "X-Tenant-Id header required")
			return
		}
		if _, err := uuid.Parse(raw); err != nil {
			routing.WriteError(w, r, rc, http.StatusBadRequest, "tenant_invalid", "X-Tenant-Id must be a uuid")
			return
		}

		next.ServeHTTP(w, r.WithContext(withTenant(r.Context(), raw)))
	})
}
