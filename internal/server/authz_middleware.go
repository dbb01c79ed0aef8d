package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/stetops/stet/internal/routing"
	"github.com/stetops/stet/pkg/authz"
)

func loadAuthorizer() (*authz.Authorizer, error) {
	modelPath := os.Getenv("AUTHZ_MODEL_PATH")
	if modelPath == "" {
		p, err := defaultAuthzModelPath()
		if err != nil {
			return nil, err
		}
		modelPath = p
	}

	policyPath := os.Getenv("AUTHZ_POLICY_PATH")
	if policyPath == "" {
		p, err := defaultAuthzPolicyPath()
		if err != nil {
			return nil, err
		}
		policyPath = p
	}

	mode, err := authz.ParseMode(os.Getenv("AUTHZ_MODE"), true)
	if err != nil {
		return nil, err
	}

	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

func defaultAuthzModelPath() (string, error) {
	path := "config/access/model.conf"
	for i := 0; i < 8; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: authz model not found")
}

func defaultAuthzPolicyPath() (string, error) {
	path := "config/access/policy.csv"
	for i := 0; i < 8; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: authz policy not found")
}

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

const requesterRoleHeader = "X-Requester-Role"

// withAuthz enforces the casbin route policy. The caller's role arrives
// in X-Requester-Role, assigned upstream by the gateway together with
// the tenant header; an absent header authorizes as anonymous.
func withAuthz(classifier *routing.Classifier, a authorizer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		rc := routing.RouteClassPublicAPI
		if classifier != nil {
			rc = classifier.Classify(path)
		}

		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		tenant, ok := currentTenant(r.Context())
		if !ok {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenant_missing", "tenant missing")
			return
		}

		role := strings.TrimSpace(strings.ToLower(r.Header.Get(requesterRoleHeader)))
		if role == "" {
			role = authz.RoleAnonymous
		}

		object, action, shouldCheck := authzRequirementForRoute(r.Method, path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}

		allowed, enforced, err := a.Authorize(authz.SubjectFromRole(role), authz.DomainFromTenantID(tenant), object, action)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if enforced && !allowed {
			routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func authzRequirementForRoute(method string, path string) (object string, action string, ok bool) {
	switch path {
	case "/v1/corrections":
		if method == http.MethodPost {
			return authz.ObjectLedgerCorrections, authz.ActionWrite, true
		}
		return "", "", false
	case "/v1/facts":
		if method == http.MethodGet {
			return authz.ObjectLedgerFacts, authz.ActionRead, true
		}
		return "", "", false
	case "/v1/history":
		if method == http.MethodGet {
			return authz.ObjectLedgerHistory, authz.ActionRead, true
		}
		return "", "", false
	case "/v1/enforcement/heartbeat":
		if method == http.MethodPost {
			return authz.ObjectEnforcementReports, authz.ActionWrite, true
		}
		return "", "", false
	case "/v1/enforcement/status", "/v1/enforcement/escalation":
		if method == http.MethodGet {
			return authz.ObjectEnforcementStatus, authz.ActionRead, true
		}
		return "", "", false
	default:
		return "", "", false
	}
}
