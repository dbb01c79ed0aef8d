// Package authz gates API routes with a casbin policy. The in-correction
// read permissions are evaluated separately by pkg/access; this layer only
// decides whether a caller role may reach an endpoint at all.
package authz

import (
	"errors"
	"strings"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

type Mode string

const (
	// ModeEnforce denies requests the policy rejects.
	ModeEnforce Mode = "enforce"
	// ModeShadow evaluates the policy but never blocks; decisions are
	// surfaced to the caller of Authorize for logging only.
	ModeShadow Mode = "shadow"
	// ModeDisabled skips evaluation entirely. Deployments must opt in.
	ModeDisabled Mode = "disabled"
)

// ParseMode validates a configured mode string. Empty selects enforce.
// Disabled requires the caller to pass allowDisabled, so it cannot be
// reached through a configuration typo.
func ParseMode(raw string, allowDisabled bool) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow:
		return Mode(raw), nil
	case ModeDisabled:
		if !allowDisabled {
			return "", errors.New("authz: mode disabled requires explicit unsafe opt-in")
		}
		return ModeDisabled, nil
	default:
		return "", errors.New("authz: invalid mode (expected enforce|shadow|disabled)")
	}
}

type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
}

func NewAuthorizer(modelPath string, policyPath string, mode Mode) (*Authorizer, error) {
	enforcer, err := casbin.NewEnforcer(modelPath)
	if err != nil {
		return nil, err
	}
	enforcer.SetAdapter(fileadapter.NewAdapter(policyPath))
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

// SubjectFromRole maps a caller role slug to a casbin subject.
func SubjectFromRole(roleSlug string) string {
	roleSlug = strings.TrimSpace(strings.ToLower(roleSlug))
	if roleSlug == "" {
		roleSlug = RoleAnonymous
	}
	return "role:" + roleSlug
}

// DomainFromTenantID maps a tenant id to a casbin domain.
func DomainFromTenantID(tenantID string) string {
	return strings.ToLower(strings.TrimSpace(tenantID))
}

// Authorize evaluates (subject, domain, object, action). enforced reports
// whether a deny decision is binding under the current mode.
func (a *Authorizer) Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error) {
	switch a.mode {
	case ModeDisabled:
		return true, false, nil
	case ModeShadow:
		ok, err := a.enforcer.Enforce(subject, domain, object, action)
		if err != nil {
			return false, false, err
		}
		return ok, false, nil
	case ModeEnforce:
		ok, err := a.enforcer.Enforce(subject, domain, object, action)
		if err != nil {
			return false, true, err
		}
		return ok, true, nil
	default:
		return false, false, errors.New("authz: unknown mode")
	}
}
