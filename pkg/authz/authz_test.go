package authz

import (
	"os"
	"path/filepath"
	"testing"
)

const testModel = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.dom == p.dom && r.obj == p.obj && r.act == p.act
`

func writeTestPolicy(t *testing.T, policyLine string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "model.conf")
	policy := filepath.Join(dir, "policy.csv")
	if err := os.WriteFile(model, []byte(testModel), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(policy, []byte(policyLine), 0o644); err != nil {
		t.Fatal(err)
	}
	return model, policy
}

func TestParseMode(t *testing.T) {
	t.Run("empty defaults to enforce", func(t *testing.T) {
		m, err := ParseMode("", false)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if m != ModeEnforce {
			t.Fatalf("mode=%q", m)
		}
	})

	t.Run("shadow", func(t *testing.T) {
		m, err := ParseMode("Shadow", false)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if m != ModeShadow {
			t.Fatalf("mode=%q", m)
		}
	})

	t.Run("disabled requires opt-in", func(t *testing.T) {
		if _, err := ParseMode("disabled", false); err == nil {
			t.Fatal("expected error")
		}
		m, err := ParseMode("disabled", true)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if m != ModeDisabled {
			t.Fatalf("mode=%q", m)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := ParseMode("nope", false); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestNewAuthorizer_AndAuthorize(t *testing.T) {
	model, policy := writeTestPolicy(t, "p, role:enforcement-agent, t1, ledger.corrections, write\n")

	a, err := NewAuthorizer(model, policy, ModeEnforce)
	if err != nil {
		t.Fatalf("err=%v", err)
	}

	allowed, enforced, err := a.Authorize("role:enforcement-agent", "t1", "ledger.corrections", "write")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !enforced || !allowed {
		t.Fatalf("allowed=%v enforced=%v", allowed, enforced)
	}

	allowed, enforced, err = a.Authorize("role:enforcement-agent", "t1", "ledger.corrections", "admin")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !enforced || allowed {
		t.Fatalf("allowed=%v enforced=%v", allowed, enforced)
	}

	aShadow, err := NewAuthorizer(model, policy, ModeShadow)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	allowed, enforced, err = aShadow.Authorize("role:enforcement-agent", "t1", "ledger.corrections", "admin")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if enforced || allowed {
		t.Fatalf("allowed=%v enforced=%v", allowed, enforced)
	}

	aDisabled, err := NewAuthorizer(model, policy, ModeDisabled)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	allowed, enforced, err = aDisabled.Authorize("role:enforcement-agent", "t1", "ledger.corrections", "admin")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if enforced || !allowed {
		t.Fatalf("allowed=%v enforced=%v", allowed, enforced)
	}
}

func TestNewAuthorizer_Error(t *testing.T) {
	dir := t.TempDir()
	invalidModel := filepath.Join(dir, "invalid.conf")
	if err := os.WriteFile(invalidModel, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAuthorizer(invalidModel, "nope-policy.csv", ModeEnforce); err == nil {
		t.Fatal("expected error")
	}

	model := filepath.Join(dir, "model.conf")
	if err := os.WriteFile(model, []byte(testModel), 0o644); err != nil {
		t.Fatal(err)
	}
	policyDir := filepath.Join(dir, "policy-dir")
	if err := os.MkdirAll(policyDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAuthorizer(model, policyDir, ModeEnforce); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewAuthorizer(model, filepath.Join(dir, "missing-policy.csv"), ModeEnforce); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubjectFromRole(t *testing.T) {
	if got := SubjectFromRole(""); got != "role:anonymous" {
		t.Fatalf("got=%q", got)
	}
	if got := SubjectFromRole("Enforcement-Agent"); got != "role:enforcement-agent" {
		t.Fatalf("got=%q", got)
	}
}

func TestDomainFromTenantID(t *testing.T) {
	if got := DomainFromTenantID(" ABC "); got != "abc" {
		t.Fatalf("got=%q", got)
	}
}

func TestAuthorize_UnknownMode(t *testing.T) {
	a := &Authorizer{mode: Mode("nope")}
	if _, _, err := a.Authorize("role:x", "d", "o", "a"); err == nil {
		t.Fatal("expected error")
	}
}
