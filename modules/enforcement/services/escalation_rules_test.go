package services

import (
	"testing"
)

func TestParseEscalationRulesYAML(t *testing.T) {
	rules, err := ParseEscalationRulesYAML([]byte(`
version: 1
rules:
  - rule_id: second
    priority: 20
    eligibility_expr: 'true'
    decision_expr: '"WARN"'
    reason_code: SECOND
  - rule_id: first
    priority: 10
    eligibility_expr: 'int(ctx["missing"]) > 0'
    decision_expr: '"CRITICAL"'
    reason_code: FIRST
`))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules=%d", len(rules))
	}
	if rules[0].RuleID != "first" || rules[1].RuleID != "second" {
		t.Fatalf("priority order broken: %+v", rules)
	}
}

func TestParseEscalationRulesYAML_Rejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"wrong version", "version: 2\nrules: []\n"},
		{"missing rule id", `
version: 1
rules:
  - priority: 1
    eligibility_expr: 'true'
    decision_expr: '"WARN"'
`},
		{"missing decision", `
version: 1
rules:
  - rule_id: r
    eligibility_expr: 'true'
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseEscalationRulesYAML([]byte(tc.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEvaluateOverrides_FirstEligibleWins(t *testing.T) {
	rules := []EscalationRule{
		{RuleID: "a", Priority: 1, EligibilityExpr: `ctx["system_id"] == "other"`, DecisionExpr: `"CRITICAL"`, ReasonCode: "A"},
		{RuleID: "b", Priority: 2, EligibilityExpr: `true`, DecisionExpr: `"WARN"`, ReasonCode: "B"},
	}
	level, reason, fired, err := evaluateOverrides(rules, map[string]string{"system_id": "s-1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !fired || string(level) != "WARN" || reason != "B" {
		t.Fatalf("level=%s reason=%s fired=%v", level, reason, fired)
	}
}

func TestEvaluateOverrides_NoneEligible(t *testing.T) {
	rules := []EscalationRule{
		{RuleID: "a", Priority: 1, EligibilityExpr: `false`, DecisionExpr: `"WARN"`},
	}
	_, _, fired, err := evaluateOverrides(rules, map[string]string{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if fired {
		t.Fatal("no rule should fire")
	}
}

func TestCompileEscalationProgram_RejectsWrongOutputType(t *testing.T) {
	rules := []EscalationRule{
		{RuleID: "a", Priority: 1, EligibilityExpr: `"not a bool"`, DecisionExpr: `"WARN"`},
	}
	if _, _, _, err := evaluateOverrides(rules, map[string]string{}); err == nil {
		t.Fatal("expected compile error for non-bool eligibility")
	}
}
