// Package services implements heartbeat ingestion and the drift/escalation
// evaluator.
package services

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/stetops/stet/modules/enforcement/domain/types"
)

// EscalationRule is one operator-configured override. Eligibility and
// decision are CEL expressions over a ctx map of string summary values;
// eligibility must yield bool, decision must yield an escalation level
// name. Overrides may raise the built-in level, never lower it.
type EscalationRule struct {
	RuleID          string `yaml:"rule_id"`
	Priority        int    `yaml:"priority"`
	EligibilityExpr string `yaml:"eligibility_expr"`
	DecisionExpr    string `yaml:"decision_expr"`
	ReasonCode      string `yaml:"reason_code"`
}

type escalationRulesFile struct {
	Version int              `yaml:"version"`
	Rules   []EscalationRule `yaml:"rules"`
}

// ParseEscalationRulesYAML reads an override rule set. Version 1 only.
func ParseEscalationRulesYAML(b []byte) ([]EscalationRule, error) {
	var f escalationRulesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, errors.New("escalation rules: unsupported version")
	}
	for _, r := range f.Rules {
		if strings.TrimSpace(r.RuleID) == "" || strings.TrimSpace(r.EligibilityExpr) == "" || strings.TrimSpace(r.DecisionExpr) == "" {
			return nil, errors.New("escalation rules: rule_id, eligibility_expr and decision_expr required")
		}
	}
	rules := append([]EscalationRule(nil), f.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules, nil
}

// LoadEscalationRules reads rules from path. An empty path means no
// overrides, which is the common deployment.
func LoadEscalationRules(path string) ([]EscalationRule, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseEscalationRulesYAML(b)
}

var newEscalationCELEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("ctx", cel.MapType(cel.StringType, cel.StringType)))
}

var escalationProgramCache sync.Map

func compileEscalationProgram(expr string, outputType *cel.Type) (cel.Program, error) {
	key := outputType.String() + "\x00" + expr
	if cached, ok := escalationProgramCache.Load(key); ok {
		return cached.(cel.Program), nil
	}

	env, err := newEscalationCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != outputType {
		return nil, fmt.Errorf("escalation rules: expression %q must yield %s", expr, outputType)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	escalationProgramCache.Store(key, program)
	return program, nil
}

// evaluateOverrides returns the first eligible rule's decision, by
// priority. ok is false when no rule fires.
func evaluateOverrides(rules []EscalationRule, ctxMap map[string]string) (level types.EscalationLevel, reasonCode string, ok bool, err error) {
	activation := map[string]any{"ctx": ctxMap}
	for _, rule := range rules {
		eligibility, err := compileEscalationProgram(rule.EligibilityExpr, cel.BoolType)
		if err != nil {
			return "", "", false, err
		}
		out, _, err := eligibility.Eval(activation)
		if err != nil {
			return "", "", false, err
		}
		eligible, isBool := out.Value().(bool)
		if !isBool {
			return "", "", false, fmt.Errorf("escalation rules: rule %s eligibility yielded non-bool", rule.RuleID)
		}
		if !eligible {
			continue
		}

		decision, err := compileEscalationProgram(rule.DecisionExpr, cel.StringType)
		if err != nil {
			return "", "", false, err
		}
		out, _, err = decision.Eval(activation)
		if err != nil {
			return "", "", false, err
		}
		name, isString := out.Value().(string)
		if !isString {
			return "", "", false, fmt.Errorf("escalation rules: rule %s decision yielded non-string", rule.RuleID)
		}
		parsed, perr := parseEscalationLevel(name)
		if perr != nil {
			return "", "", false, fmt.Errorf("escalation rules: rule %s: %v", rule.RuleID, perr)
		}
		return parsed, rule.ReasonCode, true, nil
	}
	return "", "", false, nil
}

func parseEscalationLevel(raw string) (types.EscalationLevel, error) {
	switch types.EscalationLevel(strings.ToUpper(strings.TrimSpace(raw))) {
	case types.EscalationNone:
		return types.EscalationNone, nil
	case types.EscalationWarn:
		return types.EscalationWarn, nil
	case types.EscalationCritical:
		return types.EscalationCritical, nil
	default:
		return "", fmt.Errorf("unknown escalation level %q", raw)
	}
}

func escalationRank(l types.EscalationLevel) int {
	switch l {
	case types.EscalationCritical:
		return 2
	case types.EscalationWarn:
		return 1
	default:
		return 0
	}
}
