package classification

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/qontrek/civos/pkg/contracts"
)

// SupportedRulePackVersions is the semver constraint a rule pack must satisfy.
const SupportedRulePackVersions = "^1"

// ErrInvalidRule is returned for rules that fail to compile or cannot escalate.
var ErrInvalidRule = errors.New("invalid escalation rule")

// Rule is a compiled CEL escalation rule. When its expression is true the
// classification is raised to EscalateTo; a rule never lowers the tier.
//
// Expressions see these variables:
//
//	action_type  string
//	user_input   string
//	text         string  lowercased "<action_type> <user_input>"
//	spend        double
//	tier         string  current tier ("A", "B" or "C")
type Rule struct {
	Name       string
	When       string
	EscalateTo contracts.ClassificationType
	Reason     string

	prg cel.Program
}

// RuleSpec is the YAML form of a rule.
type RuleSpec struct {
	Name       string `yaml:"name"`
	When       string `yaml:"when"`
	EscalateTo string `yaml:"escalate_to"`
	Reason     string `yaml:"reason"`
}

// RulePack is a versioned set of rules.
type RulePack struct {
	Version string     `yaml:"version"`
	Rules   []RuleSpec `yaml:"rules"`
}

func ruleEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("action_type", cel.StringType),
		cel.Variable("user_input", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("spend", cel.DoubleType),
		cel.Variable("tier", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CompileRule compiles one rule. Only B and C are valid escalation targets.
func CompileRule(spec RuleSpec) (*Rule, error) {
	env, err := ruleEnv()
	if err != nil {
		return nil, err
	}
	return compileRule(env, spec)
}

func compileRule(env *cel.Env, spec RuleSpec) (*Rule, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	target, err := contracts.ParseClassificationType(spec.EscalateTo)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, name, err)
	}
	if target == contracts.TypeA {
		return nil, fmt.Errorf("%w: rule %s: cannot escalate to A", ErrInvalidRule, name)
	}

	ast, issues := env.Compile(spec.When)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %s: compile: %v", ErrInvalidRule, name, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: rule %s: expression must be bool, got %s", ErrInvalidRule, name, ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: program: %v", ErrInvalidRule, name, err)
	}

	reason := spec.Reason
	if reason == "" {
		reason = "escalated to " + string(target)
	}
	return &Rule{Name: name, When: spec.When, EscalateTo: target, Reason: reason, prg: prg}, nil
}

// Eval reports whether the rule matches.
func (r *Rule) Eval(c Context, text string, tier contracts.ClassificationType) (bool, error) {
	out, _, err := r.prg.Eval(map[string]any{
		"action_type": c.ActionType,
		"user_input":  c.UserInput,
		"text":        text,
		"spend":       c.EstimatedSpend,
		"tier":        string(tier),
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

// ParseRulePack decodes and compiles a YAML rule pack.
func ParseRulePack(data []byte) ([]*Rule, error) {
	var pack RulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}

	v, err := semver.NewVersion(pack.Version)
	if err != nil {
		return nil, fmt.Errorf("rule pack version %q: %w", pack.Version, err)
	}
	constraint, err := semver.NewConstraint(SupportedRulePackVersions)
	if err != nil {
		return nil, err
	}
	if !constraint.Check(v) {
		return nil, fmt.Errorf("rule pack version %s does not satisfy %s", v, SupportedRulePackVersions)
	}

	env, err := ruleEnv()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(pack.Rules))
	rules := make([]*Rule, 0, len(pack.Rules))
	for _, spec := range pack.Rules {
		r, err := compileRule(env, spec)
		if err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: duplicate rule name %s", ErrInvalidRule, r.Name)
		}
		seen[r.Name] = true
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadRulePack reads a rule pack from disk.
func LoadRulePack(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	return ParseRulePack(data)
}
