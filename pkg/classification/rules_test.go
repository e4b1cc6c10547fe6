package classification

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qontrek/civos/pkg/contracts"
)

const samplePack = `
version: 1.2.0
rules:
  - name: battery-install
    when: 'text.contains("battery") && spend > 200.0'
    escalate_to: C
    reason: battery installs need a site survey
  - name: paid-info
    when: 'tier == "A" && spend > 0.0'
    escalate_to: B
`

func TestParseRulePack(t *testing.T) {
	rules, err := ParseRulePack([]byte(samplePack))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "battery-install", rules[0].Name)
	assert.Equal(t, contracts.TypeC, rules[0].EscalateTo)
	assert.Equal(t, "escalated to B", rules[1].Reason)
}

func TestParseRulePackRejects(t *testing.T) {
	tests := map[string]string{
		"major version": "version: 2.0.0\nrules: []\n",
		"bad version":   "version: latest\nrules: []\n",
		"to A":          "version: 1.0.0\nrules:\n  - name: x\n    when: 'true'\n    escalate_to: A\n",
		"unknown tier":  "version: 1.0.0\nrules:\n  - name: x\n    when: 'true'\n    escalate_to: D\n",
		"non bool":      "version: 1.0.0\nrules:\n  - name: x\n    when: 'spend + 1.0'\n    escalate_to: B\n",
		"syntax":        "version: 1.0.0\nrules:\n  - name: x\n    when: 'spend >'\n    escalate_to: B\n",
		"no name":       "version: 1.0.0\nrules:\n  - when: 'true'\n    escalate_to: B\n",
		"duplicate":     "version: 1.0.0\nrules:\n  - name: x\n    when: 'true'\n    escalate_to: B\n  - name: x\n    when: 'true'\n    escalate_to: C\n",
		"bad yaml":      "version: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRulePack([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRulePack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePack), 0o600))
	rules, err := LoadRulePack(path)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = LoadRulePack(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRulesEscalate(t *testing.T) {
	rules, err := ParseRulePack([]byte(samplePack))
	require.NoError(t, err)
	e := newEngine(t, WithRules(rules...))

	got, err := e.Classify(Context{ActionType: "generate_quote", UserInput: "Generate quote with battery", EstimatedSpend: 500})
	require.NoError(t, err)
	assert.Equal(t, contracts.TypeC, got.Type)
	assert.Equal(t, ReasonConfirm+". Rule battery-install: battery installs need a site survey", got.Reason)
	assert.InDelta(t, ConfirmConfidence, got.Confidence, 1e-9)

	got, err = e.Classify(Context{ActionType: "answer", UserInput: "what is the tariff", EstimatedSpend: 20})
	require.NoError(t, err)
	assert.Equal(t, contracts.TypeB, got.Type)
	assert.Equal(t, ReasonInformational+". Rule paid-info: escalated to B", got.Reason)

	got, err = e.Classify(Context{ActionType: "answer", UserInput: "what is the tariff"})
	require.NoError(t, err)
	assert.Equal(t, contracts.TypeA, got.Type)
}

func TestRuleNeverLowers(t *testing.T) {
	r, err := CompileRule(RuleSpec{Name: "always", When: "true", EscalateTo: "B"})
	require.NoError(t, err)
	e := newEngine(t, WithRules(r))

	got, err := e.Classify(Context{ActionType: "pay", UserInput: "pay the deposit", EstimatedSpend: 10})
	require.NoError(t, err)
	assert.Equal(t, contracts.TypeC, got.Type)
	assert.Equal(t, ReasonHoldKeyword, got.Reason)
}

func TestRuleEvalErrorFailsClosed(t *testing.T) {
	r, err := CompileRule(RuleSpec{Name: "numeric", When: `int(user_input) > 5`, EscalateTo: "C"})
	require.NoError(t, err)
	e := newEngine(t, WithRules(r))

	got, err := e.Classify(Context{ActionType: "answer", UserInput: "what now"})
	require.NoError(t, err)
	assert.Equal(t, contracts.TypeC, got.Type)
}
