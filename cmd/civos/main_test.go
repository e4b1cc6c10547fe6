package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qontrek/civos/pkg/config"
	"github.com/qontrek/civos/pkg/confirmation"
	"github.com/qontrek/civos/pkg/contracts"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "civos dev\n", out)
}

func TestClassifyCommand(t *testing.T) {
	out, err := run(t, "classify", "--action", "approve_install", "--spend", "1500")
	require.NoError(t, err)

	var res struct {
		Classification contracts.ClassificationResult `json:"classification"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, contracts.TypeC, res.Classification.Type)
	assert.Equal(t, "High value: MYR 1,500 exceeds threshold", res.Classification.Reason)
}

func TestClassifyCommandWithBudget(t *testing.T) {
	t.Setenv("CIVOS_BUDGET_MONTHLY", "100")
	out, err := run(t, "classify", "--action", "answer", "--input", "what is my bill", "--spend", "0", "--budget")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "GREEN"`)

	out, err = run(t, "classify", "--action", "answer", "--input", "what is my bill", "--spend", "99", "--budget")
	require.NoError(t, err)
	assert.Contains(t, out, "CFO override: near budget limit")
}

func TestClassifyCommandRequiresActionOrInput(t *testing.T) {
	_, err := run(t, "classify")
	assert.Error(t, err)

	out, err := run(t, "classify", "--input", "What is solar?")
	require.NoError(t, err)
	var res struct {
		Classification contracts.ClassificationResult `json:"classification"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, contracts.TypeA, res.Classification.Type)
}

func TestInvalidConfigFails(t *testing.T) {
	t.Setenv("CIVOS_LEDGER_DRIVER", "mongo")
	_, err := run(t, "version")
	assert.Error(t, err)
}

func TestLedgerVerifyRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("CIVOS_LEDGER_DRIVER", "sqlite")
	t.Setenv("CIVOS_LEDGER_DSN", dsn)

	cfg, err := config.Load(nil, "")
	require.NoError(t, err)
	ctx := context.Background()
	sys, err := buildSubsystems(ctx, cfg)
	require.NoError(t, err)
	_, err = sys.coordinator.Propose(ctx, confirmation.Proposal{ActionType: "answer", UserInput: "what is my bill"})
	require.NoError(t, err)
	_, err = sys.coordinator.Propose(ctx, confirmation.Proposal{ActionType: "quote", UserInput: "quote please", EstimatedSpend: 200})
	require.NoError(t, err)
	head := sys.ledger.Head()
	require.NoError(t, sys.Close(ctx))

	out, err := run(t, "ledger", "verify")
	require.NoError(t, err)
	assert.Equal(t, "ledger ok: 5 entries, head "+head+"\n", out)

	out, err = run(t, "ledger", "export")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 5)

	// A restarted process continues the chain.
	sys, err = buildSubsystems(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, sys.ledger.Len())
	assert.Equal(t, head, sys.ledger.Head())
	require.NoError(t, sys.Close(ctx))
}

func TestLedgerVerifyNeedsPersistentDriver(t *testing.T) {
	_, err := run(t, "ledger", "verify")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	_, err := run(t, "token", "--subject", "ops-1")
	assert.Error(t, err, "no secret configured")

	t.Setenv("CIVOS_AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	out, err := run(t, "token", "--subject", "ops-1", "--role", "operator,admin")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."))
}
