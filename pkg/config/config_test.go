package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qontrek/civos/pkg/config"
	"github.com/qontrek/civos/pkg/contracts"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(nil, "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Ledger.Driver)
	assert.Equal(t, "memory", cfg.Budget.Store)
	assert.Equal(t, 10000.0, cfg.Budget.Monthly)
	assert.Equal(t, contracts.DefaultSpendThresholds(), cfg.SpendThresholds())
	assert.Equal(t, "phase_1", cfg.Classification.FrictionPhase)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "civos", cfg.Telemetry.ServiceName)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "civos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
budget:
  monthly: 5000
  tenant: solar-kl
classification:
  friction_phase: phase_2
ledger:
  driver: sqlite
  dsn: file:civos.db
telemetry:
  batch_timeout: 2s
`), 0o600))

	cfg, err := config.Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5000.0, cfg.Budget.Monthly)
	assert.Equal(t, "solar-kl", cfg.Budget.Tenant)
	assert.Equal(t, "phase_2", cfg.Classification.FrictionPhase)
	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, 2*time.Second, cfg.Telemetry.BatchTimeout)
	assert.Equal(t, 0.95, cfg.Budget.GreenRatio)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CIVOS_SERVER_ADDR", ":7070")
	t.Setenv("CIVOS_BUDGET_MONTHLY", "2500")
	t.Setenv("CIVOS_LOG_FORMAT", "json")
	t.Setenv("CIVOS_CLASSIFICATION_HOLD_THRESHOLD", "2000")

	cfg, err := config.Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 2500.0, cfg.Budget.Monthly)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 2000.0, cfg.Classification.HoldThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(nil, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]map[string]string{
		"bad level":        {"CIVOS_LOG_LEVEL": "loud"},
		"bad format":       {"CIVOS_LOG_FORMAT": "xml"},
		"zero budget":      {"CIVOS_BUDGET_MONTHLY": "0"},
		"ratios":           {"CIVOS_BUDGET_GREEN_RATIO": "1.2"},
		"store":            {"CIVOS_BUDGET_STORE": "etcd"},
		"postgres dsn":     {"CIVOS_BUDGET_STORE": "postgres"},
		"thresholds":       {"CIVOS_CLASSIFICATION_CONFIRM_THRESHOLD": "5000"},
		"phase":            {"CIVOS_CLASSIFICATION_FRICTION_PHASE": "phase_7"},
		"ledger driver":    {"CIVOS_LEDGER_DRIVER": "mongo"},
		"ledger dsn":       {"CIVOS_LEDGER_DRIVER": "sqlite"},
		"short jwt secret": {"CIVOS_AUTH_ENABLED": "true", "CIVOS_AUTH_JWT_SECRET": "short"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := config.Load(nil, "")
			assert.Error(t, err)
		})
	}
}
