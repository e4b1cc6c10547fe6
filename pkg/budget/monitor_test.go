package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qontrek/civos/pkg/contracts"
)

func newMonitor(t *testing.T, budget float64, opts ...Option) *Monitor {
	t.Helper()
	m, err := NewMonitor(budget, opts...)
	require.NoError(t, err)
	return m
}

func TestNewMonitorRejectsNonPositiveBudget(t *testing.T) {
	for _, b := range []float64{0, -1} {
		_, err := NewMonitor(b)
		assert.ErrorIs(t, err, ErrInvalidBudget)
	}
}

func TestNewMonitorRejectsInvalidThresholds(t *testing.T) {
	_, err := NewMonitor(1000, WithThresholds(Thresholds{AutoSpendLimit: 100, GreenRatio: 1.2, YellowRatio: 1.0}))
	assert.ErrorIs(t, err, ErrInvalidThresholds)
}

func TestCheckRatioBoundaries(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		spent  float64
		status contracts.BudgetStatus
		ratio  float64
	}{
		{"exactly green bound", 9500, contracts.BudgetGreen, 0.95},
		{"just above green", 9501, contracts.BudgetYellow, 0.9501},
		{"exactly yellow bound", 10500, contracts.BudgetYellow, 1.05},
		{"just above yellow", 10501, contracts.BudgetRed, 1.0501},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMonitor(t, 10000)
			require.NoError(t, m.RecordSpend(ctx, tt.spent))
			d := m.Check(0)
			assert.Equal(t, tt.status, d.Status)
			assert.InDelta(t, tt.ratio, d.SpendRatio, 1e-12)
		})
	}
}

func TestCheckSuggestedType(t *testing.T) {
	m := newMonitor(t, 10000)

	assert.Equal(t, contracts.TypeA, m.Check(100).SuggestedType)
	assert.Equal(t, contracts.TypeB, m.Check(100.01).SuggestedType)
	assert.Equal(t, contracts.TypeB, m.Check(10000).SuggestedType)
	assert.Equal(t, contracts.BudgetYellow, m.Check(10000).Status)
	assert.Equal(t, contracts.TypeC, m.Check(20000).SuggestedType)
}

func TestCheckDoesNotMutate(t *testing.T) {
	m := newMonitor(t, 1000)
	_ = m.Check(900)
	_ = m.Check(900)
	assert.Equal(t, 0.0, m.Summary().CurrentSpend)
}

func TestNegativeSpendIsACorrection(t *testing.T) {
	m := newMonitor(t, 1000)
	require.NoError(t, m.RecordSpend(context.Background(), -250))

	d := m.Check(0)
	assert.Equal(t, contracts.BudgetGreen, d.Status)
	assert.Equal(t, 0.0, d.SpendRatio)
	assert.Equal(t, contracts.TypeA, d.SuggestedType)
	assert.Equal(t, 1250.0, m.Summary().Remaining)
}

func TestSummary(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) }
	m := newMonitor(t, 10000, WithTenant("solar-kl"), WithClock(clock))
	require.NoError(t, m.RecordSpend(context.Background(), 9600))

	s := m.Summary()
	assert.Equal(t, "solar-kl", s.TenantID)
	assert.Equal(t, "2026-10", s.Period)
	assert.Equal(t, 10000.0, s.MonthlyBudget)
	assert.Equal(t, 9600.0, s.CurrentSpend)
	assert.Equal(t, 400.0, s.Remaining)
	assert.Equal(t, contracts.BudgetYellow, s.Status)
}

func TestConcurrentRecordSpendLosesNothing(t *testing.T) {
	m := newMonitor(t, 1_000_000)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.RecordSpend(context.Background(), 5))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000.0, m.Summary().CurrentSpend)
}

type brokenStore struct{ err error }

func (b brokenStore) Load(context.Context, string, string) (float64, error) { return 0, b.err }
func (b brokenStore) AddSpend(context.Context, string, string, float64) (float64, error) {
	return 0, b.err
}

func TestStoreErrorsAreSurfaced(t *testing.T) {
	boom := errors.New("store down")
	m := newMonitor(t, 1000, WithStore(brokenStore{err: boom}))

	err := m.RecordSpend(context.Background(), 10)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0.0, m.Summary().CurrentSpend)
	assert.ErrorIs(t, m.Restore(context.Background()), boom)
}

func TestStoreIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := func() time.Time { return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) }

	a := newMonitor(t, 1000, WithStore(store), WithTenant("t1"), WithClock(clock))
	b := newMonitor(t, 1000, WithStore(store), WithTenant("t1"), WithClock(clock))

	require.NoError(t, a.RecordSpend(ctx, 300))
	require.NoError(t, b.RecordSpend(ctx, 200))
	assert.Equal(t, 500.0, b.Summary().CurrentSpend)

	fresh := newMonitor(t, 1000, WithStore(store), WithTenant("t1"), WithClock(clock))
	require.NoError(t, fresh.Restore(ctx))
	assert.Equal(t, 500.0, fresh.Summary().CurrentSpend)

	nextMonth := newMonitor(t, 1000, WithStore(store), WithTenant("t1"),
		WithClock(func() time.Time { return time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC) }))
	require.NoError(t, nextMonth.Restore(ctx))
	assert.Equal(t, 0.0, nextMonth.Summary().CurrentSpend)
}

func TestPeriodKeyUsesUTC(t *testing.T) {
	loc := time.FixedZone("MYT", 8*3600)
	assert.Equal(t, "2026-09", PeriodKey(time.Date(2026, 10, 1, 7, 0, 0, 0, loc)))
}
