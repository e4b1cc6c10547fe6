// Package budget is the CIVOS budget monitor ("CFO"). It tracks spend against
// a monthly budget and turns the projected spend ratio into a traffic-light
// status plus a suggested classification that may only escalate.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qontrek/civos/pkg/contracts"
)

var (
	// ErrInvalidBudget is returned for a non-positive monthly budget.
	ErrInvalidBudget = errors.New("monthly budget must be positive")
	// ErrInvalidThresholds is returned for inconsistent thresholds.
	ErrInvalidThresholds = errors.New("invalid budget thresholds")
)

// Thresholds are the named, overridable cut-offs used by Check.
type Thresholds struct {
	// AutoSpendLimit is the largest single spend still suggested as Type A.
	AutoSpendLimit float64 `json:"auto_spend_limit" mapstructure:"auto_spend_limit"`
	// GreenRatio is the inclusive upper bound of the GREEN band.
	GreenRatio float64 `json:"green_ratio" mapstructure:"green_ratio"`
	// YellowRatio is the inclusive upper bound of the YELLOW band.
	YellowRatio float64 `json:"yellow_ratio" mapstructure:"yellow_ratio"`
}

// DefaultThresholds returns 100 / 0.95 / 1.05.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoSpendLimit: 100, GreenRatio: 0.95, YellowRatio: 1.05}
}

// Validate checks the thresholds are positive and ordered.
func (t Thresholds) Validate() error {
	if t.AutoSpendLimit <= 0 || t.GreenRatio <= 0 || t.YellowRatio <= 0 {
		return fmt.Errorf("%w: values must be positive", ErrInvalidThresholds)
	}
	if t.GreenRatio > t.YellowRatio {
		return fmt.Errorf("%w: green ratio %v above yellow ratio %v", ErrInvalidThresholds, t.GreenRatio, t.YellowRatio)
	}
	return nil
}

// Summary is a read-only snapshot for dashboards.
type Summary struct {
	TenantID      string                 `json:"tenant_id"`
	Period        string                 `json:"period"`
	MonthlyBudget float64                `json:"monthly_budget"`
	CurrentSpend  float64                `json:"current_spend"`
	Remaining     float64                `json:"remaining"`
	Status        contracts.BudgetStatus `json:"status"`
}

// Monitor owns the spend state of one tenant for the current period.
// currentSpend is only changed by RecordSpend and Restore.
type Monitor struct {
	mu            sync.RWMutex
	tenantID      string
	monthlyBudget float64
	currentSpend  float64
	thresholds    Thresholds

	store  Store
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithThresholds overrides the default thresholds.
func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// WithStore makes the store authoritative for recorded spend.
func WithStore(s Store) Option {
	return func(m *Monitor) { m.store = s }
}

// WithTenant sets the tenant the monitor tracks. Defaults to "default".
func WithTenant(id string) Option {
	return func(m *Monitor) { m.tenantID = id }
}

// WithClock overrides the clock used to derive the period key.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) { m.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a monitor. It fails fast on a non-positive budget or
// invalid thresholds and never substitutes defaults for bad input.
func NewMonitor(monthlyBudget float64, opts ...Option) (*Monitor, error) {
	if !(monthlyBudget > 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidBudget, monthlyBudget)
	}
	m := &Monitor{
		tenantID:      "default",
		monthlyBudget: monthlyBudget,
		thresholds:    DefaultThresholds(),
		clock:         time.Now,
		logger:        slog.Default().With("component", "budget"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.thresholds.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Check evaluates a hypothetical additional spend. It does not change state.
func (m *Monitor) Check(amount float64) contracts.BudgetDecision {
	m.mu.RLock()
	current := m.currentSpend
	m.mu.RUnlock()
	return m.decide(current, amount)
}

func (m *Monitor) decide(current, amount float64) contracts.BudgetDecision {
	ratio := (current + amount) / m.monthlyBudget
	if ratio < 0 {
		// Refunds and corrections can push spend below zero.
		ratio = 0
	}

	switch {
	case ratio <= m.thresholds.GreenRatio:
		suggested := contracts.TypeA
		if amount > m.thresholds.AutoSpendLimit {
			suggested = contracts.TypeB
		}
		return contracts.BudgetDecision{Status: contracts.BudgetGreen, SpendRatio: ratio, SuggestedType: suggested}
	case ratio <= m.thresholds.YellowRatio:
		return contracts.BudgetDecision{Status: contracts.BudgetYellow, SpendRatio: ratio, SuggestedType: contracts.TypeB}
	default:
		return contracts.BudgetDecision{Status: contracts.BudgetRed, SpendRatio: ratio, SuggestedType: contracts.TypeC}
	}
}

// RecordSpend adds amount to the current spend. Negative amounts record a
// refund or correction. Call it only after the spending action executed.
//
// With a store configured, the store's atomic add is authoritative; on error
// the in-memory state is left unchanged and the error is returned.
func (m *Monitor) RecordSpend(ctx context.Context, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store != nil {
		total, err := m.store.AddSpend(ctx, m.tenantID, m.period(), amount)
		if err != nil {
			return fmt.Errorf("record spend for tenant %s: %w", m.tenantID, err)
		}
		m.currentSpend = total
	} else {
		m.currentSpend += amount
	}

	m.logger.InfoContext(ctx, "spend recorded",
		"tenant", m.tenantID, "amount", amount, "current_spend", m.currentSpend)
	return nil
}

// Restore loads the current period's spend from the store.
func (m *Monitor) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	spend, err := m.store.Load(ctx, m.tenantID, m.period())
	if err != nil {
		return fmt.Errorf("restore spend for tenant %s: %w", m.tenantID, err)
	}
	m.currentSpend = spend
	return nil
}

// Summary returns the current budget snapshot.
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	current := m.currentSpend
	m.mu.RUnlock()

	return Summary{
		TenantID:      m.tenantID,
		Period:        m.period(),
		MonthlyBudget: m.monthlyBudget,
		CurrentSpend:  current,
		Remaining:     m.monthlyBudget - current,
		Status:        m.decide(current, 0).Status,
	}
}

// Thresholds returns the thresholds in use.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

func (m *Monitor) period() string {
	return PeriodKey(m.clock())
}

// PeriodKey returns the YYYY-MM budget period of t in UTC.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
