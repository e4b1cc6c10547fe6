// Package classification is the CIVOS classification engine. It assigns a
// risk tier to a proposed action:
//
//	A  execute immediately
//	B  confirm after a visible delay
//	C  hold for a human decision
//
// The tier comes from a fixed decision table (C, then B, then A, else B),
// optionally escalated by CEL rules and by the budget monitor. Escalation
// never lowers a tier.
package classification

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/qontrek/civos/pkg/contracts"
)

var (
	// ErrNegativeSpend is returned when EstimatedSpend is negative or NaN.
	ErrNegativeSpend = errors.New("estimated spend must be a non-negative number")
	// ErrInvalidDecision is returned for a budget decision without a valid suggested type.
	ErrInvalidDecision = errors.New("budget decision has no valid suggested type")
	// ErrInvalidPhase is returned by SetFrictionPhase for unknown phases.
	ErrInvalidPhase = errors.New("invalid friction phase")
)

// Budget override suffixes appended to the base reason.
const (
	CFOBudgetExceeded = ". CFO override: budget exceeded"
	CFONearLimit      = ". CFO override: near budget limit"
)

// InvariantError reports an escalation that would have lowered the tier.
type InvariantError struct {
	Base   contracts.ClassificationType
	Result contracts.ClassificationType
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("escalation invariant violated: %s downgraded to %s", e.Base, e.Result)
}

// Context describes a proposed action.
type Context struct {
	ActionType     string  `json:"action_type"`
	UserInput      string  `json:"user_input"`
	EstimatedSpend float64 `json:"estimated_spend"`
}

// Engine is safe for concurrent use. Classification reads no mutable state;
// the friction phase is guarded by its own lock.
type Engine struct {
	thresholds contracts.SpendThresholds
	rules      []*Rule
	clock      func() time.Time
	logger     *slog.Logger

	mu    sync.RWMutex
	phase contracts.FrictionPhase
}

// Option configures an Engine.
type Option func(*Engine)

// WithSpendThresholds overrides the 100 / 1000 spend limits.
func WithSpendThresholds(t contracts.SpendThresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

// WithRules adds escalation rules evaluated after the decision table.
func WithRules(rules ...*Rule) Option {
	return func(e *Engine) { e.rules = append(e.rules, rules...) }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithFrictionPhase sets the initial phase.
func WithFrictionPhase(p contracts.FrictionPhase) Option {
	return func(e *Engine) { e.phase = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine in phase_1 with the default thresholds.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		thresholds: contracts.DefaultSpendThresholds(),
		clock:      time.Now,
		logger:     slog.Default().With("component", "classification"),
		phase:      contracts.FrictionPhase1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.thresholds.Validate(); err != nil {
		return nil, err
	}
	if !e.phase.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPhase, e.phase)
	}
	return e, nil
}

// Classify runs the decision table and any escalation rules.
// Identical inputs always yield the same type, reason and confidence.
func (e *Engine) Classify(c Context) (contracts.ClassificationResult, error) {
	if c.EstimatedSpend < 0 || math.IsNaN(c.EstimatedSpend) {
		return contracts.ClassificationResult{}, fmt.Errorf("%w: got %v", ErrNegativeSpend, c.EstimatedSpend)
	}

	text := strings.ToLower(c.ActionType + " " + c.UserInput)
	result := contracts.ClassificationResult{
		Type:       contracts.TypeB,
		Confidence: DefaultConfidence,
		Reason:     ReasonDefault,
		Timestamp:  e.clock(),
	}
	for _, d := range decisionTable {
		if reason, ok := d.match(text, c.EstimatedSpend, e.thresholds); ok {
			result.Type = d.tier
			result.Confidence = d.confidence
			result.Reason = reason
			break
		}
	}

	for _, r := range e.rules {
		if result.Type == contracts.TypeC {
			break
		}
		matched, err := r.Eval(c, text, result.Type)
		if err != nil {
			// Fail closed: a broken rule escalates as if it matched.
			e.logger.Warn("escalation rule failed, escalating", "rule", r.Name, "error", err)
			matched = true
		}
		if matched && r.EscalateTo.Rank() > result.Type.Rank() {
			result.Type = r.EscalateTo
			result.Reason = fmt.Sprintf("%s. Rule %s: %s", result.Reason, r.Name, r.Reason)
		}
	}
	return result, nil
}

// ClassifyWithCFO classifies and then applies the budget monitor's
// suggestion, which can only raise the tier.
func (e *Engine) ClassifyWithCFO(c Context, budget contracts.BudgetDecision) (contracts.ClassificationResult, error) {
	if !budget.SuggestedType.Valid() {
		return contracts.ClassificationResult{}, fmt.Errorf("%w: %q", ErrInvalidDecision, budget.SuggestedType)
	}
	base, err := e.Classify(c)
	if err != nil {
		return contracts.ClassificationResult{}, err
	}

	result := base
	switch {
	case budget.SuggestedType == contracts.TypeC && base.Type != contracts.TypeC:
		result.Type = contracts.TypeC
		result.Reason = base.Reason + CFOBudgetExceeded
	case budget.SuggestedType == contracts.TypeB && base.Type == contracts.TypeA:
		result.Type = contracts.TypeB
		result.Reason = base.Reason + CFONearLimit
	}

	if result.Type.Rank() < base.Type.Rank() {
		return contracts.ClassificationResult{}, &InvariantError{Base: base.Type, Result: result.Type}
	}
	if result.Type != base.Type {
		e.logger.Info("budget escalation", "from", base.Type, "to", result.Type,
			"budget_status", budget.Status, "spend_ratio", budget.SpendRatio)
	}
	return result, nil
}

// SetFrictionPhase changes the phase and returns the previous one.
func (e *Engine) SetFrictionPhase(p contracts.FrictionPhase) (contracts.FrictionPhase, error) {
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhase, p)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.phase
	e.phase = p
	return prev, nil
}

// CompareAndSwapFrictionPhase sets the phase to next only while it is still
// old, and reports whether it did.
func (e *Engine) CompareAndSwapFrictionPhase(old, next contracts.FrictionPhase) (bool, error) {
	if !next.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidPhase, next)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != old {
		return false, nil
	}
	e.phase = next
	return true, nil
}

// FrictionPhase returns the current phase.
func (e *Engine) FrictionPhase() contracts.FrictionPhase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// ConfirmationDelay is the minimum wait before a Type B action may be
// confirmed: 1s, 2s or 3s for phase_1, phase_2 and phase_3.
func (e *Engine) ConfirmationDelay() time.Duration {
	return e.FrictionPhase().Delay()
}

// Thresholds returns the spend thresholds in use.
func (e *Engine) Thresholds() contracts.SpendThresholds {
	return e.thresholds
}

// EscalatedByBudget reports whether r carries a budget override.
func EscalatedByBudget(r contracts.ClassificationResult) bool {
	return strings.HasSuffix(r.Reason, CFOBudgetExceeded) || strings.HasSuffix(r.Reason, CFONearLimit)
}
