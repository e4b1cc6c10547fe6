// Package confirmation drives a proposed action through classification,
// confirmation and execution, recording every step in the proof ledger.
//
//	A  PROPOSED -> CLASSIFIED -> EXECUTED
//	B  PROPOSED -> CLASSIFIED -> AWAITING_CONFIRMATION -> CONFIRMED -> EXECUTED
//	C  PROPOSED -> CLASSIFIED -> HELD
//
// A human may decline an awaiting or held action. An executor error moves the
// action to FAILED. Awaiting actions never expire; callers own timeouts.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qontrek/civos/pkg/budget"
	"github.com/qontrek/civos/pkg/classification"
	"github.com/qontrek/civos/pkg/contracts"
	"github.com/qontrek/civos/pkg/events"
	"github.com/qontrek/civos/pkg/ledger"
	"github.com/qontrek/civos/pkg/observability"
	"github.com/qontrek/civos/pkg/vocabulary"
)

var (
	ErrNotFound             = errors.New("action not found")
	ErrInvalidProposal      = errors.New("invalid proposal")
	ErrConfirmationTooEarly = errors.New("confirmation delay has not elapsed")
	ErrMissingIdentity      = errors.New("a human identity is required")
)

// Executor performs an approved action.
type Executor interface {
	Execute(ctx context.Context, a Action) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, a Action) error

func (f ExecutorFunc) Execute(ctx context.Context, a Action) error { return f(ctx, a) }

// Proposal is an action the AI wants to take.
type Proposal struct {
	ActionType     string          `json:"action_type"`
	UserInput      string          `json:"user_input"`
	EstimatedSpend float64         `json:"estimated_spend"`
	Actor          contracts.Actor `json:"actor,omitempty"`
	// Message is AI-drafted text to be sent as part of the action. It is
	// checked against the vocabulary guard; violations are advisory.
	Message string         `json:"message,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Action is a snapshot of a proposal and where it stands.
type Action struct {
	ID                   string                         `json:"id"`
	ActionType           string                         `json:"action_type"`
	UserInput            string                         `json:"user_input"`
	EstimatedSpend       float64                        `json:"estimated_spend"`
	Actor                contracts.Actor                `json:"actor"`
	Message              string                         `json:"message,omitempty"`
	Context              map[string]any                 `json:"context,omitempty"`
	State                State                          `json:"state"`
	Classification       contracts.ClassificationResult `json:"classification"`
	Budget               *contracts.BudgetDecision      `json:"budget,omitempty"`
	VocabularyViolations []string                       `json:"vocabulary_violations,omitempty"`
	ProposedAt           time.Time                      `json:"proposed_at"`
	ConfirmableAt        time.Time                      `json:"confirmable_at,omitempty"`
	DecidedAt            time.Time                      `json:"decided_at,omitempty"`
	DecidedBy            string                         `json:"decided_by,omitempty"`
	DeclineReason        string                         `json:"decline_reason,omitempty"`
	Error                string                         `json:"error,omitempty"`
	ProofIDs             []string                       `json:"proof_ids"`
}

func (a Action) clone() Action {
	a.Context = contracts.CloneContext(a.Context)
	a.VocabularyViolations = append([]string(nil), a.VocabularyViolations...)
	a.ProofIDs = append([]string(nil), a.ProofIDs...)
	if a.Budget != nil {
		b := *a.Budget
		a.Budget = &b
	}
	return a
}

// outbox defers event delivery until the action lock is released, so
// handlers may call back into the Coordinator.
type outbox []func()

func (o *outbox) add(f func()) { *o = append(*o, f) }

func (o *outbox) flush() {
	for _, f := range *o {
		f()
	}
}

// record serialises operations on one action.
type record struct {
	mu     sync.Mutex
	action Action
}

// Coordinator is safe for concurrent use. Operations on the same action are
// serialised; different actions proceed independently.
type Coordinator struct {
	engine   *classification.Engine
	ledger   *ledger.Ledger
	monitor  *budget.Monitor
	executor Executor
	bus      *events.Bus
	guard    *vocabulary.Guard
	metrics  *observability.Metrics
	clock    func() time.Time
	newID    func() string
	logger   *slog.Logger

	mu      sync.RWMutex
	records map[string]*record
	order   []string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBudget consults the monitor on every proposal and records executed spend.
func WithBudget(m *budget.Monitor) Option {
	return func(c *Coordinator) { c.monitor = m }
}

func WithExecutor(e Executor) Option {
	return func(c *Coordinator) { c.executor = e }
}

func WithBus(b *events.Bus) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithVocabulary overrides the default guard.
func WithVocabulary(g *vocabulary.Guard) Option {
	return func(c *Coordinator) { c.guard = g }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithIDFunc(fn func() string) Option {
	return func(c *Coordinator) { c.newID = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator wires the engine and ledger. Without an executor approved
// actions succeed immediately.
func NewCoordinator(engine *classification.Engine, l *ledger.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:   engine,
		ledger:   l,
		executor: ExecutorFunc(func(context.Context, Action) error { return nil }),
		guard:    vocabulary.NewGuard(),
		clock:    time.Now,
		newID:    func() string { return "act_" + uuid.New().String() },
		logger:   slog.Default().With("component", "confirmation"),
		records:  make(map[string]*record),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Propose classifies p and acts on the result. Type A actions execute before
// Propose returns. The returned error covers governance failures; an executor
// failure is reported as state FAILED with Action.Error set.
func (c *Coordinator) Propose(ctx context.Context, p Proposal) (Action, error) {
	if strings.TrimSpace(p.ActionType) == "" && strings.TrimSpace(p.UserInput) == "" {
		return Action{}, fmt.Errorf("%w: action_type or user_input is required", ErrInvalidProposal)
	}
	if p.Actor == "" {
		p.Actor = contracts.ActorAI
	}
	if !p.Actor.Valid() {
		return Action{}, fmt.Errorf("%w: actor %q", ErrInvalidProposal, p.Actor)
	}

	now := c.clock()
	a := Action{
		ID:             c.newID(),
		ActionType:     p.ActionType,
		UserInput:      p.UserInput,
		EstimatedSpend: p.EstimatedSpend,
		Actor:          p.Actor,
		Message:        p.Message,
		Context:        contracts.CloneContext(p.Context),
		State:          StateProposed,
		ProposedAt:     now,
		ProofIDs:       make([]string, 0, 4),
	}

	if p.Message != "" {
		if res := c.guard.Check(p.Message); !res.Compliant {
			a.VocabularyViolations = res.Violations
			c.logger.WarnContext(ctx, "vocabulary violation in proposed message",
				"action_id", a.ID, "violations", res.Violations)
		}
	}

	cctx := classification.Context{ActionType: p.ActionType, UserInput: p.UserInput, EstimatedSpend: p.EstimatedSpend}
	var (
		result contracts.ClassificationResult
		err    error
	)
	if c.monitor != nil {
		decision := c.monitor.Check(p.EstimatedSpend)
		a.Budget = &decision
		result, err = c.engine.ClassifyWithCFO(cctx, decision)
	} else {
		result, err = c.engine.Classify(cctx)
	}
	if err != nil {
		return Action{}, fmt.Errorf("classify %s: %w", a.ID, err)
	}
	a.Classification = result.Freeze()

	proposedCtx := contracts.CloneContext(p.Context)
	if proposedCtx == nil {
		proposedCtx = make(map[string]any)
	}
	proposedCtx["action_id"] = a.ID
	proposedCtx["user_input"] = p.UserInput
	proposedCtx["estimated_spend"] = p.EstimatedSpend
	if len(a.VocabularyViolations) > 0 {
		proposedCtx["vocabulary_violations"] = append([]string(nil), a.VocabularyViolations...)
	}
	if err := c.prove(ctx, &a, contracts.ProofActionProposed, p.Actor, nil, proposedCtx); err != nil {
		return Action{}, err
	}

	// Registered once the proposal is on the ledger, so every proved action
	// id resolves through Get.
	rec := &record{action: a}
	var out outbox
	defer out.flush()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	c.mu.Lock()
	c.records[a.ID] = rec
	c.order = append(c.order, a.ID)
	c.mu.Unlock()

	classifiedCtx := map[string]any{"action_id": a.ID}
	if a.Budget != nil {
		classifiedCtx["budget_status"] = string(a.Budget.Status)
		classifiedCtx["spend_ratio"] = a.Budget.SpendRatio
	}
	if err := c.prove(ctx, &rec.action, contracts.ProofActionClassified, contracts.ActorSystem, &rec.action.Classification, classifiedCtx); err != nil {
		return rec.action.clone(), c.fail(ctx, &rec.action, err)
	}
	if err := c.move(&rec.action, StateClassified); err != nil {
		return rec.action.clone(), err
	}

	c.metrics.Classified(ctx, string(result.Type))
	if classification.EscalatedByBudget(result) {
		c.metrics.Escalated(ctx, string(result.Type))
	}
	c.logger.InfoContext(ctx, "action classified",
		"action_id", a.ID, "action_type", a.ActionType, "type", result.Type, "reason", result.Reason)

	if c.bus != nil {
		ev := c.event(rec.action)
		out.add(func() {
			c.bus.ActionProposed.Publish(ctx, events.ActionProposed{ActionEvent: ev})
			c.bus.ActionClassified.Publish(ctx, events.ActionClassified{ActionEvent: ev})
		})
	}

	switch result.Type {
	case contracts.TypeA:
		err = c.execute(ctx, rec, &out)
	case contracts.TypeB:
		rec.action.ConfirmableAt = now.Add(c.engine.ConfirmationDelay())
		err = c.move(&rec.action, StateAwaitingConfirmation)
	default:
		err = c.move(&rec.action, StateHeld)
	}
	return rec.action.clone(), err
}

// Confirm approves an awaiting Type B action and executes it. It fails with
// ErrConfirmationTooEarly until ConfirmableAt.
func (c *Coordinator) Confirm(ctx context.Context, id, confirmedBy string) (Action, error) {
	if strings.TrimSpace(confirmedBy) == "" {
		return Action{}, ErrMissingIdentity
	}
	rec, err := c.lookup(id)
	if err != nil {
		return Action{}, err
	}
	var out outbox
	defer out.flush()
	rec.mu.Lock()
	defer rec.mu.Unlock()

	a := &rec.action
	if !CanTransition(a.State, StateConfirmed) {
		return a.clone(), &TransitionError{ActionID: id, From: a.State, To: StateConfirmed}
	}
	now := c.clock()
	if now.Before(a.ConfirmableAt) {
		return a.clone(), fmt.Errorf("%w: %s remaining", ErrConfirmationTooEarly, a.ConfirmableAt.Sub(now))
	}

	if err := c.prove(ctx, a, contracts.ProofActionConfirmed, contracts.ActorHuman, &a.Classification,
		map[string]any{"action_id": id, "confirmed_by": confirmedBy}); err != nil {
		return a.clone(), err
	}
	if err := c.move(a, StateConfirmed); err != nil {
		return a.clone(), err
	}
	a.DecidedAt = now
	a.DecidedBy = confirmedBy
	c.metrics.Decided(ctx, "confirmed")
	if c.bus != nil {
		ev := events.ActionConfirmed{ActionEvent: c.event(*a), ConfirmedBy: confirmedBy}
		out.add(func() { c.bus.ActionConfirmed.Publish(ctx, ev) })
	}

	err = c.execute(ctx, rec, &out)
	return a.clone(), err
}

// Decline rejects an awaiting or held action.
func (c *Coordinator) Decline(ctx context.Context, id, declinedBy, reason string) (Action, error) {
	if strings.TrimSpace(declinedBy) == "" {
		return Action{}, ErrMissingIdentity
	}
	rec, err := c.lookup(id)
	if err != nil {
		return Action{}, err
	}
	var out outbox
	defer out.flush()
	rec.mu.Lock()
	defer rec.mu.Unlock()

	a := &rec.action
	if !CanTransition(a.State, StateDeclined) {
		return a.clone(), &TransitionError{ActionID: id, From: a.State, To: StateDeclined}
	}
	if err := c.prove(ctx, a, contracts.ProofActionDeclined, contracts.ActorHuman, &a.Classification,
		map[string]any{"action_id": id, "declined_by": declinedBy, "reason": reason}); err != nil {
		return a.clone(), err
	}
	if err := c.move(a, StateDeclined); err != nil {
		return a.clone(), err
	}
	a.DecidedAt = c.clock()
	a.DecidedBy = declinedBy
	a.DeclineReason = reason
	c.metrics.Decided(ctx, "declined")
	if c.bus != nil {
		ev := events.ActionDeclined{ActionEvent: c.event(*a), DeclinedBy: declinedBy, Reason: reason}
		out.add(func() { c.bus.ActionDeclined.Publish(ctx, ev) })
	}
	c.logger.InfoContext(ctx, "action declined", "action_id", id, "declined_by", declinedBy)
	return a.clone(), nil
}

// Get returns a snapshot of one action.
func (c *Coordinator) Get(id string) (Action, error) {
	rec, err := c.lookup(id)
	if err != nil {
		return Action{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.action.clone(), nil
}

// List returns actions in proposal order, optionally filtered by state.
func (c *Coordinator) List(state State) []Action {
	c.mu.RLock()
	recs := make([]*record, 0, len(c.order))
	for _, id := range c.order {
		recs = append(recs, c.records[id])
	}
	c.mu.RUnlock()

	out := make([]Action, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if state == "" || rec.action.State == state {
			out = append(out, rec.action.clone())
		}
		rec.mu.Unlock()
	}
	return out
}

// SetFrictionPhase changes the engine's friction phase and records who did it.
// The phase is reverted if the change cannot be recorded.
func (c *Coordinator) SetFrictionPhase(ctx context.Context, phase contracts.FrictionPhase, changedBy string) error {
	if strings.TrimSpace(changedBy) == "" {
		return ErrMissingIdentity
	}
	prev, err := c.engine.SetFrictionPhase(phase)
	if err != nil {
		return err
	}
	_, err = c.ledger.Append(ctx, contracts.ProofEntryInput{
		Type:    contracts.ProofFrictionChanged,
		Actor:   contracts.ActorHuman,
		Action:  "set_friction_phase",
		Context: map[string]any{"from": string(prev), "to": string(phase), "changed_by": changedBy},
	})
	if err != nil {
		reverted, rerr := c.engine.CompareAndSwapFrictionPhase(phase, prev)
		switch {
		case rerr != nil:
			c.logger.ErrorContext(ctx, "failed to revert friction phase", "error", rerr)
		case !reverted:
			c.logger.WarnContext(ctx, "friction phase changed concurrently; not reverted",
				"from", prev, "to", phase, "current", c.engine.FrictionPhase())
		}
		return fmt.Errorf("record friction change: %w", err)
	}
	c.metrics.EntryAppended(ctx, contracts.ProofFrictionChanged)
	if c.bus != nil {
		c.bus.FrictionPhaseChanged.Publish(ctx, events.FrictionPhaseChanged{
			From: prev, To: phase, ChangedBy: changedBy, At: c.clock(),
		})
	}
	c.logger.InfoContext(ctx, "friction phase changed", "from", prev, "to", phase, "changed_by", changedBy)
	return nil
}

// execute runs the executor for an approved action. rec.mu must be held.
func (c *Coordinator) execute(ctx context.Context, rec *record, out *outbox) error {
	a := &rec.action
	if err := c.executor.Execute(ctx, a.clone()); err != nil {
		a.Error = err.Error()
		c.logger.WarnContext(ctx, "action execution failed", "action_id", a.ID, "error", err)
		if perr := c.prove(ctx, a, contracts.ProofActionFailed, contracts.ActorSystem, &a.Classification,
			map[string]any{"action_id": a.ID, "error": err.Error()}); perr != nil {
			return perr
		}
		return c.move(a, StateFailed)
	}

	// The action has happened: its state and spend follow even if recording
	// it fails.
	if err := c.move(a, StateExecuted); err != nil {
		return err
	}
	var spendErr error
	if c.monitor != nil && a.EstimatedSpend > 0 {
		if err := c.monitor.RecordSpend(ctx, a.EstimatedSpend); err != nil {
			spendErr = fmt.Errorf("record spend for %s: %w", a.ID, err)
		} else {
			c.metrics.Spent(ctx, a.EstimatedSpend)
		}
	}
	proofErr := c.prove(ctx, a, contracts.ProofActionExecuted, contracts.ActorSystem, &a.Classification,
		map[string]any{"action_id": a.ID})
	if c.bus != nil {
		ev := events.ActionExecuted{ActionEvent: c.event(*a)}
		out.add(func() { c.bus.ActionExecuted.Publish(ctx, ev) })
	}
	return errors.Join(proofErr, spendErr)
}

// fail moves an action that could not be fully recorded to FAILED and tries
// to leave an action_failed entry behind. rec.mu must be held.
func (c *Coordinator) fail(ctx context.Context, a *Action, cause error) error {
	a.Error = cause.Error()
	if err := c.move(a, StateFailed); err != nil {
		return errors.Join(cause, err)
	}
	perr := c.prove(ctx, a, contracts.ProofActionFailed, contracts.ActorSystem, nil,
		map[string]any{"action_id": a.ID, "error": cause.Error()})
	return errors.Join(cause, perr)
}

func (c *Coordinator) prove(ctx context.Context, a *Action, typ string, actor contracts.Actor,
	cls *contracts.ClassificationResult, fields map[string]any) error {
	entry, err := c.ledger.Append(ctx, contracts.ProofEntryInput{
		Type:           typ,
		Actor:          actor,
		Action:         a.ActionType,
		Classification: cls,
		Context:        fields,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "proof append failed", "action_id", a.ID, "type", typ, "error", err)
		return fmt.Errorf("record %s for %s: %w", typ, a.ID, err)
	}
	a.ProofIDs = append(a.ProofIDs, entry.ID)
	c.metrics.EntryAppended(ctx, typ)
	return nil
}

func (c *Coordinator) move(a *Action, to State) error {
	if !CanTransition(a.State, to) {
		return &TransitionError{ActionID: a.ID, From: a.State, To: to}
	}
	a.State = to
	return nil
}

func (c *Coordinator) lookup(id string) (*record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

func (c *Coordinator) event(a Action) events.ActionEvent {
	return events.ActionEvent{
		ActionID:       a.ID,
		ActionType:     a.ActionType,
		Actor:          a.Actor,
		Classification: a.Classification,
		At:             c.clock(),
	}
}
