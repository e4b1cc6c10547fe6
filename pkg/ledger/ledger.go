// Package ledger is the CIVOS Proof Ledger: an append-only, hash-chained log
// of what AI, human and system actors did.
//
//   - Entries are immutable once appended; List returns deep copies.
//   - Every entry carries the content hash of its predecessor.
//   - A configured Sink is written before the entry is committed in memory,
//     and its failure is returned to the caller.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qontrek/civos/pkg/contracts"
	"github.com/qontrek/civos/pkg/events"
)

// GenesisHash is the PrevHash of the first entry.
const GenesisHash = "genesis"

var (
	// ErrInvalidEntry is returned for entries missing a type or a valid actor.
	ErrInvalidEntry = errors.New("invalid proof entry")
	// ErrDuplicateID is returned when a caller-supplied id is already present.
	ErrDuplicateID = errors.New("duplicate proof entry id")
	// ErrNotFound is returned by Get for unknown ids.
	ErrNotFound = errors.New("proof entry not found")
	// ErrNotEmpty is returned when restoring into a ledger that already has entries.
	ErrNotEmpty = errors.New("ledger is not empty")
)

// Sink durably records entries. Write must return an error rather than drop data.
type Sink interface {
	Write(ctx context.Context, entry contracts.ProofEntry) error
}

// Source yields previously persisted entries in sequence order.
type Source interface {
	LoadAll(ctx context.Context) ([]contracts.ProofEntry, error)
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	entries  []contracts.ProofEntry
	index    map[string]int
	headHash string

	sink   Sink
	bus    *events.Bus
	clock  func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithSink persists every entry before it is committed.
func WithSink(s Sink) Option {
	return func(l *Ledger) { l.sink = s }
}

// WithBus publishes ProofAppended after each commit.
func WithBus(b *events.Bus) Option {
	return func(l *Ledger) { l.bus = b }
}

// WithIDFunc overrides id generation.
func WithIDFunc(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		entries:  make([]contracts.ProofEntry, 0),
		index:    make(map[string]int),
		headHash: GenesisHash,
		clock:    time.Now,
		newID:    func() string { return "proof_" + uuid.New().String() },
		logger:   slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append validates, chains and stores one entry, returning the stored copy.
func (l *Ledger) Append(ctx context.Context, in contracts.ProofEntryInput) (contracts.ProofEntry, error) {
	if strings.TrimSpace(in.Type) == "" {
		return contracts.ProofEntry{}, fmt.Errorf("%w: type is required", ErrInvalidEntry)
	}
	if !in.Actor.Valid() {
		return contracts.ProofEntry{}, fmt.Errorf("%w: actor %q", ErrInvalidEntry, in.Actor)
	}

	l.mu.Lock()

	id := in.ID
	if id == "" {
		id = l.newID()
	}
	if _, exists := l.index[id]; exists {
		l.mu.Unlock()
		return contracts.ProofEntry{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = l.clock()
	}

	entry := contracts.ProofEntry{
		ID:        id,
		Sequence:  uint64(len(l.entries)) + 1,
		Type:      in.Type,
		Timestamp: ts.UTC(),
		Actor:     in.Actor,
		Action:    in.Action,
		Context:   contracts.CloneContext(in.Context),
		PrevHash:  l.headHash,
	}
	if in.Classification != nil {
		c := *in.Classification
		c.Timestamp = c.Timestamp.UTC()
		entry.Classification = &c
	}

	hash, err := ComputeHash(entry)
	if err != nil {
		l.mu.Unlock()
		return contracts.ProofEntry{}, fmt.Errorf("hash proof entry: %w", err)
	}
	entry.ContentHash = hash

	if l.sink != nil {
		if err := l.sink.Write(ctx, entry.Clone()); err != nil {
			l.mu.Unlock()
			return contracts.ProofEntry{}, fmt.Errorf("persist proof entry %s: %w", id, err)
		}
	}

	l.index[id] = len(l.entries)
	l.entries = append(l.entries, entry)
	l.headHash = hash
	l.mu.Unlock()

	l.logger.DebugContext(ctx, "proof appended",
		"id", entry.ID, "seq", entry.Sequence, "type", entry.Type, "actor", entry.Actor)

	out := entry.Clone()
	if l.bus != nil {
		l.bus.ProofAppended.Publish(ctx, events.ProofAppended{Entry: entry.Clone()})
	}
	return out, nil
}

// List returns every entry in append order.
func (l *Ledger) List() []contracts.ProofEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]contracts.ProofEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

// Get returns the entry with the given id.
func (l *Ledger) Get(id string) (contracts.ProofEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[id]
	if !ok {
		return contracts.ProofEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l.entries[i].Clone(), nil
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the content hash of the last entry, or GenesisHash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Verify recomputes the whole chain.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return VerifyChain(l.entries)
}

// Restore loads persisted entries into an empty ledger after verifying them.
// Restored entries are not written back to the sink.
func (l *Ledger) Restore(ctx context.Context, src Source) (int, error) {
	loaded, err := src.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load proof entries: %w", err)
	}
	if err := VerifyChain(loaded); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) > 0 {
		return 0, ErrNotEmpty
	}
	for i, e := range loaded {
		if _, dup := l.index[e.ID]; dup {
			l.index = make(map[string]int)
			l.entries = l.entries[:0]
			return 0, fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
		}
		l.index[e.ID] = i
		l.entries = append(l.entries, e.Clone())
	}
	if n := len(l.entries); n > 0 {
		l.headHash = l.entries[n-1].ContentHash
	}

	l.logger.InfoContext(ctx, "ledger restored", "entries", len(loaded), "head", l.headHash)
	return len(loaded), nil
}
