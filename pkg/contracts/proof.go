package contracts

import (
	"fmt"
	"time"
)

// Actor identifies who performed a recorded action.
type Actor string

const (
	ActorAI     Actor = "ai"
	ActorHuman  Actor = "human"
	ActorSystem Actor = "system"
)

// Valid reports whether a is ai, human or system.
func (a Actor) Valid() bool {
	switch a {
	case ActorAI, ActorHuman, ActorSystem:
		return true
	}
	return false
}

// ParseActor parses "ai", "human" or "system".
func ParseActor(s string) (Actor, error) {
	a := Actor(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown actor %q", s)
	}
	return a, nil
}

// Proof entry types written by the confirmation protocol.
const (
	ProofActionProposed   = "action_proposed"
	ProofActionClassified = "action_classified"
	ProofActionConfirmed  = "action_confirmed"
	ProofActionExecuted   = "action_executed"
	ProofActionDeclined   = "action_declined"
	ProofActionFailed     = "action_failed"
	ProofFrictionChanged  = "friction_phase_changed"
)

// ProofEntryInput is what a caller supplies when appending to the ledger.
// ID and Timestamp are assigned by the ledger when empty.
type ProofEntryInput struct {
	ID             string
	Type           string
	Timestamp      time.Time
	Actor          Actor
	Action         string
	Classification *ClassificationResult
	Context        map[string]any
}

// ProofEntry is an immutable, hash-chained record in the proof ledger.
type ProofEntry struct {
	ID             string                `json:"id"`
	Sequence       uint64                `json:"sequence"`
	Type           string                `json:"type"`
	Timestamp      time.Time             `json:"timestamp"`
	Actor          Actor                 `json:"actor"`
	Action         string                `json:"action"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Context        map[string]any        `json:"context,omitempty"`
	PrevHash       string                `json:"prev_hash"`
	ContentHash    string                `json:"content_hash"`
}

// Clone returns a deep copy of e. Nested maps and slices inside Context are
// copied as well so the clone shares no mutable state with e.
func (e ProofEntry) Clone() ProofEntry {
	out := e
	if e.Classification != nil {
		c := *e.Classification
		out.Classification = &c
	}
	out.Context = CloneContext(e.Context)
	return out
}

// CloneContext deep-copies a context bag.
func CloneContext(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneContext(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = cloneValue(t[i])
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
