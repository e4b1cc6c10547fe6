// Package contracts defines the value types shared by the CIVOS governance core:
// classification results, budget decisions, proof entries and friction phases.
//
// All types here are plain values. Producers build them once; consumers treat
// them as immutable.
package contracts

import (
	"fmt"
	"time"
)

// ClassificationType is the risk tier assigned to a proposed action.
type ClassificationType string

const (
	// TypeA actions execute without confirmation.
	TypeA ClassificationType = "A"
	// TypeB actions require a human confirmation after a visible delay.
	TypeB ClassificationType = "B"
	// TypeC actions are held; the AI stays silent and a human decides.
	TypeC ClassificationType = "C"
)

// Rank orders tiers by restrictiveness: A=1, B=2, C=3. Unknown tiers rank 0.
func (t ClassificationType) Rank() int {
	switch t {
	case TypeA:
		return 1
	case TypeB:
		return 2
	case TypeC:
		return 3
	default:
		return 0
	}
}

// Valid reports whether t is one of A, B or C.
func (t ClassificationType) Valid() bool {
	return t.Rank() > 0
}

// ParseClassificationType parses "A", "B" or "C".
func ParseClassificationType(s string) (ClassificationType, error) {
	t := ClassificationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown classification type %q", s)
	}
	return t, nil
}

// MoreRestrictive returns whichever of a and b ranks higher (C > B > A).
func MoreRestrictive(a, b ClassificationType) ClassificationType {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ClassificationResult is produced exactly once per proposed action.
type ClassificationResult struct {
	Type       ClassificationType `json:"type"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
	Timestamp  time.Time          `json:"timestamp"`
	// Frozen marks a result that must not be re-derived for the same action.
	Frozen bool `json:"frozen"`
}

// Freeze returns a copy of r with Frozen set.
func (r ClassificationResult) Freeze() ClassificationResult {
	r.Frozen = true
	return r
}

// SpendThresholds are the spend limits shared by the classification engine
// and the budget monitor.
type SpendThresholds struct {
	// Confirm is the spend above which an action needs confirmation (Type B).
	Confirm float64 `json:"confirm" mapstructure:"confirm"`
	// Hold is the spend above which an action is held (Type C).
	Hold float64 `json:"hold" mapstructure:"hold"`
}

// DefaultSpendThresholds returns the MYR 100 / MYR 1000 limits.
func DefaultSpendThresholds() SpendThresholds {
	return SpendThresholds{Confirm: 100, Hold: 1000}
}

// Validate checks that both limits are positive and ordered.
func (s SpendThresholds) Validate() error {
	if s.Confirm <= 0 || s.Hold <= 0 {
		return fmt.Errorf("spend thresholds must be positive (confirm=%v, hold=%v)", s.Confirm, s.Hold)
	}
	if s.Confirm > s.Hold {
		return fmt.Errorf("confirm threshold %v exceeds hold threshold %v", s.Confirm, s.Hold)
	}
	return nil
}
