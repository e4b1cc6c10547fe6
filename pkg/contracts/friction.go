package contracts

import (
	"fmt"
	"time"
)

// FrictionPhase controls how long a Type B action must wait before a human
// may confirm it.
type FrictionPhase string

const (
	FrictionPhase1 FrictionPhase = "phase_1"
	FrictionPhase2 FrictionPhase = "phase_2"
	FrictionPhase3 FrictionPhase = "phase_3"
)

// Delay returns the minimum confirmation wait for the phase.
// Unknown phases get the longest delay.
func (p FrictionPhase) Delay() time.Duration {
	switch p {
	case FrictionPhase1:
		return 1 * time.Second
	case FrictionPhase2:
		return 2 * time.Second
	default:
		return 3 * time.Second
	}
}

// Valid reports whether p is a known phase.
func (p FrictionPhase) Valid() bool {
	switch p {
	case FrictionPhase1, FrictionPhase2, FrictionPhase3:
		return true
	}
	return false
}

// ParseFrictionPhase parses "phase_1", "phase_2" or "phase_3".
func ParseFrictionPhase(s string) (FrictionPhase, error) {
	p := FrictionPhase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown friction phase %q", s)
	}
	return p, nil
}
