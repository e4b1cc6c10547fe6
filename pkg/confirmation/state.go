package confirmation

import "fmt"

// State is the lifecycle position of an action.
type State string

const (
	StateProposed             State = "PROPOSED"
	StateClassified           State = "CLASSIFIED"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateConfirmed            State = "CONFIRMED"
	StateExecuted             State = "EXECUTED"
	StateHeld                 State = "HELD"
	StateDeclined             State = "DECLINED"
	StateFailed               State = "FAILED"
)

// transitions lists every legal move. Anything absent is rejected.
var transitions = map[State][]State{
	StateProposed:             {StateClassified, StateFailed},
	StateClassified:           {StateExecuted, StateAwaitingConfirmation, StateHeld, StateFailed},
	StateAwaitingConfirmation: {StateConfirmed, StateDeclined},
	StateConfirmed:            {StateExecuted, StateFailed},
	StateHeld:                 {StateDeclined},
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	ActionID string
	From     State
	To       State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("action %s: illegal transition %s -> %s", e.ActionID, e.From, e.To)
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateProposed, StateClassified, StateAwaitingConfirmation, StateConfirmed,
		StateExecuted, StateHeld, StateDeclined, StateFailed:
		return true
	}
	return false
}

// ParseState parses a state name such as "HELD".
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown action state %q", s)
	}
	return st, nil
}
