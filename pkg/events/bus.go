package events

import (
	"time"

	"github.com/qontrek/civos/pkg/contracts"
)

// ActionEvent is the common payload of action lifecycle events.
type ActionEvent struct {
	ActionID       string
	ActionType     string
	Actor          contracts.Actor
	Classification contracts.ClassificationResult
	At             time.Time
}

type (
	ActionProposed   struct{ ActionEvent }
	ActionClassified struct{ ActionEvent }
	ActionConfirmed  struct {
		ActionEvent
		ConfirmedBy string
	}
	ActionExecuted struct{ ActionEvent }
	ActionDeclined struct {
		ActionEvent
		DeclinedBy string
		Reason     string
	}
)

// ProofAppended is published after an entry is committed to the ledger.
type ProofAppended struct {
	Entry contracts.ProofEntry
}

// FrictionPhaseChanged is published when an administrator changes the phase.
type FrictionPhaseChanged struct {
	From      contracts.FrictionPhase
	To        contracts.FrictionPhase
	ChangedBy string
	At        time.Time
}

// Bus groups the typed topics used by the governance core.
type Bus struct {
	ActionProposed       *Topic[ActionProposed]
	ActionClassified     *Topic[ActionClassified]
	ActionConfirmed      *Topic[ActionConfirmed]
	ActionExecuted       *Topic[ActionExecuted]
	ActionDeclined       *Topic[ActionDeclined]
	ProofAppended        *Topic[ProofAppended]
	FrictionPhaseChanged *Topic[FrictionPhaseChanged]
}

// NewBus creates a bus with every topic initialised.
func NewBus() *Bus {
	return &Bus{
		ActionProposed:       NewTopic[ActionProposed]("action.proposed"),
		ActionClassified:     NewTopic[ActionClassified]("action.classified"),
		ActionConfirmed:      NewTopic[ActionConfirmed]("action.confirmed"),
		ActionExecuted:       NewTopic[ActionExecuted]("action.executed"),
		ActionDeclined:       NewTopic[ActionDeclined]("action.declined"),
		ProofAppended:        NewTopic[ProofAppended]("proof.appended"),
		FrictionPhaseChanged: NewTopic[FrictionPhaseChanged]("friction.changed"),
	}
}
