package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/qontrek/civos/pkg/contracts"
)

// ChainError reports where a chain stopped verifying.
type ChainError struct {
	Sequence uint64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain broken at entry %d: %s", e.Sequence, e.Reason)
}

type classificationHash struct {
	Type       contracts.ClassificationType `json:"type"`
	Confidence float64                      `json:"confidence"`
	Reason     string                       `json:"reason"`
	Timestamp  string                       `json:"timestamp"`
	Frozen     bool                         `json:"frozen"`
}

type hashInput struct {
	Seq            uint64              `json:"seq"`
	ID             string              `json:"id"`
	Type           string              `json:"type"`
	Timestamp      string              `json:"timestamp"`
	Actor          contracts.Actor     `json:"actor"`
	Action         string              `json:"action"`
	Classification *classificationHash `json:"classification,omitempty"`
	Context        map[string]any      `json:"context,omitempty"`
	PrevHash       string              `json:"prev"`
}

// ComputeHash returns "sha256:<hex>" over the RFC 8785 canonical form of the
// entry, excluding ContentHash itself.
func ComputeHash(e contracts.ProofEntry) (string, error) {
	in := hashInput{
		Seq:       e.Sequence,
		ID:        e.ID,
		Type:      e.Type,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:     e.Actor,
		Action:    e.Action,
		Context:   e.Context,
		PrevHash:  e.PrevHash,
	}
	if c := e.Classification; c != nil {
		in.Classification = &classificationHash{
			Type:       c.Type,
			Confidence: c.Confidence,
			Reason:     c.Reason,
			Timestamp:  c.Timestamp.UTC().Format(time.RFC3339Nano),
			Frozen:     c.Frozen,
		}
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// VerifyChain checks sequence numbers, prev links and content hashes.
func VerifyChain(entries []contracts.ProofEntry) error {
	prev := GenesisHash
	for i, e := range entries {
		want := uint64(i) + 1
		if e.Sequence != want {
			return &ChainError{Sequence: want, Reason: fmt.Sprintf("sequence %d out of order", e.Sequence)}
		}
		if e.PrevHash != prev {
			return &ChainError{Sequence: want, Reason: fmt.Sprintf("expected prev %s, got %s", prev, e.PrevHash)}
		}
		computed, err := ComputeHash(e)
		if err != nil {
			return &ChainError{Sequence: want, Reason: err.Error()}
		}
		if computed != e.ContentHash {
			return &ChainError{Sequence: want, Reason: "content hash mismatch"}
		}
		prev = e.ContentHash
	}
	return nil
}
