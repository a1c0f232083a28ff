package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PhaseKind identifies when during block execution an event was emitted
type PhaseKind string

const (
	// PhaseApplyExtrinsic marks events emitted while applying a transaction
	PhaseApplyExtrinsic PhaseKind = "ApplyExtrinsic"

	// PhaseFinalization marks events emitted after all transactions were applied
	PhaseFinalization PhaseKind = "Finalization"

	// PhaseInitialization marks events emitted before any transaction was applied
	PhaseInitialization PhaseKind = "Initialization"
)

// Phase describes the execution phase of an event
type Phase struct {
	Kind PhaseKind `json:"kind"`

	// ExtrinsicIndex is the transaction position; only meaningful for PhaseApplyExtrinsic
	ExtrinsicIndex uint32 `json:"extrinsic_index,omitempty"`
}

// String returns a compact representation such as "ApplyExtrinsic(3)"
func (p Phase) String() string {
	if p.Kind == PhaseApplyExtrinsic {
		return fmt.Sprintf("%s(%d)", p.Kind, p.ExtrinsicIndex)
	}
	return string(p.Kind)
}

// EventParam is a single decoded event argument
type EventParam struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Event is a single structured record emitted by the chain during a block.
// It is uniquely identified by (BlockNumber, Index).
type Event struct {
	BlockNumber uint64       `json:"block_number"`
	Index       uint32       `json:"event_index"`
	Method      string       `json:"method"`
	Name        string       `json:"name"`
	Params      []EventParam `json:"params,omitempty"`
	Phase       Phase        `json:"phase"`
}

// ID returns the "block-index" identifier of the event
func (e *Event) ID() string {
	return fmt.Sprintf("%d-%d", e.BlockNumber, e.Index)
}

// Param returns the value of the named parameter
func (e *Event) Param(name string) (string, bool) {
	for _, p := range e.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// EventBlock is the unit handed from the block producer to the index builder
type EventBlock struct {
	Number    uint64      `json:"block_number"`
	Hash      common.Hash `json:"block_hash"`
	Timestamp time.Time   `json:"timestamp"`
	Events    []Event     `json:"events"`
}

// ErrInvalidEventBlock is returned by Validate when the block breaks its invariants
var ErrInvalidEventBlock = errors.New("invalid event block")

// Validate checks that every event belongs to the block and that event indices
// are ascending and gap-free starting at zero.
func (b *EventBlock) Validate() error {
	for i := range b.Events {
		ev := &b.Events[i]
		if ev.BlockNumber != b.Number {
			return fmt.Errorf("%w: event %d belongs to block %d, not %d", ErrInvalidEventBlock, i, ev.BlockNumber, b.Number)
		}
		if ev.Index != uint32(i) {
			return fmt.Errorf("%w: event at position %d has index %d", ErrInvalidEventBlock, i, ev.Index)
		}
	}
	return nil
}

// Cursor is the durable marker of the last fully processed block.
// A zero Cursor (Set == false) means nothing has been processed yet.
type Cursor struct {
	LastProcessed uint64 `json:"last_processed"`
	Set           bool   `json:"set"`
}

// NewCursor returns a cursor positioned at the given block
func NewCursor(block uint64) Cursor {
	return Cursor{LastProcessed: block, Set: true}
}

// Next returns the first block to process after this cursor, falling back to
// start when nothing has been processed yet.
func (c Cursor) Next(start uint64) uint64 {
	if !c.Set {
		return start
	}
	return c.LastProcessed + 1
}

// String implements fmt.Stringer
func (c Cursor) String() string {
	if !c.Set {
		return "none"
	}
	return fmt.Sprintf("%d", c.LastProcessed)
}
