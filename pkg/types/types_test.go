package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvents(block uint64, methods ...string) []Event {
	events := make([]Event, len(methods))
	for i, m := range methods {
		events[i] = Event{BlockNumber: block, Index: uint32(i), Method: m, Name: m}
	}
	return events
}

// --- EventBlock tests ---

func TestEventBlock_Validate(t *testing.T) {
	blk := &EventBlock{Number: 5, Hash: common.HexToHash("0x05"), Events: newEvents(5, "X", "Y")}
	require.NoError(t, blk.Validate())
}

func TestEventBlock_ValidateEmpty(t *testing.T) {
	blk := &EventBlock{Number: 9}
	assert.NoError(t, blk.Validate())
}

func TestEventBlock_ValidateWrongBlock(t *testing.T) {
	events := newEvents(5, "X")
	events[0].BlockNumber = 4

	blk := &EventBlock{Number: 5, Events: events}
	err := blk.Validate()
	assert.ErrorIs(t, err, ErrInvalidEventBlock)
}

func TestEventBlock_ValidateIndexGap(t *testing.T) {
	events := newEvents(5, "X", "Y")
	events[1].Index = 2

	blk := &EventBlock{Number: 5, Events: events}
	err := blk.Validate()
	assert.ErrorIs(t, err, ErrInvalidEventBlock)
	assert.Contains(t, err.Error(), "position 1")
}

// --- Event tests ---

func TestEvent_Param(t *testing.T) {
	ev := Event{Params: []EventParam{{Name: "from", Type: "address", Value: "0xabc"}}}

	v, ok := ev.Param("from")
	assert.True(t, ok)
	assert.Equal(t, "0xabc", v)

	_, ok = ev.Param("to")
	assert.False(t, ok)
}

func TestEvent_ID(t *testing.T) {
	ev := Event{BlockNumber: 12, Index: 3}
	assert.Equal(t, "12-3", ev.ID())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "ApplyExtrinsic(2)", Phase{Kind: PhaseApplyExtrinsic, ExtrinsicIndex: 2}.String())
	assert.Equal(t, "Finalization", Phase{Kind: PhaseFinalization}.String())
}

// --- Cursor tests ---

func TestCursor_Next(t *testing.T) {
	var empty Cursor
	assert.Equal(t, uint64(0), empty.Next(0))
	assert.Equal(t, uint64(100), empty.Next(100))

	c := NewCursor(6)
	assert.Equal(t, uint64(7), c.Next(0))
	assert.Equal(t, uint64(7), c.Next(100), "persisted cursor wins over start height")
}

func TestCursor_String(t *testing.T) {
	assert.Equal(t, "none", Cursor{}.String())
	assert.Equal(t, "6", NewCursor(6).String())
}
