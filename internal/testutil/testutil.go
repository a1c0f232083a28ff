package testutil

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0xmhha/event-indexer/pkg/types"
)

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zapcore.WarnLevel))
}

// NewObservedLogger creates a logger whose entries at or above level can be
// asserted on
func NewObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

// NewEvent creates an unstamped event for method "Module.Name"
func NewEvent(method string, params ...types.EventParam) types.Event {
	name := method
	for i := len(method) - 1; i >= 0; i-- {
		if method[i] == '.' {
			name = method[i+1:]
			break
		}
	}
	return types.Event{
		Method: method,
		Name:   name,
		Params: params,
		Phase:  types.Phase{Kind: types.PhaseApplyExtrinsic},
	}
}

// NewEventBlock creates a valid block with one event per method in order
func NewEventBlock(number uint64, methods ...string) *types.EventBlock {
	events := make([]types.Event, len(methods))
	for i, m := range methods {
		events[i] = NewEvent(m)
		events[i].BlockNumber = number
		events[i].Index = uint32(i)
	}
	return &types.EventBlock{
		Number:    number,
		Hash:      HashOf(number),
		Timestamp: time.Unix(int64(number), 0).UTC(),
		Events:    events,
	}
}
