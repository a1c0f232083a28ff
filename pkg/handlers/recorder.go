// Package handlers provides a generic processing pack that records events
// of configured methods into the store.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/0xmhha/event-indexer/pkg/registry"
	"github.com/0xmhha/event-indexer/pkg/storage"
	"github.com/0xmhha/event-indexer/pkg/types"
)

// Key prefixes written by the recorder
const (
	prefixEvents = "events/"
	prefixCounts = "counts/"
)

// EventKey returns the key of a recorded event
// Format: events/{method}/{block:020}/{index:010}
func EventKey(method string, block uint64, index uint32) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%010d", prefixEvents, method, block, index))
}

// CountKey returns the key of the per-method event counter
// Format: counts/{method}
func CountKey(method string) []byte {
	return []byte(prefixCounts + method)
}

// Record stores the event as JSON and increments the counter of its method.
// Both writes go through the handler store and commit with the block.
func Record(ctx context.Context, ev *types.Event, store storage.Handle) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.ID(), err)
	}
	if err := store.Put(EventKey(ev.Method, ev.BlockNumber, ev.Index), data); err != nil {
		return fmt.Errorf("failed to store event %s: %w", ev.ID(), err)
	}

	count, err := readCount(store, ev.Method)
	if err != nil {
		return err
	}
	if err := store.Put(CountKey(ev.Method), storage.EncodeUint64(count+1)); err != nil {
		return fmt.Errorf("failed to update count of %s: %w", ev.Method, err)
	}
	return nil
}

func readCount(store storage.Handle, method string) (uint64, error) {
	raw, err := store.Get(CountKey(method))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read count of %s: %w", method, err)
	}
	return storage.DecodeUint64(raw)
}

// RegisterRecorders registers Record for every method
func RegisterRecorders(b *registry.Builder, methods []string) error {
	for _, method := range methods {
		if err := b.Register(method, Record); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of committed events recorded for method
func Count(ctx context.Context, store storage.Store, method string) (uint64, error) {
	raw, err := store.Get(ctx, CountKey(method))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return storage.DecodeUint64(raw)
}

// Recorded returns the committed record of a single event
func Recorded(ctx context.Context, store storage.Store, method string, block uint64, index uint32) (*types.Event, error) {
	raw, err := store.Get(ctx, EventKey(method, block, index))
	if err != nil {
		return nil, err
	}
	var ev types.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidData, err)
	}
	return &ev, nil
}
