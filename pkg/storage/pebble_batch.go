package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Ensure pebbleTx implements Tx interface
var _ Tx = (*pebbleTx)(nil)

// pebbleTx buffers one block's writes in an indexed batch
type pebbleTx struct {
	store *PebbleStore
	batch *pebble.Batch
	block uint64
	count int
	done  bool
	mu    sync.Mutex
}

func (t *pebbleTx) Block() uint64 {
	return t.block
}

// Get reads through the batch, then the database
func (t *pebbleTx) Get(key []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil, ErrTxDone
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}

	value, closer, err := t.batch.Get(DataKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (t *pebbleTx) Put(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxDone
	}
	if err := checkKey(key); err != nil {
		return err
	}

	if err := t.batch.Set(DataKey(key), value, nil); err != nil {
		return err
	}
	t.count++
	return nil
}

func (t *pebbleTx) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxDone
	}
	if err := checkKey(key); err != nil {
		return err
	}

	if err := t.batch.Delete(DataKey(key), nil); err != nil {
		return err
	}
	t.count++
	return nil
}

// Commit writes the cursor into the same batch and syncs it to disk
func (t *pebbleTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxDone
	}
	if err := t.store.ensureNotClosed(); err != nil {
		return err
	}
	t.done = true
	defer t.batch.Close()

	if err := t.batch.Set(CursorKey(), EncodeUint64(t.block), nil); err != nil {
		return fmt.Errorf("failed to stage cursor: %w", err)
	}

	if err := t.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", t.block, err)
	}

	t.store.logger.Debug("Committed block",
		zap.Uint64("block", t.block),
		zap.Int("writes", t.count),
	)
	return nil
}

func (t *pebbleTx) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	t.done = true
	_ = t.batch.Close()
}
