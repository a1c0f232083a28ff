package storage

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/0xmhha/event-indexer/pkg/types"
)

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a volatile Store used by tests and dry runs
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	cursor  types.Cursor
	commits int
	closed  atomic.Bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) LoadCursor(ctx context.Context) (types.Cursor, error) {
	if s.closed.Load() {
		return types.Cursor{}, ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, nil
}

func (s *MemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return s.read(key)
}

func (s *MemoryStore) read(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Commits returns how many block transactions were committed
func (s *MemoryStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Keys returns the number of handler keys currently stored
func (s *MemoryStore) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryStore) Begin(ctx context.Context, block uint64) (Tx, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return &memoryTx{store: s, block: block, writes: newWriteSet()}, nil
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

// memoryTx buffers writes until Commit applies them under the store lock
type memoryTx struct {
	store  *MemoryStore
	block  uint64
	writes *writeSet
	done   bool
	mu     sync.Mutex
}

func (t *memoryTx) Block() uint64 { return t.block }

func (t *memoryTx) Get(key []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil, ErrTxDone
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if value, deleted, ok := t.writes.get(key); ok {
		if deleted {
			return nil, ErrNotFound
		}
		return value, nil
	}
	return t.store.read(key)
}

func (t *memoryTx) Put(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxDone
	}
	if err := checkKey(key); err != nil {
		return err
	}
	t.writes.put(key, value)
	return nil
}

func (t *memoryTx) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxDone
	}
	if err := checkKey(key); err != nil {
		return err
	}
	t.writes.delete(key)
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxDone
	}
	if t.store.closed.Load() {
		return ErrClosed
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	t.writes.each(func(key string, value []byte, deleted bool) {
		if deleted {
			delete(s.data, key)
			return
		}
		s.data[key] = value
	})
	s.cursor = types.NewCursor(t.block)
	s.commits++
	return nil
}

func (t *memoryTx) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
}
