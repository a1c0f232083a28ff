package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/0xmhha/event-indexer/pkg/types"
)

// Ensure PebbleStore implements Store interface
var _ Store = (*PebbleStore)(nil)

// PebbleStore implements Store using PebbleDB
type PebbleStore struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool
}

// NewPebbleStore opens (or creates) a PebbleDB store
func NewPebbleStore(cfg *Config) (*PebbleStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Configure PebbleDB options
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(int64(cfg.Cache) << 20), // Convert MB to bytes
		MaxOpenFiles:             cfg.MaxOpenFiles,
		MemTableSize:             uint64(cfg.WriteBuffer) << 20,
		DisableWAL:               cfg.DisableWAL,
		MaxConcurrentCompactions: func() int { return cfg.CompactionConcurrency },
		ReadOnly:                 cfg.ReadOnly,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &PebbleStore{
		db:     db,
		config: cfg,
		logger: zap.NewNop(),
	}, nil
}

// SetLogger sets the logger for the store
func (s *PebbleStore) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// ensureNotClosed checks if storage is closed
func (s *PebbleStore) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ensureNotReadOnly checks if storage is read-only
func (s *PebbleStore) ensureNotReadOnly() error {
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// LoadCursor returns the persisted cursor
func (s *PebbleStore) LoadCursor(ctx context.Context) (types.Cursor, error) {
	if err := s.ensureNotClosed(); err != nil {
		return types.Cursor{}, err
	}

	value, err := s.get(CursorKey())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.Cursor{}, nil
		}
		return types.Cursor{}, fmt.Errorf("failed to get cursor: %w", err)
	}

	block, err := DecodeUint64(value)
	if err != nil {
		return types.Cursor{}, fmt.Errorf("failed to decode cursor: %w", err)
	}
	return types.NewCursor(block), nil
}

// Get reads a committed handler key
func (s *PebbleStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return s.get(DataKey(key))
}

func (s *PebbleStore) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// Copy value since it's only valid until closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Begin opens an indexed batch so handlers can read their own writes
func (s *PebbleStore) Begin(ctx context.Context, block uint64) (Tx, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	if err := s.ensureNotReadOnly(); err != nil {
		return nil, err
	}

	return &pebbleTx{
		store: s,
		batch: s.db.NewIndexedBatch(),
		block: block,
	}, nil
}

// Close closes the store and releases resources
func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
