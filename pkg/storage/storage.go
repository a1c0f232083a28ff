package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xmhha/event-indexer/pkg/types"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidData is returned when stored data cannot be decoded
	ErrInvalidData = errors.New("invalid data")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")

	// ErrTxDone is returned when using a transaction after Commit or Discard
	ErrTxDone = errors.New("transaction already committed or discarded")

	// ErrEmptyKey is returned when a handler writes an empty key
	ErrEmptyKey = errors.New("key cannot be empty")
)

// Handle is the storage view passed to event handlers.
// Keys live in a handler namespace; they can never collide with the cursor.
type Handle interface {
	// Get returns the value for key, or ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put stores value under key
	Put(key, value []byte) error

	// Delete removes key; deleting a missing key is not an error
	Delete(key []byte) error
}

// Tx collects the handler writes of a single block.
// Commit persists them together with the cursor for that block in one atomic write.
type Tx interface {
	Handle

	// Block returns the block number the transaction commits the cursor to
	Block() uint64

	// Commit atomically writes all buffered changes and advances the cursor
	Commit(ctx context.Context) error

	// Discard drops all buffered changes; it is a no-op after Commit
	Discard()
}

// Store is the durable persistence used by the index builder
type Store interface {
	// LoadCursor returns the persisted cursor, or a zero Cursor when absent
	LoadCursor(ctx context.Context) (types.Cursor, error)

	// Begin opens a write transaction for block
	Begin(ctx context.Context, block uint64) (Tx, error)

	// Get reads a committed handler key
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Close releases resources
	Close() error
}

// Backend names accepted by Open
const (
	BackendPebble = "pebble"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds storage configuration
type Config struct {
	// Backend selects the implementation: pebble, redis or memory
	Backend string

	// Path is the Pebble database directory
	Path string

	// Cache size in MB (default: 128)
	Cache int

	// MaxOpenFiles limit (default: 1000)
	MaxOpenFiles int

	// WriteBuffer size in MB (default: 64)
	WriteBuffer int

	// DisableWAL disables write-ahead log (not recommended)
	DisableWAL bool

	// ReadOnly opens the database in read-only mode
	ReadOnly bool

	// CompactionConcurrency for background compaction (default: 1)
	CompactionConcurrency int

	// Redis holds connection settings for the redis backend
	Redis RedisConfig
}

// DefaultConfig returns a default Pebble configuration rooted at path
func DefaultConfig(path string) *Config {
	return &Config{
		Backend:               BackendPebble,
		Path:                  path,
		Cache:                 128, // 128 MB
		MaxOpenFiles:          1000,
		WriteBuffer:           64, // 64 MB
		CompactionConcurrency: 1,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendPebble, "":
		if c.Path == "" {
			return errors.New("path cannot be empty")
		}
		if c.Cache < 0 {
			return errors.New("cache size cannot be negative")
		}
		if c.MaxOpenFiles < 0 {
			return errors.New("max open files cannot be negative")
		}
		if c.WriteBuffer < 0 {
			return errors.New("write buffer size cannot be negative")
		}
		if c.CompactionConcurrency < 1 {
			return errors.New("compaction concurrency must be at least 1")
		}
	case BackendRedis:
		return c.Redis.Validate()
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	return nil
}

// Open creates the Store selected by cfg.Backend
func Open(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Backend {
	case BackendRedis:
		return NewRedisStore(cfg.Redis)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return NewPebbleStore(cfg)
	}
}

func checkKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return nil
}
