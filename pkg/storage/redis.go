package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/0xmhha/event-indexer/pkg/types"
)

// ErrInvalidConfiguration indicates invalid backend configuration
var ErrInvalidConfiguration = errors.New("invalid storage configuration")

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Validate checks the Redis settings
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: no Redis address configured", ErrInvalidConfiguration)
	}
	if c.DB < 0 {
		return fmt.Errorf("%w: redis db cannot be negative", ErrInvalidConfiguration)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("%w: redis pool size cannot be negative", ErrInvalidConfiguration)
	}
	return nil
}

// Ensure RedisStore implements Store interface
var _ Store = (*RedisStore)(nil)

// RedisStore keeps the cursor and handler state in Redis.
// A block commit is a single MULTI/EXEC pipeline.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	closed atomic.Bool
}

// NewRedisStore creates a Redis-backed store. The connection is established lazily.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Ping verifies connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(k []byte) string {
	return s.prefix + string(k)
}

func (s *RedisStore) LoadCursor(ctx context.Context) (types.Cursor, error) {
	if s.closed.Load() {
		return types.Cursor{}, ErrClosed
	}

	value, err := s.client.Get(ctx, s.key(CursorKey())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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

func (s *RedisStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return s.get(ctx, DataKey(key))
}

func (s *RedisStore) get(ctx context.Context, key []byte) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (s *RedisStore) Begin(ctx context.Context, block uint64) (Tx, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return &redisTx{store: s, ctx: ctx, block: block, writes: newWriteSet()}, nil
}

func (s *RedisStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}

// redisTx buffers writes locally and flushes them in one transaction
type redisTx struct {
	store  *RedisStore
	ctx    context.Context
	block  uint64
	writes *writeSet
	done   bool
	mu     sync.Mutex
}

func (t *redisTx) Block() uint64 { return t.block }

func (t *redisTx) Get(key []byte) ([]byte, error) {
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
	return t.store.get(t.ctx, DataKey(key))
}

func (t *redisTx) Put(key, value []byte) error {
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

func (t *redisTx) Delete(key []byte) error {
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

func (t *redisTx) Commit(ctx context.Context) error {
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
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		t.writes.each(func(key string, value []byte, deleted bool) {
			k := s.key(DataKey([]byte(key)))
			if deleted {
				pipe.Del(ctx, k)
				return
			}
			pipe.Set(ctx, k, value, 0)
		})
		pipe.Set(ctx, s.key(CursorKey()), EncodeUint64(t.block), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit block %d: %w", t.block, err)
	}
	return nil
}

func (t *redisTx) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
}
