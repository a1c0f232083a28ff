package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/event-indexer/pkg/types"
)

func validRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "indexer:",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func TestNewRedisStore_Valid(t *testing.T) {
	store, err := NewRedisStore(validRedisConfig())
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, "indexer:/meta/cursor", store.key(CursorKey()))
	require.NoError(t, store.Close())
}

func TestNewRedisStore_NoAddress(t *testing.T) {
	cfg := validRedisConfig()
	cfg.Addr = ""

	store, err := NewRedisStore(cfg)
	assert.Nil(t, store)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNewRedisStore_NegativeDB(t *testing.T) {
	cfg := validRedisConfig()
	cfg.DB = -1

	_, err := NewRedisStore(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestRedisStore_Closed(t *testing.T) {
	store, err := NewRedisStore(validRedisConfig())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err = store.LoadCursor(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.Begin(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisTx_BuffersLocally(t *testing.T) {
	store, err := NewRedisStore(validRedisConfig())
	require.NoError(t, err)
	defer store.Close()

	tx, err := store.Begin(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), tx.Block())

	// Buffered reads never reach the server
	require.NoError(t, tx.Put([]byte("k"), []byte("v")))
	v, err := tx.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, tx.Delete([]byte("k")))
	_, err = tx.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)

	tx.Discard()
	assert.ErrorIs(t, tx.Put([]byte("k"), []byte("v")), ErrTxDone)
}

func prepareRedisMock(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := validRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.KeyPrefix = "ix:"
	store, err := NewRedisStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestRedisStore_Ping(t *testing.T) {
	_, store := prepareRedisMock(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestRedisStore_EmptyCursor(t *testing.T) {
	_, store := prepareRedisMock(t)

	cursor, err := store.LoadCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Cursor{}, cursor)
}

func TestRedisStore_CommitPersistsWritesAndCursor(t *testing.T) {
	mr, store := prepareRedisMock(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	require.NoError(t, tx.Put([]byte("b"), []byte("2")))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, []string{"ix:/data/a", "ix:/data/b", "ix:/meta/cursor"}, mr.Keys())
	raw, err := mr.Get("ix:/data/a")
	require.NoError(t, err)
	assert.Equal(t, "1", raw)

	cursor, err := store.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.NewCursor(5), cursor)

	value, err := store.Get(ctx, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), value)

	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
}

func TestRedisStore_DeleteInTx(t *testing.T) {
	mr, store := prepareRedisMock(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.Begin(ctx, 2)
	require.NoError(t, err)
	// committed state is visible inside the next block
	value, err := tx.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	require.NoError(t, tx.Delete([]byte("a")))
	require.NoError(t, tx.Commit(ctx))

	assert.False(t, mr.Exists("ix:/data/a"))
	_, err = store.Get(ctx, []byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)

	cursor, err := store.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.NewCursor(2), cursor)
}

func TestRedisStore_DiscardLeavesNoKeys(t *testing.T) {
	mr, store := prepareRedisMock(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	tx.Discard()

	assert.Empty(t, mr.Keys())
	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)

	cursor, err := store.LoadCursor(ctx)
	require.NoError(t, err)
	assert.False(t, cursor.Set)
}

func TestRedisStore_Reopen(t *testing.T) {
	mr, store := prepareRedisMock(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, store.Close())

	cfg := validRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.KeyPrefix = "ix:"
	reopened, err := NewRedisStore(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	cursor, err := reopened.LoadCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.NewCursor(7), cursor)
	assert.Equal(t, uint64(8), cursor.Next(0))
}

func TestRedisStore_PrefixIsolation(t *testing.T) {
	mr, store := prepareRedisMock(t)
	ctx := context.Background()

	cfg := validRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.KeyPrefix = "other:"
	other, err := NewRedisStore(cfg)
	require.NoError(t, err)
	defer other.Close()

	tx, err := store.Begin(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	require.NoError(t, tx.Commit(ctx))

	cursor, err := other.LoadCursor(ctx)
	require.NoError(t, err)
	assert.False(t, cursor.Set)
	_, err = other.Get(ctx, []byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_CorruptCursor(t *testing.T) {
	mr, store := prepareRedisMock(t)
	require.NoError(t, mr.Set("ix:/meta/cursor", "bad"))

	_, err := store.LoadCursor(context.Background())
	assert.ErrorIs(t, err, ErrInvalidData)
}
