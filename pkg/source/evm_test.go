package source

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRPC struct {
	mu        sync.Mutex
	finalized []uint64 // successive FinalizedHeader answers; the last one repeats
	calls     int
	pollErr   error
	logs      []gethtypes.Log
	lastAddrs []common.Address
}

func header(n uint64) *gethtypes.Header {
	return &gethtypes.Header{
		Number:     new(big.Int).SetUint64(n),
		Difficulty: big.NewInt(0),
		Time:       1700000000 + n,
	}
}

func (f *fakeRPC) FinalizedHeader(ctx context.Context) (*gethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	f.calls++
	if idx > 0 && f.pollErr != nil {
		return nil, f.pollErr
	}
	if idx >= len(f.finalized) {
		idx = len(f.finalized) - 1
	}
	return header(f.finalized[idx]), nil
}

func (f *fakeRPC) HeaderByNumber(ctx context.Context, number uint64) (*gethtypes.Header, error) {
	return header(number), nil
}

func (f *fakeRPC) LogsByBlockHash(ctx context.Context, hash common.Hash, addresses []common.Address) ([]gethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAddrs = addresses
	return f.logs, nil
}

func TestNewEVMSource_Validation(t *testing.T) {
	_, err := NewEVMSource(nil, nil, EVMConfig{PollInterval: time.Second}, nil)
	assert.Error(t, err)

	_, err = NewEVMSource(&fakeRPC{}, nil, EVMConfig{}, nil)
	assert.Error(t, err)
}

func TestEVMSource_SubscribeDeliversAdvancingHeads(t *testing.T) {
	rpc := &fakeRPC{finalized: []uint64{10, 10, 12, 12, 15}}
	src, err := NewEVMSource(rpc, nil, EVMConfig{PollInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	heads := make(chan Head, 8)
	sub, err := src.SubscribeFinalizedHeads(ctx, heads)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	var got []uint64
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case h := <-heads:
			got = append(got, h.Number)
		case <-timeout:
			t.Fatalf("timed out, got heads %v", got)
		}
	}

	assert.Equal(t, []uint64{10, 12, 15}, got)
}

func TestEVMSource_SubscriptionReportsPollError(t *testing.T) {
	pollErr := errors.New("connection reset")
	rpc := &fakeRPC{finalized: []uint64{1}, pollErr: pollErr}
	src, err := NewEVMSource(rpc, nil, EVMConfig{PollInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)

	heads := make(chan Head, 1)
	sub, err := src.SubscribeFinalizedHeads(context.Background(), heads)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case err := <-sub.Err():
		assert.ErrorIs(t, err, pollErr)
	case <-time.After(2 * time.Second):
		t.Fatal("expected subscription error")
	}
}

func TestEVMSource_UnsubscribeIsIdempotent(t *testing.T) {
	rpc := &fakeRPC{finalized: []uint64{1}}
	src, err := NewEVMSource(rpc, nil, EVMConfig{PollInterval: time.Hour}, nil)
	require.NoError(t, err)

	// unbuffered and never read: the loop blocks on delivery until unsubscribed
	sub, err := src.SubscribeFinalizedHeads(context.Background(), make(chan Head))
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestEVMSource_FetchEvents(t *testing.T) {
	d, contract := newTransferDecoder(t)
	removed := *transferLog(t, contract, 9)
	removed.Removed = true

	rpc := &fakeRPC{logs: []gethtypes.Log{
		*transferLog(t, contract, 7),
		removed,
		{Address: tokenAddr, Topics: []common.Hash{common.HexToHash("0x01")}},
	}}
	src, err := NewEVMSource(rpc, d, EVMConfig{PollInterval: time.Second}, nil)
	require.NoError(t, err)

	events, err := src.FetchEvents(context.Background(), common.HexToHash("0xabc"))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "Token.Transfer", events[0].Method)
	assert.Contains(t, events[1].Method, UnknownMethodPrefix)
	assert.Equal(t, []common.Address{tokenAddr}, rpc.lastAddrs)
}

func TestEVMSource_FetchEventsWithoutContracts(t *testing.T) {
	rpc := &fakeRPC{logs: []gethtypes.Log{{Address: tokenAddr}}}
	src, err := NewEVMSource(rpc, nil, EVMConfig{PollInterval: time.Second}, nil)
	require.NoError(t, err)

	events, err := src.FetchEvents(context.Background(), common.Hash{})
	require.NoError(t, err)
	assert.Empty(t, events)

	src.config.AllContracts = true
	events, err = src.FetchEvents(context.Background(), common.Hash{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Nil(t, rpc.lastAddrs)
}

func TestEVMSource_HeaderByNumber(t *testing.T) {
	src, err := NewEVMSource(&fakeRPC{}, nil, EVMConfig{PollInterval: time.Second}, nil)
	require.NoError(t, err)

	head, err := src.HeaderByNumber(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), head.Number)
	assert.Equal(t, header(42).Hash(), head.Hash)
	assert.Equal(t, time.Unix(1700000042, 0).UTC(), head.Timestamp)
}
