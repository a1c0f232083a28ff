package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/0xmhha/event-indexer/internal/testutil"
	"github.com/0xmhha/event-indexer/pkg/types"
)

func testConfig() *Config {
	return &Config{
		BufferSize:   16,
		MaxRetries:   3,
		RetryDelay:   time.Millisecond,
		FetchTimeout: time.Second,
	}
}

func newTestProducer(t *testing.T, src *testutil.FakeSource, cfg *Config) *Producer {
	t.Helper()
	p, err := New(src, cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p
}

func receive(t *testing.T, blocks <-chan *types.EventBlock, n int) []uint64 {
	t.Helper()
	var got []uint64
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case b, ok := <-blocks:
			if !ok {
				return got
			}
			got = append(got, b.Number)
		case <-timeout:
			t.Fatalf("timed out after receiving %v", got)
		}
	}
	return got
}

func waitClosed(t *testing.T, blocks <-chan *types.EventBlock) []uint64 {
	t.Helper()
	var got []uint64
	timeout := time.After(5 * time.Second)
	for {
		select {
		case b, ok := <-blocks:
			if !ok {
				return got
			}
			got = append(got, b.Number)
		case <-timeout:
			t.Fatal("channel was not closed")
		}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testConfig(), nil)
	assert.ErrorIs(t, err, ErrNilSource)

	cfg := testConfig()
	cfg.BufferSize = 0
	_, err = New(testutil.NewFakeSource(), cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.RetryDelay = 0
	_, err = New(testutil.NewFakeSource(), cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.RateLimit = 10
	_, err = New(testutil.NewFakeSource(), cfg, nil)
	assert.Error(t, err, "rate limit requires a burst")

	p, err := New(testutil.NewFakeSource(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().BufferSize, p.config.BufferSize)
}

func TestProducer_FillsGapsInOrder(t *testing.T) {
	src := testutil.NewFakeSource()
	p := newTestProducer(t, src, testConfig())

	blocks, err := p.Start(context.Background(), 3)
	require.NoError(t, err)

	src.Announce(3, 6)

	assert.Equal(t, []uint64{3, 4, 5, 6}, receive(t, blocks, 4))
	assert.Equal(t, []uint64{3, 4, 5, 6}, src.FetchCalls())
	// announced heads carry their hash, only gap blocks need a header lookup
	assert.Equal(t, []uint64{4, 5}, src.HeaderCalls())
}

func TestProducer_IgnoresStaleAndDuplicateHeads(t *testing.T) {
	src := testutil.NewFakeSource()
	p := newTestProducer(t, src, testConfig())

	blocks, err := p.Start(context.Background(), 5)
	require.NoError(t, err)

	src.Announce(2, 5, 5, 4, 7)

	assert.Equal(t, []uint64{5, 6, 7}, receive(t, blocks, 3))
	assert.Equal(t, []uint64{5, 6, 7}, src.FetchCalls())
}

func TestProducer_StampsEvents(t *testing.T) {
	src := testutil.NewFakeSource()
	src.SetMethods(1, "Balances.Transfer", "System.ExtrinsicSuccess")
	p := newTestProducer(t, src, testConfig())

	blocks, err := p.Start(context.Background(), 1)
	require.NoError(t, err)
	src.Announce(1)

	block := <-blocks
	require.NoError(t, block.Validate())
	assert.Equal(t, testutil.HashOf(1), block.Hash)
	require.Len(t, block.Events, 2)
	assert.Equal(t, uint64(1), block.Events[1].BlockNumber)
	assert.Equal(t, uint32(1), block.Events[1].Index)
	assert.Equal(t, "System.ExtrinsicSuccess", block.Events[1].Method)
}

func TestProducer_RetriesTransientFailures(t *testing.T) {
	src := testutil.NewFakeSource()
	src.FailFetch(2, 2)

	logger, logs := testutil.NewObservedLogger(zapcore.WarnLevel)
	p, err := New(src, testConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(p.Stop)

	blocks, err := p.Start(context.Background(), 1)
	require.NoError(t, err)
	src.Announce(3)

	assert.Equal(t, []uint64{1, 2, 3}, receive(t, blocks, 3))
	assert.Equal(t, []uint64{1, 2, 2, 2, 3}, src.FetchCalls())
	assert.NoError(t, p.Err())

	retries := logs.FilterMessage("Retrying block fetch").All()
	require.Len(t, retries, 2)
	fields := retries[1].ContextMap()
	assert.Equal(t, uint64(2), fields["block"])
	assert.Equal(t, int64(2), fields["attempt"])
	assert.Equal(t, int64(3), fields["max_retries"])
	assert.Equal(t, 2*time.Millisecond, fields["backoff_delay"])
}

func TestProducer_ExhaustedRetriesHalt(t *testing.T) {
	src := testutil.NewFakeSource()
	boom := errors.New("node unreachable")
	src.FailFetchAlways(2, boom)

	cfg := testConfig()
	cfg.MaxRetries = 2
	p := newTestProducer(t, src, cfg)

	blocks, err := p.Start(context.Background(), 1)
	require.NoError(t, err)
	src.Announce(3)

	// block 3 must never be emitted past the missing block 2
	assert.Equal(t, []uint64{1}, waitClosed(t, blocks))

	err = p.Err()
	var fatal *FatalSubscriptionError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, uint64(2), fatal.Block)
	assert.Equal(t, 3, fatal.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsFatal(err))

	var transient *TransientFetchError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, transient.Attempt)
	assert.Equal(t, []uint64{1, 2, 2, 2}, src.FetchCalls())
}

func TestProducer_Backpressure(t *testing.T) {
	src := testutil.NewFakeSource()
	cfg := testConfig()
	cfg.BufferSize = 1
	p := newTestProducer(t, src, cfg)

	blocks, err := p.Start(context.Background(), 1)
	require.NoError(t, err)
	src.Announce(5)

	// block 1 fills the buffer and block 2 waits on the send
	require.Eventually(t, func() bool { return len(src.FetchCalls()) == 2 }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, src.FetchCalls(), 2)

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, receive(t, blocks, 5))
}

func TestProducer_ResubscribesAfterSubscriptionError(t *testing.T) {
	src := testutil.NewFakeSource()
	p := newTestProducer(t, src, testConfig())

	blocks, err := p.Start(context.Background(), 1)
	require.NoError(t, err)

	src.Announce(1)
	assert.Equal(t, []uint64{1}, receive(t, blocks, 1))

	src.BreakSubscription(errors.New("connection reset"))
	require.Eventually(t, func() bool { return src.Subscribes() == 2 }, 2*time.Second, time.Millisecond)

	src.Announce(3)
	assert.Equal(t, []uint64{2, 3}, receive(t, blocks, 2))
	assert.NoError(t, p.Err())
}

func TestProducer_SubscribeExhaustedIsFatal(t *testing.T) {
	src := testutil.NewFakeSource()
	src.FailSubscribe(10)

	cfg := testConfig()
	cfg.MaxRetries = 1
	p := newTestProducer(t, src, cfg)

	blocks, err := p.Start(context.Background(), 9)
	require.NoError(t, err)

	assert.Empty(t, waitClosed(t, blocks))

	var fatal *FatalSubscriptionError
	require.ErrorAs(t, p.Err(), &fatal)
	assert.Equal(t, uint64(9), fatal.Block)
	assert.Equal(t, 2, fatal.Attempts)
	assert.ErrorIs(t, p.Err(), testutil.ErrTransient)
}

func TestProducer_StopLetsInFlightFetchFinish(t *testing.T) {
	src := testutil.NewFakeSource()
	src.SetFetchDelay(100 * time.Millisecond)
	p := newTestProducer(t, src, testConfig())

	blocks, err := p.Start(context.Background(), 1)
	require.NoError(t, err)
	src.Announce(3)

	select {
	case n := <-src.FetchStarted():
		assert.Equal(t, uint64(1), n)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not start")
	}

	start := time.Now()
	p.Stop()
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "stop must wait for the in-flight fetch")

	got := waitClosed(t, blocks)
	assert.LessOrEqual(t, len(got), 1)
	assert.NoError(t, p.Err())
	assert.Equal(t, []uint64{1}, src.FetchCalls(), "no new fetch after stop")
}

func TestProducer_ParentCancellation(t *testing.T) {
	src := testutil.NewFakeSource()
	p := newTestProducer(t, src, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	blocks, err := p.Start(ctx, 1)
	require.NoError(t, err)

	cancel()
	waitClosed(t, blocks)
	<-p.Done()
	assert.NoError(t, p.Err())
}

func TestProducer_StartTwice(t *testing.T) {
	p := newTestProducer(t, testutil.NewFakeSource(), testConfig())

	_, err := p.Start(context.Background(), 0)
	require.NoError(t, err)

	_, err = p.Start(context.Background(), 0)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestProducer_StopBeforeStart(t *testing.T) {
	p, err := New(testutil.NewFakeSource(), testConfig(), nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}

func TestProducer_RateLimited(t *testing.T) {
	src := testutil.NewFakeSource()
	cfg := testConfig()
	cfg.RateLimit = 1000
	cfg.RateBurst = 1
	p := newTestProducer(t, src, cfg)

	blocks, err := p.Start(context.Background(), 1)
	require.NoError(t, err)
	src.Announce(4)

	assert.Equal(t, []uint64{1, 2, 3, 4}, receive(t, blocks, 4))
}

func TestGapRange(t *testing.T) {
	gap, ok := gapBefore(4, 7)
	require.True(t, ok)
	assert.Equal(t, GapRange{Start: 4, End: 6}, gap)
	assert.Equal(t, uint64(3), gap.Size())

	_, ok = gapBefore(4, 4)
	assert.False(t, ok)

	assert.Equal(t, uint64(0), GapRange{Start: 5, End: 4}.Size())
}
