package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/event-indexer/pkg/source"
	"github.com/0xmhha/event-indexer/pkg/types"
)

// ErrTransient is returned by scripted transient failures
var ErrTransient = errors.New("transient source failure")

// HashOf returns the deterministic hash FakeSource uses for block n
func HashOf(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

func numberOf(hash common.Hash) uint64 {
	return new(big.Int).SetBytes(hash.Bytes()).Uint64()
}

// FakeSource is a scripted source.Source. Heads are pushed with Announce and
// reach whichever subscription is active; failures are injected per block.
type FakeSource struct {
	mu sync.Mutex

	events       map[uint64][]types.Event
	fetchFails   map[uint64]int
	fetchErrs    map[uint64]error
	subFails     int
	fetchDelay   time.Duration
	fetchCalls   []uint64
	headerCalls  []uint64
	subscribes   int
	active       *fakeSubscription
	fetchStarted chan uint64

	feed chan source.Head
}

// NewFakeSource creates an empty fake source
func NewFakeSource() *FakeSource {
	return &FakeSource{
		events:       make(map[uint64][]types.Event),
		fetchFails:   make(map[uint64]int),
		fetchErrs:    make(map[uint64]error),
		feed:         make(chan source.Head, 256),
		fetchStarted: make(chan uint64, 256),
	}
}

// SetEvents scripts the events of block n
func (f *FakeSource) SetEvents(n uint64, events ...types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[n] = events
}

// SetMethods scripts block n with one event per method
func (f *FakeSource) SetMethods(n uint64, methods ...string) {
	events := make([]types.Event, len(methods))
	for i, m := range methods {
		events[i] = NewEvent(m)
	}
	f.SetEvents(n, events...)
}

// FailFetch makes the next `times` fetches of block n fail with ErrTransient
func (f *FakeSource) FailFetch(n uint64, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchFails[n] = times
}

// FailFetchAlways makes every fetch of block n fail with err
func (f *FakeSource) FailFetchAlways(n uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrs[n] = err
}

// FailSubscribe makes the next `times` subscription attempts fail
func (f *FakeSource) FailSubscribe(times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subFails = times
}

// SetFetchDelay delays every fetch by d
func (f *FakeSource) SetFetchDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchDelay = d
}

// Announce publishes finalized heads in the given order
func (f *FakeSource) Announce(numbers ...uint64) {
	for _, n := range numbers {
		f.feed <- source.Head{
			Number:    n,
			Hash:      HashOf(n),
			Timestamp: time.Unix(int64(n), 0).UTC(),
		}
	}
}

// BreakSubscription fails the active subscription with err
func (f *FakeSource) BreakSubscription(err error) {
	f.mu.Lock()
	sub := f.active
	f.mu.Unlock()
	if sub != nil {
		sub.errCh <- err
	}
}

// FetchCalls returns the block numbers of every FetchEvents call in order
func (f *FakeSource) FetchCalls() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.fetchCalls...)
}

// HeaderCalls returns the block numbers of every HeaderByNumber call in order
func (f *FakeSource) HeaderCalls() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.headerCalls...)
}

// Subscribes returns the number of successful subscriptions
func (f *FakeSource) Subscribes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

// FetchStarted receives the block number whenever a fetch begins
func (f *FakeSource) FetchStarted() <-chan uint64 {
	return f.fetchStarted
}

// SubscribeFinalizedHeads implements source.Source
func (f *FakeSource) SubscribeFinalizedHeads(ctx context.Context, ch chan<- source.Head) (source.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subFails > 0 {
		f.subFails--
		return nil, ErrTransient
	}

	sub := &fakeSubscription{
		errCh: make(chan error, 1),
		quit:  make(chan struct{}),
	}
	f.subscribes++
	f.active = sub

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.quit:
				return
			case head := <-f.feed:
				select {
				case ch <- head:
				case <-ctx.Done():
					return
				case <-sub.quit:
					// hand the head to the next subscription
					f.feed <- head
					return
				}
			}
		}
	}()
	return sub, nil
}

// HeaderByNumber implements source.Source
func (f *FakeSource) HeaderByNumber(ctx context.Context, number uint64) (source.Head, error) {
	f.mu.Lock()
	f.headerCalls = append(f.headerCalls, number)
	f.mu.Unlock()

	return source.Head{
		Number:    number,
		Hash:      HashOf(number),
		Timestamp: time.Unix(int64(number), 0).UTC(),
	}, nil
}

// FetchEvents implements source.Source
func (f *FakeSource) FetchEvents(ctx context.Context, hash common.Hash) ([]types.Event, error) {
	n := numberOf(hash)

	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, n)
	delay := f.fetchDelay
	var err error
	if permanent, ok := f.fetchErrs[n]; ok {
		err = permanent
	} else if f.fetchFails[n] > 0 {
		f.fetchFails[n]--
		err = ErrTransient
	}
	events := append([]types.Event(nil), f.events[n]...)
	f.mu.Unlock()

	select {
	case f.fetchStarted <- n:
	default:
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return events, nil
}

type fakeSubscription struct {
	errCh chan error
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func (s *fakeSubscription) Err() <-chan error {
	return s.errCh
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.quit) })
	s.wg.Wait()
}
