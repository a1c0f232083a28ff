// Package producer turns finalized-head notifications into a gap-free,
// strictly ascending sequence of event blocks delivered over a bounded channel.
package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0xmhha/event-indexer/internal/constants"
	"github.com/0xmhha/event-indexer/pkg/metrics"
	"github.com/0xmhha/event-indexer/pkg/retry"
	"github.com/0xmhha/event-indexer/pkg/source"
	"github.com/0xmhha/event-indexer/pkg/types"
)

// Config holds producer configuration
type Config struct {
	// BufferSize is the capacity of the output channel. When it is full the
	// producer blocks instead of dropping blocks.
	BufferSize int

	// MaxRetries is the maximum number of retries for a failed block fetch
	MaxRetries int

	// RetryDelay is the delay before the first retry; it doubles on every retry
	RetryDelay time.Duration

	// MaxRetryDelay caps a single backoff delay (0 = uncapped)
	MaxRetryDelay time.Duration

	// FetchTimeout bounds a single fetch attempt
	FetchTimeout time.Duration

	// RateLimit is the maximum number of fetch attempts per second (0 = unlimited)
	RateLimit float64

	// RateBurst is the limiter burst size
	RateBurst int
}

// DefaultConfig returns the default producer configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize:    constants.DefaultProducerBufferSize,
		MaxRetries:    constants.DefaultMaxRetries,
		RetryDelay:    constants.DefaultRetryDelay,
		MaxRetryDelay: constants.DefaultMaxRetryDelay,
		FetchTimeout:  constants.DefaultFetchTimeout,
		RateBurst:     constants.DefaultFetchRateBurst,
	}
}

// Validate validates the producer configuration
func (c *Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate burst must be positive when rate limit is set")
	}
	return c.policy().Validate()
}

func (c *Config) policy() retry.Policy {
	return retry.Policy{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.RetryDelay,
		MaxDelay:   c.MaxRetryDelay,
	}
}

// Option configures a Producer
type Option func(*Producer)

// WithMetrics sets the metrics collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Producer) {
		p.metrics = m
	}
}

// Producer fetches the events of every finalized block exactly once and in
// order. It is single use: once stopped or failed it cannot be restarted.
type Producer struct {
	src     source.Source
	config  *Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	mu      sync.Mutex
	started bool
	err     error

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a new producer
func New(src source.Source, cfg *Config, logger *zap.Logger, opts ...Option) (*Producer, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid producer config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Producer{
		src:    src,
		config: cfg,
		logger: logger.With(zap.String("component", "producer")),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start subscribes to finalized heads and begins emitting blocks from block
// `from` onwards. The returned channel is closed when the producer stops or
// fails; Err tells the two apart.
func (p *Producer) Start(ctx context.Context, from uint64) (<-chan *types.EventBlock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil, ErrAlreadyStarted
	}
	p.started = true

	out := make(chan *types.EventBlock, p.config.BufferSize)

	// runCtx ends on Stop as well as on parent cancellation. It aborts
	// backoff sleeps and pending sends but never an in-flight fetch attempt.
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-p.stopCh:
		case <-runCtx.Done():
		}
		cancel()
	}()

	p.logger.Info("Starting block producer",
		zap.Uint64("from", from),
		zap.Int("buffer_size", p.config.BufferSize),
		zap.Int("max_retries", p.config.MaxRetries),
	)

	go p.run(runCtx, from, out)
	return out, nil
}

// Stop unsubscribes and waits for the producer to exit. An in-flight fetch
// attempt is allowed to finish; a block that was fetched but not yet delivered
// is dropped. Stop is idempotent.
func (p *Producer) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	if started {
		<-p.done
	}
}

// Done is closed once the producer has exited
func (p *Producer) Done() <-chan struct{} {
	return p.done
}

// Err returns the fatal error that halted the producer, if any
func (p *Producer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Producer) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()

	p.logger.Error("Block producer halted", zap.Error(err))
}

func (p *Producer) stopping() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *Producer) run(ctx context.Context, from uint64, out chan<- *types.EventBlock) {
	defer close(p.done)
	defer close(out)

	next := from

	sub, heads, err := p.subscribe(ctx, next)
	if err != nil {
		if ctx.Err() == nil {
			p.fail(err)
		}
		return
	}
	defer func() { sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Block producer stopped", zap.Uint64("next", next))
			return

		case subErr := <-sub.Err():
			p.logger.Warn("Head subscription lost, resubscribing",
				zap.Uint64("next", next),
				zap.Error(subErr),
			)
			sub.Unsubscribe()
			newSub, newHeads, err := p.subscribe(ctx, next)
			if err != nil {
				if ctx.Err() == nil {
					p.fail(err)
				}
				return
			}
			sub, heads = newSub, newHeads
			p.metrics.RecordResubscribe()

		case head := <-heads:
			p.metrics.SetChainHead(head.Number)
			if head.Number < next {
				p.logger.Debug("Ignoring already emitted head",
					zap.Uint64("head", head.Number),
					zap.Uint64("next", next),
				)
				continue
			}

			if gap, ok := gapBefore(next, head.Number); ok {
				p.logger.Info("Filling gap",
					zap.Uint64("start", gap.Start),
					zap.Uint64("end", gap.End),
					zap.Uint64("size", gap.Size()),
				)
			}

			for n := next; n <= head.Number; n++ {
				if p.stopping() {
					return
				}

				var known *source.Head
				if n == head.Number {
					known = &head
				}

				block, err := p.fetchBlock(ctx, n, known)
				if err != nil {
					if ctx.Err() == nil {
						p.fail(err)
					}
					return
				}

				select {
				case out <- block:
				case <-ctx.Done():
					return
				}

				p.metrics.RecordBlockEmitted(n < head.Number)
				next = n + 1
			}
		}
	}
}

// subscribe opens a head subscription under the retry policy
func (p *Producer) subscribe(ctx context.Context, next uint64) (source.Subscription, chan source.Head, error) {
	heads := make(chan source.Head, constants.DefaultHeadBufferSize)

	var sub source.Subscription
	attempts := 0
	err := retry.Do(ctx, p.config.policy(), func(ctx context.Context) error {
		attempts++
		s, err := p.src.SubscribeFinalizedHeads(ctx, heads)
		if err != nil {
			return err
		}
		sub = s
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		p.logger.Warn("Retrying head subscription",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", p.config.MaxRetries),
			zap.Duration("backoff_delay", delay),
			zap.Error(err),
		)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, &FatalSubscriptionError{Block: next, Attempts: attempts, Err: unwrapExhausted(err)}
	}
	return sub, heads, nil
}

// fetchBlock fetches one block with exponential backoff. known carries the
// head notification when n is the announced head, saving a header lookup.
func (p *Producer) fetchBlock(ctx context.Context, n uint64, known *source.Head) (*types.EventBlock, error) {
	start := time.Now()
	defer func() { p.metrics.ObserveFetch(time.Since(start)) }()

	head := known
	var block *types.EventBlock
	attempts := 0

	err := retry.Do(ctx, p.config.policy(), func(ctx context.Context) error {
		attempts++
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		// The attempt survives Stop and parent cancellation, bounded by FetchTimeout
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.FetchTimeout)
		defer cancel()

		if head == nil {
			h, err := p.src.HeaderByNumber(callCtx, n)
			if err != nil {
				return &TransientFetchError{Block: n, Attempt: attempts, Err: err}
			}
			head = &h
		}

		events, err := p.src.FetchEvents(callCtx, head.Hash)
		if err != nil {
			return &TransientFetchError{Block: n, Attempt: attempts, Err: err}
		}

		block = newEventBlock(n, head.Hash, head.Timestamp, events)
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		p.metrics.RecordFetchRetry()
		p.logger.Warn("Retrying block fetch",
			zap.Uint64("block", n),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", p.config.MaxRetries),
			zap.Duration("backoff_delay", delay),
			zap.Error(err),
		)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &FatalSubscriptionError{Block: n, Attempts: attempts, Err: unwrapExhausted(err)}
	}

	p.logger.Debug("Fetched block",
		zap.Uint64("block", n),
		zap.Int("events", len(block.Events)),
		zap.Int("attempts", attempts),
	)
	return block, nil
}

// newEventBlock stamps every event with its block number and position
func newEventBlock(n uint64, hash common.Hash, ts time.Time, events []types.Event) *types.EventBlock {
	stamped := make([]types.Event, len(events))
	copy(stamped, events)
	for i := range stamped {
		stamped[i].BlockNumber = n
		stamped[i].Index = uint32(i)
	}
	return &types.EventBlock{
		Number:    n,
		Hash:      hash,
		Timestamp: ts,
		Events:    stamped,
	}
}

func unwrapExhausted(err error) error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Err
	}
	return err
}
