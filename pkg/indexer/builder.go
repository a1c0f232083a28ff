// Package indexer consumes event blocks from the producer, dispatches every
// event to its registered handler and commits handler writes together with the
// cursor, one block at a time.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/event-indexer/internal/constants"
	"github.com/0xmhha/event-indexer/internal/logger"
	"github.com/0xmhha/event-indexer/pkg/metrics"
	"github.com/0xmhha/event-indexer/pkg/notify"
	"github.com/0xmhha/event-indexer/pkg/producer"
	"github.com/0xmhha/event-indexer/pkg/registry"
	"github.com/0xmhha/event-indexer/pkg/source"
	"github.com/0xmhha/event-indexer/pkg/storage"
	"github.com/0xmhha/event-indexer/pkg/types"
)

// BlockProducer is the block stream consumed by the builder
type BlockProducer interface {
	Start(ctx context.Context, from uint64) (<-chan *types.EventBlock, error)
	Stop()
	Err() error
}

// Config holds index builder configuration
type Config struct {
	// Mode is strict (default) or lenient
	Mode Mode

	// StartHeight is the first block when no cursor is persisted
	StartHeight uint64

	// HandlerTimeout bounds each handler call (0 = unbounded)
	HandlerTimeout time.Duration

	// NotifyTimeout bounds each commit notification
	NotifyTimeout time.Duration
}

// DefaultConfig returns the default builder configuration
func DefaultConfig() *Config {
	return &Config{
		Mode:           ModeStrict,
		HandlerTimeout: constants.DefaultHandlerTimeout,
		NotifyTimeout:  constants.DefaultNotifyTimeout,
	}
}

// Validate validates the builder configuration
func (c *Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.HandlerTimeout < 0 {
		return fmt.Errorf("handler timeout cannot be negative")
	}
	if c.NotifyTimeout < 0 {
		return fmt.Errorf("notify timeout cannot be negative")
	}
	return nil
}

// Option configures a Builder
type Option func(*Builder)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) {
		b.metrics = m
	}
}

// WithNotifier sets the commit notifier
func WithNotifier(n notify.Notifier) Option {
	return func(b *Builder) {
		b.notifier = n
	}
}

// counters are guarded by Builder.mu
type counters struct {
	blocks       uint64
	handled      uint64
	unrecognized uint64
	skipped      uint64
	lastCommit   time.Time
}

// Builder is the index builder. It owns the cursor and the store; a Builder
// runs once and cannot be restarted after it stops or fails.
type Builder struct {
	producer BlockProducer
	registry *registry.Registry
	store    storage.Store
	config   Config
	logger   *zap.Logger
	base     *zap.Logger
	metrics  *metrics.Metrics
	notifier notify.Notifier

	state   atomic.Int32
	started atomic.Bool

	mu      sync.RWMutex
	cursor  types.Cursor
	failure *Failure
	stats   counters

	stopReq  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	runErr   error
}

func newBuilder(reg *registry.Registry, store storage.Store, cfg *Config, opts []Option) (*Builder, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid indexer config: %w", err)
	}

	config := *cfg
	if config.Mode == "" {
		config.Mode = ModeStrict
	}
	if config.NotifyTimeout == 0 {
		config.NotifyTimeout = constants.DefaultNotifyTimeout
	}

	b := &Builder{
		registry: reg,
		store:    store,
		config:   config,
		logger:   zap.NewNop(),
		stopReq:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.base = b.logger
	b.logger = logger.WithComponent(b.logger, "indexer")
	return b, nil
}

// New creates a builder over an existing producer
func New(p BlockProducer, reg *registry.Registry, store storage.Store, cfg *Config, opts ...Option) (*Builder, error) {
	if p == nil {
		return nil, fmt.Errorf("producer cannot be nil")
	}
	b, err := newBuilder(reg, store, cfg, opts)
	if err != nil {
		return nil, err
	}
	b.producer = p
	return b, nil
}

// Create builds the producer for src and returns a builder wired to it
func Create(src source.Source, reg *registry.Registry, store storage.Store, cfg *Config, producerCfg *producer.Config, opts ...Option) (*Builder, error) {
	b, err := newBuilder(reg, store, cfg, opts)
	if err != nil {
		return nil, err
	}
	p, err := producer.New(src, producerCfg, b.base, producer.WithMetrics(b.metrics))
	if err != nil {
		return nil, err
	}
	b.producer = p
	return b, nil
}

// State returns the current lifecycle state
func (b *Builder) State() State {
	return State(b.state.Load())
}

func (b *Builder) setState(to State) {
	from := State(b.state.Swap(int32(to)))
	if from == to {
		return
	}
	b.metrics.SetState(to.String(), allStateNames())
	b.logger.Info("Pipeline state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

func (b *Builder) transition(from, to State) bool {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	b.metrics.SetState(to.String(), allStateNames())
	b.logger.Info("Pipeline state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	return true
}

// Cursor returns the last committed block
func (b *Builder) Cursor() types.Cursor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cursor
}

// Failure returns the failure record once the builder has failed
func (b *Builder) Failure() *Failure {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.failure == nil {
		return nil
	}
	f := *b.failure
	return &f
}

// Done is closed when the consumption loop has exited
func (b *Builder) Done() <-chan struct{} {
	return b.done
}

// Start loads the cursor, starts the producer after it and begins consuming
// blocks in the background.
func (b *Builder) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	b.setState(StateStarting)

	cursor, err := b.store.LoadCursor(ctx)
	if err != nil {
		err = fmt.Errorf("failed to load cursor: %w", err)
		b.fail(newFailure(b.config.StartHeight, types.Cursor{}, err))
		close(b.done)
		return err
	}

	b.mu.Lock()
	b.cursor = cursor
	b.mu.Unlock()

	from := cursor.Next(b.config.StartHeight)
	b.logger.Info("Starting index builder",
		zap.Stringer("cursor", cursor),
		zap.Uint64("from", from),
		zap.String("mode", string(b.config.Mode)),
		zap.Int("handlers", b.registry.Len()),
	)

	blocks, err := b.producer.Start(ctx, from)
	if err != nil {
		err = fmt.Errorf("failed to start producer: %w", err)
		b.fail(newFailure(from, cursor, err))
		close(b.done)
		return err
	}

	go b.run(ctx, blocks)
	return nil
}

// Run starts the builder and blocks until it stops or fails
func (b *Builder) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	return b.Wait()
}

// Wait blocks until the consumption loop exits. It returns nil after a
// requested stop and the failure cause otherwise. A builder that was never
// started returns nil immediately.
func (b *Builder) Wait() error {
	if !b.started.Load() {
		return nil
	}
	<-b.done
	return b.runErr
}

// Stop requests a cooperative stop: the block in progress is finished and
// committed first. It waits until the loop exits or ctx is done.
func (b *Builder) Stop(ctx context.Context) error {
	if !b.started.Load() {
		return nil
	}

	if !b.transition(StateRunning, StateStopping) {
		b.transition(StateStarting, StateStopping)
	}
	b.stopOnce.Do(func() { close(b.stopReq) })

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Builder) stopRequested(ctx context.Context) bool {
	select {
	case <-b.stopReq:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (b *Builder) run(ctx context.Context, blocks <-chan *types.EventBlock) {
	defer close(b.done)
	defer b.producer.Stop()

	for {
		// stop and cancellation are honored between blocks only
		if b.stopRequested(ctx) {
			b.finishStopped()
			return
		}

		var block *types.EventBlock
		var ok bool
		select {
		case <-b.stopReq:
			b.finishStopped()
			return
		case <-ctx.Done():
			b.finishStopped()
			return
		case block, ok = <-blocks:
		}

		if !ok {
			if err := b.producer.Err(); err != nil {
				cursor := b.Cursor()
				next := cursor.Next(b.config.StartHeight)
				var fatal *producer.FatalSubscriptionError
				if errors.As(err, &fatal) {
					next = fatal.Block
				}
				b.fail(newFailure(next, cursor, err))
				return
			}
			b.finishStopped()
			return
		}

		b.transition(StateStarting, StateRunning)

		if err := b.processBlock(ctx, block); err != nil {
			b.fail(b.failureFor(block, err))
			return
		}
	}
}

func (b *Builder) finishStopped() {
	if b.State() != StateFailed {
		b.setState(StateStopped)
	}
	b.logger.Info("Index builder stopped", zap.Stringer("cursor", b.Cursor()))
}

func (b *Builder) failureFor(block *types.EventBlock, err error) *Failure {
	f := newFailure(block.Number, b.Cursor(), err)
	var herr *HandlerError
	if errors.As(err, &herr) {
		f.EventIndex = int64(herr.EventIndex)
		f.Method = herr.Method
	}
	return f
}

func (b *Builder) fail(f *Failure) {
	b.mu.Lock()
	b.failure = f
	b.mu.Unlock()
	b.runErr = f.Err

	b.setState(StateFailed)
	b.logger.Error("Pipeline failed",
		zap.Uint64("block", f.Block),
		zap.Int64("event_index", f.EventIndex),
		zap.String("method", f.Method),
		zap.Stringer("last_cursor", f.LastCursor),
		zap.Error(f.Err),
	)
}
