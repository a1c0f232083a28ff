package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0xmhha/event-indexer/pkg/types"
)

// RPCClient is the subset of the JSON-RPC client used by EVMSource
type RPCClient interface {
	FinalizedHeader(ctx context.Context) (*gethtypes.Header, error)
	HeaderByNumber(ctx context.Context, number uint64) (*gethtypes.Header, error)
	LogsByBlockHash(ctx context.Context, hash common.Hash, addresses []common.Address) ([]gethtypes.Log, error)
}

// EVMConfig holds EVMSource configuration
type EVMConfig struct {
	// PollInterval is how often the finalized tag is polled
	PollInterval time.Duration

	// AllContracts fetches logs of every contract instead of only registered ones
	AllContracts bool
}

// EVMSource reads finalized heads and decoded logs from an EVM node
type EVMSource struct {
	client  RPCClient
	decoder *Decoder
	config  EVMConfig
	logger  *zap.Logger
}

// NewEVMSource creates a new EVM source
func NewEVMSource(client RPCClient, decoder *Decoder, cfg EVMConfig, logger *zap.Logger) (*EVMSource, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if decoder == nil {
		decoder = NewDecoder()
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EVMSource{
		client:  client,
		decoder: decoder,
		config:  cfg,
		logger:  logger,
	}, nil
}

// HeaderByNumber implements Source
func (s *EVMSource) HeaderByNumber(ctx context.Context, number uint64) (Head, error) {
	header, err := s.client.HeaderByNumber(ctx, number)
	if err != nil {
		return Head{}, err
	}
	return headOf(header), nil
}

// FetchEvents implements Source
func (s *EVMSource) FetchEvents(ctx context.Context, hash common.Hash) ([]types.Event, error) {
	var addresses []common.Address
	if !s.config.AllContracts {
		addresses = s.decoder.Addresses()
		if len(addresses) == 0 {
			return nil, nil
		}
	}

	logs, err := s.client.LogsByBlockHash(ctx, hash, addresses)
	if err != nil {
		return nil, err
	}

	events := make([]types.Event, 0, len(logs))
	for i := range logs {
		if logs[i].Removed {
			continue
		}
		events = append(events, s.decoder.Decode(&logs[i]))
	}
	return events, nil
}

// SubscribeFinalizedHeads implements Source by polling the finalized tag.
// The first poll always reports the current finalized head.
func (s *EVMSource) SubscribeFinalizedHeads(ctx context.Context, ch chan<- Head) (Subscription, error) {
	// Fail fast if the node cannot serve the finalized tag at all
	header, err := s.client.FinalizedHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to finalized heads: %w", err)
	}

	sub := &pollSubscription{
		errCh:  make(chan error, 1),
		quit:   make(chan struct{}),
		logger: s.logger,
	}
	sub.wg.Add(1)
	go sub.loop(ctx, s.client, s.config.PollInterval, headOf(header), ch)
	return sub, nil
}

func headOf(h *gethtypes.Header) Head {
	return Head{
		Number:    h.Number.Uint64(),
		Hash:      h.Hash(),
		Timestamp: time.Unix(int64(h.Time), 0).UTC(),
	}
}

type pollSubscription struct {
	errCh  chan error
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

func (p *pollSubscription) Err() <-chan error {
	return p.errCh
}

func (p *pollSubscription) Unsubscribe() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

func (p *pollSubscription) loop(ctx context.Context, client RPCClient, interval time.Duration, first Head, ch chan<- Head) {
	defer p.wg.Done()

	if !p.deliver(ctx, ch, first) {
		return
	}
	last := first.Number

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-ticker.C:
		}

		header, err := client.FinalizedHeader(ctx)
		if err != nil {
			p.logger.Warn("Finalized head poll failed", zap.Error(err))
			p.errCh <- err
			return
		}

		head := headOf(header)
		if head.Number <= last {
			continue
		}
		if !p.deliver(ctx, ch, head) {
			return
		}
		last = head.Number
	}
}

func (p *pollSubscription) deliver(ctx context.Context, ch chan<- Head, head Head) bool {
	select {
	case ch <- head:
		return true
	case <-ctx.Done():
		return false
	case <-p.quit:
		return false
	}
}
