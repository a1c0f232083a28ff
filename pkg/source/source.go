// Package source defines the chain event source consumed by the block producer
// and provides an EVM implementation over JSON-RPC.
package source

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/event-indexer/pkg/types"
)

// Head is a finalized block header notification
type Head struct {
	Number    uint64
	Hash      common.Hash
	Timestamp time.Time
}

// Subscription defines the interface for subscription management
type Subscription interface {
	// Err delivers at most one error when the subscription breaks
	Err() <-chan error

	// Unsubscribe stops delivery; it is safe to call more than once
	Unsubscribe()
}

// Source supplies finalized heads and the events of a block.
// Heads arrive in order but may skip numbers.
type Source interface {
	// SubscribeFinalizedHeads delivers every newly finalized head to ch
	SubscribeFinalizedHeads(ctx context.Context, ch chan<- Head) (Subscription, error)

	// HeaderByNumber resolves the canonical finalized head at number
	HeaderByNumber(ctx context.Context, number uint64) (Head, error)

	// FetchEvents returns all events of the block in on-chain order.
	// BlockNumber and Index are assigned by the producer.
	FetchEvents(ctx context.Context, hash common.Hash) ([]types.Event, error)
}
