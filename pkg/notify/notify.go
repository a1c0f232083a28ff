// Package notify publishes a summary of every committed block to downstream
// consumers. Delivery is best effort: the index builder logs failures and
// never lets them affect the cursor.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidConfiguration is returned for invalid notifier configuration
var ErrInvalidConfiguration = errors.New("invalid notifier configuration")

// Commit summarizes one committed block
type Commit struct {
	Block        uint64      `json:"block_number"`
	Hash         common.Hash `json:"block_hash"`
	Events       int         `json:"events"`
	Handled      int         `json:"handled"`
	Unrecognized int         `json:"unrecognized"`
	Skipped      int         `json:"skipped"`
	At           time.Time   `json:"committed_at"`
}

// Marshal encodes the commit as JSON
func (c Commit) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Notifier publishes commit summaries
type Notifier interface {
	Notify(ctx context.Context, commit Commit) error
	Close() error
}

// Nop discards every notification
type Nop struct{}

func (Nop) Notify(context.Context, Commit) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans a commit out to several notifiers
type Multi []Notifier

// Notify delivers to every notifier and joins their errors
func (m Multi) Notify(ctx context.Context, commit Commit) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, commit); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every notifier and joins their errors
func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
