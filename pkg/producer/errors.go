package producer

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("producer already started")

	// ErrNilSource is returned when constructing a producer without a source
	ErrNilSource = errors.New("source cannot be nil")
)

// TransientFetchError is a single failed attempt to fetch a block.
// It is retried and only surfaces wrapped in a FatalSubscriptionError.
type TransientFetchError struct {
	Block   uint64
	Attempt int
	Err     error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch block %d (attempt %d): %v", e.Block, e.Attempt, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// FatalSubscriptionError halts the producer: the source is unreachable or a
// block could not be fetched within the retry budget, so the sequence cannot
// continue without a gap.
type FatalSubscriptionError struct {
	// Block is the first block that was not emitted
	Block    uint64
	Attempts int
	Err      error
}

func (e *FatalSubscriptionError) Error() string {
	return fmt.Sprintf("producer halted at block %d after %d attempts: %v", e.Block, e.Attempts, e.Err)
}

func (e *FatalSubscriptionError) Unwrap() error { return e.Err }

// IsFatal reports whether err halted the producer
func IsFatal(err error) bool {
	var fatal *FatalSubscriptionError
	return errors.As(err, &fatal)
}
