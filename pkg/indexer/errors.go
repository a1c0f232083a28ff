package indexer

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned when Start is called more than once
	ErrAlreadyStarted = errors.New("index builder already started")

	// ErrOutOfOrder is returned when a block does not follow the cursor
	ErrOutOfOrder = errors.New("block out of order")

	// ErrHandlerPanic wraps a recovered handler panic
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrHandlerTimeout wraps a handler that outlived its deadline
	ErrHandlerTimeout = errors.New("handler timed out")
)

// UnrecognizedEventError describes an event without a registered handler.
// It is informational only and never fails the pipeline.
type UnrecognizedEventError struct {
	Block      uint64
	EventIndex uint32
	Method     string
}

func (e *UnrecognizedEventError) Error() string {
	return fmt.Sprintf("unrecognized event %s at block %d index %d", e.Method, e.Block, e.EventIndex)
}

// HandlerError is a failure inside a registered handler
type HandlerError struct {
	Block      uint64
	EventIndex uint32
	Method     string
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed at block %d index %d: %v", e.Method, e.Block, e.EventIndex, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
