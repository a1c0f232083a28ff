package indexer

import (
	"time"

	"github.com/0xmhha/event-indexer/pkg/types"
)

// Failure records why the pipeline entered Failed, with enough context to
// replay manually from LastCursor.
type Failure struct {
	Block uint64 `json:"block"`

	// EventIndex is -1 when the failure is not tied to a single event
	EventIndex int64        `json:"event_index"`
	Method     string       `json:"method,omitempty"`
	LastCursor types.Cursor `json:"last_cursor"`
	Err        error        `json:"-"`
	Error      string       `json:"error"`
	At         time.Time    `json:"at"`
}

func newFailure(block uint64, cursor types.Cursor, err error) *Failure {
	return &Failure{
		Block:      block,
		EventIndex: -1,
		LastCursor: cursor,
		Err:        err,
		Error:      err.Error(),
		At:         time.Now(),
	}
}

// Status is a point-in-time snapshot of the builder
type Status struct {
	State              State        `json:"state"`
	Mode               Mode         `json:"mode"`
	Cursor             types.Cursor `json:"cursor"`
	BlocksProcessed    uint64       `json:"blocks_processed"`
	EventsHandled      uint64       `json:"events_handled"`
	EventsUnrecognized uint64       `json:"events_unrecognized"`
	EventsSkipped      uint64       `json:"events_skipped"`
	LastCommit         *time.Time   `json:"last_commit,omitempty"`
	Failure            *Failure     `json:"failure,omitempty"`
}

// Healthy reports whether the pipeline has not failed
func (s Status) Healthy() bool {
	return s.State != StateFailed
}

// Status returns a snapshot of the builder
func (b *Builder) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Status{
		State:              b.State(),
		Mode:               b.config.Mode,
		Cursor:             b.cursor,
		BlocksProcessed:    b.stats.blocks,
		EventsHandled:      b.stats.handled,
		EventsUnrecognized: b.stats.unrecognized,
		EventsSkipped:      b.stats.skipped,
	}
	if !b.stats.lastCommit.IsZero() {
		t := b.stats.lastCommit
		st.LastCommit = &t
	}
	if b.failure != nil {
		f := *b.failure
		st.Failure = &f
	}
	return st
}
