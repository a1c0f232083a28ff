package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/event-indexer/internal/logger"
	"github.com/0xmhha/event-indexer/pkg/metrics"
	"github.com/0xmhha/event-indexer/pkg/notify"
	"github.com/0xmhha/event-indexer/pkg/registry"
	"github.com/0xmhha/event-indexer/pkg/storage"
	"github.com/0xmhha/event-indexer/pkg/types"
)

// processBlock dispatches every event of block in index order and commits the
// handler writes together with the cursor. Nothing is persisted on error.
func (b *Builder) processBlock(ctx context.Context, block *types.EventBlock) error {
	start := time.Now()

	cursor := b.Cursor()
	if expected := cursor.Next(b.config.StartHeight); block.Number != expected {
		return fmt.Errorf("%w: got block %d, expected %d", ErrOutOfOrder, block.Number, expected)
	}
	if err := block.Validate(); err != nil {
		return err
	}

	// A started block always runs to completion, so parent cancellation is
	// detached here and only handler timeouts apply.
	dispatchCtx := context.WithoutCancel(ctx)

	tx, err := b.store.Begin(dispatchCtx, block.Number)
	if err != nil {
		return fmt.Errorf("failed to begin block %d: %w", block.Number, err)
	}
	defer tx.Discard()

	summary := notify.Commit{
		Block:  block.Number,
		Hash:   block.Hash,
		Events: len(block.Events),
	}

	for i := range block.Events {
		ev := block.Events[i]

		handler, ok := b.registry.Lookup(ev.Method)
		if !ok {
			b.logger.Info("Unrecognized event", append(logger.EventFields(&ev),
				zap.Stringer("phase", ev.Phase),
				zap.Any("params", ev.Params),
				zap.Error(&UnrecognizedEventError{Block: ev.BlockNumber, EventIndex: ev.Index, Method: ev.Method}),
			)...)
			summary.Unrecognized++
			b.metrics.RecordEvent(metrics.OutcomeUnrecognized)
			continue
		}

		b.logger.Debug("Recognized event", logger.EventFields(&ev)...)

		overlay := storage.NewOverlay(tx)
		if err := b.invoke(dispatchCtx, &ev, handler, overlay); err != nil {
			herr := &HandlerError{
				Block:      ev.BlockNumber,
				EventIndex: ev.Index,
				Method:     ev.Method,
				Err:        err,
			}
			if b.config.Mode == ModeStrict {
				b.metrics.RecordEvent(metrics.OutcomeFailed)
				return herr
			}

			b.logger.Warn("Skipping failed event", append(logger.EventFields(&ev),
				zap.Int("discarded_writes", overlay.Len()),
				zap.Error(err),
			)...)
			summary.Skipped++
			b.metrics.RecordEvent(metrics.OutcomeSkipped)
			continue
		}

		if err := overlay.Flush(); err != nil {
			return fmt.Errorf("failed to stage writes of event %s: %w", ev.ID(), err)
		}
		summary.Handled++
		b.metrics.RecordEvent(metrics.OutcomeHandled)
	}

	if err := tx.Commit(dispatchCtx); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", block.Number, err)
	}
	summary.At = time.Now()

	b.mu.Lock()
	b.cursor = types.NewCursor(block.Number)
	b.stats.blocks++
	b.stats.handled += uint64(summary.Handled)
	b.stats.unrecognized += uint64(summary.Unrecognized)
	b.stats.skipped += uint64(summary.Skipped)
	b.stats.lastCommit = summary.At
	b.mu.Unlock()

	b.metrics.RecordCommit(block.Number, time.Since(start))
	b.logger.Debug("Committed block", append(logger.BlockFields(block),
		zap.Int("handled", summary.Handled),
		zap.Int("unrecognized", summary.Unrecognized),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", time.Since(start)),
	)...)

	b.notify(dispatchCtx, summary)
	return nil
}

// invoke runs one handler synchronously. A panic or a return after the
// deadline both count as failures.
func (b *Builder) invoke(ctx context.Context, ev *types.Event, handler registry.Handler, store storage.Handle) (err error) {
	if b.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.HandlerTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		b.metrics.ObserveHandler(ev.Method, time.Since(start))
	}()

	err = handler(ctx, ev, store)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w after %s: %v", ErrHandlerTimeout, time.Since(start).Round(time.Millisecond), ctx.Err())
	}
	return err
}

func (b *Builder) notify(ctx context.Context, commit notify.Commit) {
	if b.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.config.NotifyTimeout)
	defer cancel()

	if err := b.notifier.Notify(ctx, commit); err != nil {
		b.metrics.RecordNotifyFailure()
		b.logger.Warn("Commit notification failed",
			zap.Uint64("block", commit.Block),
			zap.Error(err),
		)
	}
}
