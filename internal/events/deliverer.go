package events

import (
	"context"
	"time"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Deliverer drains the outbox on a fixed interval and hands each pending
// entry to the configured handler. A failed entry stays pending and is
// retried next tick, so delivery is at-least-once and handlers must
// tolerate duplicates.
type Deliverer struct {
	store     *OutboxStore
	handler   DeliveryHandler
	logger    *logging.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:     store,
		handler:   handler,
		logger:    logger,
		batchSize: 25,
		interval:  2 * time.Second,
	}
}

// WithBatchSize caps how many entries one tick hands off.
func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Start blocks until ctx is cancelled. The first drain runs immediately so
// a restarted worker does not sit on its backlog for a full interval.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}

	d.drain(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Deliverer) drain(ctx context.Context) {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.logger.Error("outbox delivery failed",
				"error", err, "event_id", entry.ID, "type", entry.Type)
			continue
		}
		if ok, err := d.store.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
		} else if ok {
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
}
