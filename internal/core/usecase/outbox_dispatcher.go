package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

// DispatcherOptions tunes an OutboxDispatcher. Zero fields take defaults.
type DispatcherOptions struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	MaxBackoff  time.Duration
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	return o
}

// OutboxDispatcher delivers committed change events to a publisher. Delivery
// is at least once: an event is marked dispatched only after Publish returns.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	opts      DispatcherOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Int64
	retried   atomic.Int64
	dead      atomic.Int64
}

type DispatcherStats struct {
	Published int64 `json:"published"`
	Retried   int64 `json:"retried"`
	Dead      int64 `json:"dead"`
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, opts DispatcherOptions) *OutboxDispatcher {
	return &OutboxDispatcher{repo: repo, publisher: publisher, opts: opts.withDefaults()}
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
			log.Printf("outbox: dispatch: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Drain dispatches due events batch by batch until none are left and reports
// how many were published.
func (d *OutboxDispatcher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, fetched, err := d.dispatchBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if fetched < d.opts.BatchSize || n == 0 {
			return total, nil
		}
	}
}

func (d *OutboxDispatcher) dispatchBatch(ctx context.Context) (published, fetched int, err error) {
	events, err := d.repo.FetchPending(ctx, d.opts.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, event := range events {
		var envelope domain.EventEnvelope
		if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
			// A payload that never decodes will not decode on retry.
			if err := d.bury(ctx, event, event.Attempts+1, fmt.Sprintf("decode payload: %v", err)); err != nil {
				return published, len(events), err
			}
			continue
		}

		if err := d.publisher.Publish(ctx, event.Topic, envelope); err != nil {
			if markErr := d.markFailure(ctx, event, err.Error()); markErr != nil {
				return published, len(events), markErr
			}
			continue
		}

		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return published, len(events), err
		}
		d.published.Add(1)
		published++
	}
	return published, len(events), nil
}

func (d *OutboxDispatcher) markFailure(ctx context.Context, event domain.OutboxEvent, errMsg string) error {
	attempts := event.Attempts + 1
	if attempts >= d.opts.MaxAttempts {
		return d.bury(ctx, event, attempts, errMsg)
	}
	next := time.Now().UTC().Add(d.backoff(attempts)).Format(time.RFC3339Nano)
	if err := d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg); err != nil {
		return err
	}
	d.retried.Add(1)
	return nil
}

func (d *OutboxDispatcher) bury(ctx context.Context, event domain.OutboxEvent, attempts int, errMsg string) error {
	if err := d.repo.MarkDead(ctx, event.ID, attempts, errMsg); err != nil {
		return err
	}
	d.dead.Add(1)
	log.Printf("outbox: event %s on %s is dead after %d attempts: %s", event.EventID, event.Topic, attempts, errMsg)
	return nil
}

func (d *OutboxDispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Published: d.published.Load(),
		Retried:   d.retried.Load(),
		Dead:      d.dead.Load(),
	}
}

// backoff grows quadratically with the attempt number up to MaxBackoff.
func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return time.Second
	}
	wait := time.Duration(attempt*attempt) * time.Second
	if wait > d.opts.MaxBackoff {
		return d.opts.MaxBackoff
	}
	return wait
}
