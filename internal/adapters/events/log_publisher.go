package events

import (
	"context"
	"errors"
	"log"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

// LogPublisher writes one line per event. It never fails.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher(logger *log.Logger) *LogPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.logger.Printf("event topic=%s id=%s type=%s %s/%s v%d actor=%s", topic, event.EventID, event.EventType, event.AggregateType, event.AggregateID, event.AggregateVersion, event.Actor)
	return nil
}

// Fanout publishes every event to all of its publishers and joins their
// errors. A failure anywhere sends the event back for retry, so receivers
// must tolerate duplicates.
type Fanout []ports.EventPublisher

func (f Fanout) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ ports.EventPublisher = (*LogPublisher)(nil)
	_ ports.EventPublisher = Fanout(nil)
)
