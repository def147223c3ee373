package outbox

import (
	"context"
	"encoding/json"
	"time"

	"bookdesk/internal/domain/outbox"
	"bookdesk/internal/events"
	"bookdesk/internal/observability"
	"bookdesk/internal/repository"
	"bookdesk/pkg/logger"

	"go.uber.org/zap"
)

// Processor publishes committed outbox events to the change feed.
type Processor struct {
	repo       repository.OutboxRepository
	publisher  events.Publisher
	log        *logger.Logger
	batchSize  int
	interval   time.Duration
	maxRetries int
}

func NewProcessor(repo repository.OutboxRepository, publisher events.Publisher, log *logger.Logger, batchSize int, interval time.Duration, maxRetries int) *Processor {
	return &Processor{
		repo:       repo,
		publisher:  publisher,
		log:        logger.OrNop(log).Named("outbox"),
		batchSize:  batchSize,
		interval:   interval,
		maxRetries: maxRetries,
	}
}

func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch publishes one batch of pending events in commit order and
// returns how many were published.
func (p *Processor) ProcessBatch(ctx context.Context) int {
	batch, err := p.repo.GetPending(ctx, p.batchSize)
	if err != nil {
		p.log.Warn("failed to load pending outbox events", zap.Error(err))
		return 0
	}

	published := 0
	for _, e := range batch {
		if e.RetryCount >= p.maxRetries {
			_ = p.repo.MarkFailed(ctx, e.ID, "max retries exceeded")
			observability.OutboxPublished.WithLabelValues(e.EventType, "failed").Inc()
			continue
		}

		env := events.Envelope{
			EventType:     e.EventType,
			AggregateType: e.AggregateType,
			AggregateID:   e.AggregateID,
			OccurredAt:    e.CreatedAt.UTC(),
			Payload:       json.RawMessage(e.Payload),
		}
		payload, err := json.Marshal(env)
		if err != nil {
			_ = p.repo.MarkFailed(ctx, e.ID, err.Error())
			continue
		}

		if err := p.publisher.Publish(ctx, routeChannel(env), payload); err != nil {
			p.log.Warn("outbox publish failed", zap.String("event_id", e.ID.String()), zap.Error(err))
			_ = p.repo.IncrementRetry(ctx, e.ID, err.Error())
			observability.OutboxPublished.WithLabelValues(e.EventType, "retry").Inc()
			continue
		}

		if err := p.repo.MarkCompleted(ctx, e.ID); err != nil {
			p.log.Warn("failed to mark outbox event completed", zap.String("event_id", e.ID.String()), zap.Error(err))
		}
		observability.OutboxPublished.WithLabelValues(e.EventType, "published").Inc()
		published++
	}
	return published
}

func routeChannel(env events.Envelope) string {
	switch env.AggregateType {
	case outbox.AggregateConversation:
		return events.ConversationChannel(env.AggregateID)
	case "presence":
		return events.PresenceChannel(env.AggregateID)
	default:
		return events.SystemChannel
	}
}
