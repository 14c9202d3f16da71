/**
 * @description
 * The outbox publisher. A background sweep drains unpublished outbox rows to
 * the RabbitMQ topic exchange and marks each row published once the broker
 * accepts it. A failed event stays unpublished and is retried on the next
 * sweep, which makes delivery at-least-once: every downstream consumer must
 * deduplicate on the event id carried in the payload envelope.
 */

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/corebank/ledger-service/internal/domain"
	"github.com/corebank/ledger-service/internal/store"
	"github.com/corebank/ledger-service/pkg/rabbitmq"
)

// Routing keys on the event exchange, by event family.
const (
	RoutingKeyAccountEvents     = "account.events"
	RoutingKeyTransferEvents    = "transfer.events"
	RoutingKeyTransactionEvents = "transaction.events"
)

// OutboxPublisher sweeps pending outbox events to the event bus.
type OutboxPublisher struct {
	repo      store.Repository
	publisher rabbitmq.Publisher
	logger    *slog.Logger
	exchange  string
	batchSize int
}

// NewOutboxPublisher creates a new outbox sweep.
func NewOutboxPublisher(repo store.Repository, publisher rabbitmq.Publisher, logger *slog.Logger, exchange string, batchSize int) *OutboxPublisher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxPublisher{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		exchange:  exchange,
		batchSize: batchSize,
	}
}

// PublishPendingEvents drains unpublished events in arrival order. One
// event's failure never blocks the rest of the sweep; the row simply stays
// unpublished for the next pass.
func (p *OutboxPublisher) PublishPendingEvents(ctx context.Context) error {
	pending, err := p.repo.FindUnpublishedOutboxEvents(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to load pending outbox events: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	p.logger.Debug("publishing pending outbox events", "count", len(pending))

	for _, event := range pending {
		if err := p.publishOne(ctx, event); err != nil {
			p.logger.Warn("outbox event publish failed; will retry on next sweep",
				"event_id", event.ID, "event_type", event.EventType, "error", err)
			continue
		}
		if err := p.repo.MarkOutboxEventPublished(ctx, event.ID); err != nil {
			// The broker has the event but the flag flip failed; the next
			// sweep re-publishes, which at-least-once delivery permits.
			p.logger.Warn("failed to mark outbox event published",
				"event_id", event.ID, "event_type", event.EventType, "error", err)
		}
	}
	return nil
}

func (p *OutboxPublisher) publishOne(ctx context.Context, event domain.OutboxEvent) error {
	// Decode the envelope before publishing so a corrupt payload is caught
	// here rather than at a consumer. The attempt fails, the row stays
	// unpublished, and nothing is dropped.
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return fmt.Errorf("failed to decode outbox payload: %w", err)
	}

	routingKey := ResolveRoutingKey(event.EventType)
	if err := p.publisher.Publish(ctx, p.exchange, routingKey, event.Payload); err != nil {
		return err
	}

	p.logger.Debug("published outbox event",
		"event_id", event.ID, "event_type", event.EventType, "routing_key", routingKey)
	return nil
}

// ResolveRoutingKey maps an event type to its channel. Unrecognized types go
// to the fallback channel, never dropped.
func ResolveRoutingKey(eventType string) string {
	switch eventType {
	case domain.EventTypeAccountOpened, domain.EventTypeMoneyDeposited, domain.EventTypeMoneyWithdrawn:
		return RoutingKeyAccountEvents
	case domain.EventTypeTransferInitiated, domain.EventTypeTransferCompleted, domain.EventTypeTransferFailed:
		return RoutingKeyTransferEvents
	default:
		return RoutingKeyTransactionEvents
	}
}
