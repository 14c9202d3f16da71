package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/corebank/ledger-service/internal/domain"
	"github.com/corebank/ledger-service/internal/store"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	body       []byte
}

type publisherStub struct {
	failFor map[string]error

	published []publishedMessage
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	var envelope domain.EventEnvelope
	_ = json.Unmarshal(body, &envelope)
	if err, ok := p.failFor[envelope.EventType]; ok {
		return err
	}
	p.published = append(p.published, publishedMessage{exchange, routingKey, body})
	return nil
}

func (p *publisherStub) Close() {}

type outboxRepoStub struct {
	store.Repository

	pending []domain.OutboxEvent
	markErr error

	marked []int64
}

func (s *outboxRepoStub) FindUnpublishedOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit < len(s.pending) {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *outboxRepoStub) MarkOutboxEventPublished(ctx context.Context, eventID int64) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.marked = append(s.marked, eventID)
	return nil
}

func outboxEvent(id int64, eventType string) domain.OutboxEvent {
	payload, _ := json.Marshal(domain.NewEventEnvelope(eventType, "agg-1", ""))
	return domain.OutboxEvent{
		ID:        id,
		EventType: eventType,
		Payload:   payload,
	}
}

func TestPublishPendingEvents_PublishesInOrderAndMarks(t *testing.T) {
	repo := &outboxRepoStub{pending: []domain.OutboxEvent{
		outboxEvent(1, domain.EventTypeMoneyDeposited),
		outboxEvent(2, domain.EventTypeTransferCompleted),
		outboxEvent(3, domain.EventTypeMoneyWithdrawn),
	}}
	publisher := &publisherStub{}
	outbox := NewOutboxPublisher(repo, publisher, testLogger(), "bank.events", 100)

	if err := outbox.PublishPendingEvents(context.Background()); err != nil {
		t.Fatalf("PublishPendingEvents returned error: %v", err)
	}

	if len(publisher.published) != 3 {
		t.Fatalf("expected 3 published events, got %d", len(publisher.published))
	}
	if publisher.published[0].exchange != "bank.events" {
		t.Fatalf("unexpected exchange %q", publisher.published[0].exchange)
	}
	if publisher.published[0].routingKey != RoutingKeyAccountEvents ||
		publisher.published[1].routingKey != RoutingKeyTransferEvents ||
		publisher.published[2].routingKey != RoutingKeyAccountEvents {
		t.Fatalf("unexpected routing keys: %+v", publisher.published)
	}
	if len(repo.marked) != 3 || repo.marked[0] != 1 || repo.marked[2] != 3 {
		t.Fatalf("expected all rows marked in order, got %v", repo.marked)
	}
}

func TestPublishPendingEvents_FailedEventStaysPendingOthersContinue(t *testing.T) {
	repo := &outboxRepoStub{pending: []domain.OutboxEvent{
		outboxEvent(1, domain.EventTypeTransferInitiated),
		outboxEvent(2, domain.EventTypeMoneyDeposited),
	}}
	publisher := &publisherStub{failFor: map[string]error{
		domain.EventTypeTransferInitiated: errors.New("broker unavailable"),
	}}
	outbox := NewOutboxPublisher(repo, publisher, testLogger(), "bank.events", 100)

	if err := outbox.PublishPendingEvents(context.Background()); err != nil {
		t.Fatalf("one failed event must not fail the sweep: %v", err)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected the second event published, got %d", len(publisher.published))
	}
	if len(repo.marked) != 1 || repo.marked[0] != 2 {
		t.Fatalf("only the delivered event may be marked, got %v", repo.marked)
	}
}

func TestPublishPendingEvents_CorruptPayloadIsNotPublished(t *testing.T) {
	repo := &outboxRepoStub{pending: []domain.OutboxEvent{
		{ID: 1, EventType: domain.EventTypeMoneyDeposited, Payload: []byte("{not json")},
		outboxEvent(2, domain.EventTypeMoneyDeposited),
	}}
	publisher := &publisherStub{}
	outbox := NewOutboxPublisher(repo, publisher, testLogger(), "bank.events", 100)

	if err := outbox.PublishPendingEvents(context.Background()); err != nil {
		t.Fatalf("a corrupt payload must not fail the sweep: %v", err)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("corrupt payload must stay unpublished, got %d publishes", len(publisher.published))
	}
	if len(repo.marked) != 1 || repo.marked[0] != 2 {
		t.Fatalf("corrupt payload must stay pending, got %v", repo.marked)
	}
}

func TestPublishPendingEvents_MarkFailureAllowsRepublish(t *testing.T) {
	repo := &outboxRepoStub{
		pending: []domain.OutboxEvent{outboxEvent(1, domain.EventTypeMoneyDeposited)},
		markErr: errors.New("connection reset"),
	}
	publisher := &publisherStub{}
	outbox := NewOutboxPublisher(repo, publisher, testLogger(), "bank.events", 100)

	// At-least-once: a mark failure is tolerated, the row will just be
	// published again on the next sweep.
	if err := outbox.PublishPendingEvents(context.Background()); err != nil {
		t.Fatalf("a mark failure must not fail the sweep: %v", err)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected the event to reach the broker, got %d", len(publisher.published))
	}
}

func TestResolveRoutingKey(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{domain.EventTypeAccountOpened, RoutingKeyAccountEvents},
		{domain.EventTypeMoneyDeposited, RoutingKeyAccountEvents},
		{domain.EventTypeMoneyWithdrawn, RoutingKeyAccountEvents},
		{domain.EventTypeTransferInitiated, RoutingKeyTransferEvents},
		{domain.EventTypeTransferCompleted, RoutingKeyTransferEvents},
		{domain.EventTypeTransferFailed, RoutingKeyTransferEvents},
		{"SOMETHING_NEW", RoutingKeyTransactionEvents},
	}
	for _, tc := range tests {
		if got := ResolveRoutingKey(tc.eventType); got != tc.want {
			t.Fatalf("ResolveRoutingKey(%q) = %q, want %q", tc.eventType, got, tc.want)
		}
	}
}
