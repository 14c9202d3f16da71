/**
 * @description
 * Domain events produced through the transactional outbox. Every event
 * shares an envelope of {event_id, event_type, occurred_at, aggregate_id,
 * correlation_id}; downstream consumers deduplicate on event_id because
 * delivery is at-least-once.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type names, shared with downstream consumers.
const (
	EventTypeAccountOpened     = "ACCOUNT_OPENED"
	EventTypeMoneyDeposited    = "MONEY_DEPOSITED"
	EventTypeMoneyWithdrawn    = "MONEY_WITHDRAWN"
	EventTypeTransferInitiated = "TRANSFER_INITIATED"
	EventTypeTransferCompleted = "TRANSFER_COMPLETED"
	EventTypeTransferFailed    = "TRANSFER_FAILED"
)

// EventEnvelope carries the fields common to every domain event.
type EventEnvelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	AggregateID   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewEventEnvelope stamps a fresh envelope with a globally unique event id
// and the current time.
func NewEventEnvelope(eventType, aggregateID, correlationID string) EventEnvelope {
	return EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		AggregateID:   aggregateID,
		CorrelationID: correlationID,
	}
}

// MoneyMovedEvent is the payload for MONEY_DEPOSITED and MONEY_WITHDRAWN.
type MoneyMovedEvent struct {
	EventEnvelope
	AccountID     int64           `json:"account_id"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	Reference     string          `json:"reference"`
}

// TransferInitiatedEvent is emitted in the same commit that creates a saga.
type TransferInitiatedEvent struct {
	EventEnvelope
	TransferID      string          `json:"transfer_id"`
	IdempotencyKey  string          `json:"idempotency_key"`
	SourceAccountID int64           `json:"source_account_id"`
	TargetAccountID int64           `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
}

// TransferCompletedEvent is emitted when a saga finalizes successfully.
type TransferCompletedEvent struct {
	EventEnvelope
	TransferID      string          `json:"transfer_id"`
	SourceAccountID int64           `json:"source_account_id"`
	TargetAccountID int64           `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// TransferFailedEvent is emitted for FAILED and COMPENSATED outcomes.
type TransferFailedEvent struct {
	EventEnvelope
	TransferID      string          `json:"transfer_id"`
	SourceAccountID int64           `json:"source_account_id"`
	TargetAccountID int64           `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Reason          string          `json:"reason"`
}
