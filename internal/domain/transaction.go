/**
 * @description
 * This file defines the core domain models for the ledger-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are `decimal.Decimal` carried at a fixed scale of 4 fractional
 *   digits, which avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies a money movement.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer   TransactionType = "TRANSFER"
)

// TransactionStatus is the persisted state of a transaction. Only
// terminal-success transactions are ever written; failures never reach the
// transactions table.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
)

// EntryType marks which side of an account a ledger entry touches.
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// SagaStatus is the persisted state of a transfer saga.
type SagaStatus string

const (
	SagaStatusInitiated    SagaStatus = "INITIATED"
	SagaStatusDebited      SagaStatus = "DEBITED"
	SagaStatusCompleted    SagaStatus = "COMPLETED"
	SagaStatusCompensating SagaStatus = "COMPENSATING"
	SagaStatusCompensated  SagaStatus = "COMPENSATED"
	SagaStatusFailed       SagaStatus = "FAILED"
)

// Terminal reports whether a saga in this status will never move again.
func (s SagaStatus) Terminal() bool {
	switch s {
	case SagaStatusCompleted, SagaStatusCompensated, SagaStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the saga state machine permits moving from s
// to next. The orchestrator persists every transition, so this is the single
// place the machine's edges live.
func (s SagaStatus) CanTransition(next SagaStatus) bool {
	switch s {
	case SagaStatusInitiated:
		return next == SagaStatusDebited || next == SagaStatusFailed
	case SagaStatusDebited:
		return next == SagaStatusCompleted || next == SagaStatusCompensating
	case SagaStatusCompensating:
		return next == SagaStatusCompensated || next == SagaStatusFailed
	}
	return false
}

// Transaction is the central ledger record for any completed money movement.
// Maps directly to the `transactions` table. Created once, never mutated.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	Type            TransactionType   `json:"type"`
	Status          TransactionStatus `json:"status"`
	SourceAccountID *int64            `json:"source_account_id,omitempty"`
	TargetAccountID *int64            `json:"target_account_id,omitempty"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description"`
	Reference       string            `json:"reference"`
	IdempotencyKey  *string           `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// LedgerEntry records one account-side effect of a transaction, with the
// remote balance snapshot taken immediately after the remote call.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountID     int64           `json:"account_id"`
	EntryType     EntryType       `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TransferSaga tracks a two-account transfer through its state machine.
// Mutated in place by the orchestrator after each step, never deleted.
type TransferSaga struct {
	ID              uuid.UUID       `json:"id"`
	IdempotencyKey  string          `json:"idempotency_key"`
	SourceAccountID int64           `json:"source_account_id"`
	TargetAccountID int64           `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	Status          SagaStatus      `json:"status"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OutboxEvent is a not-yet-published domain event, written in the same local
// commit as the business rows it describes. Rows are never deleted; the
// publisher flips `published` once the broker acknowledges delivery.
type OutboxEvent struct {
	ID            int64     `json:"id"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	EventType     string    `json:"event_type"`
	Payload       []byte    `json:"payload"`
	Published     bool      `json:"published"`
	CreatedAt     time.Time `json:"created_at"`
}

// DepositRequest is the DTO for incoming deposit API requests.
type DepositRequest struct {
	AccountID   int64           `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

// WithdrawRequest is the DTO for incoming withdrawal API requests.
type WithdrawRequest struct {
	AccountID   int64           `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

// TransferRequest is the DTO for incoming transfer API requests.
type TransferRequest struct {
	SourceAccountID int64           `json:"source_account_id"`
	TargetAccountID int64           `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
}

// TransactionResult pairs a transaction with its ledger entries for API
// responses and idempotent replays.
type TransactionResult struct {
	Transaction *Transaction  `json:"transaction"`
	Entries     []LedgerEntry `json:"entries"`
}

// Page is the standard paged-response shape for list endpoints.
type Page[T any] struct {
	Content       []T   `json:"content"`
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"total_elements"`
	TotalPages    int   `json:"total_pages"`
	Last          bool  `json:"last"`
}

// NewPage computes the derived pagination fields from a raw row count.
func NewPage[T any](content []T, page, size int, total int64) Page[T] {
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	return Page[T]{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
		Last:          page >= totalPages-1,
	}
}

// ValidCurrency reports whether code is a well-formed 3-letter uppercase
// currency code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	return strings.IndexFunc(code, func(r rune) bool {
		return r < 'A' || r > 'Z'
	}) < 0
}
