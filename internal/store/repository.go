/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ledger-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * The write methods are deliberately coarse: each one is a single local commit,
 * so a business state change and its outbox row can never be separated.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corebank/ledger-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Idempotency lookups. Checked happens-before any remote call.
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	FindSagaByIdempotencyKey(ctx context.Context, key string) (*domain.TransferSaga, error)

	// Ledger writes. Transaction, its entries and the outbox event commit as
	// one unit; a failure leaves no partial state behind.
	CreateTransactionWithEntries(ctx context.Context, tx *domain.Transaction, entries []domain.LedgerEntry, event *domain.OutboxEvent) error

	// Saga lifecycle.
	CreateSagaWithEvent(ctx context.Context, saga *domain.TransferSaga, event *domain.OutboxEvent) error
	UpdateSagaStatus(ctx context.Context, sagaID uuid.UUID, from, to domain.SagaStatus) error
	FinishSagaWithEvent(ctx context.Context, sagaID uuid.UUID, from, to domain.SagaStatus, failureReason string, event *domain.OutboxEvent) error
	CompleteSagaWithTransaction(ctx context.Context, sagaID uuid.UUID, tx *domain.Transaction, entries []domain.LedgerEntry, event *domain.OutboxEvent) error
	FindSagaByID(ctx context.Context, sagaID uuid.UUID) (*domain.TransferSaga, error)
	FindStuckSagas(ctx context.Context, olderThan time.Duration) ([]domain.TransferSaga, error)

	// Read-only queries, newest-first.
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindLedgerEntriesByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error)
	FindTransactionsByAccountID(ctx context.Context, accountID int64, page, size int) (domain.Page[domain.Transaction], error)
	FindLedgerEntriesByAccountID(ctx context.Context, accountID int64, page, size int) (domain.Page[domain.LedgerEntry], error)

	// Outbox sweep.
	FindUnpublishedOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxEventPublished(ctx context.Context, eventID int64) error
}
