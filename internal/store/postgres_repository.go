/**
 * @description
 * PostgreSQL implementation of the `Repository` interface using pgx. All
 * multi-row writes run inside a single pgx.Tx so the ledger rows, saga state
 * and outbox event of one operation commit or roll back together.
 *
 * The unique constraints on transactions.idempotency_key and
 * transfer_sagas.idempotency_key are the serialization point for concurrent
 * duplicate requests: the loser of an insert race gets a unique-violation,
 * surfaced as ErrDuplicateIdempotencyKey, and falls back to reading the
 * winner's row.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corebank/ledger-service/internal/domain"
)

// Sentinel errors returned by the repository.
var (
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrSagaNotFound            = errors.New("transfer saga not found")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrSagaStateConflict       = errors.New("saga is not in the expected state")
)

const pgUniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// FindTransactionByIdempotencyKey retrieves the completed transaction recorded
// under a client-supplied idempotency key, if any.
func (r *PostgresRepository) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	return r.scanTransaction(r.db.QueryRow(ctx, transactionSelect+` WHERE idempotency_key = $1`, key))
}

// FindTransactionByID retrieves a transaction by its id.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return r.scanTransaction(r.db.QueryRow(ctx, transactionSelect+` WHERE id = $1`, transactionID))
}

const transactionSelect = `
	SELECT id, type, status, source_account_id, target_account_id, amount,
	       currency, description, reference, idempotency_key, created_at
	FROM transactions`

func (r *PostgresRepository) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.Type,
		&tx.Status,
		&tx.SourceAccountID,
		&tx.TargetAccountID,
		&tx.Amount,
		&tx.Currency,
		&tx.Description,
		&tx.Reference,
		&tx.IdempotencyKey,
		&tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// CreateTransactionWithEntries persists a transaction, its ledger entries and
// the outbox event describing it as one local commit.
func (r *PostgresRepository) CreateTransactionWithEntries(ctx context.Context, tx *domain.Transaction, entries []domain.LedgerEntry, event *domain.OutboxEvent) error {
	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	_, err = dbtx.Exec(ctx, `
		INSERT INTO transactions (id, type, status, source_account_id, target_account_id,
		                          amount, currency, description, reference, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tx.ID, tx.Type, tx.Status, tx.SourceAccountID, tx.TargetAccountID,
		tx.Amount, tx.Currency, tx.Description, tx.Reference, tx.IdempotencyKey,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	for i := range entries {
		if err := insertLedgerEntry(ctx, dbtx, &entries[i]); err != nil {
			return err
		}
	}

	if err := insertOutboxEvent(ctx, dbtx, event); err != nil {
		return err
	}

	return dbtx.Commit(ctx)
}

func insertLedgerEntry(ctx context.Context, dbtx pgx.Tx, entry *domain.LedgerEntry) error {
	_, err := dbtx.Exec(ctx, `
		INSERT INTO ledger_entries (id, transaction_id, account_id, entry_type,
		                            amount, currency, balance_after, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.TransactionID, entry.AccountID, entry.EntryType,
		entry.Amount, entry.Currency, entry.BalanceAfter, entry.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, dbtx pgx.Tx, event *domain.OutboxEvent) error {
	if event == nil {
		return nil
	}
	err := dbtx.QueryRow(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		event.AggregateType, event.AggregateID, event.EventType, event.Payload,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// FindSagaByIdempotencyKey retrieves the saga created under a client-supplied
// idempotency key, in whatever state it currently is.
func (r *PostgresRepository) FindSagaByIdempotencyKey(ctx context.Context, key string) (*domain.TransferSaga, error) {
	return r.scanSaga(r.db.QueryRow(ctx, sagaSelect+` WHERE idempotency_key = $1`, key))
}

// FindSagaByID retrieves a saga by its id.
func (r *PostgresRepository) FindSagaByID(ctx context.Context, sagaID uuid.UUID) (*domain.TransferSaga, error) {
	return r.scanSaga(r.db.QueryRow(ctx, sagaSelect+` WHERE id = $1`, sagaID))
}

const sagaSelect = `
	SELECT id, idempotency_key, source_account_id, target_account_id, amount,
	       currency, description, status, failure_reason, created_at, updated_at
	FROM transfer_sagas`

func (r *PostgresRepository) scanSaga(row pgx.Row) (*domain.TransferSaga, error) {
	var saga domain.TransferSaga
	err := row.Scan(
		&saga.ID,
		&saga.IdempotencyKey,
		&saga.SourceAccountID,
		&saga.TargetAccountID,
		&saga.Amount,
		&saga.Currency,
		&saga.Description,
		&saga.Status,
		&saga.FailureReason,
		&saga.CreatedAt,
		&saga.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSagaNotFound
		}
		return nil, err
	}
	return &saga, nil
}

// CreateSagaWithEvent persists a new saga in INITIATED state together with
// its TRANSFER_INITIATED outbox event.
func (r *PostgresRepository) CreateSagaWithEvent(ctx context.Context, saga *domain.TransferSaga, event *domain.OutboxEvent) error {
	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	err = dbtx.QueryRow(ctx, `
		INSERT INTO transfer_sagas (id, idempotency_key, source_account_id, target_account_id,
		                            amount, currency, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		saga.ID, saga.IdempotencyKey, saga.SourceAccountID, saga.TargetAccountID,
		saga.Amount, saga.Currency, saga.Description, saga.Status,
	).Scan(&saga.CreatedAt, &saga.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert transfer saga: %w", err)
	}

	if err := insertOutboxEvent(ctx, dbtx, event); err != nil {
		return err
	}

	return dbtx.Commit(ctx)
}

// UpdateSagaStatus moves a saga from one state to another. The WHERE clause
// on the current status makes the transition conditional, so a concurrent
// writer cannot double-apply a step.
func (r *PostgresRepository) UpdateSagaStatus(ctx context.Context, sagaID uuid.UUID, from, to domain.SagaStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transfer_sagas SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		to, sagaID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update saga status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSagaStateConflict
	}
	return nil
}

// FinishSagaWithEvent moves a saga to a terminal failure state (FAILED or
// COMPENSATED), records the failure reason, and writes the TRANSFER_FAILED
// outbox event, all in one commit.
func (r *PostgresRepository) FinishSagaWithEvent(ctx context.Context, sagaID uuid.UUID, from, to domain.SagaStatus, failureReason string, event *domain.OutboxEvent) error {
	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	tag, err := dbtx.Exec(ctx, `
		UPDATE transfer_sagas SET status = $1, failure_reason = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		to, failureReason, sagaID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to finish saga: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSagaStateConflict
	}

	if err := insertOutboxEvent(ctx, dbtx, event); err != nil {
		return err
	}

	return dbtx.Commit(ctx)
}

// CompleteSagaWithTransaction finalizes a successful transfer: the saga flips
// to COMPLETED and the settled transaction, both ledger entries and the
// TRANSFER_COMPLETED event commit as one local unit.
func (r *PostgresRepository) CompleteSagaWithTransaction(ctx context.Context, sagaID uuid.UUID, tx *domain.Transaction, entries []domain.LedgerEntry, event *domain.OutboxEvent) error {
	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	tag, err := dbtx.Exec(ctx, `
		UPDATE transfer_sagas SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		domain.SagaStatusCompleted, sagaID, domain.SagaStatusDebited,
	)
	if err != nil {
		return fmt.Errorf("failed to complete saga: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSagaStateConflict
	}

	_, err = dbtx.Exec(ctx, `
		INSERT INTO transactions (id, type, status, source_account_id, target_account_id,
		                          amount, currency, description, reference, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tx.ID, tx.Type, tx.Status, tx.SourceAccountID, tx.TargetAccountID,
		tx.Amount, tx.Currency, tx.Description, tx.Reference, tx.IdempotencyKey,
	)
	if err != nil {
		return fmt.Errorf("failed to insert settled transaction: %w", err)
	}

	for i := range entries {
		if err := insertLedgerEntry(ctx, dbtx, &entries[i]); err != nil {
			return err
		}
	}

	if err := insertOutboxEvent(ctx, dbtx, event); err != nil {
		return err
	}

	return dbtx.Commit(ctx)
}

// FindStuckSagas returns non-terminal sagas that have not moved for longer
// than olderThan. Used by the operator report job; nothing repairs them
// automatically.
func (r *PostgresRepository) FindStuckSagas(ctx context.Context, olderThan time.Duration) ([]domain.TransferSaga, error) {
	rows, err := r.db.Query(ctx, sagaSelect+`
		WHERE status IN ($1, $2, $3) AND updated_at < now() - $4::interval
		ORDER BY updated_at ASC`,
		domain.SagaStatusInitiated, domain.SagaStatusDebited, domain.SagaStatusCompensating,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sagas []domain.TransferSaga
	for rows.Next() {
		saga, err := r.scanSaga(rows)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, *saga)
	}
	return sagas, rows.Err()
}

// FindLedgerEntriesByTransactionID returns the entries of one transaction in
// creation order.
func (r *PostgresRepository) FindLedgerEntriesByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, ledgerEntrySelect+` WHERE transaction_id = $1 ORDER BY created_at ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

const ledgerEntrySelect = `
	SELECT id, transaction_id, account_id, entry_type, amount, currency,
	       balance_after, description, created_at
	FROM ledger_entries`

func scanLedgerEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		err := rows.Scan(
			&entry.ID,
			&entry.TransactionID,
			&entry.AccountID,
			&entry.EntryType,
			&entry.Amount,
			&entry.Currency,
			&entry.BalanceAfter,
			&entry.Description,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// FindTransactionsByAccountID lists transactions touching an account, newest
// first, with offset pagination.
func (r *PostgresRepository) FindTransactionsByAccountID(ctx context.Context, accountID int64, page, size int) (domain.Page[domain.Transaction], error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM transactions
		WHERE source_account_id = $1 OR target_account_id = $1`, accountID,
	).Scan(&total)
	if err != nil {
		return domain.Page[domain.Transaction]{}, err
	}

	rows, err := r.db.Query(ctx, transactionSelect+`
		WHERE source_account_id = $1 OR target_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		accountID, size, page*size,
	)
	if err != nil {
		return domain.Page[domain.Transaction]{}, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := r.scanTransaction(rows)
		if err != nil {
			return domain.Page[domain.Transaction]{}, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Transaction]{}, err
	}
	return domain.NewPage(transactions, page, size, total), nil
}

// FindLedgerEntriesByAccountID lists an account's ledger entries, newest
// first, with offset pagination.
func (r *PostgresRepository) FindLedgerEntriesByAccountID(ctx context.Context, accountID int64, page, size int) (domain.Page[domain.LedgerEntry], error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return domain.Page[domain.LedgerEntry]{}, err
	}

	rows, err := r.db.Query(ctx, ledgerEntrySelect+`
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		accountID, size, page*size,
	)
	if err != nil {
		return domain.Page[domain.LedgerEntry]{}, err
	}
	defer rows.Close()

	entries, err := scanLedgerEntries(rows)
	if err != nil {
		return domain.Page[domain.LedgerEntry]{}, err
	}
	return domain.NewPage(entries, page, size, total), nil
}

// FindUnpublishedOutboxEvents returns pending outbox rows in arrival order.
func (r *PostgresRepository) FindUnpublishedOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, published, created_at
		FROM outbox_events
		WHERE published = false
		ORDER BY id ASC
		LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent
		err := rows.Scan(
			&event.ID,
			&event.AggregateType,
			&event.AggregateID,
			&event.EventType,
			&event.Payload,
			&event.Published,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkOutboxEventPublished flips a delivered event's published flag.
func (r *PostgresRepository) MarkOutboxEventPublished(ctx context.Context, eventID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE outbox_events SET published = true WHERE id = $1`, eventID)
	return err
}
