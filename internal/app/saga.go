/**
 * @description
 * The transfer saga orchestrator. A two-account transfer cannot use a
 * distributed transaction, so it runs as a saga: debit the source, credit
 * the target, and compensate the debit when the credit fails. Saga state is
 * persisted after every step, so a crash leaves an inspectable row rather
 * than silent loss.
 *
 * State machine:
 *
 *   INITIATED -> DEBITED -> COMPLETED
 *   INITIATED -> FAILED                (debit step failed, nothing to undo)
 *   DEBITED   -> COMPENSATING -> COMPENSATED  (credit failed, debit returned)
 *   DEBITED   -> COMPENSATING -> FAILED       (compensation failed too;
 *                                              manual reconciliation)
 *
 * Step failures become state transitions and never propagate as errors.
 * Persistence failures do propagate: the local store is the source of truth
 * and a partial commit must not be papered over. Remote steps are never
 * retried here; resilience layers (retry, circuit breaking) belong under
 * the account client, outside this core.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/corebank/ledger-service/internal/domain"
	"github.com/corebank/ledger-service/internal/store"
)

// SagaOrchestrator drives transfer sagas to a terminal state.
type SagaOrchestrator struct {
	repo     store.Repository
	accounts AccountClient
	logger   *slog.Logger
	service  *Service
}

// NewSagaOrchestrator creates a new transfer orchestrator.
func NewSagaOrchestrator(repo store.Repository, accounts AccountClient, logger *slog.Logger, service *Service) *SagaOrchestrator {
	return &SagaOrchestrator{repo: repo, accounts: accounts, logger: logger, service: service}
}

// InitiateTransfer validates and executes a transfer to a terminal (or
// near-terminal) state, returning the saga as it stands. Re-submitting an
// idempotency key returns the stored saga in whatever state it is in,
// without re-invoking any remote call; even FAILED and COMPENSATED are
// terminal answers, never retried automatically.
func (o *SagaOrchestrator) InitiateTransfer(ctx context.Context, req domain.TransferRequest, idempotencyKey string) (*domain.TransferSaga, error) {
	if idempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if req.SourceAccountID == req.TargetAccountID {
		return nil, ErrSelfTransfer
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	currency, err := o.service.normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	if existing, err := o.repo.FindSagaByIdempotencyKey(ctx, idempotencyKey); err == nil {
		o.logger.Info("returning existing transfer saga for idempotency key",
			"idempotency_key", idempotencyKey, "saga_id", existing.ID, "status", existing.Status)
		return existing, nil
	} else if !errors.Is(err, store.ErrSagaNotFound) {
		return nil, err
	}

	saga := &domain.TransferSaga{
		ID:              uuid.New(),
		IdempotencyKey:  idempotencyKey,
		SourceAccountID: req.SourceAccountID,
		TargetAccountID: req.TargetAccountID,
		Amount:          req.Amount,
		Currency:        currency,
		Description:     req.Description,
		Status:          domain.SagaStatusInitiated,
	}

	initiatedEvent, err := transferInitiatedOutboxEvent(saga)
	if err != nil {
		return nil, err
	}

	if err := o.repo.CreateSagaWithEvent(ctx, saga, initiatedEvent); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			// Concurrent duplicate won the insert race; no remote call has
			// happened yet on our side, so just return the winner's saga.
			return o.repo.FindSagaByIdempotencyKey(ctx, idempotencyKey)
		}
		return nil, fmt.Errorf("failed to create transfer saga: %w", err)
	}

	return o.execute(ctx, saga)
}

// GetTransfer returns the current state of a saga.
func (o *SagaOrchestrator) GetTransfer(ctx context.Context, transferID uuid.UUID) (*domain.TransferSaga, error) {
	return o.repo.FindSagaByID(ctx, transferID)
}

func (o *SagaOrchestrator) execute(ctx context.Context, saga *domain.TransferSaga) (*domain.TransferSaga, error) {
	o.logger.Info("starting transfer saga",
		"saga_id", saga.ID, "source", saga.SourceAccountID, "target", saga.TargetAccountID, "amount", saga.Amount)

	reference := shortReference("TRF", saga.ID)

	// Debit step. A failure here is terminal with nothing to compensate:
	// no money has left the source.
	if err := o.accounts.Debit(ctx, saga.SourceAccountID, saga.Amount, reference); err != nil {
		o.logger.Warn("transfer saga failed at debit step", "saga_id", saga.ID, "error", err)
		return o.finishSaga(ctx, saga, domain.SagaStatusInitiated, domain.SagaStatusFailed,
			fmt.Sprintf("debit failed: %v", err))
	}

	// Durable checkpoint before the credit: a crash past this point leaves a
	// DEBITED row pointing at real money movement on the source account.
	if err := o.transition(ctx, saga, domain.SagaStatusDebited); err != nil {
		o.logger.Error("saga checkpoint failed after successful remote debit; remote effect has no durable saga state",
			"saga_id", saga.ID, "reference", reference, "error", err)
		return nil, err
	}

	// Credit step. A failure here triggers compensation of the debit.
	if err := o.accounts.Credit(ctx, saga.TargetAccountID, saga.Amount, reference); err != nil {
		o.logger.Warn("transfer saga failed at credit step, compensating", "saga_id", saga.ID, "error", err)
		return o.compensate(ctx, saga, reference, fmt.Sprintf("credit failed: %v", err))
	}

	return o.finalize(ctx, saga, reference)
}

// compensate returns the debited funds to the source. Only reachable from
// DEBITED.
func (o *SagaOrchestrator) compensate(ctx context.Context, saga *domain.TransferSaga, reference, reason string) (*domain.TransferSaga, error) {
	if err := o.transition(ctx, saga, domain.SagaStatusCompensating); err != nil {
		return nil, err
	}

	compensationRef := "COMP-" + reference
	if err := o.accounts.Credit(ctx, saga.SourceAccountID, saga.Amount, compensationRef); err != nil {
		// The source account shows a debit with no offsetting record. This is
		// a genuine inconsistency that only an operator can resolve.
		o.logger.Error("compensation failed; manual reconciliation required",
			"saga_id", saga.ID, "source_account_id", saga.SourceAccountID,
			"amount", saga.Amount, "compensation_reference", compensationRef, "error", err)
		return o.finishSaga(ctx, saga, domain.SagaStatusCompensating, domain.SagaStatusFailed,
			fmt.Sprintf("%s; compensation failed: %v", reason, err))
	}

	o.logger.Info("compensation successful", "saga_id", saga.ID)
	return o.finishSaga(ctx, saga, domain.SagaStatusCompensating, domain.SagaStatusCompensated, reason)
}

// finalize settles a fully-credited transfer: saga status, the TRANSFER
// transaction, both ledger entries and the completion event commit as one
// local unit.
func (o *SagaOrchestrator) finalize(ctx context.Context, saga *domain.TransferSaga, reference string) (*domain.TransferSaga, error) {
	sourceBalance, err := o.accounts.GetBalance(ctx, saga.SourceAccountID)
	if err != nil {
		o.logger.Error("source balance snapshot failed after successful transfer; settlement not recorded",
			"saga_id", saga.ID, "error", err)
		return nil, fmt.Errorf("source balance snapshot failed: %w", err)
	}
	targetBalance, err := o.accounts.GetBalance(ctx, saga.TargetAccountID)
	if err != nil {
		o.logger.Error("target balance snapshot failed after successful transfer; settlement not recorded",
			"saga_id", saga.ID, "error", err)
		return nil, fmt.Errorf("target balance snapshot failed: %w", err)
	}

	transactionID := uuid.New()
	sourceID, targetID := saga.SourceAccountID, saga.TargetAccountID
	key := saga.IdempotencyKey
	tx := &domain.Transaction{
		ID:              transactionID,
		Type:            domain.TransactionTypeTransfer,
		Status:          domain.TransactionStatusCompleted,
		SourceAccountID: &sourceID,
		TargetAccountID: &targetID,
		Amount:          saga.Amount,
		Currency:        saga.Currency,
		Description:     saga.Description,
		Reference:       reference,
		IdempotencyKey:  &key,
	}
	entries := []domain.LedgerEntry{
		{
			ID:            uuid.New(),
			TransactionID: transactionID,
			AccountID:     saga.SourceAccountID,
			EntryType:     domain.EntryTypeDebit,
			Amount:        saga.Amount,
			Currency:      saga.Currency,
			BalanceAfter:  sourceBalance.Balance,
			Description:   fmt.Sprintf("Transfer to account %d", saga.TargetAccountID),
		},
		{
			ID:            uuid.New(),
			TransactionID: transactionID,
			AccountID:     saga.TargetAccountID,
			EntryType:     domain.EntryTypeCredit,
			Amount:        saga.Amount,
			Currency:      saga.Currency,
			BalanceAfter:  targetBalance.Balance,
			Description:   fmt.Sprintf("Transfer from account %d", saga.SourceAccountID),
		},
	}

	completedEvent, err := transferCompletedOutboxEvent(saga)
	if err != nil {
		return nil, err
	}

	if err := o.repo.CompleteSagaWithTransaction(ctx, saga.ID, tx, entries, completedEvent); err != nil {
		o.logger.Error("settlement commit failed after both remote calls succeeded; saga stuck in DEBITED",
			"saga_id", saga.ID, "error", err)
		return nil, fmt.Errorf("failed to settle transfer: %w", err)
	}

	saga.Status = domain.SagaStatusCompleted
	o.logger.Info("transfer saga completed", "saga_id", saga.ID, "transaction_id", transactionID)
	return saga, nil
}

// transition persists a single legal state change.
func (o *SagaOrchestrator) transition(ctx context.Context, saga *domain.TransferSaga, next domain.SagaStatus) error {
	if !saga.Status.CanTransition(next) {
		return fmt.Errorf("illegal saga transition %s -> %s: %w", saga.Status, next, store.ErrSagaStateConflict)
	}
	if err := o.repo.UpdateSagaStatus(ctx, saga.ID, saga.Status, next); err != nil {
		return fmt.Errorf("failed to persist saga transition %s -> %s: %w", saga.Status, next, err)
	}
	saga.Status = next
	return nil
}

// finishSaga applies a terminal failure transition together with its
// TRANSFER_FAILED event.
func (o *SagaOrchestrator) finishSaga(ctx context.Context, saga *domain.TransferSaga, from, to domain.SagaStatus, reason string) (*domain.TransferSaga, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("illegal saga transition %s -> %s: %w", from, to, store.ErrSagaStateConflict)
	}

	failedEvent, err := transferFailedOutboxEvent(saga, reason)
	if err != nil {
		return nil, err
	}

	if err := o.repo.FinishSagaWithEvent(ctx, saga.ID, from, to, reason, failedEvent); err != nil {
		return nil, fmt.Errorf("failed to persist saga outcome %s: %w", to, err)
	}

	saga.Status = to
	saga.FailureReason = &reason
	return saga, nil
}

func transferInitiatedOutboxEvent(saga *domain.TransferSaga) (*domain.OutboxEvent, error) {
	event := domain.TransferInitiatedEvent{
		EventEnvelope:   domain.NewEventEnvelope(domain.EventTypeTransferInitiated, saga.ID.String(), saga.ID.String()),
		TransferID:      saga.ID.String(),
		IdempotencyKey:  saga.IdempotencyKey,
		SourceAccountID: saga.SourceAccountID,
		TargetAccountID: saga.TargetAccountID,
		Amount:          saga.Amount,
		Currency:        saga.Currency,
		Description:     saga.Description,
	}
	return marshalOutboxEvent(aggregateTypeTransfer, saga.ID.String(), domain.EventTypeTransferInitiated, event)
}

func transferCompletedOutboxEvent(saga *domain.TransferSaga) (*domain.OutboxEvent, error) {
	event := domain.TransferCompletedEvent{
		EventEnvelope:   domain.NewEventEnvelope(domain.EventTypeTransferCompleted, saga.ID.String(), saga.ID.String()),
		TransferID:      saga.ID.String(),
		SourceAccountID: saga.SourceAccountID,
		TargetAccountID: saga.TargetAccountID,
		Amount:          saga.Amount,
		Currency:        saga.Currency,
	}
	return marshalOutboxEvent(aggregateTypeTransfer, saga.ID.String(), domain.EventTypeTransferCompleted, event)
}

func transferFailedOutboxEvent(saga *domain.TransferSaga, reason string) (*domain.OutboxEvent, error) {
	event := domain.TransferFailedEvent{
		EventEnvelope:   domain.NewEventEnvelope(domain.EventTypeTransferFailed, saga.ID.String(), saga.ID.String()),
		TransferID:      saga.ID.String(),
		SourceAccountID: saga.SourceAccountID,
		TargetAccountID: saga.TargetAccountID,
		Amount:          saga.Amount,
		Currency:        saga.Currency,
		Reason:          reason,
	}
	return marshalOutboxEvent(aggregateTypeTransfer, saga.ID.String(), domain.EventTypeTransferFailed, event)
}
