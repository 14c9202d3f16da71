/**
 * @description
 * This file contains the core business logic for recording single-account
 * money movements. The `Service` struct coordinates the remote account
 * service, the ledger repository and the transactional outbox: a deposit or
 * withdrawal is one remote call followed by one local commit that writes the
 * transaction, its ledger entry and the outbox event together.
 *
 * Key properties:
 * - The idempotency lookup happens before any remote call; the remote
 *   debit/credit primitives are not assumed to be idempotent.
 * - Nothing is persisted when the remote call fails, so no compensation is
 *   ever needed here.
 * - If the remote call succeeds and the local commit then fails, the remote
 *   side holds money with no local record. That window is logged at Error
 *   level for operator reconciliation; it is an accepted limitation of the
 *   non-2PC design.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/corebank/ledger-service/internal/domain"
	"github.com/corebank/ledger-service/internal/store"
	"github.com/corebank/ledger-service/pkg/accountclient"
)

// Validation failures, rejected before any remote call.
var (
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrAmountScale           = errors.New("amount exceeds the supported 4 decimal places")
	ErrInvalidCurrency       = errors.New("currency must be a 3-letter uppercase code")
	ErrSelfTransfer          = errors.New("source and target accounts must be different")
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
)

const (
	aggregateTypeTransaction = "Transaction"
	aggregateTypeTransfer    = "Transfer"
)

// AccountClient is the three-operation contract this core depends on. The
// remote account service owns balances; every call is atomic on its side.
type AccountClient interface {
	Debit(ctx context.Context, accountID int64, amount decimal.Decimal, reference string) error
	Credit(ctx context.Context, accountID int64, amount decimal.Decimal, reference string) error
	GetBalance(ctx context.Context, accountID int64) (*accountclient.Balance, error)
}

// Service records deposits and withdrawals and serves ledger reads.
type Service struct {
	repo            store.Repository
	accounts        AccountClient
	logger          *slog.Logger
	defaultCurrency string
}

// NewService creates a new transaction recorder instance.
func NewService(repo store.Repository, accounts AccountClient, logger *slog.Logger, defaultCurrency string) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "ZAR"
	}
	return &Service{
		repo:            repo,
		accounts:        accounts,
		logger:          logger,
		defaultCurrency: defaultCurrency,
	}
}

// shortReference derives the human-readable reference from a transaction or
// saga id, e.g. "DEP-1A2B3C4D".
func shortReference(prefix string, id uuid.UUID) string {
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

func (s *Service) normalizeCurrency(currency string) (string, error) {
	if currency == "" {
		return s.defaultCurrency, nil
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !domain.ValidCurrency(currency) {
		return "", ErrInvalidCurrency
	}
	return currency, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !domain.FitsMoneyScale(amount) {
		return ErrAmountScale
	}
	return nil
}

// RecordDeposit credits the remote account and records the movement as a
// DEPOSIT transaction with one CREDIT ledger entry and a MONEY_DEPOSITED
// outbox event, all in one local commit.
func (s *Service) RecordDeposit(ctx context.Context, req domain.DepositRequest, idempotencyKey string) (*domain.TransactionResult, error) {
	if idempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	currency, err := s.normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	if existing, err := s.replayTransaction(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		s.logger.Info("returning existing deposit for idempotency key", "idempotency_key", idempotencyKey, "transaction_id", existing.Transaction.ID)
		return existing, nil
	}

	transactionID := uuid.New()
	reference := shortReference("DEP", transactionID)

	if err := s.accounts.Credit(ctx, req.AccountID, req.Amount, reference); err != nil {
		return nil, fmt.Errorf("remote credit failed: %w", err)
	}

	balance, err := s.accounts.GetBalance(ctx, req.AccountID)
	if err != nil {
		s.logger.Error("balance snapshot failed after successful remote credit; remote effect has no local record",
			"account_id", req.AccountID, "reference", reference, "error", err)
		return nil, fmt.Errorf("balance snapshot failed: %w", err)
	}

	accountID := req.AccountID
	tx := &domain.Transaction{
		ID:              transactionID,
		Type:            domain.TransactionTypeDeposit,
		Status:          domain.TransactionStatusCompleted,
		TargetAccountID: &accountID,
		Amount:          req.Amount,
		Currency:        currency,
		Description:     req.Description,
		Reference:       reference,
		IdempotencyKey:  &idempotencyKey,
	}
	entry := domain.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: transactionID,
		AccountID:     req.AccountID,
		EntryType:     domain.EntryTypeCredit,
		Amount:        req.Amount,
		Currency:      currency,
		BalanceAfter:  balance.Balance,
		Description:   req.Description,
	}

	event, err := moneyMovedOutboxEvent(domain.EventTypeMoneyDeposited, tx, balance)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateTransactionWithEntries(ctx, tx, []domain.LedgerEntry{entry}, event); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			// Lost the insert race to a concurrent duplicate; the winner's
			// remote call already happened, ours is the orphan to reconcile.
			s.logger.Error("duplicate idempotency key won the race after our remote credit; orphaned remote credit",
				"idempotency_key", idempotencyKey, "account_id", req.AccountID, "reference", reference)
			if existing, lookupErr := s.replayTransaction(ctx, idempotencyKey); lookupErr == nil && existing != nil {
				return existing, nil
			}
			return nil, err
		}
		s.logger.Error("ledger commit failed after successful remote credit; remote effect has no local record",
			"account_id", req.AccountID, "reference", reference, "error", err)
		return nil, fmt.Errorf("failed to persist deposit: %w", err)
	}

	s.logger.Info("deposit completed", "transaction_id", transactionID, "account_id", req.AccountID, "amount", req.Amount)
	return &domain.TransactionResult{Transaction: tx, Entries: []domain.LedgerEntry{entry}}, nil
}

// RecordWithdrawal debits the remote account and records the movement as a
// WITHDRAWAL transaction with one DEBIT ledger entry and a MONEY_WITHDRAWN
// outbox event. The remote account owns the balance-sufficiency check,
// including overdraft policy; its rejection surfaces as ErrInsufficientFunds.
func (s *Service) RecordWithdrawal(ctx context.Context, req domain.WithdrawRequest, idempotencyKey string) (*domain.TransactionResult, error) {
	if idempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	currency, err := s.normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	if existing, err := s.replayTransaction(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		s.logger.Info("returning existing withdrawal for idempotency key", "idempotency_key", idempotencyKey, "transaction_id", existing.Transaction.ID)
		return existing, nil
	}

	transactionID := uuid.New()
	reference := shortReference("WDR", transactionID)

	if err := s.accounts.Debit(ctx, req.AccountID, req.Amount, reference); err != nil {
		return nil, fmt.Errorf("remote debit failed: %w", err)
	}

	balance, err := s.accounts.GetBalance(ctx, req.AccountID)
	if err != nil {
		s.logger.Error("balance snapshot failed after successful remote debit; remote effect has no local record",
			"account_id", req.AccountID, "reference", reference, "error", err)
		return nil, fmt.Errorf("balance snapshot failed: %w", err)
	}

	accountID := req.AccountID
	tx := &domain.Transaction{
		ID:              transactionID,
		Type:            domain.TransactionTypeWithdrawal,
		Status:          domain.TransactionStatusCompleted,
		SourceAccountID: &accountID,
		Amount:          req.Amount,
		Currency:        currency,
		Description:     req.Description,
		Reference:       reference,
		IdempotencyKey:  &idempotencyKey,
	}
	entry := domain.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: transactionID,
		AccountID:     req.AccountID,
		EntryType:     domain.EntryTypeDebit,
		Amount:        req.Amount,
		Currency:      currency,
		BalanceAfter:  balance.Balance,
		Description:   req.Description,
	}

	event, err := moneyMovedOutboxEvent(domain.EventTypeMoneyWithdrawn, tx, balance)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateTransactionWithEntries(ctx, tx, []domain.LedgerEntry{entry}, event); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			s.logger.Error("duplicate idempotency key won the race after our remote debit; orphaned remote debit",
				"idempotency_key", idempotencyKey, "account_id", req.AccountID, "reference", reference)
			if existing, lookupErr := s.replayTransaction(ctx, idempotencyKey); lookupErr == nil && existing != nil {
				return existing, nil
			}
			return nil, err
		}
		s.logger.Error("ledger commit failed after successful remote debit; remote effect has no local record",
			"account_id", req.AccountID, "reference", reference, "error", err)
		return nil, fmt.Errorf("failed to persist withdrawal: %w", err)
	}

	s.logger.Info("withdrawal completed", "transaction_id", transactionID, "account_id", req.AccountID, "amount", req.Amount)
	return &domain.TransactionResult{Transaction: tx, Entries: []domain.LedgerEntry{entry}}, nil
}

// replayTransaction returns the stored result for a previously used
// idempotency key, or nil when the key is fresh.
func (s *Service) replayTransaction(ctx context.Context, idempotencyKey string) (*domain.TransactionResult, error) {
	tx, err := s.repo.FindTransactionByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	entries, err := s.repo.FindLedgerEntriesByTransactionID(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	return &domain.TransactionResult{Transaction: tx, Entries: entries}, nil
}

// GetTransaction returns one transaction with its ledger entries.
func (s *Service) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.TransactionResult, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.FindLedgerEntriesByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return &domain.TransactionResult{Transaction: tx, Entries: entries}, nil
}

// GetTransactionsForAccount lists an account's transactions, newest first.
func (s *Service) GetTransactionsForAccount(ctx context.Context, accountID int64, page, size int) (domain.Page[domain.Transaction], error) {
	return s.repo.FindTransactionsByAccountID(ctx, accountID, page, size)
}

// GetLedgerEntriesForAccount lists an account's ledger entries, newest first.
func (s *Service) GetLedgerEntriesForAccount(ctx context.Context, accountID int64, page, size int) (domain.Page[domain.LedgerEntry], error) {
	return s.repo.FindLedgerEntriesByAccountID(ctx, accountID, page, size)
}

func moneyMovedOutboxEvent(eventType string, tx *domain.Transaction, balance *accountclient.Balance) (*domain.OutboxEvent, error) {
	accountID := balance.AccountID
	event := domain.MoneyMovedEvent{
		EventEnvelope: domain.NewEventEnvelope(eventType, fmt.Sprintf("%d", accountID), tx.ID.String()),
		AccountID:     accountID,
		AccountNumber: balance.AccountNumber,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		NewBalance:    balance.Balance,
		Reference:     tx.Reference,
	}
	return marshalOutboxEvent(aggregateTypeTransaction, tx.ID.String(), eventType, event)
}

// marshalOutboxEvent serializes a domain event into an outbox row. A
// serialization failure aborts the whole operation; the event is never
// silently dropped.
func marshalOutboxEvent(aggregateType, aggregateID, eventType string, event any) (*domain.OutboxEvent, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s event: %w", eventType, err)
	}
	return &domain.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
