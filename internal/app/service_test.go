package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/corebank/ledger-service/internal/domain"
	"github.com/corebank/ledger-service/internal/store"
	"github.com/corebank/ledger-service/pkg/accountclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type movementCall struct {
	accountID int64
	amount    decimal.Decimal
	reference string
}

// accountClientStub is a programmable fake for the remote account service.
type accountClientStub struct {
	debitErr   error
	creditErr  error
	balanceErr error
	balances   map[int64]decimal.Decimal

	debitCalls   []movementCall
	creditCalls  []movementCall
	balanceCalls []int64
}

func (a *accountClientStub) Debit(ctx context.Context, accountID int64, amount decimal.Decimal, reference string) error {
	a.debitCalls = append(a.debitCalls, movementCall{accountID, amount, reference})
	if a.debitErr != nil {
		return a.debitErr
	}
	if a.balances != nil {
		a.balances[accountID] = a.balances[accountID].Sub(amount)
	}
	return nil
}

func (a *accountClientStub) Credit(ctx context.Context, accountID int64, amount decimal.Decimal, reference string) error {
	a.creditCalls = append(a.creditCalls, movementCall{accountID, amount, reference})
	if a.creditErr != nil {
		return a.creditErr
	}
	if a.balances != nil {
		a.balances[accountID] = a.balances[accountID].Add(amount)
	}
	return nil
}

func (a *accountClientStub) GetBalance(ctx context.Context, accountID int64) (*accountclient.Balance, error) {
	a.balanceCalls = append(a.balanceCalls, accountID)
	if a.balanceErr != nil {
		return nil, a.balanceErr
	}
	balance := decimal.Zero
	if a.balances != nil {
		balance = a.balances[accountID]
	}
	return &accountclient.Balance{
		AccountID:     accountID,
		AccountNumber: fmt.Sprintf("100000%d", accountID),
		Balance:       balance,
		Currency:      "ZAR",
		Status:        "ACTIVE",
	}, nil
}

// recorderRepoStub fakes the ledger repository for recorder tests.
type recorderRepoStub struct {
	store.Repository

	existing        *domain.Transaction
	existingEntries []domain.LedgerEntry
	createErr       error

	createdTx      *domain.Transaction
	createdEntries []domain.LedgerEntry
	createdEvent   *domain.OutboxEvent
}

func (s *recorderRepoStub) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	if s.existing == nil {
		return nil, store.ErrTransactionNotFound
	}
	return s.existing, nil
}

func (s *recorderRepoStub) FindLedgerEntriesByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	return s.existingEntries, nil
}

func (s *recorderRepoStub) CreateTransactionWithEntries(ctx context.Context, tx *domain.Transaction, entries []domain.LedgerEntry, event *domain.OutboxEvent) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.createdTx = tx
	s.createdEntries = entries
	s.createdEvent = event
	return nil
}

func TestRecordDeposit_HappyPath(t *testing.T) {
	repo := &recorderRepoStub{}
	accounts := &accountClientStub{balances: map[int64]decimal.Decimal{42: decimal.RequireFromString("100.0000")}}
	service := NewService(repo, accounts, testLogger(), "ZAR")

	req := domain.DepositRequest{
		AccountID:   42,
		Amount:      decimal.RequireFromString("500.0000"),
		Description: "salary",
	}

	result, err := service.RecordDeposit(context.Background(), req, "dep-key-1")
	if err != nil {
		t.Fatalf("RecordDeposit returned error: %v", err)
	}

	if len(accounts.creditCalls) != 1 {
		t.Fatalf("expected exactly one remote credit, got %d", len(accounts.creditCalls))
	}
	call := accounts.creditCalls[0]
	if call.accountID != 42 || !call.amount.Equal(req.Amount) {
		t.Fatalf("unexpected remote credit call: %+v", call)
	}
	if !strings.HasPrefix(call.reference, "DEP-") || len(call.reference) != len("DEP-")+8 {
		t.Fatalf("unexpected deposit reference %q", call.reference)
	}

	if repo.createdTx == nil {
		t.Fatal("expected transaction to be persisted")
	}
	if repo.createdTx.Type != domain.TransactionTypeDeposit {
		t.Fatalf("expected DEPOSIT transaction, got %s", repo.createdTx.Type)
	}
	if repo.createdTx.SourceAccountID != nil {
		t.Fatal("deposit must not carry a source account")
	}
	if repo.createdTx.TargetAccountID == nil || *repo.createdTx.TargetAccountID != 42 {
		t.Fatal("deposit must target the credited account")
	}
	if repo.createdTx.Currency != "ZAR" {
		t.Fatalf("expected default currency ZAR, got %q", repo.createdTx.Currency)
	}

	if len(repo.createdEntries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(repo.createdEntries))
	}
	entry := repo.createdEntries[0]
	if entry.EntryType != domain.EntryTypeCredit {
		t.Fatalf("expected CREDIT entry, got %s", entry.EntryType)
	}
	if !entry.BalanceAfter.Equal(decimal.RequireFromString("600.0000")) {
		t.Fatalf("expected balance snapshot 600.0000, got %s", entry.BalanceAfter)
	}

	if repo.createdEvent == nil || repo.createdEvent.EventType != domain.EventTypeMoneyDeposited {
		t.Fatalf("expected MONEY_DEPOSITED outbox event, got %+v", repo.createdEvent)
	}
	if result.Transaction.ID != repo.createdTx.ID {
		t.Fatal("result must carry the persisted transaction")
	}
}

func TestRecordDeposit_IdempotentReplaySkipsRemoteCall(t *testing.T) {
	accountID := int64(42)
	existing := &domain.Transaction{
		ID:              uuid.New(),
		Type:            domain.TransactionTypeDeposit,
		Status:          domain.TransactionStatusCompleted,
		TargetAccountID: &accountID,
		Amount:          decimal.RequireFromString("500.0000"),
		Currency:        "ZAR",
	}
	repo := &recorderRepoStub{
		existing:        existing,
		existingEntries: []domain.LedgerEntry{{TransactionID: existing.ID, AccountID: accountID}},
	}
	accounts := &accountClientStub{}
	service := NewService(repo, accounts, testLogger(), "ZAR")

	req := domain.DepositRequest{AccountID: accountID, Amount: decimal.RequireFromString("500.0000")}
	result, err := service.RecordDeposit(context.Background(), req, "dep-key-1")
	if err != nil {
		t.Fatalf("RecordDeposit returned error: %v", err)
	}

	if result.Transaction.ID != existing.ID {
		t.Fatal("expected the stored transaction to be replayed")
	}
	if len(accounts.creditCalls) != 0 || len(accounts.balanceCalls) != 0 {
		t.Fatal("idempotent replay must not touch the remote account service")
	}
	if repo.createdTx != nil {
		t.Fatal("idempotent replay must not persist a second transaction")
	}
}

func TestRecordDeposit_Validation(t *testing.T) {
	repo := &recorderRepoStub{}
	accounts := &accountClientStub{}
	service := NewService(repo, accounts, testLogger(), "ZAR")

	tests := []struct {
		name    string
		req     domain.DepositRequest
		key     string
		wantErr error
	}{
		{
			name:    "missing idempotency key",
			req:     domain.DepositRequest{AccountID: 1, Amount: decimal.RequireFromString("10")},
			key:     "",
			wantErr: ErrMissingIdempotencyKey,
		},
		{
			name:    "zero amount",
			req:     domain.DepositRequest{AccountID: 1, Amount: decimal.Zero},
			key:     "k1",
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			req:     domain.DepositRequest{AccountID: 1, Amount: decimal.RequireFromString("-5")},
			key:     "k2",
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "too many decimal places",
			req:     domain.DepositRequest{AccountID: 1, Amount: decimal.RequireFromString("10.00001")},
			key:     "k3",
			wantErr: ErrAmountScale,
		},
		{
			name:    "invalid currency",
			req:     domain.DepositRequest{AccountID: 1, Amount: decimal.RequireFromString("10"), Currency: "R1"},
			key:     "k4",
			wantErr: ErrInvalidCurrency,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.RecordDeposit(context.Background(), tc.req, tc.key)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(accounts.creditCalls) != 0 {
				t.Fatal("validation failures must not reach the remote account service")
			}
		})
	}
}

func TestRecordWithdrawal_HappyPath(t *testing.T) {
	repo := &recorderRepoStub{}
	accounts := &accountClientStub{balances: map[int64]decimal.Decimal{7: decimal.RequireFromString("250.0000")}}
	service := NewService(repo, accounts, testLogger(), "ZAR")

	req := domain.WithdrawRequest{AccountID: 7, Amount: decimal.RequireFromString("50.0000"), Currency: "zar"}
	result, err := service.RecordWithdrawal(context.Background(), req, "wdr-key-1")
	if err != nil {
		t.Fatalf("RecordWithdrawal returned error: %v", err)
	}

	if len(accounts.debitCalls) != 1 {
		t.Fatalf("expected exactly one remote debit, got %d", len(accounts.debitCalls))
	}
	if !strings.HasPrefix(accounts.debitCalls[0].reference, "WDR-") {
		t.Fatalf("unexpected withdrawal reference %q", accounts.debitCalls[0].reference)
	}
	if repo.createdTx.Type != domain.TransactionTypeWithdrawal {
		t.Fatalf("expected WITHDRAWAL transaction, got %s", repo.createdTx.Type)
	}
	if repo.createdTx.Currency != "ZAR" {
		t.Fatalf("expected currency normalized to ZAR, got %q", repo.createdTx.Currency)
	}
	if repo.createdEntries[0].EntryType != domain.EntryTypeDebit {
		t.Fatalf("expected DEBIT entry, got %s", repo.createdEntries[0].EntryType)
	}
	if !repo.createdEntries[0].BalanceAfter.Equal(decimal.RequireFromString("200.0000")) {
		t.Fatalf("expected balance snapshot 200.0000, got %s", repo.createdEntries[0].BalanceAfter)
	}
	if repo.createdEvent.EventType != domain.EventTypeMoneyWithdrawn {
		t.Fatalf("expected MONEY_WITHDRAWN event, got %s", repo.createdEvent.EventType)
	}
	if result.Transaction.SourceAccountID == nil || *result.Transaction.SourceAccountID != 7 {
		t.Fatal("withdrawal must source the debited account")
	}
}

func TestRecordWithdrawal_InsufficientFundsPersistsNothing(t *testing.T) {
	repo := &recorderRepoStub{}
	accounts := &accountClientStub{debitErr: accountclient.ErrInsufficientFunds}
	service := NewService(repo, accounts, testLogger(), "ZAR")

	req := domain.WithdrawRequest{AccountID: 7, Amount: decimal.RequireFromString("50.0000")}
	_, err := service.RecordWithdrawal(context.Background(), req, "wdr-key-2")
	if !errors.Is(err, accountclient.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds error, got %v", err)
	}
	if repo.createdTx != nil || repo.createdEvent != nil {
		t.Fatal("a rejected remote debit must leave nothing persisted")
	}
	if len(accounts.balanceCalls) != 0 {
		t.Fatal("no balance snapshot after a rejected debit")
	}
}

func TestRecordDeposit_DuplicateRaceReturnsWinner(t *testing.T) {
	accountID := int64(42)
	winner := &domain.Transaction{
		ID:              uuid.New(),
		Type:            domain.TransactionTypeDeposit,
		TargetAccountID: &accountID,
		Amount:          decimal.RequireFromString("500.0000"),
		Currency:        "ZAR",
	}
	// First idempotency lookup misses; the insert then loses the race and the
	// fallback lookup finds the winner's row.
	repo := &raceRepoStub{winner: winner}
	accounts := &accountClientStub{balances: map[int64]decimal.Decimal{accountID: decimal.Zero}}
	service := NewService(repo, accounts, testLogger(), "ZAR")

	req := domain.DepositRequest{AccountID: accountID, Amount: decimal.RequireFromString("500.0000")}
	result, err := service.RecordDeposit(context.Background(), req, "dep-key-race")
	if err != nil {
		t.Fatalf("RecordDeposit returned error: %v", err)
	}
	if result.Transaction.ID != winner.ID {
		t.Fatal("race loser must return the winner's transaction")
	}
}

// raceRepoStub misses the first idempotency lookup, rejects the insert with a
// duplicate-key error, then serves the winner's row.
type raceRepoStub struct {
	store.Repository

	winner  *domain.Transaction
	lookups int
}

func (s *raceRepoStub) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, store.ErrTransactionNotFound
	}
	return s.winner, nil
}

func (s *raceRepoStub) FindLedgerEntriesByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	return []domain.LedgerEntry{{TransactionID: transactionID}}, nil
}

func (s *raceRepoStub) CreateTransactionWithEntries(ctx context.Context, tx *domain.Transaction, entries []domain.LedgerEntry, event *domain.OutboxEvent) error {
	return store.ErrDuplicateIdempotencyKey
}
