/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * Every write endpoint requires a client-supplied Idempotency-Key header;
 * omitting it is a caller error. Authentication is a gateway concern and is
 * not handled here.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/corebank/ledger-service/internal/app"
	"github.com/corebank/ledger-service/internal/domain"
	"github.com/corebank/ledger-service/internal/store"
	"github.com/corebank/ledger-service/pkg/accountclient"
)

// IdempotencyKeyHeader carries the client-supplied key on write requests.
const IdempotencyKeyHeader = "Idempotency-Key"

// LedgerHandlers holds the application services that handlers will use.
type LedgerHandlers struct {
	service         *app.Service
	orchestrator    *app.SagaOrchestrator
	logger          *slog.Logger
	defaultPageSize int
	maxPageSize     int
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service, orchestrator *app.SagaOrchestrator, logger *slog.Logger, defaultPageSize, maxPageSize int) *LedgerHandlers {
	return &LedgerHandlers{
		service:         service,
		orchestrator:    orchestrator,
		logger:          logger,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// transferResponse is the synchronous answer to a transfer request: the
// saga's terminal (or near-terminal) state plus a machine-readable reason.
type transferResponse struct {
	TransferID      string  `json:"transfer_id"`
	Status          string  `json:"status"`
	SourceAccountID int64   `json:"source_account_id"`
	TargetAccountID int64   `json:"target_account_id"`
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency"`
	Description     string  `json:"description,omitempty"`
	FailureReason   *string `json:"failure_reason,omitempty"`
}

func buildTransferResponse(saga *domain.TransferSaga) transferResponse {
	return transferResponse{
		TransferID:      saga.ID.String(),
		Status:          string(saga.Status),
		SourceAccountID: saga.SourceAccountID,
		TargetAccountID: saga.TargetAccountID,
		Amount:          saga.Amount.StringFixed(domain.MoneyScale),
		Currency:        saga.Currency,
		Description:     saga.Description,
		FailureReason:   saga.FailureReason,
	}
}

// DepositHandler handles requests to record a deposit.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.RecordDeposit(r.Context(), req, key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// WithdrawHandler handles requests to record a withdrawal.
func (h *LedgerHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	var req domain.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.RecordWithdrawal(r.Context(), req, key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// TransferHandler handles requests to initiate a two-account transfer. It
// runs the saga synchronously and returns the resulting state; it never
// answers "pending".
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	saga, err := h.orchestrator.InitiateTransfer(r.Context(), req, key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if saga.Status != domain.SagaStatusCompleted {
		status = http.StatusOK
	}
	h.writeJSON(w, status, buildTransferResponse(saga))
}

// GetTransferHandler returns the current state of a transfer saga.
func (h *LedgerHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	transferID, err := uuid.Parse(chi.URLParam(r, "transferID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transfer id")
		return
	}

	saga, err := h.orchestrator.GetTransfer(r.Context(), transferID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, buildTransferResponse(saga))
}

// GetTransactionHandler returns one transaction with its ledger entries.
func (h *LedgerHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	result, err := h.service.GetTransaction(r.Context(), transactionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ListAccountTransactionsHandler lists an account's transactions, newest first.
func (h *LedgerHandlers) ListAccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	page, size := h.pagination(r)

	result, err := h.service.GetTransactionsForAccount(r.Context(), accountID, page, size)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ListAccountLedgerEntriesHandler lists an account's ledger entries, newest first.
func (h *LedgerHandlers) ListAccountLedgerEntriesHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	page, size := h.pagination(r)

	result, err := h.service.GetLedgerEntriesForAccount(r.Context(), accountID, page, size)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *LedgerHandlers) idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return "", false
	}
	return key, true
}

func (h *LedgerHandlers) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account id")
		return 0, false
	}
	return accountID, true
}

func (h *LedgerHandlers) pagination(r *http.Request) (page, size int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 0 {
		page = 0
	}
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil || size <= 0 {
		size = h.defaultPageSize
	}
	if size > h.maxPageSize {
		size = h.maxPageSize
	}
	return page, size
}

// writeServiceError maps application errors onto HTTP statuses. Remote step
// failures inside a saga never reach here; they are state transitions, not
// errors.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrMissingIdempotencyKey),
		errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrAmountScale),
		errors.Is(err, app.ErrInvalidCurrency),
		errors.Is(err, app.ErrSelfTransfer):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, accountclient.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, "Insufficient funds")
	case errors.Is(err, accountclient.ErrAccountNotActive):
		h.writeError(w, http.StatusConflict, "Account is not active")
	case errors.Is(err, accountclient.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "Transaction not found")
	case errors.Is(err, store.ErrSagaNotFound):
		h.writeError(w, http.StatusNotFound, "Transfer not found")
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
