/*
handlers.go - HTTP API handlers for the allowance ledger

PURPOSE:
  Exposes the accounting engine via REST. Handles HTTP parsing, JSON
  serialization, and error-kind to status mapping; all money rules live
  in the ledger and interest packages.

ENDPOINTS:
  Users:
    GET    /api/users                       List parents and children
    POST   /api/users                       Create a user

  Accounts:
    GET    /api/accounts                    List accounts
    POST   /api/accounts                    Create account
    GET    /api/accounts/{id}               Account details
    PATCH  /api/accounts/{id}               Rename / deactivate
    GET    /api/accounts/{id}/balance       Current balance
    GET    /api/accounts/{id}/transactions  History page
    POST   /api/accounts/{id}/transactions  Deposit / withdrawal

  Transfers:
    POST   /api/transfers                   Paired transfer

  Void:
    POST   /api/transactions/{id}/void      Soft-cancel a row

  Interest:
    GET    /api/accounts/{id}/interest/schedule  Preview unsettled months
    POST   /api/interest/run                     Settle all accounts now

  Settings:
    GET    /api/settings
    PUT    /api/settings

ERROR HANDLING:
  Business-rule failures map to 400/404/409 with a stable code
  (see ledger.ErrorCode); unexpected failures are 500.

AUTHORIZATION:
  The acting user arrives in the request body (created_by / actor_id);
  role enforcement is the caller's concern, not this layer's.

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sprout/allowance-ledger/interest"
	"github.com/sprout/allowance-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *ledger.Engine
	Settler *interest.Settler
	Store   ledger.Store
	Log     *slog.Logger
}

func NewHandler(engine *ledger.Engine, settler *interest.Settler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Engine:  engine,
		Settler: settler,
		Store:   engine.Store(),
		Log:     log,
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, err, "failed to list users")
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeBadRequest(w, "name is required")
		return
	}
	role := ledger.Role(req.Role)
	if role != ledger.RoleParent && role != ledger.RoleChild {
		writeBadRequest(w, "role must be parent or child")
		return
	}

	user := ledger.User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Role:      role,
		AvatarID:  req.AvatarID,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveUser(r.Context(), user); err != nil {
		h.writeError(w, err, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		h.writeError(w, err, "failed to list accounts")
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	switch {
	case strings.TrimSpace(req.Name) == "":
		writeBadRequest(w, "name is required")
		return
	case currency == "":
		writeBadRequest(w, "currency is required")
		return
	case req.OwnerChildID == "":
		writeBadRequest(w, "owner_child_id is required")
		return
	}

	account := ledger.Account{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Currency:     currency,
		OwnerChildID: req.OwnerChildID,
		CreatedBy:    req.CreatedBy,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.Store.SaveAccount(r.Context(), account); err != nil {
		h.writeError(w, err, "failed to create account")
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*account))
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}
	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			writeBadRequest(w, "name cannot be empty")
			return
		}
		account.Name = strings.TrimSpace(*req.Name)
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	if err := h.Store.SaveAccount(r.Context(), *account); err != nil {
		h.writeError(w, err, "failed to update account")
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*account))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}
	balance, err := h.Engine.Balance(r.Context(), account.ID)
	if err != nil {
		h.writeError(w, err, "failed to compute balance")
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: account.ID,
		Currency:  account.Currency,
		Balance:   balance.StringFixed(2),
		AsOf:      time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// GetTransactions returns one history page, newest first.
// Query params: page (1-based), page_size, include_voided.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 10)
	filter := ledger.TxFilter{
		IncludeVoid: r.URL.Query().Get("include_voided") == "true",
		NewestFirst: true,
		Page:        page,
		PageSize:    pageSize,
	}

	txs, err := h.Store.ListTransactions(r.Context(), account.ID, filter)
	if err != nil {
		h.writeError(w, err, "failed to list transactions")
		return
	}
	total, err := h.Store.CountTransactions(r.Context(), account.ID, filter)
	if err != nil {
		h.writeError(w, err, "failed to count transactions")
		return
	}

	writeJSON(w, http.StatusOK, TransactionPageDTO{
		Transactions: toTransactionDTOs(txs),
		Total:        total,
		Page:         page,
		PageSize:     pageSize,
	})
}

// ApplyTransaction records a manual deposit or withdrawal.
func (h *Handler) ApplyTransaction(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	var req ApplyTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	tx, err := h.Engine.Apply(r.Context(), accountID, ledger.TxType(req.Type), req.Amount, req.Note, req.CreatedBy)
	if err != nil {
		h.writeError(w, err, "failed to apply transaction")
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// Transfer records a paired transfer between two accounts.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	legs, err := h.Engine.Transfer(r.Context(), req.SourceAccountID, req.TargetAccountID, req.Amount, req.Note, req.CreatedBy)
	if err != nil {
		h.writeError(w, err, "failed to transfer")
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTOs(legs))
}

// VoidTransaction soft-cancels one row. Voiding one transfer leg does
// not touch the counterpart leg.
func (h *Handler) VoidTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	var req VoidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	tx, err := h.Engine.Void(r.Context(), txID, req.ActorID)
	if err != nil {
		h.writeError(w, err, "failed to void transaction")
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// =============================================================================
// INTEREST HANDLERS
// =============================================================================

// GetInterestSchedule previews the unsettled months for one account
// without writing anything.
func (h *Handler) GetInterestSchedule(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadAccount(w, r)
	if !ok {
		return
	}

	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		h.writeError(w, err, "failed to load settings")
		return
	}
	loc, err := settings.Location()
	if err != nil {
		h.writeError(w, err, "invalid timezone in settings")
		return
	}
	txns, err := h.Store.ListTransactions(r.Context(), account.ID, ledger.TxFilter{IncludeVoid: true})
	if err != nil {
		h.writeError(w, err, "failed to list transactions")
		return
	}

	schedule := interest.BuildSchedule(txns, time.Now(), settings.AnnualRate, loc)
	dto := InterestScheduleDTO{
		MonthsToSettle: make([]string, len(schedule.MonthsToSettle)),
		NoteByMonth:    schedule.NoteByMonth,
	}
	if len(txns) > 0 {
		dto.StartMonth = schedule.StartMonth.Key()
	}
	for i, m := range schedule.MonthsToSettle {
		dto.MonthsToSettle[i] = m.Key()
	}
	writeJSON(w, http.StatusOK, dto)
}

// RunInterest settles every outstanding month across all accounts.
func (h *Handler) RunInterest(w http.ResponseWriter, r *http.Request) {
	settled, err := h.Settler.SettleAll(r.Context(), time.Now())
	if err != nil {
		h.writeError(w, err, "interest settlement failed")
		return
	}
	writeJSON(w, http.StatusOK, InterestRunResultDTO{Settled: settled})
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		h.writeError(w, err, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{
		AnnualRate: settings.AnnualRate.String(),
		Timezone:   settings.Timezone,
	})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if !req.AnnualRate.IsPositive() {
		writeBadRequest(w, "annual_rate must be positive")
		return
	}
	settings := ledger.Settings{AnnualRate: req.AnnualRate, Timezone: req.Timezone}
	if _, err := settings.Location(); err != nil {
		writeBadRequest(w, "unknown timezone")
		return
	}
	if err := h.Store.SaveSettings(r.Context(), settings); err != nil {
		h.writeError(w, err, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{
		AnnualRate: settings.AnnualRate.String(),
		Timezone:   settings.Timezone,
	})
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func (h *Handler) loadAccount(w http.ResponseWriter, r *http.Request) (*ledger.Account, bool) {
	id := chi.URLParam(r, "id")
	account, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "failed to load account")
		return nil, false
	}
	if account == nil {
		writeJSON(w, http.StatusNotFound, ErrorDTO{Code: "not_found", Message: "account not found"})
		return nil, false
	}
	return account, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrAlreadyVoid), errors.Is(err, ledger.ErrMonthSettled):
		status = http.StatusConflict
	case ledger.IsClientError(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.Log.Error(msg, "err", err)
	}
	writeJSON(w, status, ErrorDTO{
		Code:    ledger.ErrorCode(err),
		Message: msg,
		Detail:  err.Error(),
	})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorDTO{Code: "bad_request", Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
