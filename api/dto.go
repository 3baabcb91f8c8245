/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model
  from the external contract. Amounts travel as decimal strings so no
  precision is lost on the wire.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sprout/allowance-ledger/ledger"
)

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	AvatarID  string `json:"avatar_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreateUserRequest struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	AvatarID string `json:"avatar_id"`
}

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Name:      u.Name,
		Role:      string(u.Role),
		AvatarID:  u.AvatarID,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Currency     string `json:"currency"`
	OwnerChildID string `json:"owner_child_id"`
	CreatedBy    string `json:"created_by"`
	IsActive     bool   `json:"is_active"`
	CreatedAt    string `json:"created_at,omitempty"`
}

type CreateAccountRequest struct {
	Name         string `json:"name"`
	Currency     string `json:"currency"`
	OwnerChildID string `json:"owner_child_id"`
	CreatedBy    string `json:"created_by"`
}

type UpdateAccountRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	AsOf      string `json:"as_of"`
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:           a.ID,
		Name:         a.Name,
		Currency:     a.Currency,
		OwnerChildID: a.OwnerChildID,
		CreatedBy:    a.CreatedBy,
		IsActive:     a.IsActive,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID               string `json:"id"`
	AccountID        string `json:"account_id"`
	Type             string `json:"type"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Note             string `json:"note,omitempty"`
	RelatedAccountID string `json:"related_account_id,omitempty"`
	InterestMonth    string `json:"interest_month,omitempty"`
	IsVoid           bool   `json:"is_void"`
	CreatedBy        string `json:"created_by"`
	CreatedAt        string `json:"created_at"`
}

// TransactionPageDTO wraps one history page with the overall total so
// the client can keep paging.
type TransactionPageDTO struct {
	Transactions []TransactionDTO `json:"transactions"`
	Total        int              `json:"total"`
	Page         int              `json:"page"`
	PageSize     int              `json:"page_size"`
}

// ApplyTransactionRequest records a manual deposit or withdrawal.
// Amount accepts both "10.50" and 10.50.
type ApplyTransactionRequest struct {
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note"`
	CreatedBy string          `json:"created_by"`
}

type TransferRequest struct {
	SourceAccountID string          `json:"source_account_id"`
	TargetAccountID string          `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Note            string          `json:"note"`
	CreatedBy       string          `json:"created_by"`
}

type VoidRequest struct {
	ActorID string `json:"actor_id"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:               tx.ID,
		AccountID:        tx.AccountID,
		Type:             string(tx.Type),
		Amount:           tx.Amount.StringFixed(2),
		Currency:         tx.Currency,
		Note:             tx.Note,
		RelatedAccountID: tx.RelatedAccountID,
		InterestMonth:    tx.InterestMonth,
		IsVoid:           tx.IsVoid,
		CreatedBy:        tx.CreatedBy,
		CreatedAt:        tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	return out
}

// =============================================================================
// INTEREST
// =============================================================================

type InterestRunResultDTO struct {
	Settled      int              `json:"settled"`
	Transactions []TransactionDTO `json:"transactions,omitempty"`
}

type InterestScheduleDTO struct {
	StartMonth     string            `json:"start_month,omitempty"`
	MonthsToSettle []string          `json:"months_to_settle"`
	NoteByMonth    map[string]string `json:"note_by_month"`
}

// =============================================================================
// SETTINGS
// =============================================================================

type SettingsDTO struct {
	AnnualRate string `json:"annual_rate"`
	Timezone   string `json:"timezone"`
}

type UpdateSettingsRequest struct {
	AnnualRate decimal.Decimal `json:"annual_rate"`
	Timezone   string          `json:"timezone"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorDTO carries a stable machine-readable code plus a human-readable
// detail string. Clients localize by code, never by message text.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
