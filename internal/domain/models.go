package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a user's balance in the ledger. Balances are mutated
// only by the ledger engine under row locks.
type Account struct {
	ID        int64           `json:"id"`
	OwnerID   int64           `json:"owner_id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionTransfer TransactionType = "transfer"
	TransactionIncome   TransactionType = "income"
	TransactionExpense  TransactionType = "expense"
)

// Transaction is one signed, immutable leg of value movement. Internal
// transfers always create two legs whose amounts sum to zero and whose
// external ids share the operation-id prefix.
type Transaction struct {
	ID         int64           `json:"id"`
	AccountID  int64           `json:"account_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Type       TransactionType `json:"type"`
	CategoryID *int64          `json:"category_id,omitempty"`
	// ExternalID is the caller-visible idempotency key, unique per leg.
	ExternalID  string    `json:"external_id"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PaymentKind distinguishes where a payment intent is routed.
type PaymentKind string

const (
	PaymentKindInternal  PaymentKind = "internal"
	PaymentKindInterbank PaymentKind = "interbank"
	PaymentKindPartner   PaymentKind = "partner"
)

// Payment wraps the logical intent behind a money movement.
type Payment struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Kind      PaymentKind     `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    PaymentStatus   `json:"status"`
	ConsentID *int64          `json:"consent_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PartnerBank is created lazily on the first consent request naming an
// unseen code.
type PartnerBank struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	CallbackURL string    `json:"callback_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConsentRequest is a partner bank's petition to act on a user's accounts.
type ConsentRequest struct {
	ID            int64                `json:"id"`
	PartnerBankID int64                `json:"partner_bank_id"`
	UserID        int64                `json:"user_id"`
	Scopes        ScopeSet             `json:"scopes"`
	Purpose       string               `json:"purpose"`
	ValidFrom     time.Time            `json:"valid_from"`
	ValidUntil    time.Time            `json:"valid_until"`
	Status        ConsentRequestStatus `json:"status"`
	RejectReason  string               `json:"reject_reason,omitempty"`
	DecidedAt     *time.Time           `json:"decided_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Consent is the child of exactly one approved ConsentRequest and drives
// every authorization check for interbank money movement.
type Consent struct {
	ID            int64         `json:"id"`
	RequestID     int64         `json:"request_id"`
	PartnerBankID int64         `json:"partner_bank_id"`
	UserID        int64         `json:"user_id"`
	Scopes        ScopeSet      `json:"scopes"`
	ValidFrom     time.Time     `json:"valid_from"`
	ValidUntil    time.Time     `json:"valid_until"`
	Status        ConsentStatus `json:"status"`
	RevokedAt     *time.Time    `json:"revoked_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ExpiredAt reports whether the validity window has passed at the given
// instant. Expiry is derived here, never written by a background sweep.
func (c *Consent) ExpiredAt(now time.Time) bool {
	return !c.ValidUntil.After(now)
}

// ConsentEventType enumerates the append-only consent audit events.
type ConsentEventType string

const (
	ConsentEventGranted  ConsentEventType = "granted"
	ConsentEventRevoked  ConsentEventType = "revoked"
	ConsentEventAccessed ConsentEventType = "accessed"
	ConsentEventUsage    ConsentEventType = "usage"
)

// ConsentEvent is one append-only audit record keyed by consent id.
type ConsentEvent struct {
	ID        int64            `json:"id"`
	ConsentID int64            `json:"consent_id"`
	Type      ConsentEventType `json:"type"`
	Detail    string           `json:"detail,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// InterbankTransfer records a consent-gated transfer towards a counterparty
// held at a partner bank. The consent reference is mandatory.
type InterbankTransfer struct {
	ID            int64 `json:"id"`
	FromAccountID int64 `json:"from_account_id"`
	// OperationID prefixes the external ids of the debit leg and, if
	// settlement fails, the compensating reversal leg.
	OperationID         string                  `json:"operation_id"`
	PartnerBankID       int64                   `json:"partner_bank_id"`
	CounterpartyAccount string                  `json:"counterparty_account"`
	CounterpartyName    string                  `json:"counterparty_name"`
	Amount              decimal.Decimal         `json:"amount"`
	Currency            string                  `json:"currency"`
	Purpose             string                  `json:"purpose,omitempty"`
	ConsentID           int64                   `json:"consent_id"`
	PaymentID           int64                   `json:"payment_id"`
	Status              InterbankTransferStatus `json:"status"`
	FailureReason       string                  `json:"failure_reason,omitempty"`
	SettledAt           *time.Time              `json:"settled_at,omitempty"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
}
