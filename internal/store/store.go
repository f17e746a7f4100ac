package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
)

// ListFilter narrows listing queries. Status is matched exactly when set.
type ListFilter struct {
	Status string
	Offset int
	Limit  int
}

func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// AccountRepo is the account directory the engines consume.
type AccountRepo interface {
	Get(ctx context.Context, id int64) (*domain.Account, error)
	// GetOwned fails with NotFound when the account does not belong to
	// ownerID, so ownership is checked in one lookup.
	GetOwned(ctx context.Context, id, ownerID int64) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	ListByOwner(ctx context.Context, ownerID int64) ([]domain.Account, error)
	// LockForUpdate acquires exclusive row locks on the given accounts in
	// ascending id order and returns the locked rows.
	LockForUpdate(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error
}

// TransactionRepo persists immutable ledger entries.
type TransactionRepo interface {
	Create(ctx context.Context, t *domain.Transaction) error
	ListByAccount(ctx context.Context, accountID int64, f ListFilter) ([]domain.Transaction, error)
	// SumExpenses returns the absolute sum of expense-type entries across
	// the given accounts since the window start, optionally per category.
	SumExpenses(ctx context.Context, accountIDs []int64, since time.Time, categoryID *int64) (decimal.Decimal, error)
}

type PaymentRepo interface {
	Create(ctx context.Context, p *domain.Payment) error
	Get(ctx context.Context, id int64) (*domain.Payment, error)
	UpdateStatus(ctx context.Context, id int64, status domain.PaymentStatus) error
	ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.Payment, error)
}

type PartnerBankRepo interface {
	GetByID(ctx context.Context, id int64) (*domain.PartnerBank, error)
	GetByCode(ctx context.Context, code string) (*domain.PartnerBank, error)
	// GetOrCreate registers an unseen code lazily.
	GetOrCreate(ctx context.Context, code, name string) (*domain.PartnerBank, error)
}

type ConsentRequestRepo interface {
	Create(ctx context.Context, r *domain.ConsentRequest) error
	Get(ctx context.Context, id int64) (*domain.ConsentRequest, error)
	Update(ctx context.Context, r *domain.ConsentRequest) error
	ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.ConsentRequest, error)
}

type ConsentRepo interface {
	Create(ctx context.Context, c *domain.Consent) error
	Get(ctx context.Context, id int64) (*domain.Consent, error)
	Update(ctx context.Context, c *domain.Consent) error
	ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.Consent, error)
	// ListActive returns consents with stored status active for the
	// (user, partner bank) pair; expiry is derived by the caller.
	ListActive(ctx context.Context, userID, partnerBankID int64) ([]domain.Consent, error)
}

type ConsentEventRepo interface {
	Append(ctx context.Context, e *domain.ConsentEvent) error
	ListByConsent(ctx context.Context, consentID int64, f ListFilter) ([]domain.ConsentEvent, error)
}

type InterbankTransferRepo interface {
	Create(ctx context.Context, t *domain.InterbankTransfer) error
	Get(ctx context.Context, id int64) (*domain.InterbankTransfer, error)
	Update(ctx context.Context, t *domain.InterbankTransfer) error
	ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.InterbankTransfer, error)
}

// FamilyRepo covers groups, memberships, limits and budgets.
type FamilyRepo interface {
	CreateGroup(ctx context.Context, g *domain.FamilyGroup) error
	GetGroup(ctx context.Context, id int64) (*domain.FamilyGroup, error)
	CreateMember(ctx context.Context, m *domain.FamilyMember) error
	GetMember(ctx context.Context, id int64) (*domain.FamilyMember, error)
	GetMemberByUser(ctx context.Context, groupID, userID int64) (*domain.FamilyMember, error)
	ListMembers(ctx context.Context, groupID int64) ([]domain.FamilyMember, error)
	CreateLimit(ctx context.Context, l *domain.FamilyMemberLimit) error
	ListActiveLimits(ctx context.Context, memberID int64) ([]domain.FamilyMemberLimit, error)
	CreateBudget(ctx context.Context, b *domain.FamilyBudget) error
	ListActiveBudgets(ctx context.Context, groupID int64) ([]domain.FamilyBudget, error)
}

type FamilyTransferRepo interface {
	Create(ctx context.Context, t *domain.FamilyTransfer) error
	Get(ctx context.Context, id int64) (*domain.FamilyTransfer, error)
	Update(ctx context.Context, t *domain.FamilyTransfer) error
	ListByGroup(ctx context.Context, groupID int64, f ListFilter) ([]domain.FamilyTransfer, error)
}

// NotificationRepo persists family notifications. Rows double as the outbox
// consumed by the relay.
type NotificationRepo interface {
	Create(ctx context.Context, n *domain.FamilyNotification) error
	// ExistsRecent reports whether a notification with the same type and
	// subject was already created at or after the given instant.
	ExistsRecent(ctx context.Context, typ domain.NotificationType, subjectKey string, since time.Time) (bool, error)
	ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.FamilyNotification, error)
	MarkRead(ctx context.Context, id, userID int64) error
	ListUnpublished(ctx context.Context, limit int) ([]domain.FamilyNotification, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
}

// Tx is one atomic unit of work. Repositories obtained from it operate
// inside the transaction; locks are released on commit or rollback.
type Tx interface {
	Accounts() AccountRepo
	Transactions() TransactionRepo
	Payments() PaymentRepo
	PartnerBanks() PartnerBankRepo
	ConsentRequests() ConsentRequestRepo
	Consents() ConsentRepo
	ConsentEvents() ConsentEventRepo
	InterbankTransfers() InterbankTransferRepo
	Families() FamilyRepo
	FamilyTransfers() FamilyTransferRepo
	Notifications() NotificationRepo
}

// Store gives auto-commit access through the same repository surface plus
// the unit-of-work entry point. WithinTx commits when fn returns nil and
// rolls everything back otherwise; partial application is impossible.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
