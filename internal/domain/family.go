package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FamilyRole determines approval privileges inside a group.
type FamilyRole string

const (
	FamilyRoleAdmin  FamilyRole = "admin"
	FamilyRoleMember FamilyRole = "member"
)

// FamilyMemberStatus tracks a membership's standing.
type FamilyMemberStatus string

const (
	FamilyMemberActive  FamilyMemberStatus = "active"
	FamilyMemberPending FamilyMemberStatus = "pending"
	FamilyMemberBlocked FamilyMemberStatus = "blocked"
)

// FamilyGroup is a set of users sharing budgets, limits and optionally
// accounts.
type FamilyGroup struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FamilyMember joins a user to a group. Membership is unique per
// (group, user).
type FamilyMember struct {
	ID       int64              `json:"id"`
	GroupID  int64              `json:"group_id"`
	UserID   int64              `json:"user_id"`
	Role     FamilyRole         `json:"role"`
	Status   FamilyMemberStatus `json:"status"`
	JoinedAt time.Time          `json:"joined_at"`
}

// LimitPeriod is the rolling window a spending ceiling applies to.
type LimitPeriod string

const (
	LimitPeriodWeekly  LimitPeriod = "weekly"
	LimitPeriodMonthly LimitPeriod = "monthly"
)

// Start returns the beginning of the rolling window ending at now.
func (p LimitPeriod) Start(now time.Time) time.Time {
	switch p {
	case LimitPeriodWeekly:
		return now.AddDate(0, 0, -7)
	default:
		return now.AddDate(0, -1, 0)
	}
}

// LimitStatus governs whether a ceiling participates in checks.
type LimitStatus string

const (
	LimitActive    LimitStatus = "active"
	LimitSuspended LimitStatus = "suspended"
	LimitArchived  LimitStatus = "archived"
)

// FamilyMemberLimit is a per-member, per-period, optionally per-category
// spending ceiling.
type FamilyMemberLimit struct {
	ID         int64           `json:"id"`
	GroupID    int64           `json:"group_id"`
	MemberID   int64           `json:"member_id"`
	Amount     decimal.Decimal `json:"amount"`
	Period     LimitPeriod     `json:"period"`
	CategoryID *int64          `json:"category_id,omitempty"`
	Status     LimitStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FamilyBudget is a group-wide ceiling aggregated across all accounts
// visible to the group.
type FamilyBudget struct {
	ID         int64           `json:"id"`
	GroupID    int64           `json:"group_id"`
	Amount     decimal.Decimal `json:"amount"`
	Period     LimitPeriod     `json:"period"`
	CategoryID *int64          `json:"category_id,omitempty"`
	Status     LimitStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FamilyTransfer is a requested money movement between two members of one
// group, subject to the approval workflow.
type FamilyTransfer struct {
	ID                int64                `json:"id"`
	GroupID           int64                `json:"group_id"`
	RequesterMemberID int64                `json:"requester_member_id"`
	RecipientMemberID int64                `json:"recipient_member_id"`
	FromAccountID     *int64               `json:"from_account_id,omitempty"`
	ToAccountID       *int64               `json:"to_account_id,omitempty"`
	Amount            decimal.Decimal      `json:"amount"`
	Currency          string               `json:"currency"`
	Description       string               `json:"description,omitempty"`
	Status            FamilyTransferStatus `json:"status"`
	ApproverMemberID  *int64               `json:"approver_member_id,omitempty"`
	FailureReason     string               `json:"failure_reason,omitempty"`
	DecidedAt         *time.Time           `json:"decided_at,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// HasConcreteAccounts reports whether execution through the ledger is
// possible for this transfer.
func (t *FamilyTransfer) HasConcreteAccounts() bool {
	return t.FromAccountID != nil && t.ToAccountID != nil
}

// NotificationType enumerates the typed family events.
type NotificationType string

const (
	NotifyLimitApproach    NotificationType = "limit_approach"
	NotifyLimitExceeded    NotificationType = "limit_exceeded"
	NotifyBudgetApproach   NotificationType = "budget_approach"
	NotifyBudgetExceeded   NotificationType = "budget_exceeded"
	NotifyTransferRequest  NotificationType = "transfer_request"
	NotifyTransferApproved NotificationType = "transfer_approved"
	NotifyTransferRejected NotificationType = "transfer_rejected"

	// Goal events belong to the savings-goal surface, which lives outside
	// this service. The values are part of the shared notification contract
	// so downstream consumers route on one stable set.
	NotifyGoalProgress  NotificationType = "goal_progress"
	NotifyGoalCompleted NotificationType = "goal_completed"
)

// FamilyNotification is a typed event delivered to one user. Rows are
// written in the same unit of work as the state change that caused them.
type FamilyNotification struct {
	ID      int64            `json:"id"`
	GroupID int64            `json:"group_id"`
	UserID  int64            `json:"user_id"`
	Type    NotificationType `json:"type"`
	// SubjectKey identifies the limit/budget/transfer the event is about and
	// is the deduplication key together with Type.
	SubjectKey  string    `json:"subject_key"`
	Payload     string    `json:"payload,omitempty"`
	Read        bool      `json:"read"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
