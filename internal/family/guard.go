// Package family implements the family-group transfer workflow: rolling
// spending limits, budget classification, threshold notifications, and the
// admin approval state machine.
package family

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

// Severity classifies a projected spend against a ceiling. Most severe
// wins when several ceilings match.
type Severity string

const (
	SeverityOK          Severity = "ok"
	SeverityApproaching Severity = "approaching"
	SeverityExceeded    Severity = "exceeded"
)

func (s Severity) rank() int {
	switch s {
	case SeverityExceeded:
		return 2
	case SeverityApproaching:
		return 1
	default:
		return 0
	}
}

func worst(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// approachFactor is the share of a ceiling at which a projection counts as
// approaching.
var approachFactor = decimal.NewFromFloat(0.8)

// DefaultFreshnessWindow suppresses repeat notifications of the same type
// for the same ceiling.
const DefaultFreshnessWindow = 6 * time.Hour

// LimitGuard evaluates rolling-window spending against member limits and
// family budgets. All evaluation is read-only; the only side effect is the
// deduplicated threshold notification, written in the caller's unit of
// work.
type LimitGuard struct {
	store     store.Store
	log       *zap.Logger
	clock     func() time.Time
	freshness time.Duration
}

func NewLimitGuard(st store.Store, log *zap.Logger, freshness time.Duration) *LimitGuard {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &LimitGuard{store: st, log: log, clock: time.Now, freshness: freshness}
}

// SetClock overrides the time source for tests.
func (g *LimitGuard) SetClock(clock func() time.Time) { g.clock = clock }

// EvaluateMemberSpending sums the member's expense legs across all linked
// accounts since periodStart, optionally narrowed to one category.
func (g *LimitGuard) EvaluateMemberSpending(ctx context.Context, memberID int64, periodStart time.Time, categoryID *int64) (decimal.Decimal, error) {
	return g.memberSpending(ctx, g.store, memberID, periodStart, categoryID)
}

func (g *LimitGuard) memberSpending(ctx context.Context, tx store.Tx, memberID int64, periodStart time.Time, categoryID *int64) (decimal.Decimal, error) {
	member, err := tx.Families().GetMember(ctx, memberID)
	if err != nil {
		return decimal.Zero, err
	}
	accounts, err := tx.Accounts().ListByOwner(ctx, member.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	ids := make([]int64, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	return tx.Transactions().SumExpenses(ctx, ids, periodStart, categoryID)
}

// CheckWouldExceed classifies the projected spend (current + proposed)
// against every active limit matching the member. A category-scoped limit
// matches its own category; a general limit matches everything.
func (g *LimitGuard) CheckWouldExceed(ctx context.Context, memberID int64, categoryID *int64, proposed decimal.Decimal) (Severity, error) {
	return g.CheckWouldExceedTx(ctx, g.store, memberID, categoryID, proposed)
}

// CheckWouldExceedTx is the in-transaction variant used by the approval
// workflow so the notifications it emits commit with their cause.
func (g *LimitGuard) CheckWouldExceedTx(ctx context.Context, tx store.Tx, memberID int64, categoryID *int64, proposed decimal.Decimal) (Severity, error) {
	member, err := tx.Families().GetMember(ctx, memberID)
	if err != nil {
		return SeverityOK, err
	}
	limits, err := tx.Families().ListActiveLimits(ctx, memberID)
	if err != nil {
		return SeverityOK, err
	}

	now := g.clock()
	overall := SeverityOK
	for i := range limits {
		l := &limits[i]
		if !limitMatches(l.CategoryID, categoryID) {
			continue
		}
		spend, err := g.memberSpending(ctx, tx, memberID, l.Period.Start(now), l.CategoryID)
		if err != nil {
			return SeverityOK, err
		}
		sev := classify(spend.Add(proposed), l.Amount)
		if sev != SeverityOK {
			typ := domain.NotifyLimitApproach
			if sev == SeverityExceeded {
				typ = domain.NotifyLimitExceeded
			}
			if err := g.emit(ctx, tx, &domain.FamilyNotification{
				GroupID:    l.GroupID,
				UserID:     member.UserID,
				Type:       typ,
				SubjectKey: fmt.Sprintf("limit:%d", l.ID),
				Payload:    thresholdPayload(spend.Add(proposed), l.Amount),
			}); err != nil {
				return SeverityOK, err
			}
		}
		overall = worst(overall, sev)
	}
	return overall, nil
}

// EvaluateFamilyBudget classifies current spending across all accounts
// visible to the group against every active budget.
func (g *LimitGuard) EvaluateFamilyBudget(ctx context.Context, groupID int64, categoryID *int64) (Severity, error) {
	return g.EvaluateFamilyBudgetTx(ctx, g.store, groupID, categoryID)
}

func (g *LimitGuard) EvaluateFamilyBudgetTx(ctx context.Context, tx store.Tx, groupID int64, categoryID *int64) (Severity, error) {
	budgets, err := tx.Families().ListActiveBudgets(ctx, groupID)
	if err != nil {
		return SeverityOK, err
	}
	if len(budgets) == 0 {
		return SeverityOK, nil
	}

	members, err := tx.Families().ListMembers(ctx, groupID)
	if err != nil {
		return SeverityOK, err
	}
	var accountIDs []int64
	var admins []domain.FamilyMember
	for _, m := range members {
		if m.Status != domain.FamilyMemberActive {
			continue
		}
		if m.Role == domain.FamilyRoleAdmin {
			admins = append(admins, m)
		}
		accounts, err := tx.Accounts().ListByOwner(ctx, m.UserID)
		if err != nil {
			return SeverityOK, err
		}
		for _, a := range accounts {
			accountIDs = append(accountIDs, a.ID)
		}
	}

	now := g.clock()
	overall := SeverityOK
	for i := range budgets {
		b := &budgets[i]
		if !limitMatches(b.CategoryID, categoryID) {
			continue
		}
		spend, err := tx.Transactions().SumExpenses(ctx, accountIDs, b.Period.Start(now), b.CategoryID)
		if err != nil {
			return SeverityOK, err
		}
		sev := classify(spend, b.Amount)
		if sev != SeverityOK {
			typ := domain.NotifyBudgetApproach
			if sev == SeverityExceeded {
				typ = domain.NotifyBudgetExceeded
			}
			for _, admin := range admins {
				if err := g.emit(ctx, tx, &domain.FamilyNotification{
					GroupID:    groupID,
					UserID:     admin.UserID,
					Type:       typ,
					SubjectKey: fmt.Sprintf("budget:%d", b.ID),
					Payload:    thresholdPayload(spend, b.Amount),
				}); err != nil {
					return SeverityOK, err
				}
			}
		}
		overall = worst(overall, sev)
	}
	return overall, nil
}

// emit writes a notification unless one of the same type for the same
// subject was already created inside the freshness window. The dedup check
// and the insert share the caller's unit of work.
func (g *LimitGuard) emit(ctx context.Context, tx store.Tx, n *domain.FamilyNotification) error {
	exists, err := tx.Notifications().ExistsRecent(ctx, n.Type, n.SubjectKey, g.clock().Add(-g.freshness))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := tx.Notifications().Create(ctx, n); err != nil {
		return err
	}
	g.log.Debug("notification emitted",
		zap.String("type", string(n.Type)),
		zap.String("subject", n.SubjectKey),
		zap.Int64("user_id", n.UserID))
	return nil
}

// limitMatches: a general ceiling (no category) constrains all spend; a
// category-scoped ceiling constrains only its own category.
func limitMatches(limitCategory, proposedCategory *int64) bool {
	if limitCategory == nil {
		return true
	}
	return proposedCategory != nil && *limitCategory == *proposedCategory
}

func classify(projected, ceiling decimal.Decimal) Severity {
	if projected.GreaterThanOrEqual(ceiling) {
		return SeverityExceeded
	}
	if projected.GreaterThanOrEqual(ceiling.Mul(approachFactor)) {
		return SeverityApproaching
	}
	return SeverityOK
}

func thresholdPayload(projected, ceiling decimal.Decimal) string {
	raw, _ := json.Marshal(map[string]string{
		"projected": projected.String(),
		"ceiling":   ceiling.String(),
	})
	return string(raw)
}
