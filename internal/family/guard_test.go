package family

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type familyFixture struct {
	mem    *store.Memory
	guard  *LimitGuard
	group  *domain.FamilyGroup
	admin  *domain.FamilyMember // user 10
	member *domain.FamilyMember // user 20

	adminAccount  *domain.Account
	memberAccount *domain.Account
}

func newFamilyFixture(t *testing.T) *familyFixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	mem.SetClock(func() time.Time { return base })
	guard := NewLimitGuard(mem, zap.NewNop(), DefaultFreshnessWindow)
	guard.SetClock(func() time.Time { return base })

	group := &domain.FamilyGroup{Name: "Petrovs", OwnerID: 10}
	require.NoError(t, mem.Families().CreateGroup(ctx, group))

	admin := &domain.FamilyMember{GroupID: group.ID, UserID: 10, Role: domain.FamilyRoleAdmin, Status: domain.FamilyMemberActive}
	require.NoError(t, mem.Families().CreateMember(ctx, admin))
	member := &domain.FamilyMember{GroupID: group.ID, UserID: 20, Role: domain.FamilyRoleMember, Status: domain.FamilyMemberActive}
	require.NoError(t, mem.Families().CreateMember(ctx, member))

	adminAccount := &domain.Account{OwnerID: 10, Name: "admin", Balance: decimal.RequireFromString("10000.00"), Currency: "RUB", Active: true}
	require.NoError(t, mem.Accounts().Create(ctx, adminAccount))
	memberAccount := &domain.Account{OwnerID: 20, Name: "member", Balance: decimal.RequireFromString("10000.00"), Currency: "RUB", Active: true}
	require.NoError(t, mem.Accounts().Create(ctx, memberAccount))

	return &familyFixture{
		mem: mem, guard: guard, group: group,
		admin: admin, member: member,
		adminAccount: adminAccount, memberAccount: memberAccount,
	}
}

// spend records an expense leg on the account dated daysAgo before base.
func (f *familyFixture) spend(t *testing.T, accountID int64, amount string, daysAgo int, categoryID *int64) {
	t.Helper()
	entry := &domain.Transaction{
		AccountID:  accountID,
		Amount:     decimal.RequireFromString(amount).Neg(),
		Currency:   "RUB",
		Type:       domain.TransactionExpense,
		CategoryID: categoryID,
		ExternalID: fmt.Sprintf("spend-%d-%s-%d", accountID, amount, daysAgo),
		CreatedAt:  base.AddDate(0, 0, -daysAgo),
	}
	require.NoError(t, f.mem.Transactions().Create(context.Background(), entry))
}

func (f *familyFixture) weeklyLimit(t *testing.T, memberID int64, amount string, categoryID *int64) *domain.FamilyMemberLimit {
	t.Helper()
	l := &domain.FamilyMemberLimit{
		GroupID:    f.group.ID,
		MemberID:   memberID,
		Amount:     decimal.RequireFromString(amount),
		Period:     domain.LimitPeriodWeekly,
		CategoryID: categoryID,
		Status:     domain.LimitActive,
	}
	require.NoError(t, f.mem.Families().CreateLimit(context.Background(), l))
	return l
}

func (f *familyFixture) notifications(t *testing.T, userID int64) []domain.FamilyNotification {
	t.Helper()
	out, err := f.mem.Notifications().ListByUser(context.Background(), userID, store.ListFilter{})
	require.NoError(t, err)
	return out
}

func TestEvaluateMemberSpendingWindowsAndCategories(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	cat := int64(5)

	f.spend(t, f.memberAccount.ID, "100.00", 1, nil)
	f.spend(t, f.memberAccount.ID, "200.00", 3, &cat)
	f.spend(t, f.memberAccount.ID, "999.00", 10, nil) // outside the weekly window

	got, err := f.guard.EvaluateMemberSpending(ctx, f.member.ID, domain.LimitPeriodWeekly.Start(base), nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("300.00")), "got %s", got)

	got, err = f.guard.EvaluateMemberSpending(ctx, f.member.ID, domain.LimitPeriodWeekly.Start(base), &cat)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("200.00")), "got %s", got)
}

func TestCheckWouldExceedClassification(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	f.weeklyLimit(t, f.member.ID, "1000.00", nil)
	f.spend(t, f.memberAccount.ID, "500.00", 1, nil)

	cases := []struct {
		name     string
		proposed string
		want     Severity
	}{
		{"well below", "100.00", SeverityOK},
		{"at eighty percent", "300.00", SeverityApproaching},
		{"at the ceiling", "500.00", SeverityExceeded},
		{"over the ceiling", "600.00", SeverityExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sev, err := f.guard.CheckWouldExceed(ctx, f.member.ID, nil, decimal.RequireFromString(tc.proposed))
			require.NoError(t, err)
			assert.Equal(t, tc.want, sev)
		})
	}
}

func TestThresholdNotificationsAreDeduplicated(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	f.weeklyLimit(t, f.member.ID, "1000.00", nil)
	f.spend(t, f.memberAccount.ID, "900.00", 1, nil)

	_, err := f.guard.CheckWouldExceed(ctx, f.member.ID, nil, decimal.RequireFromString("200.00"))
	require.NoError(t, err)
	require.Len(t, f.notifications(t, 20), 1)
	assert.Equal(t, domain.NotifyLimitExceeded, f.notifications(t, 20)[0].Type)

	// Same threshold inside the freshness window stays quiet.
	_, err = f.guard.CheckWouldExceed(ctx, f.member.ID, nil, decimal.RequireFromString("200.00"))
	require.NoError(t, err)
	assert.Len(t, f.notifications(t, 20), 1)

	// Once the window passes, the state is reported again.
	f.guard.SetClock(func() time.Time { return base.Add(DefaultFreshnessWindow + time.Hour) })
	_, err = f.guard.CheckWouldExceed(ctx, f.member.ID, nil, decimal.RequireFromString("200.00"))
	require.NoError(t, err)
	assert.Len(t, f.notifications(t, 20), 2)
}

func TestCategoryLimitIgnoresOtherCategories(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	groceries := int64(5)
	f.weeklyLimit(t, f.member.ID, "100.00", &groceries)

	// An uncategorized proposal is not constrained by the category limit.
	sev, err := f.guard.CheckWouldExceed(ctx, f.member.ID, nil, decimal.RequireFromString("5000.00"))
	require.NoError(t, err)
	assert.Equal(t, SeverityOK, sev)

	other := int64(9)
	sev, err = f.guard.CheckWouldExceed(ctx, f.member.ID, &other, decimal.RequireFromString("5000.00"))
	require.NoError(t, err)
	assert.Equal(t, SeverityOK, sev)

	sev, err = f.guard.CheckWouldExceed(ctx, f.member.ID, &groceries, decimal.RequireFromString("150.00"))
	require.NoError(t, err)
	assert.Equal(t, SeverityExceeded, sev)
}

func TestGeneralLimitConstrainsEverySpend(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	f.weeklyLimit(t, f.member.ID, "1000.00", nil)

	cat := int64(3)
	sev, err := f.guard.CheckWouldExceed(ctx, f.member.ID, &cat, decimal.RequireFromString("1200.00"))
	require.NoError(t, err)
	assert.Equal(t, SeverityExceeded, sev)
}

func TestSuspendedLimitDoesNotParticipate(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	l := &domain.FamilyMemberLimit{
		GroupID:  f.group.ID,
		MemberID: f.member.ID,
		Amount:   decimal.RequireFromString("10.00"),
		Period:   domain.LimitPeriodWeekly,
		Status:   domain.LimitSuspended,
	}
	require.NoError(t, f.mem.Families().CreateLimit(ctx, l))

	sev, err := f.guard.CheckWouldExceed(ctx, f.member.ID, nil, decimal.RequireFromString("5000.00"))
	require.NoError(t, err)
	assert.Equal(t, SeverityOK, sev)
}

func TestFamilyBudgetAggregatesAndNotifiesAdmins(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()

	budget := &domain.FamilyBudget{
		GroupID: f.group.ID,
		Amount:  decimal.RequireFromString("2000.00"),
		Period:  domain.LimitPeriodMonthly,
		Status:  domain.LimitActive,
	}
	require.NoError(t, f.mem.Families().CreateBudget(ctx, budget))

	f.spend(t, f.adminAccount.ID, "1200.00", 2, nil)
	f.spend(t, f.memberAccount.ID, "900.00", 4, nil)

	sev, err := f.guard.EvaluateFamilyBudget(ctx, f.group.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, SeverityExceeded, sev)

	// Only the admin is told; the regular member is not.
	admins := f.notifications(t, 10)
	require.Len(t, admins, 1)
	assert.Equal(t, domain.NotifyBudgetExceeded, admins[0].Type)
	assert.Empty(t, f.notifications(t, 20))
}

func TestFamilyBudgetApproachThreshold(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()

	budget := &domain.FamilyBudget{
		GroupID: f.group.ID,
		Amount:  decimal.RequireFromString("1000.00"),
		Period:  domain.LimitPeriodMonthly,
		Status:  domain.LimitActive,
	}
	require.NoError(t, f.mem.Families().CreateBudget(ctx, budget))
	f.spend(t, f.memberAccount.ID, "850.00", 1, nil)

	sev, err := f.guard.EvaluateFamilyBudget(ctx, f.group.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, SeverityApproaching, sev)

	admins := f.notifications(t, 10)
	require.Len(t, admins, 1)
	assert.Equal(t, domain.NotifyBudgetApproach, admins[0].Type)
}
