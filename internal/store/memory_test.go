package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	acc := &domain.Account{OwnerID: 1, Balance: decimal.NewFromInt(100), Currency: "RUB", Active: true}
	require.NoError(t, mem.Accounts().Create(ctx, acc))

	boom := errors.New("boom")
	err := mem.WithinTx(ctx, func(tx Tx) error {
		if err := tx.Accounts().UpdateBalance(ctx, acc.ID, decimal.Zero); err != nil {
			return err
		}
		if err := tx.Transactions().Create(ctx, &domain.Transaction{
			AccountID:  acc.ID,
			Amount:     decimal.NewFromInt(-100),
			Currency:   "RUB",
			Type:       domain.TransactionExpense,
			ExternalID: "rolled-back",
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := mem.Accounts().Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)), "balance mutated despite rollback")

	entries, err := mem.Transactions().ListByAccount(ctx, acc.ID, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithinTxCommitIsVisible(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	acc := &domain.Account{OwnerID: 1, Balance: decimal.NewFromInt(100), Currency: "RUB", Active: true}
	require.NoError(t, mem.Accounts().Create(ctx, acc))

	require.NoError(t, mem.WithinTx(ctx, func(tx Tx) error {
		return tx.Accounts().UpdateBalance(ctx, acc.ID, decimal.NewFromInt(42))
	}))

	got, err := mem.Accounts().Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(42)))
}

func TestExternalIDIsUnique(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	acc := &domain.Account{OwnerID: 1, Balance: decimal.NewFromInt(100), Currency: "RUB", Active: true}
	require.NoError(t, mem.Accounts().Create(ctx, acc))

	entry := func() *domain.Transaction {
		return &domain.Transaction{
			AccountID:  acc.ID,
			Amount:     decimal.NewFromInt(1),
			Currency:   "RUB",
			Type:       domain.TransactionIncome,
			ExternalID: "op-1:credit",
		}
	}
	require.NoError(t, mem.Transactions().Create(ctx, entry()))
	err := mem.Transactions().Create(ctx, entry())
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestPartnerBankGetOrCreateIsIdempotent(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	first, err := mem.PartnerBanks().GetOrCreate(ctx, "ALPHA", "Alpha Bank")
	require.NoError(t, err)
	second, err := mem.PartnerBanks().GetOrCreate(ctx, "ALPHA", "Renamed")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Alpha Bank", second.Name, "existing bank is not renamed")
}

func TestMemberUniquePerGroup(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	group := &domain.FamilyGroup{Name: "G", OwnerID: 1}
	require.NoError(t, mem.Families().CreateGroup(ctx, group))
	m := &domain.FamilyMember{GroupID: group.ID, UserID: 1, Role: domain.FamilyRoleAdmin, Status: domain.FamilyMemberActive}
	require.NoError(t, mem.Families().CreateMember(ctx, m))

	dup := &domain.FamilyMember{GroupID: group.ID, UserID: 1, Role: domain.FamilyRoleMember, Status: domain.FamilyMemberActive}
	err := mem.Families().CreateMember(ctx, dup)
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
}

func TestNotificationOutboxFlow(t *testing.T) {
	mem := NewMemory()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return base })
	ctx := context.Background()

	group := &domain.FamilyGroup{Name: "G", OwnerID: 1}
	require.NoError(t, mem.Families().CreateGroup(ctx, group))

	n := &domain.FamilyNotification{GroupID: group.ID, UserID: 1, Type: domain.NotifyLimitExceeded, SubjectKey: "limit:1"}
	require.NoError(t, mem.Notifications().Create(ctx, n))

	pending, err := mem.Notifications().ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, mem.Notifications().MarkPublished(ctx, n.ID, base.Add(time.Second)))
	pending, err = mem.Notifications().ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// ExistsRecent sees the row regardless of publication state.
	ok, err := mem.Notifications().ExistsRecent(ctx, domain.NotifyLimitExceeded, "limit:1", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = mem.Notifications().ExistsRecent(ctx, domain.NotifyLimitExceeded, "limit:1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListFilterNormalize(t *testing.T) {
	f := ListFilter{Limit: 0, Offset: -3}.Normalize()
	assert.Equal(t, 50, f.Limit)
	assert.Equal(t, 0, f.Offset)

	f = ListFilter{Limit: 500}.Normalize()
	assert.Equal(t, 50, f.Limit)

	f = ListFilter{Limit: 10, Offset: 5}.Normalize()
	assert.Equal(t, 10, f.Limit)
	assert.Equal(t, 5, f.Offset)
}
