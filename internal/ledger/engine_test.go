package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewEngine(mem, zap.NewNop()), mem
}

func seedAccount(t *testing.T, st store.Store, owner int64, balance string, currency string) *domain.Account {
	t.Helper()
	a := &domain.Account{
		OwnerID:  owner,
		Name:     "test",
		Balance:  decimal.RequireFromString(balance),
		Currency: currency,
		Active:   true,
	}
	require.NoError(t, st.Accounts().Create(context.Background(), a))
	return a
}

func TestTransferMovesBalanceAndConserves(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	from := seedAccount(t, mem, 1, "100.00", "RUB")
	to := seedAccount(t, mem, 2, "50.00", "RUB")

	res, err := engine.Transfer(ctx, from.ID, to.ID, decimal.RequireFromString("30.00"), "RUB", "rent share")
	require.NoError(t, err)
	require.NotNil(t, res)

	gotFrom, err := mem.Accounts().Get(ctx, from.ID)
	require.NoError(t, err)
	gotTo, err := mem.Accounts().Get(ctx, to.ID)
	require.NoError(t, err)

	assert.True(t, gotFrom.Balance.Equal(decimal.RequireFromString("70.00")), "from balance %s", gotFrom.Balance)
	assert.True(t, gotTo.Balance.Equal(decimal.RequireFromString("80.00")), "to balance %s", gotTo.Balance)

	total := gotFrom.Balance.Add(gotTo.Balance)
	assert.True(t, total.Equal(decimal.RequireFromString("150.00")), "total changed: %s", total)

	// Both legs share the operation id prefix and mirror each other.
	assert.Equal(t, res.OperationID+":debit", res.Debit.ExternalID)
	assert.Equal(t, res.OperationID+":credit", res.Credit.ExternalID)
	assert.True(t, res.Debit.Amount.Equal(res.Credit.Amount.Neg()))

	entries, err := mem.Transactions().ListByAccount(ctx, from.ID, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TransactionTransfer, entries[0].Type)
}

func TestTransferInsufficientFundsLeavesNothingBehind(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	from := seedAccount(t, mem, 1, "10.00", "RUB")
	to := seedAccount(t, mem, 2, "0.00", "RUB")

	_, err := engine.Transfer(ctx, from.ID, to.ID, decimal.RequireFromString("10.01"), "RUB", "")
	require.Error(t, err)
	assert.True(t, domain.IsInsufficientFunds(err))

	gotFrom, err := mem.Accounts().Get(ctx, from.ID)
	require.NoError(t, err)
	assert.True(t, gotFrom.Balance.Equal(decimal.RequireFromString("10.00")))

	entries, err := mem.Transactions().ListByAccount(ctx, from.ID, store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransferExactBalanceSucceeds(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	from := seedAccount(t, mem, 1, "10.00", "RUB")
	to := seedAccount(t, mem, 2, "0.00", "RUB")

	_, err := engine.Transfer(ctx, from.ID, to.ID, decimal.RequireFromString("10.00"), "RUB", "")
	require.NoError(t, err)

	gotFrom, err := mem.Accounts().Get(ctx, from.ID)
	require.NoError(t, err)
	assert.True(t, gotFrom.Balance.IsZero())
}

func TestTransferValidation(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	rub := seedAccount(t, mem, 1, "100.00", "RUB")
	usd := seedAccount(t, mem, 2, "100.00", "USD")
	other := seedAccount(t, mem, 3, "100.00", "RUB")

	cases := []struct {
		name     string
		from, to int64
		amount   string
		currency string
	}{
		{"same account", rub.ID, rub.ID, "1.00", "RUB"},
		{"zero amount", rub.ID, other.ID, "0", "RUB"},
		{"negative amount", rub.ID, other.ID, "-5.00", "RUB"},
		{"currency mismatch", rub.ID, usd.ID, "1.00", "RUB"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Transfer(ctx, tc.from, tc.to, decimal.RequireFromString(tc.amount), tc.currency, "")
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err), "got kind %s", domain.KindOf(err))
		})
	}
}

func TestTransferInactiveAccountRejected(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	from := seedAccount(t, mem, 1, "100.00", "RUB")
	closed := &domain.Account{
		OwnerID:  2,
		Name:     "closed",
		Balance:  decimal.RequireFromString("100.00"),
		Currency: "RUB",
		Active:   false,
	}
	require.NoError(t, mem.Accounts().Create(ctx, closed))

	_, err := engine.Transfer(ctx, from.ID, closed.ID, decimal.RequireFromString("1.00"), "RUB", "")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestConcurrentOppositeTransfersConserveTotal(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	a := seedAccount(t, mem, 1, "1000.00", "RUB")
	b := seedAccount(t, mem, 2, "1000.00", "RUB")

	const rounds = 50
	amount := decimal.RequireFromString("1.00")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			engine.Transfer(ctx, a.ID, b.ID, amount, "RUB", "ab")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			engine.Transfer(ctx, b.ID, a.ID, amount, "RUB", "ba")
		}
	}()
	wg.Wait()

	gotA, err := mem.Accounts().Get(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := mem.Accounts().Get(ctx, b.ID)
	require.NoError(t, err)
	total := gotA.Balance.Add(gotB.Balance)
	assert.True(t, total.Equal(decimal.RequireFromString("2000.00")), "total drifted: %s", total)
}

func TestRecordExpenseNormalizesSign(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	acc := seedAccount(t, mem, 1, "100.00", "RUB")

	cat := int64(7)
	entry, err := engine.Record(ctx, acc.ID, decimal.RequireFromString("25.00"), "RUB", domain.TransactionExpense, &cat, "groceries")
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("-25.00")))

	got, err := mem.Accounts().Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("75.00")))
}

func TestRecordRejectsInactiveAccount(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()

	acc := &domain.Account{
		OwnerID:  1,
		Name:     "closed",
		Balance:  decimal.RequireFromString("100.00"),
		Currency: "RUB",
		Active:   false,
	}
	require.NoError(t, mem.Accounts().Create(ctx, acc))

	_, err := engine.Record(ctx, acc.ID, decimal.RequireFromString("5.00"), "RUB", domain.TransactionIncome, nil, "")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	got, err := mem.Accounts().Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("100.00")))
}

func TestRecordExpenseCannotOverdraw(t *testing.T) {
	engine, mem := newTestEngine(t)
	ctx := context.Background()
	acc := seedAccount(t, mem, 1, "10.00", "RUB")

	_, err := engine.Record(ctx, acc.ID, decimal.RequireFromString("10.01"), "RUB", domain.TransactionExpense, nil, "")
	require.Error(t, err)
	assert.True(t, domain.IsInsufficientFunds(err))

	got, err := mem.Accounts().Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("10.00")))
}
