package interbank

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/consent"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

type gatewayFixture struct {
	gateway   *Gateway
	authority *consent.Authority
	mem       *store.Memory
	account   *domain.Account
	consent   *domain.Consent
}

// newGatewayFixture builds user 1 with a funded account and an active
// payments.write consent towards bank ALPHA.
func newGatewayFixture(t *testing.T, scopes ...string) *gatewayFixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	authority := consent.NewAuthority(mem, zap.NewNop())
	gateway := NewGateway(mem, authority, zap.NewNop())

	account := &domain.Account{
		OwnerID:  1,
		Name:     "main",
		Balance:  decimal.RequireFromString("500.00"),
		Currency: "RUB",
		Active:   true,
	}
	require.NoError(t, mem.Accounts().Create(ctx, account))

	if len(scopes) == 0 {
		scopes = []string{"payments.write"}
	}
	req, err := authority.RequestConsent(ctx, 1, "ALPHA", "Alpha Bank", scopes, "payments", 30)
	require.NoError(t, err)
	granted, err := authority.ApproveRequest(ctx, req.ID, 1)
	require.NoError(t, err)

	return &gatewayFixture{gateway: gateway, authority: authority, mem: mem, account: account, consent: granted}
}

func (f *gatewayFixture) initiate(t *testing.T, amount string) *domain.InterbankTransfer {
	t.Helper()
	transfer, err := f.gateway.Initiate(context.Background(), 1, f.account.ID, "ALPHA",
		"40817810000000000001", "Ivan Petrov", decimal.RequireFromString(amount), "RUB", "gift", f.consent.ID)
	require.NoError(t, err)
	return transfer
}

func (f *gatewayFixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	acc, err := f.mem.Accounts().Get(context.Background(), f.account.ID)
	require.NoError(t, err)
	return acc.Balance
}

func TestInitiateDebitsSourceAndRecordsIntent(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	transfer := f.initiate(t, "100.00")
	assert.Equal(t, domain.InterbankInitiated, transfer.Status)
	assert.NotEmpty(t, transfer.OperationID)
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("400.00")))

	payment, err := f.mem.Payments().Get(ctx, transfer.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentProcessing, payment.Status)
	assert.Equal(t, domain.PaymentKindInterbank, payment.Kind)

	entries, err := f.mem.Transactions().ListByAccount(ctx, f.account.ID, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, transfer.OperationID+":debit", entries[0].ExternalID)

	// Usage is appended to the consent audit trail.
	events, err := f.mem.ConsentEvents().ListByConsent(ctx, f.consent.ID, store.ListFilter{})
	require.NoError(t, err)
	var usages int
	for _, e := range events {
		if e.Type == domain.ConsentEventUsage {
			usages++
		}
	}
	assert.Equal(t, 1, usages)
}

func TestInitiateRequiresPaymentsScope(t *testing.T) {
	f := newGatewayFixture(t, "accounts.read", "transactions.read")

	_, err := f.gateway.Initiate(context.Background(), 1, f.account.ID, "ALPHA",
		"40817810000000000001", "", decimal.RequireFromString("10.00"), "RUB", "", f.consent.ID)
	require.Error(t, err)
	assert.True(t, domain.IsAuthorization(err))
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("500.00")), "gate must not mutate")
}

func TestInitiateRejectsRevokedConsent(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	_, err := f.authority.RevokeConsent(ctx, f.consent.ID, 1)
	require.NoError(t, err)

	_, err = f.gateway.Initiate(ctx, 1, f.account.ID, "ALPHA",
		"40817810000000000001", "", decimal.RequireFromString("10.00"), "RUB", "", f.consent.ID)
	assert.True(t, domain.IsAuthorization(err))
}

func TestInitiateRejectsForeignConsent(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	// User 2 holds a perfectly valid payments.write consent for the same
	// bank; it must not authorize user 1's transfer.
	req, err := f.authority.RequestConsent(ctx, 2, "ALPHA", "Alpha Bank", []string{"payments.write"}, "payments", 30)
	require.NoError(t, err)
	foreign, err := f.authority.ApproveRequest(ctx, req.ID, 2)
	require.NoError(t, err)

	_, err = f.gateway.Initiate(ctx, 1, f.account.ID, "ALPHA",
		"40817810000000000001", "", decimal.RequireFromString("10.00"), "RUB", "", foreign.ID)
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))

	// The gate aborts before any mutation.
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("500.00")))
	payments, err := f.mem.Payments().ListByUser(ctx, 1, store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, payments)
	events, err := f.mem.ConsentEvents().ListByConsent(ctx, foreign.ID, store.ListFilter{})
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, domain.ConsentEventUsage, e.Type)
	}
}

func TestInitiateRejectsForeignAccount(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.gateway.Initiate(context.Background(), 2, f.account.ID, "ALPHA",
		"40817810000000000001", "", decimal.RequireFromString("10.00"), "RUB", "", f.consent.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestInitiateInsufficientFunds(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.gateway.Initiate(context.Background(), 1, f.account.ID, "ALPHA",
		"40817810000000000001", "", decimal.RequireFromString("500.01"), "RUB", "", f.consent.ID)
	require.Error(t, err)
	assert.True(t, domain.IsInsufficientFunds(err))
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("500.00")))

	// The aborted attempt leaves no payment intent behind.
	payments, err := f.mem.Payments().ListByUser(context.Background(), 1, store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestSettlementCompletesPayment(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	transfer := f.initiate(t, "100.00")

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	settled, err := f.gateway.UpdateStatus(ctx, transfer.ID, domain.InterbankSettled, &at, "")
	require.NoError(t, err)
	assert.Equal(t, domain.InterbankSettled, settled.Status)
	require.NotNil(t, settled.SettledAt)
	assert.True(t, settled.SettledAt.Equal(at))

	payment, err := f.mem.Payments().Get(ctx, transfer.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, payment.Status)

	// The debit stands; no reversal entry appears.
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("400.00")))
}

func TestSettlementDefaultsSettledAtFromClock(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	transfer := f.initiate(t, "100.00")

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.gateway.SetClock(func() time.Time { return now })

	// A callback without an explicit settlement time stamps the transfer
	// with the gateway clock.
	settled, err := f.gateway.UpdateStatus(ctx, transfer.ID, domain.InterbankSettled, nil, "")
	require.NoError(t, err)
	require.NotNil(t, settled.SettledAt)
	assert.True(t, settled.SettledAt.Equal(now))
}

func TestFailedSettlementReversesDebit(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	transfer := f.initiate(t, "100.00")

	failed, err := f.gateway.UpdateStatus(ctx, transfer.ID, domain.InterbankFailed, nil, "beneficiary unknown")
	require.NoError(t, err)
	assert.Equal(t, domain.InterbankFailed, failed.Status)
	assert.Equal(t, "beneficiary unknown", failed.FailureReason)

	// The compensating credit restores the balance under the same operation.
	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("500.00")))

	entries, err := f.mem.Transactions().ListByAccount(ctx, f.account.ID, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	ids := []string{entries[0].ExternalID, entries[1].ExternalID}
	assert.Contains(t, ids, transfer.OperationID+":debit")
	assert.Contains(t, ids, transfer.OperationID+":reversal")

	payment, err := f.mem.Payments().Get(ctx, transfer.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, payment.Status)
}

func TestTerminalSettlementIsSticky(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	transfer := f.initiate(t, "100.00")

	_, err := f.gateway.UpdateStatus(ctx, transfer.ID, domain.InterbankSettled, nil, "")
	require.NoError(t, err)

	// A retried webhook, settled or contradictory, is a Conflict and never
	// re-applies side effects.
	_, err = f.gateway.UpdateStatus(ctx, transfer.ID, domain.InterbankSettled, nil, "")
	assert.True(t, domain.IsConflict(err))
	_, err = f.gateway.UpdateStatus(ctx, transfer.ID, domain.InterbankFailed, nil, "late failure")
	assert.True(t, domain.IsConflict(err))

	assert.True(t, f.balance(t).Equal(decimal.RequireFromString("400.00")))
}

func TestSettlementThroughPendingState(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	transfer := f.initiate(t, "50.00")

	pending, err := f.gateway.UpdateStatus(ctx, transfer.ID, domain.InterbankPendingSettlement, nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.InterbankPendingSettlement, pending.Status)

	settled, err := f.gateway.UpdateStatus(ctx, transfer.ID, domain.InterbankSettled, nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.InterbankSettled, settled.Status)
}

func TestInitiateUnknownBank(t *testing.T) {
	f := newGatewayFixture(t)
	_, err := f.gateway.Initiate(context.Background(), 1, f.account.ID, "NOBANK",
		"40817810000000000001", "", decimal.RequireFromString("10.00"), "RUB", "", f.consent.ID)
	assert.True(t, domain.IsNotFound(err))
}
