package family

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/ledger"
)

func newWorkflowFixture(t *testing.T) (*Workflow, *familyFixture) {
	t.Helper()
	f := newFamilyFixture(t)
	engine := ledger.NewEngine(f.mem, zap.NewNop())
	w := NewWorkflow(f.mem, engine, f.guard, zap.NewNop())
	w.SetClock(func() time.Time { return base })
	return w, f
}

func (f *familyFixture) accountBalance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	acc, err := f.mem.Accounts().Get(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func TestAdminTransferExecutesImmediately(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()

	transfer, err := w.Create(ctx, f.group.ID, 10, f.member.ID,
		&f.adminAccount.ID, &f.memberAccount.ID, decimal.RequireFromString("250.00"), "RUB", "allowance")
	require.NoError(t, err)
	assert.Equal(t, domain.FamilyTransferExecuted, transfer.Status)
	require.NotNil(t, transfer.ApproverMemberID)
	assert.Equal(t, f.admin.ID, *transfer.ApproverMemberID)
	require.NotNil(t, transfer.DecidedAt)

	assert.True(t, f.accountBalance(t, f.adminAccount.ID).Equal(decimal.RequireFromString("9750.00")))
	assert.True(t, f.accountBalance(t, f.memberAccount.ID).Equal(decimal.RequireFromString("10250.00")))

	// The recipient learns about the executed transfer.
	got := f.notifications(t, 20)
	require.Len(t, got, 1)
	assert.Equal(t, domain.NotifyTransferApproved, got[0].Type)
}

func TestAdminTransferWithoutAccountsIsLogicalApproval(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()

	transfer, err := w.Create(ctx, f.group.ID, 10, f.member.ID,
		nil, nil, decimal.RequireFromString("100.00"), "RUB", "")
	require.NoError(t, err)
	assert.Equal(t, domain.FamilyTransferApproved, transfer.Status)
	assert.True(t, f.accountBalance(t, f.adminAccount.ID).Equal(decimal.RequireFromString("10000.00")))
}

func TestMemberTransferWaitsForApproval(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()

	transfer, err := w.Create(ctx, f.group.ID, 20, f.admin.ID,
		&f.memberAccount.ID, &f.adminAccount.ID, decimal.RequireFromString("300.00"), "RUB", "rent share")
	require.NoError(t, err)
	assert.Equal(t, domain.FamilyTransferPending, transfer.Status)

	// Nothing moved yet, and every admin has a request notification.
	assert.True(t, f.accountBalance(t, f.memberAccount.ID).Equal(decimal.RequireFromString("10000.00")))
	admins := f.notifications(t, 10)
	require.Len(t, admins, 1)
	assert.Equal(t, domain.NotifyTransferRequest, admins[0].Type)

	approved, err := w.Approve(ctx, transfer.ID, 10, true, "")
	require.NoError(t, err)
	assert.Equal(t, domain.FamilyTransferExecuted, approved.Status)
	assert.True(t, f.accountBalance(t, f.memberAccount.ID).Equal(decimal.RequireFromString("9700.00")))
	assert.True(t, f.accountBalance(t, f.adminAccount.ID).Equal(decimal.RequireFromString("10300.00")))
}

func TestRejectionRecordsReasonAndNotifies(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()

	transfer, err := w.Create(ctx, f.group.ID, 20, f.admin.ID,
		&f.memberAccount.ID, &f.adminAccount.ID, decimal.RequireFromString("300.00"), "RUB", "")
	require.NoError(t, err)

	rejected, err := w.Approve(ctx, transfer.ID, 10, false, "not this month")
	require.NoError(t, err)
	assert.Equal(t, domain.FamilyTransferRejected, rejected.Status)
	assert.Equal(t, "not this month", rejected.FailureReason)
	assert.True(t, f.accountBalance(t, f.memberAccount.ID).Equal(decimal.RequireFromString("10000.00")))

	var rejections int
	for _, n := range f.notifications(t, 20) {
		if n.Type == domain.NotifyTransferRejected {
			rejections++
		}
	}
	assert.Equal(t, 1, rejections)
}

func TestDecisionIsSingleShot(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()

	transfer, err := w.Create(ctx, f.group.ID, 20, f.admin.ID,
		&f.memberAccount.ID, &f.adminAccount.ID, decimal.RequireFromString("50.00"), "RUB", "")
	require.NoError(t, err)

	_, err = w.Approve(ctx, transfer.ID, 10, true, "")
	require.NoError(t, err)

	_, err = w.Approve(ctx, transfer.ID, 10, true, "")
	assert.True(t, domain.IsConflict(err))
	_, err = w.Approve(ctx, transfer.ID, 10, false, "changed my mind")
	assert.True(t, domain.IsConflict(err))

	// The money moved exactly once.
	assert.True(t, f.accountBalance(t, f.adminAccount.ID).Equal(decimal.RequireFromString("10050.00")))
}

func TestOnlyAdminsDecide(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()

	transfer, err := w.Create(ctx, f.group.ID, 20, f.admin.ID,
		nil, nil, decimal.RequireFromString("50.00"), "RUB", "")
	require.NoError(t, err)

	_, err = w.Approve(ctx, transfer.ID, 20, true, "")
	assert.True(t, domain.IsAuthorization(err))

	_, err = w.Approve(ctx, transfer.ID, 999, true, "")
	assert.True(t, domain.IsAuthorization(err))
}

func TestNonMemberCannotCreate(t *testing.T) {
	w, f := newWorkflowFixture(t)

	_, err := w.Create(context.Background(), f.group.ID, 999, f.member.ID,
		nil, nil, decimal.RequireFromString("50.00"), "RUB", "")
	assert.True(t, domain.IsAuthorization(err))
}

func TestCreateValidation(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()

	_, err := w.Create(ctx, f.group.ID, 20, f.admin.ID, nil, nil, decimal.Zero, "RUB", "")
	assert.True(t, domain.IsValidation(err))

	// One-sided account specification is rejected.
	_, err = w.Create(ctx, f.group.ID, 20, f.admin.ID, &f.memberAccount.ID, nil, decimal.RequireFromString("10.00"), "RUB", "")
	assert.True(t, domain.IsValidation(err))

	// Self-transfer is rejected.
	_, err = w.Create(ctx, f.group.ID, 20, f.member.ID, nil, nil, decimal.RequireFromString("10.00"), "RUB", "")
	assert.True(t, domain.IsValidation(err))

	// The source account must belong to the requester.
	_, err = w.Create(ctx, f.group.ID, 20, f.admin.ID,
		&f.adminAccount.ID, &f.memberAccount.ID, decimal.RequireFromString("10.00"), "RUB", "")
	assert.True(t, domain.IsNotFound(err))
}

func TestAdminOverLimitIsNotAutoApproved(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()
	f.weeklyLimit(t, f.admin.ID, "100.00", nil)

	transfer, err := w.Create(ctx, f.group.ID, 10, f.member.ID,
		&f.adminAccount.ID, &f.memberAccount.ID, decimal.RequireFromString("150.00"), "RUB", "")
	require.NoError(t, err)
	assert.Equal(t, domain.FamilyTransferPending, transfer.Status)
	assert.True(t, f.accountBalance(t, f.adminAccount.ID).Equal(decimal.RequireFromString("10000.00")))

	// The breached ceiling was reported alongside the pending request.
	var exceeded bool
	for _, n := range f.notifications(t, 10) {
		if n.Type == domain.NotifyLimitExceeded {
			exceeded = true
		}
	}
	assert.True(t, exceeded)
}

func TestExecutionFailureMarksTransferFailed(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()

	// More than the member has; creation is allowed, execution is not.
	transfer, err := w.Create(ctx, f.group.ID, 20, f.admin.ID,
		&f.memberAccount.ID, &f.adminAccount.ID, decimal.RequireFromString("10000.01"), "RUB", "")
	require.NoError(t, err)
	require.Equal(t, domain.FamilyTransferPending, transfer.Status)

	failed, err := w.Approve(ctx, transfer.ID, 10, true, "")
	require.NoError(t, err)
	assert.Equal(t, domain.FamilyTransferFailed, failed.Status)
	assert.NotEmpty(t, failed.FailureReason)

	// Balances are untouched and the requester was told.
	assert.True(t, f.accountBalance(t, f.memberAccount.ID).Equal(decimal.RequireFromString("10000.00")))
	assert.True(t, f.accountBalance(t, f.adminAccount.ID).Equal(decimal.RequireFromString("10000.00")))

	var rejections int
	for _, n := range f.notifications(t, 20) {
		if n.Type == domain.NotifyTransferRejected {
			rejections++
		}
	}
	assert.Equal(t, 1, rejections)
}

func TestAdminExecutionFailureOnCreate(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()

	transfer, err := w.Create(ctx, f.group.ID, 10, f.member.ID,
		&f.adminAccount.ID, &f.memberAccount.ID, decimal.RequireFromString("10000.01"), "RUB", "")
	require.NoError(t, err)
	assert.Equal(t, domain.FamilyTransferFailed, transfer.Status)
	assert.NotEmpty(t, transfer.FailureReason)
	assert.True(t, f.accountBalance(t, f.adminAccount.ID).Equal(decimal.RequireFromString("10000.00")))
}

func TestCancelPendingTransfer(t *testing.T) {
	w, f := newWorkflowFixture(t)
	ctx := context.Background()

	transfer, err := w.Create(ctx, f.group.ID, 20, f.admin.ID,
		nil, nil, decimal.RequireFromString("50.00"), "RUB", "")
	require.NoError(t, err)

	// Someone else cannot withdraw it.
	_, err = w.Cancel(ctx, transfer.ID, 10)
	assert.True(t, domain.IsAuthorization(err))

	cancelled, err := w.Cancel(ctx, transfer.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, domain.FamilyTransferCancelled, cancelled.Status)

	// A decided transfer can no longer be cancelled.
	_, err = w.Cancel(ctx, transfer.ID, 20)
	assert.True(t, domain.IsConflict(err))
}
