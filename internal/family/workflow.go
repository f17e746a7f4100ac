package family

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/ledger"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

// Workflow drives the FamilyTransfer state machine. Admins within budget
// are auto-approved and executed immediately; everyone else waits for an
// admin decision.
type Workflow struct {
	store  store.Store
	engine *ledger.Engine
	guard  *LimitGuard
	log    *zap.Logger
	clock  func() time.Time
}

func NewWorkflow(st store.Store, engine *ledger.Engine, guard *LimitGuard, log *zap.Logger) *Workflow {
	return &Workflow{store: st, engine: engine, guard: guard, log: log, clock: time.Now}
}

// SetClock overrides the time source for tests.
func (w *Workflow) SetClock(clock func() time.Time) { w.clock = clock }

// execFailure marks a ledger failure during execution, a legitimate race
// (balance changed since request) rather than a rejected call. The
// surrounding transaction is rolled back and the failure is recorded in a
// fresh unit of work.
type execFailure struct{ err error }

func (e *execFailure) Error() string { return e.err.Error() }
func (e *execFailure) Unwrap() error { return e.err }

// Create requests a transfer between two members of one group. Validation
// and authorization run before any lock; the transfer row, its ledger
// execution (for auto-approved admins) and every notification commit as one
// unit of work.
func (w *Workflow) Create(ctx context.Context, groupID, requesterUserID, recipientMemberID int64, fromAccountID, toAccountID *int64, amount decimal.Decimal, currency, description string) (*domain.FamilyTransfer, error) {
	if !amount.IsPositive() {
		return nil, domain.E(domain.KindValidation, "amount must be positive")
	}
	if (fromAccountID == nil) != (toAccountID == nil) {
		return nil, domain.E(domain.KindValidation, "both accounts must be set for an executable transfer")
	}

	requester, err := w.store.Families().GetMemberByUser(ctx, groupID, requesterUserID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.E(domain.KindAuthorization, "user %d is not a member of group %d", requesterUserID, groupID)
		}
		return nil, err
	}
	if requester.Status != domain.FamilyMemberActive {
		return nil, domain.E(domain.KindAuthorization, "membership is %s", requester.Status)
	}

	recipient, err := w.store.Families().GetMember(ctx, recipientMemberID)
	if err != nil {
		return nil, err
	}
	if recipient.GroupID != groupID {
		return nil, domain.E(domain.KindNotFound, "family member %d not found", recipientMemberID)
	}
	if recipient.Status != domain.FamilyMemberActive {
		return nil, domain.E(domain.KindValidation, "recipient membership is %s", recipient.Status)
	}
	if requester.ID == recipient.ID {
		return nil, domain.E(domain.KindValidation, "cannot transfer to yourself")
	}

	if fromAccountID != nil {
		from, err := w.store.Accounts().GetOwned(ctx, *fromAccountID, requester.UserID)
		if err != nil {
			return nil, err
		}
		to, err := w.store.Accounts().GetOwned(ctx, *toAccountID, recipient.UserID)
		if err != nil {
			return nil, err
		}
		if from.Currency != currency || to.Currency != currency {
			return nil, domain.E(domain.KindValidation, "currency mismatch: transfer is %s, accounts are %s/%s", currency, from.Currency, to.Currency)
		}
	}

	now := w.clock()
	transfer := &domain.FamilyTransfer{
		GroupID:           groupID,
		RequesterMemberID: requester.ID,
		RecipientMemberID: recipient.ID,
		FromAccountID:     fromAccountID,
		ToAccountID:       toAccountID,
		Amount:            amount,
		Currency:          currency,
		Description:       description,
	}

	err = w.store.WithinTx(ctx, func(tx store.Tx) error {
		severity, err := w.guard.CheckWouldExceedTx(ctx, tx, requester.ID, nil, amount)
		if err != nil {
			return err
		}

		if requester.Role == domain.FamilyRoleAdmin && severity != SeverityExceeded {
			transfer.Status = domain.FamilyTransferApproved
			transfer.ApproverMemberID = &requester.ID
			transfer.DecidedAt = &now
			if err := tx.FamilyTransfers().Create(ctx, transfer); err != nil {
				return err
			}
			if transfer.HasConcreteAccounts() {
				if err := w.executeTx(ctx, tx, transfer, recipient.UserID); err != nil {
					return err
				}
			}
			return nil
		}

		transfer.Status = domain.FamilyTransferPending
		if err := tx.FamilyTransfers().Create(ctx, transfer); err != nil {
			return err
		}
		return w.notifyAdmins(ctx, tx, transfer)
	})
	if err != nil {
		var ef *execFailure
		if errors.As(err, &ef) {
			return w.recordFailure(ctx, transfer, requester.UserID, &requester.ID, ef.err)
		}
		return nil, err
	}

	w.log.Info("family transfer created",
		zap.Int64("transfer_id", transfer.ID),
		zap.Int64("group_id", groupID),
		zap.String("status", string(transfer.Status)))
	return transfer, nil
}

// Approve records an admin decision on a pending transfer. Only an admin
// of the same group may decide, and only once.
func (w *Workflow) Approve(ctx context.Context, transferID, approverUserID int64, decision bool, reason string) (*domain.FamilyTransfer, error) {
	transfer, err := w.store.FamilyTransfers().Get(ctx, transferID)
	if err != nil {
		return nil, err
	}

	approver, err := w.store.Families().GetMemberByUser(ctx, transfer.GroupID, approverUserID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.E(domain.KindAuthorization, "user %d is not a member of group %d", approverUserID, transfer.GroupID)
		}
		return nil, err
	}
	if approver.Role != domain.FamilyRoleAdmin || approver.Status != domain.FamilyMemberActive {
		return nil, domain.E(domain.KindAuthorization, "only an active admin may decide transfers")
	}
	if transfer.Status != domain.FamilyTransferPending {
		return nil, domain.E(domain.KindConflict, "transfer %d is already %s", transferID, transfer.Status)
	}

	requester, err := w.store.Families().GetMember(ctx, transfer.RequesterMemberID)
	if err != nil {
		return nil, err
	}
	recipient, err := w.store.Families().GetMember(ctx, transfer.RecipientMemberID)
	if err != nil {
		return nil, err
	}

	now := w.clock()
	err = w.store.WithinTx(ctx, func(tx store.Tx) error {
		// Re-check under the unit of work; a concurrent decision is a
		// Conflict, not a double application.
		current, err := tx.FamilyTransfers().Get(ctx, transferID)
		if err != nil {
			return err
		}
		if current.Status != domain.FamilyTransferPending {
			return domain.E(domain.KindConflict, "transfer %d is already %s", transferID, current.Status)
		}
		transfer = current
		transfer.ApproverMemberID = &approver.ID
		transfer.DecidedAt = &now

		if !decision {
			transfer.Status = domain.FamilyTransferRejected
			transfer.FailureReason = reason
			if err := tx.FamilyTransfers().Update(ctx, transfer); err != nil {
				return err
			}
			return w.guard.emit(ctx, tx, &domain.FamilyNotification{
				GroupID:    transfer.GroupID,
				UserID:     requester.UserID,
				Type:       domain.NotifyTransferRejected,
				SubjectKey: transferSubject(transfer.ID),
				Payload:    reasonPayload(reason),
			})
		}

		if !transfer.HasConcreteAccounts() {
			// Logical approval only; there is nothing to execute.
			transfer.Status = domain.FamilyTransferApproved
			if err := tx.FamilyTransfers().Update(ctx, transfer); err != nil {
				return err
			}
			return w.guard.emit(ctx, tx, &domain.FamilyNotification{
				GroupID:    transfer.GroupID,
				UserID:     requester.UserID,
				Type:       domain.NotifyTransferApproved,
				SubjectKey: transferSubject(transfer.ID),
			})
		}

		return w.executeTx(ctx, tx, transfer, recipient.UserID)
	})
	if err != nil {
		var ef *execFailure
		if errors.As(err, &ef) {
			return w.failPending(ctx, transferID, requester.UserID, &approver.ID, ef.err)
		}
		return nil, err
	}

	w.log.Info("family transfer decided",
		zap.Int64("transfer_id", transferID),
		zap.Bool("approved", decision),
		zap.String("status", string(transfer.Status)))
	return transfer, nil
}

// Cancel lets the requester withdraw a transfer that is still pending.
func (w *Workflow) Cancel(ctx context.Context, transferID, requesterUserID int64) (*domain.FamilyTransfer, error) {
	var transfer *domain.FamilyTransfer
	err := w.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		transfer, err = tx.FamilyTransfers().Get(ctx, transferID)
		if err != nil {
			return err
		}
		requester, err := tx.Families().GetMember(ctx, transfer.RequesterMemberID)
		if err != nil {
			return err
		}
		if requester.UserID != requesterUserID {
			return domain.E(domain.KindAuthorization, "only the requester may cancel")
		}
		if transfer.Status != domain.FamilyTransferPending {
			return domain.E(domain.KindConflict, "transfer %d is already %s", transferID, transfer.Status)
		}
		transfer.Status = domain.FamilyTransferCancelled
		return tx.FamilyTransfers().Update(ctx, transfer)
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// executeTx moves the money through the ledger engine inside the caller's
// unit of work, marks the transfer executed, notifies the requester's side
// and re-evaluates limits and budgets so newly crossed thresholds are
// reported with the same commit.
func (w *Workflow) executeTx(ctx context.Context, tx store.Tx, transfer *domain.FamilyTransfer, recipientUserID int64) error {
	_, err := w.engine.TransferTx(ctx, tx, *transfer.FromAccountID, *transfer.ToAccountID, transfer.Amount, transfer.Currency, transfer.Description)
	if err != nil {
		return &execFailure{err: err}
	}
	transfer.Status = domain.FamilyTransferExecuted
	if err := tx.FamilyTransfers().Update(ctx, transfer); err != nil {
		return err
	}

	if err := w.guard.emit(ctx, tx, &domain.FamilyNotification{
		GroupID:    transfer.GroupID,
		UserID:     recipientUserID,
		Type:       domain.NotifyTransferApproved,
		SubjectKey: transferSubject(transfer.ID),
	}); err != nil {
		return err
	}

	if _, err := w.guard.CheckWouldExceedTx(ctx, tx, transfer.RequesterMemberID, nil, decimal.Zero); err != nil {
		return err
	}
	_, err = w.guard.EvaluateFamilyBudgetTx(ctx, tx, transfer.GroupID, nil)
	return err
}

// recordFailure persists a transfer whose immediate execution failed during
// creation. The ledger rollback already happened; this runs in a fresh unit
// of work so the failed row and its notification still commit.
func (w *Workflow) recordFailure(ctx context.Context, transfer *domain.FamilyTransfer, requesterUserID int64, approverMemberID *int64, cause error) (*domain.FamilyTransfer, error) {
	now := w.clock()
	transfer.Status = domain.FamilyTransferFailed
	transfer.FailureReason = cause.Error()
	transfer.ApproverMemberID = approverMemberID
	transfer.DecidedAt = &now
	err := w.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.FamilyTransfers().Create(ctx, transfer); err != nil {
			return err
		}
		return w.guard.emit(ctx, tx, &domain.FamilyNotification{
			GroupID:    transfer.GroupID,
			UserID:     requesterUserID,
			Type:       domain.NotifyTransferRejected,
			SubjectKey: transferSubject(transfer.ID),
			Payload:    reasonPayload(transfer.FailureReason),
		})
	})
	if err != nil {
		return nil, err
	}
	w.log.Warn("family transfer failed on execution",
		zap.Int64("transfer_id", transfer.ID),
		zap.String("reason", transfer.FailureReason))
	return transfer, nil
}

// failPending marks a still-pending transfer failed after its approved
// execution was rolled back.
func (w *Workflow) failPending(ctx context.Context, transferID, requesterUserID int64, approverMemberID *int64, cause error) (*domain.FamilyTransfer, error) {
	now := w.clock()
	var transfer *domain.FamilyTransfer
	err := w.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		transfer, err = tx.FamilyTransfers().Get(ctx, transferID)
		if err != nil {
			return err
		}
		if transfer.Status != domain.FamilyTransferPending {
			return domain.E(domain.KindConflict, "transfer %d is already %s", transferID, transfer.Status)
		}
		transfer.Status = domain.FamilyTransferFailed
		transfer.FailureReason = cause.Error()
		transfer.ApproverMemberID = approverMemberID
		transfer.DecidedAt = &now
		if err := tx.FamilyTransfers().Update(ctx, transfer); err != nil {
			return err
		}
		return w.guard.emit(ctx, tx, &domain.FamilyNotification{
			GroupID:    transfer.GroupID,
			UserID:     requesterUserID,
			Type:       domain.NotifyTransferRejected,
			SubjectKey: transferSubject(transfer.ID),
			Payload:    reasonPayload(transfer.FailureReason),
		})
	})
	if err != nil {
		return nil, err
	}
	w.log.Warn("family transfer failed on execution",
		zap.Int64("transfer_id", transferID),
		zap.String("reason", transfer.FailureReason))
	return transfer, nil
}

func (w *Workflow) notifyAdmins(ctx context.Context, tx store.Tx, transfer *domain.FamilyTransfer) error {
	members, err := tx.Families().ListMembers(ctx, transfer.GroupID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.Role != domain.FamilyRoleAdmin || m.Status != domain.FamilyMemberActive {
			continue
		}
		if err := w.guard.emit(ctx, tx, &domain.FamilyNotification{
			GroupID:    transfer.GroupID,
			UserID:     m.UserID,
			Type:       domain.NotifyTransferRequest,
			SubjectKey: transferSubject(transfer.ID),
			Payload:    reasonPayload(transfer.Description),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Get and List are thin read surfaces for the HTTP layer.
func (w *Workflow) Get(ctx context.Context, transferID int64) (*domain.FamilyTransfer, error) {
	return w.store.FamilyTransfers().Get(ctx, transferID)
}

func (w *Workflow) List(ctx context.Context, groupID int64, f store.ListFilter) ([]domain.FamilyTransfer, error) {
	return w.store.FamilyTransfers().ListByGroup(ctx, groupID, f)
}

func transferSubject(id int64) string {
	return fmt.Sprintf("family_transfer:%d", id)
}

func reasonPayload(reason string) string {
	if reason == "" {
		return ""
	}
	raw, _ := json.Marshal(map[string]string{"reason": reason})
	return string(raw)
}
