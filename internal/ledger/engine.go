// Package ledger implements the atomic two-leg balance transfer engine.
// Every mutation runs inside one unit of work with exclusive row locks taken
// in ascending account-id order; partial application is impossible.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

var transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_transfers_total",
	Help: "Internal transfers processed, labeled by outcome",
}, []string{"status"})

type Engine struct {
	store store.Store
	log   *zap.Logger
}

func NewEngine(st store.Store, log *zap.Logger) *Engine {
	return &Engine{store: st, log: log}
}

// TransferResult exposes the two committed ledger legs. Their external ids
// share the operation-id prefix.
type TransferResult struct {
	OperationID string             `json:"operation_id"`
	Debit       domain.Transaction `json:"debit"`
	Credit      domain.Transaction `json:"credit"`
}

// Transfer moves amount from one account to another in its own unit of work.
func (e *Engine) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, currency, description string) (*TransferResult, error) {
	var res *TransferResult
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var txErr error
		res, txErr = e.TransferTx(ctx, tx, fromID, toID, amount, currency, description)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TransferTx runs the transfer inside a caller-owned unit of work, so a
// surrounding workflow can commit the transfer together with its own state
// changes. Validations that need no locks run first; the balance is
// re-checked after the locks are held.
func (e *Engine) TransferTx(ctx context.Context, tx store.Tx, fromID, toID int64, amount decimal.Decimal, currency, description string) (*TransferResult, error) {
	if fromID == toID {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, domain.E(domain.KindValidation, "cannot transfer to the same account")
	}
	if !amount.IsPositive() {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, domain.E(domain.KindValidation, "amount must be positive")
	}

	locked, err := tx.Accounts().LockForUpdate(ctx, fromID, toID)
	if err != nil {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	from, to := locked[fromID], locked[toID]

	if !from.Active || !to.Active {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, domain.E(domain.KindValidation, "account is not active")
	}
	// Cross-currency transfers are rejected, never converted.
	if from.Currency != currency || to.Currency != currency {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, domain.E(domain.KindValidation, "currency mismatch: transfer is %s, accounts are %s/%s", currency, from.Currency, to.Currency)
	}
	if from.Balance.LessThan(amount) {
		transfersTotal.WithLabelValues("insufficient_funds").Inc()
		return nil, domain.E(domain.KindInsufficientFunds, "balance %s is below %s", from.Balance, amount)
	}

	if err := tx.Accounts().UpdateBalance(ctx, fromID, from.Balance.Sub(amount)); err != nil {
		return nil, err
	}
	if err := tx.Accounts().UpdateBalance(ctx, toID, to.Balance.Add(amount)); err != nil {
		return nil, err
	}

	opID := uuid.NewString()
	debit := domain.Transaction{
		AccountID:   fromID,
		Amount:      amount.Neg(),
		Currency:    currency,
		Type:        domain.TransactionTransfer,
		ExternalID:  opID + ":debit",
		Description: description,
	}
	credit := domain.Transaction{
		AccountID:   toID,
		Amount:      amount,
		Currency:    currency,
		Type:        domain.TransactionTransfer,
		ExternalID:  opID + ":credit",
		Description: description,
	}
	if err := tx.Transactions().Create(ctx, &debit); err != nil {
		return nil, err
	}
	if err := tx.Transactions().Create(ctx, &credit); err != nil {
		return nil, err
	}

	transfersTotal.WithLabelValues("completed").Inc()
	e.log.Info("transfer committed",
		zap.String("operation_id", opID),
		zap.Int64("from_account", fromID),
		zap.Int64("to_account", toID),
		zap.String("amount", amount.String()),
		zap.String("currency", currency))

	return &TransferResult{OperationID: opID, Debit: debit, Credit: credit}, nil
}

// Record writes a single income or expense leg for an account in its own
// unit of work. Bank-sync adapters and seeds use it to backfill history.
func (e *Engine) Record(ctx context.Context, accountID int64, amount decimal.Decimal, currency string, typ domain.TransactionType, categoryID *int64, description string) (*domain.Transaction, error) {
	if amount.IsZero() {
		return nil, domain.E(domain.KindValidation, "amount must be non-zero")
	}
	if typ == domain.TransactionExpense && amount.IsPositive() {
		amount = amount.Neg()
	}
	entry := domain.Transaction{
		AccountID:   accountID,
		Amount:      amount,
		Currency:    currency,
		Type:        typ,
		CategoryID:  categoryID,
		ExternalID:  uuid.NewString(),
		Description: description,
	}
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.Accounts().LockForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		acc := locked[accountID]
		if !acc.Active {
			return domain.E(domain.KindValidation, "account %d is not active", accountID)
		}
		if acc.Currency != currency {
			return domain.E(domain.KindValidation, "currency mismatch: entry is %s, account is %s", currency, acc.Currency)
		}
		next := acc.Balance.Add(amount)
		if next.IsNegative() {
			return domain.E(domain.KindInsufficientFunds, "balance %s is below %s", acc.Balance, amount.Abs())
		}
		if err := tx.Accounts().UpdateBalance(ctx, accountID, next); err != nil {
			return err
		}
		return tx.Transactions().Create(ctx, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
