// Package interbank implements the consent-gated cross-bank transfer
// gateway. A transfer is initiated only after a valid consent with the
// payments.write scope is verified; settlement confirmations arrive
// out-of-band and are idempotent with respect to terminal states.
package interbank

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/consent"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

var settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "interbank_settlements_total",
	Help: "Settlement callbacks processed, labeled by outcome",
}, []string{"status"})

type Gateway struct {
	store     store.Store
	authority *consent.Authority
	log       *zap.Logger
	clock     func() time.Time
}

func NewGateway(st store.Store, authority *consent.Authority, log *zap.Logger) *Gateway {
	return &Gateway{store: st, authority: authority, log: log, clock: time.Now}
}

// SetClock overrides the time source for tests.
func (g *Gateway) SetClock(clock func() time.Time) { g.clock = clock }

// Initiate runs the hard gates in order, each aborting with no mutation:
// partner bank resolution, source account ownership/currency/sufficiency,
// and consent verification with the payments.write scope. Only then is the
// source debited optimistically, inside one unit of work together with the
// payment intent and the transfer record.
func (g *Gateway) Initiate(ctx context.Context, userID, fromAccountID int64, partnerBankCode, counterpartyAccount, counterpartyName string, amount decimal.Decimal, currency, purpose string, consentID int64) (*domain.InterbankTransfer, error) {
	if !amount.IsPositive() {
		return nil, domain.E(domain.KindValidation, "amount must be positive")
	}
	if counterpartyAccount == "" {
		return nil, domain.E(domain.KindValidation, "counterparty account is required")
	}

	bank, err := g.store.PartnerBanks().GetByCode(ctx, partnerBankCode)
	if err != nil {
		return nil, err
	}

	account, err := g.store.Accounts().GetOwned(ctx, fromAccountID, userID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, domain.E(domain.KindValidation, "account %d is not active", fromAccountID)
	}
	if account.Currency != currency {
		return nil, domain.E(domain.KindValidation, "currency mismatch: transfer is %s, account is %s", currency, account.Currency)
	}

	// The consent gate applies regardless of balance sufficiency. Verify
	// also rejects a consent granted to a different user.
	ok, err := g.authority.Verify(ctx, consentID, userID, partnerBankCode, domain.ScopeSet{domain.ScopePaymentsWrite})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.E(domain.KindAuthorization, "consent %d does not authorize payments via bank %q", consentID, partnerBankCode)
	}

	opID := uuid.NewString()
	var transfer *domain.InterbankTransfer
	err = g.store.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.Accounts().LockForUpdate(ctx, fromAccountID)
		if err != nil {
			return err
		}
		src := locked[fromAccountID]
		if src.Balance.LessThan(amount) {
			return domain.E(domain.KindInsufficientFunds, "balance %s is below %s", src.Balance, amount)
		}

		if err := tx.Accounts().UpdateBalance(ctx, fromAccountID, src.Balance.Sub(amount)); err != nil {
			return err
		}
		if err := tx.Transactions().Create(ctx, &domain.Transaction{
			AccountID:   fromAccountID,
			Amount:      amount.Neg(),
			Currency:    currency,
			Type:        domain.TransactionTransfer,
			ExternalID:  opID + ":debit",
			Description: "interbank transfer to " + counterpartyName,
		}); err != nil {
			return err
		}

		payment := &domain.Payment{
			UserID:    userID,
			Kind:      domain.PaymentKindInterbank,
			Amount:    amount,
			Currency:  currency,
			Status:    domain.PaymentProcessing,
			ConsentID: &consentID,
		}
		if err := tx.Payments().Create(ctx, payment); err != nil {
			return err
		}

		transfer = &domain.InterbankTransfer{
			FromAccountID:       fromAccountID,
			OperationID:         opID,
			PartnerBankID:       bank.ID,
			CounterpartyAccount: counterpartyAccount,
			CounterpartyName:    counterpartyName,
			Amount:              amount,
			Currency:            currency,
			Purpose:             purpose,
			ConsentID:           consentID,
			PaymentID:           payment.ID,
			Status:              domain.InterbankInitiated,
		}
		if err := tx.InterbankTransfers().Create(ctx, transfer); err != nil {
			return err
		}

		return tx.ConsentEvents().Append(ctx, &domain.ConsentEvent{
			ConsentID: consentID,
			Type:      domain.ConsentEventUsage,
			Detail:    "interbank transfer initiated",
		})
	})
	if err != nil {
		return nil, err
	}

	g.log.Info("interbank transfer initiated",
		zap.Int64("transfer_id", transfer.ID),
		zap.String("operation_id", opID),
		zap.String("partner_bank", partnerBankCode),
		zap.String("amount", amount.String()))
	return transfer, nil
}

// UpdateStatus applies an out-of-band settlement callback. Terminal states
// are sticky: once settled or failed, later callbacks are Conflicts, which
// keeps retried webhooks from double-settling. A failed settlement credits
// the optimistic debit back with a reversal entry so conservation holds.
func (g *Gateway) UpdateStatus(ctx context.Context, transferID int64, newStatus domain.InterbankTransferStatus, settledAt *time.Time, reason string) (*domain.InterbankTransfer, error) {
	switch newStatus {
	case domain.InterbankPendingSettlement, domain.InterbankSettled, domain.InterbankFailed:
	default:
		return nil, domain.E(domain.KindValidation, "status %q is not a valid settlement update", newStatus)
	}

	var transfer *domain.InterbankTransfer
	err := g.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		transfer, err = tx.InterbankTransfers().Get(ctx, transferID)
		if err != nil {
			return err
		}
		if transfer.Status.Terminal() {
			return domain.E(domain.KindConflict, "transfer %d is already %s", transferID, transfer.Status)
		}
		if !transfer.Status.CanTransitionTo(newStatus) {
			return domain.E(domain.KindConflict, "transfer %d cannot move from %s to %s", transferID, transfer.Status, newStatus)
		}

		transfer.Status = newStatus
		switch newStatus {
		case domain.InterbankSettled:
			at := g.clock()
			if settledAt != nil {
				at = *settledAt
			}
			transfer.SettledAt = &at
			if err := tx.Payments().UpdateStatus(ctx, transfer.PaymentID, domain.PaymentCompleted); err != nil {
				return err
			}
		case domain.InterbankFailed:
			transfer.FailureReason = reason
			if err := tx.Payments().UpdateStatus(ctx, transfer.PaymentID, domain.PaymentFailed); err != nil {
				return err
			}
			if err := g.reverseDebit(ctx, tx, transfer); err != nil {
				return err
			}
		}
		return tx.InterbankTransfers().Update(ctx, transfer)
	})
	if err != nil {
		if domain.IsConflict(err) {
			settlementsTotal.WithLabelValues("duplicate").Inc()
		}
		return nil, err
	}

	settlementsTotal.WithLabelValues(string(transfer.Status)).Inc()
	g.log.Info("settlement recorded",
		zap.Int64("transfer_id", transferID),
		zap.String("status", string(transfer.Status)))
	return transfer, nil
}

// reverseDebit credits the source account back under lock and records the
// reversal leg under the transfer's operation id.
func (g *Gateway) reverseDebit(ctx context.Context, tx store.Tx, transfer *domain.InterbankTransfer) error {
	locked, err := tx.Accounts().LockForUpdate(ctx, transfer.FromAccountID)
	if err != nil {
		return err
	}
	src := locked[transfer.FromAccountID]
	if err := tx.Accounts().UpdateBalance(ctx, transfer.FromAccountID, src.Balance.Add(transfer.Amount)); err != nil {
		return err
	}
	return tx.Transactions().Create(ctx, &domain.Transaction{
		AccountID:   transfer.FromAccountID,
		Amount:      transfer.Amount,
		Currency:    transfer.Currency,
		Type:        domain.TransactionTransfer,
		ExternalID:  transfer.OperationID + ":reversal",
		Description: "reversal of failed interbank transfer",
	})
}

// Get and List are thin read surfaces for the HTTP layer.
func (g *Gateway) Get(ctx context.Context, transferID int64) (*domain.InterbankTransfer, error) {
	return g.store.InterbankTransfers().Get(ctx, transferID)
}

func (g *Gateway) List(ctx context.Context, userID int64, f store.ListFilter) ([]domain.InterbankTransfer, error) {
	return g.store.InterbankTransfers().ListByUser(ctx, userID, f)
}

func (g *Gateway) ListPayments(ctx context.Context, userID int64, f store.ListFilter) ([]domain.Payment, error) {
	return g.store.Payments().ListByUser(ctx, userID, f)
}
