// Package consent implements the consent lifecycle that authorizes a
// partner bank to act on a user's accounts: the request/approve/reject
// state machine, revocation, and scope verification.
package consent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/store"
)

type Authority struct {
	store store.Store
	log   *zap.Logger
	clock func() time.Time
}

func NewAuthority(st store.Store, log *zap.Logger) *Authority {
	return &Authority{store: st, log: log, clock: time.Now}
}

// SetClock overrides the time source for tests.
func (a *Authority) SetClock(clock func() time.Time) { a.clock = clock }

// RequestConsent registers a partner bank's petition. The bank is created
// lazily on first sight of its code. An active, unexpired consent with an
// identical scope set to the same bank is a Conflict.
func (a *Authority) RequestConsent(ctx context.Context, userID int64, partnerBankCode, partnerBankName string, scopes []string, purpose string, validDays int) (*domain.ConsentRequest, error) {
	scopeSet := domain.NewScopeSet(scopes...)
	if len(scopeSet) == 0 {
		return nil, domain.E(domain.KindValidation, "at least one scope is required")
	}
	if validDays <= 0 {
		return nil, domain.E(domain.KindValidation, "validity must be at least one day")
	}

	now := a.clock()
	var req *domain.ConsentRequest
	err := a.store.WithinTx(ctx, func(tx store.Tx) error {
		bank, err := tx.PartnerBanks().GetOrCreate(ctx, partnerBankCode, partnerBankName)
		if err != nil {
			return err
		}

		active, err := tx.Consents().ListActive(ctx, userID, bank.ID)
		if err != nil {
			return err
		}
		for i := range active {
			c := &active[i]
			if !c.ExpiredAt(now) && c.Scopes.Equal(scopeSet) {
				return domain.E(domain.KindConflict, "an active consent with the same scopes already exists for bank %q", partnerBankCode)
			}
		}

		req = &domain.ConsentRequest{
			PartnerBankID: bank.ID,
			UserID:        userID,
			Scopes:        scopeSet,
			Purpose:       purpose,
			ValidFrom:     now,
			ValidUntil:    now.AddDate(0, 0, validDays),
			Status:        domain.ConsentRequestRequested,
		}
		return tx.ConsentRequests().Create(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	a.log.Info("consent requested",
		zap.Int64("request_id", req.ID),
		zap.Int64("user_id", userID),
		zap.String("partner_bank", partnerBankCode),
		zap.Strings("scopes", req.Scopes.Strings()))
	return req, nil
}

// ApproveRequest moves a requested petition to approved and materializes
// the child consent, copying scopes and validity window.
func (a *Authority) ApproveRequest(ctx context.Context, requestID, userID int64) (*domain.Consent, error) {
	now := a.clock()
	var consent *domain.Consent
	err := a.store.WithinTx(ctx, func(tx store.Tx) error {
		req, err := tx.ConsentRequests().Get(ctx, requestID)
		if err != nil {
			return err
		}
		if req.UserID != userID {
			return domain.E(domain.KindNotFound, "consent request %d not found", requestID)
		}
		if !req.Status.CanTransitionTo(domain.ConsentRequestApproved) {
			return domain.E(domain.KindConflict, "consent request %d is already %s", requestID, req.Status)
		}

		req.Status = domain.ConsentRequestApproved
		req.DecidedAt = &now
		if err := tx.ConsentRequests().Update(ctx, req); err != nil {
			return err
		}

		consent = &domain.Consent{
			RequestID:     req.ID,
			PartnerBankID: req.PartnerBankID,
			UserID:        req.UserID,
			Scopes:        req.Scopes,
			ValidFrom:     req.ValidFrom,
			ValidUntil:    req.ValidUntil,
			Status:        domain.ConsentActive,
		}
		if err := tx.Consents().Create(ctx, consent); err != nil {
			return err
		}
		return tx.ConsentEvents().Append(ctx, &domain.ConsentEvent{
			ConsentID: consent.ID,
			Type:      domain.ConsentEventGranted,
			Detail:    "approved by user",
		})
	})
	if err != nil {
		return nil, err
	}

	a.log.Info("consent granted", zap.Int64("consent_id", consent.ID), zap.Int64("request_id", requestID))
	return consent, nil
}

// RejectRequest moves a requested petition to its terminal rejected state.
func (a *Authority) RejectRequest(ctx context.Context, requestID, userID int64, reason string) (*domain.ConsentRequest, error) {
	now := a.clock()
	var req *domain.ConsentRequest
	err := a.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		req, err = tx.ConsentRequests().Get(ctx, requestID)
		if err != nil {
			return err
		}
		if req.UserID != userID {
			return domain.E(domain.KindNotFound, "consent request %d not found", requestID)
		}
		if !req.Status.CanTransitionTo(domain.ConsentRequestRejected) {
			return domain.E(domain.KindConflict, "consent request %d is already %s", requestID, req.Status)
		}
		req.Status = domain.ConsentRequestRejected
		req.RejectReason = reason
		req.DecidedAt = &now
		return tx.ConsentRequests().Update(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// RevokeConsent is effective immediately for subsequent verifications.
func (a *Authority) RevokeConsent(ctx context.Context, consentID, userID int64) (*domain.Consent, error) {
	now := a.clock()
	var consent *domain.Consent
	err := a.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		consent, err = tx.Consents().Get(ctx, consentID)
		if err != nil {
			return err
		}
		if consent.UserID != userID {
			return domain.E(domain.KindNotFound, "consent %d not found", consentID)
		}
		if !consent.Status.CanTransitionTo(domain.ConsentRevoked) {
			return domain.E(domain.KindConflict, "consent %d is %s, only active consents can be revoked", consentID, consent.Status)
		}
		consent.Status = domain.ConsentRevoked
		consent.RevokedAt = &now
		if err := tx.Consents().Update(ctx, consent); err != nil {
			return err
		}
		return tx.ConsentEvents().Append(ctx, &domain.ConsentEvent{
			ConsentID: consent.ID,
			Type:      domain.ConsentEventRevoked,
			Detail:    "revoked by user",
		})
	})
	if err != nil {
		return nil, err
	}

	a.log.Info("consent revoked", zap.Int64("consent_id", consentID))
	return consent, nil
}

// Verify reports whether the consent authorizes the partner bank for the
// required scopes right now, on behalf of the given user. Expiry is derived
// lazily from the validity window; the stored status label is never trusted
// on its own. Read-only, takes no locks. A missing consent, or one belonging
// to another user, is a NotFound error; every other shortfall is simply
// false.
func (a *Authority) Verify(ctx context.Context, consentID, userID int64, partnerBankCode string, requiredScopes domain.ScopeSet) (bool, error) {
	consent, err := a.store.Consents().Get(ctx, consentID)
	if err != nil {
		return false, err
	}
	if consent.UserID != userID {
		return false, domain.E(domain.KindNotFound, "consent %d not found", consentID)
	}
	bank, err := a.store.PartnerBanks().GetByID(ctx, consent.PartnerBankID)
	if err != nil {
		return false, err
	}
	if bank.Code != partnerBankCode {
		return false, nil
	}
	if consent.Status != domain.ConsentActive {
		return false, nil
	}
	if consent.ExpiredAt(a.clock()) {
		return false, nil
	}
	return consent.Scopes.ContainsAll(requiredScopes), nil
}

// RecordAccess appends a data-access audit event for an authorized read.
func (a *Authority) RecordAccess(ctx context.Context, consentID int64, detail string) error {
	return a.store.ConsentEvents().Append(ctx, &domain.ConsentEvent{
		ConsentID: consentID,
		Type:      domain.ConsentEventAccessed,
		Detail:    detail,
	})
}

// ListConsents and ListRequests are thin read surfaces for the HTTP layer.
func (a *Authority) ListConsents(ctx context.Context, userID int64, f store.ListFilter) ([]domain.Consent, error) {
	return a.store.Consents().ListByUser(ctx, userID, f)
}

func (a *Authority) ListRequests(ctx context.Context, userID int64, f store.ListFilter) ([]domain.ConsentRequest, error) {
	return a.store.ConsentRequests().ListByUser(ctx, userID, f)
}

func (a *Authority) ListEvents(ctx context.Context, consentID int64, f store.ListFilter) ([]domain.ConsentEvent, error) {
	return a.store.ConsentEvents().ListByConsent(ctx, consentID, f)
}
