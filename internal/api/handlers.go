package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
)

// Accounts

type createAccountRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/accounts")
		return
	}
	var req createAccountRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err, "POST", "/accounts")
		return
	}
	if req.Currency == "" {
		h.respondError(w, domain.E(domain.KindValidation, "currency is required"), "POST", "/accounts")
		return
	}

	account := &domain.Account{
		OwnerID:  userID,
		Name:     req.Name,
		Balance:  decimal.Zero,
		Currency: req.Currency,
		Active:   true,
	}
	if err := h.store.Accounts().Create(r.Context(), account); err != nil {
		h.respondError(w, err, "POST", "/accounts")
		return
	}
	h.respondJSON(w, http.StatusCreated, account, "POST", "/accounts")
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/accounts")
		return
	}
	accounts, err := h.store.Accounts().ListByOwner(r.Context(), userID)
	if err != nil {
		h.respondError(w, err, "GET", "/accounts")
		return
	}
	h.respondJSON(w, http.StatusOK, accounts, "GET", "/accounts")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/accounts/{id}")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "GET", "/accounts/{id}")
		return
	}
	account, err := h.store.Accounts().GetOwned(r.Context(), id, userID)
	if err != nil {
		h.respondError(w, err, "GET", "/accounts/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, account, "GET", "/accounts/{id}")
}

func (h *Handler) ListAccountEntries(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/accounts/{id}/entries")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "GET", "/accounts/{id}/entries")
		return
	}
	if _, err := h.store.Accounts().GetOwned(r.Context(), id, userID); err != nil {
		h.respondError(w, err, "GET", "/accounts/{id}/entries")
		return
	}
	entries, err := h.store.Transactions().ListByAccount(r.Context(), id, listFilter(r))
	if err != nil {
		h.respondError(w, err, "GET", "/accounts/{id}/entries")
		return
	}
	h.respondJSON(w, http.StatusOK, entries, "GET", "/accounts/{id}/entries")
}

// Internal transfers

type createTransferRequest struct {
	FromAccountID int64           `json:"from_account_id"`
	ToAccountID   int64           `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/transfers")
		return
	}
	var req createTransferRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err, "POST", "/transfers")
		return
	}

	// The source account must belong to the caller; the engine validates
	// everything else.
	if _, err := h.store.Accounts().GetOwned(r.Context(), req.FromAccountID, userID); err != nil {
		h.respondError(w, err, "POST", "/transfers")
		return
	}

	result, err := h.engine.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, req.Currency, req.Description)
	if err != nil {
		h.respondError(w, err, "POST", "/transfers")
		return
	}
	h.respondJSON(w, http.StatusCreated, result, "POST", "/transfers")
}

// Consents

type consentRequestBody struct {
	PartnerBankCode string   `json:"partner_bank_code"`
	PartnerBankName string   `json:"partner_bank_name"`
	Scopes          []string `json:"scopes"`
	Purpose         string   `json:"purpose"`
	ValidDays       int      `json:"valid_days"`
}

func (h *Handler) RequestConsent(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/consents/requests"))
	defer timer.ObserveDuration()

	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/consents/requests")
		return
	}
	var req consentRequestBody
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err, "POST", "/consents/requests")
		return
	}
	created, err := h.authority.RequestConsent(r.Context(), userID, req.PartnerBankCode, req.PartnerBankName, req.Scopes, req.Purpose, req.ValidDays)
	if err != nil {
		h.respondError(w, err, "POST", "/consents/requests")
		return
	}
	h.respondJSON(w, http.StatusCreated, created, "POST", "/consents/requests")
}

func (h *Handler) ListConsentRequests(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/consents/requests")
		return
	}
	requests, err := h.authority.ListRequests(r.Context(), userID, listFilter(r))
	if err != nil {
		h.respondError(w, err, "GET", "/consents/requests")
		return
	}
	h.respondJSON(w, http.StatusOK, requests, "GET", "/consents/requests")
}

func (h *Handler) ApproveConsentRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/consents/requests/{id}/approve")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "POST", "/consents/requests/{id}/approve")
		return
	}
	granted, err := h.authority.ApproveRequest(r.Context(), id, userID)
	if err != nil {
		h.respondError(w, err, "POST", "/consents/requests/{id}/approve")
		return
	}
	h.respondJSON(w, http.StatusCreated, granted, "POST", "/consents/requests/{id}/approve")
}

type rejectConsentBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectConsentRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/consents/requests/{id}/reject")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "POST", "/consents/requests/{id}/reject")
		return
	}
	var req rejectConsentBody
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err, "POST", "/consents/requests/{id}/reject")
		return
	}
	rejected, err := h.authority.RejectRequest(r.Context(), id, userID, req.Reason)
	if err != nil {
		h.respondError(w, err, "POST", "/consents/requests/{id}/reject")
		return
	}
	h.respondJSON(w, http.StatusOK, rejected, "POST", "/consents/requests/{id}/reject")
}

func (h *Handler) ListConsents(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/consents")
		return
	}
	consents, err := h.authority.ListConsents(r.Context(), userID, listFilter(r))
	if err != nil {
		h.respondError(w, err, "GET", "/consents")
		return
	}
	h.respondJSON(w, http.StatusOK, consents, "GET", "/consents")
}

func (h *Handler) RevokeConsent(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "DELETE", "/consents/{id}")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "DELETE", "/consents/{id}")
		return
	}
	revoked, err := h.authority.RevokeConsent(r.Context(), id, userID)
	if err != nil {
		h.respondError(w, err, "DELETE", "/consents/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, revoked, "DELETE", "/consents/{id}")
}

func (h *Handler) ListConsentEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/consents/{id}/events")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "GET", "/consents/{id}/events")
		return
	}
	// Only the consent owner may read its audit trail.
	c, err := h.store.Consents().Get(r.Context(), id)
	if err != nil || c.UserID != userID {
		h.respondError(w, domain.E(domain.KindNotFound, "consent %d not found", id), "GET", "/consents/{id}/events")
		return
	}
	events, err := h.authority.ListEvents(r.Context(), id, listFilter(r))
	if err != nil {
		h.respondError(w, err, "GET", "/consents/{id}/events")
		return
	}
	h.respondJSON(w, http.StatusOK, events, "GET", "/consents/{id}/events")
}

// Interbank

type initiateInterbankRequest struct {
	FromAccountID       int64           `json:"from_account_id"`
	PartnerBankCode     string          `json:"partner_bank_code"`
	CounterpartyAccount string          `json:"counterparty_account"`
	CounterpartyName    string          `json:"counterparty_name"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Purpose             string          `json:"purpose"`
	ConsentID           int64           `json:"consent_id"`
}

func (h *Handler) InitiateInterbank(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/interbank/transfers"))
	defer timer.ObserveDuration()

	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/interbank/transfers")
		return
	}
	var req initiateInterbankRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err, "POST", "/interbank/transfers")
		return
	}
	transfer, err := h.gateway.Initiate(r.Context(), userID, req.FromAccountID, req.PartnerBankCode,
		req.CounterpartyAccount, req.CounterpartyName, req.Amount, req.Currency, req.Purpose, req.ConsentID)
	if err != nil {
		h.respondError(w, err, "POST", "/interbank/transfers")
		return
	}
	h.respondJSON(w, http.StatusCreated, transfer, "POST", "/interbank/transfers")
}

func (h *Handler) ListInterbank(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/interbank/transfers")
		return
	}
	transfers, err := h.gateway.List(r.Context(), userID, listFilter(r))
	if err != nil {
		h.respondError(w, err, "GET", "/interbank/transfers")
		return
	}
	h.respondJSON(w, http.StatusOK, transfers, "GET", "/interbank/transfers")
}

func (h *Handler) GetInterbank(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/interbank/transfers/{id}")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "GET", "/interbank/transfers/{id}")
		return
	}
	transfer, err := h.gateway.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "GET", "/interbank/transfers/{id}")
		return
	}
	// Visibility follows the source account's owner.
	if _, err := h.store.Accounts().GetOwned(r.Context(), transfer.FromAccountID, userID); err != nil {
		h.respondError(w, domain.E(domain.KindNotFound, "interbank transfer %d not found", id), "GET", "/interbank/transfers/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, transfer, "GET", "/interbank/transfers/{id}")
}

// updateInterbankStatusRequest is the settlement callback payload posted by
// the partner rail.
type updateInterbankStatusRequest struct {
	Status    domain.InterbankTransferStatus `json:"status"`
	SettledAt *time.Time                     `json:"settled_at,omitempty"`
	Reason    string                         `json:"reason,omitempty"`
}

func (h *Handler) UpdateInterbankStatus(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/interbank/transfers/{id}/status"))
	defer timer.ObserveDuration()

	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "POST", "/interbank/transfers/{id}/status")
		return
	}
	var req updateInterbankStatusRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err, "POST", "/interbank/transfers/{id}/status")
		return
	}
	switch req.Status {
	case domain.InterbankPendingSettlement, domain.InterbankSettled, domain.InterbankFailed:
	default:
		h.respondError(w, domain.E(domain.KindValidation, "unknown settlement status %q", req.Status), "POST", "/interbank/transfers/{id}/status")
		return
	}
	transfer, err := h.gateway.UpdateStatus(r.Context(), id, req.Status, req.SettledAt, req.Reason)
	if err != nil {
		h.respondError(w, err, "POST", "/interbank/transfers/{id}/status")
		return
	}
	h.respondJSON(w, http.StatusOK, transfer, "POST", "/interbank/transfers/{id}/status")
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/payments")
		return
	}
	payments, err := h.gateway.ListPayments(r.Context(), userID, listFilter(r))
	if err != nil {
		h.respondError(w, err, "GET", "/payments")
		return
	}
	h.respondJSON(w, http.StatusOK, payments, "GET", "/payments")
}

// Family transfers

type createFamilyTransferRequest struct {
	RecipientMemberID int64           `json:"recipient_member_id"`
	FromAccountID     *int64          `json:"from_account_id,omitempty"`
	ToAccountID       *int64          `json:"to_account_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Description       string          `json:"description"`
}

func (h *Handler) CreateFamilyTransfer(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/family/groups/{gid}/transfers"))
	defer timer.ObserveDuration()

	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/family/groups/{gid}/transfers")
		return
	}
	groupID, err := pathID(r, "gid")
	if err != nil {
		h.respondError(w, err, "POST", "/family/groups/{gid}/transfers")
		return
	}
	var req createFamilyTransferRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err, "POST", "/family/groups/{gid}/transfers")
		return
	}
	transfer, err := h.workflow.Create(r.Context(), groupID, userID, req.RecipientMemberID,
		req.FromAccountID, req.ToAccountID, req.Amount, req.Currency, req.Description)
	if err != nil {
		h.respondError(w, err, "POST", "/family/groups/{gid}/transfers")
		return
	}
	h.respondJSON(w, http.StatusCreated, transfer, "POST", "/family/groups/{gid}/transfers")
}

func (h *Handler) ListFamilyTransfers(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/family/groups/{gid}/transfers")
		return
	}
	groupID, err := pathID(r, "gid")
	if err != nil {
		h.respondError(w, err, "GET", "/family/groups/{gid}/transfers")
		return
	}
	// Listing is restricted to group members.
	if _, err := h.store.Families().GetMemberByUser(r.Context(), groupID, userID); err != nil {
		h.respondError(w, err, "GET", "/family/groups/{gid}/transfers")
		return
	}
	transfers, err := h.workflow.List(r.Context(), groupID, listFilter(r))
	if err != nil {
		h.respondError(w, err, "GET", "/family/groups/{gid}/transfers")
		return
	}
	h.respondJSON(w, http.StatusOK, transfers, "GET", "/family/groups/{gid}/transfers")
}

type decideFamilyTransferRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

func (h *Handler) DecideFamilyTransfer(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/family/transfers/{id}/decision"))
	defer timer.ObserveDuration()

	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/family/transfers/{id}/decision")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "POST", "/family/transfers/{id}/decision")
		return
	}
	var req decideFamilyTransferRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err, "POST", "/family/transfers/{id}/decision")
		return
	}
	transfer, err := h.workflow.Approve(r.Context(), id, userID, req.Approve, req.Reason)
	if err != nil {
		h.respondError(w, err, "POST", "/family/transfers/{id}/decision")
		return
	}
	h.respondJSON(w, http.StatusOK, transfer, "POST", "/family/transfers/{id}/decision")
}

func (h *Handler) CancelFamilyTransfer(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/family/transfers/{id}/cancel")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "POST", "/family/transfers/{id}/cancel")
		return
	}
	transfer, err := h.workflow.Cancel(r.Context(), id, userID)
	if err != nil {
		h.respondError(w, err, "POST", "/family/transfers/{id}/cancel")
		return
	}
	h.respondJSON(w, http.StatusOK, transfer, "POST", "/family/transfers/{id}/cancel")
}

type checkMemberLimitRequest struct {
	CategoryID *int64          `json:"category_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}

// CheckMemberLimit previews how a proposed spend would classify against the
// member's active limits, without moving money. Threshold notifications are
// emitted just as they would be on execution.
func (h *Handler) CheckMemberLimit(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/family/members/{id}/limits/check")
		return
	}
	memberID, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "POST", "/family/members/{id}/limits/check")
		return
	}
	member, err := h.store.Families().GetMember(r.Context(), memberID)
	if err != nil {
		h.respondError(w, err, "POST", "/family/members/{id}/limits/check")
		return
	}
	// Members check themselves; admins of the group may check anyone.
	if member.UserID != userID {
		caller, err := h.store.Families().GetMemberByUser(r.Context(), member.GroupID, userID)
		if err != nil || caller.Role != domain.FamilyRoleAdmin {
			h.respondError(w, domain.E(domain.KindAuthorization, "not allowed to check this member"), "POST", "/family/members/{id}/limits/check")
			return
		}
	}
	var req checkMemberLimitRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, err, "POST", "/family/members/{id}/limits/check")
		return
	}
	severity, err := h.guard.CheckWouldExceed(r.Context(), memberID, req.CategoryID, req.Amount)
	if err != nil {
		h.respondError(w, err, "POST", "/family/members/{id}/limits/check")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"severity": string(severity)}, "POST", "/family/members/{id}/limits/check")
}

// Notifications

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "GET", "/notifications")
		return
	}
	notifications, err := h.store.Notifications().ListByUser(r.Context(), userID, listFilter(r))
	if err != nil {
		h.respondError(w, err, "GET", "/notifications")
		return
	}
	h.respondJSON(w, http.StatusOK, notifications, "GET", "/notifications")
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, err := principal(r)
	if err != nil {
		h.respondError(w, err, "POST", "/notifications/{id}/read")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, err, "POST", "/notifications/{id}/read")
		return
	}
	if err := h.store.Notifications().MarkRead(r.Context(), id, userID); err != nil {
		h.respondError(w, err, "POST", "/notifications/{id}/read")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "read"}, "POST", "/notifications/{id}/read")
}
