package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
)

type pgAccounts struct{ h *pgHandle }

const accountCols = "id, owner_id, name, balance, currency, active, created_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Balance, &a.Currency, &a.Active, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r pgAccounts) Get(ctx context.Context, id int64) (*domain.Account, error) {
	a, err := scanAccount(r.h.q.QueryRow(ctx,
		"SELECT "+accountCols+" FROM accounts WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, "account %d not found", id)
	}
	return a, nil
}

func (r pgAccounts) GetOwned(ctx context.Context, id, ownerID int64) (*domain.Account, error) {
	a, err := scanAccount(r.h.q.QueryRow(ctx,
		"SELECT "+accountCols+" FROM accounts WHERE id = $1 AND owner_id = $2", id, ownerID))
	if err != nil {
		return nil, notFoundOr(err, "account %d not found", id)
	}
	return a, nil
}

func (r pgAccounts) Create(ctx context.Context, a *domain.Account) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO accounts (owner_id, name, balance, currency, active) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		a.OwnerID, a.Name, a.Balance, a.Currency, a.Active,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "account insert failed")
	}
	return nil
}

func (r pgAccounts) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Account, error) {
	rows, err := r.h.q.Query(ctx,
		"SELECT "+accountCols+" FROM accounts WHERE owner_id = $1 ORDER BY id", ownerID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "account list failed")
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Balance, &a.Currency, &a.Active, &a.CreatedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "account scan failed")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LockForUpdate acquires locks strictly in ascending id order to prevent
// deadlock between opposite-direction transfers on the same pair.
func (r pgAccounts) LockForUpdate(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	sorted := append([]int64(nil), ids...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	out := make(map[int64]*domain.Account, len(sorted))
	for _, id := range sorted {
		a, err := scanAccount(r.h.q.QueryRow(ctx,
			"SELECT "+accountCols+" FROM accounts WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			return nil, notFoundOr(err, "account %d not found", id)
		}
		out[id] = a
	}
	return out, nil
}

func (r pgAccounts) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	tag, err := r.h.q.Exec(ctx, "UPDATE accounts SET balance = $1 WHERE id = $2", balance, id)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "balance update failed")
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "account %d not found", id)
	}
	return nil
}

type pgTransactions struct{ h *pgHandle }

const txnCols = "id, account_id, amount, currency, type, category_id, external_id, description, created_at"

func (r pgTransactions) Create(ctx context.Context, t *domain.Transaction) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO transactions (account_id, amount, currency, type, category_id, external_id, description) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at",
		t.AccountID, t.Amount, t.Currency, t.Type, t.CategoryID, t.ExternalID, t.Description,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.E(domain.KindConflict, "ledger entry %q already exists", t.ExternalID)
		}
		return domain.Wrap(domain.KindInternal, err, "ledger entry insert failed")
	}
	return nil
}

func (r pgTransactions) ListByAccount(ctx context.Context, accountID int64, f ListFilter) ([]domain.Transaction, error) {
	f = f.Normalize()
	rows, err := r.h.q.Query(ctx,
		"SELECT "+txnCols+" FROM transactions WHERE account_id = $1 AND ($2 = '' OR type = $2) ORDER BY id DESC OFFSET $3 LIMIT $4",
		accountID, f.Status, f.Offset, f.Limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "transaction list failed")
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Currency, &t.Type, &t.CategoryID, &t.ExternalID, &t.Description, &t.CreatedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "transaction scan failed")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r pgTransactions) SumExpenses(ctx context.Context, accountIDs []int64, since time.Time, categoryID *int64) (decimal.Decimal, error) {
	if len(accountIDs) == 0 {
		return decimal.Zero, nil
	}
	// Expense legs carry negative amounts; negate to report positive spend.
	var sum decimal.Decimal
	err := r.h.q.QueryRow(ctx,
		"SELECT COALESCE(-SUM(amount), 0) FROM transactions WHERE type = 'expense' AND account_id = ANY($1) AND created_at >= $2 AND ($3::bigint IS NULL OR category_id = $3)",
		accountIDs, since, categoryID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, domain.Wrap(domain.KindInternal, err, "expense sum failed")
	}
	return sum, nil
}

type pgPayments struct{ h *pgHandle }

const paymentCols = "id, user_id, kind, amount, currency, status, consent_id, created_at, updated_at"

func (r pgPayments) Create(ctx context.Context, p *domain.Payment) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO payments (user_id, kind, amount, currency, status, consent_id) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at",
		p.UserID, p.Kind, p.Amount, p.Currency, p.Status, p.ConsentID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "payment insert failed")
	}
	return nil
}

func (r pgPayments) Get(ctx context.Context, id int64) (*domain.Payment, error) {
	var p domain.Payment
	err := r.h.q.QueryRow(ctx,
		"SELECT "+paymentCols+" FROM payments WHERE id = $1", id,
	).Scan(&p.ID, &p.UserID, &p.Kind, &p.Amount, &p.Currency, &p.Status, &p.ConsentID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "payment %d not found", id)
	}
	return &p, nil
}

func (r pgPayments) UpdateStatus(ctx context.Context, id int64, status domain.PaymentStatus) error {
	tag, err := r.h.q.Exec(ctx,
		"UPDATE payments SET status = $1, updated_at = now() WHERE id = $2", status, id)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "payment update failed")
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "payment %d not found", id)
	}
	return nil
}

func (r pgPayments) ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.Payment, error) {
	f = f.Normalize()
	rows, err := r.h.q.Query(ctx,
		"SELECT "+paymentCols+" FROM payments WHERE user_id = $1 AND ($2 = '' OR status = $2) ORDER BY id DESC OFFSET $3 LIMIT $4",
		userID, f.Status, f.Offset, f.Limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "payment list failed")
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.Kind, &p.Amount, &p.Currency, &p.Status, &p.ConsentID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "payment scan failed")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type pgPartnerBanks struct{ h *pgHandle }

const bankCols = "id, code, name, callback_url, created_at"

func (r pgPartnerBanks) GetByID(ctx context.Context, id int64) (*domain.PartnerBank, error) {
	var b domain.PartnerBank
	err := r.h.q.QueryRow(ctx,
		"SELECT "+bankCols+" FROM partner_banks WHERE id = $1", id,
	).Scan(&b.ID, &b.Code, &b.Name, &b.CallbackURL, &b.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "partner bank %d not found", id)
	}
	return &b, nil
}

func (r pgPartnerBanks) GetByCode(ctx context.Context, code string) (*domain.PartnerBank, error) {
	var b domain.PartnerBank
	err := r.h.q.QueryRow(ctx,
		"SELECT "+bankCols+" FROM partner_banks WHERE code = $1", code,
	).Scan(&b.ID, &b.Code, &b.Name, &b.CallbackURL, &b.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "partner bank %q not found", code)
	}
	return &b, nil
}

func (r pgPartnerBanks) GetOrCreate(ctx context.Context, code, name string) (*domain.PartnerBank, error) {
	var b domain.PartnerBank
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO partner_banks (code, name) VALUES ($1, $2) ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code RETURNING "+bankCols,
		code, name,
	).Scan(&b.ID, &b.Code, &b.Name, &b.CallbackURL, &b.CreatedAt)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "partner bank upsert failed")
	}
	return &b, nil
}

type pgConsentRequests struct{ h *pgHandle }

const consentReqCols = "id, partner_bank_id, user_id, scopes, purpose, valid_from, valid_until, status, reject_reason, decided_at, created_at"

func scanConsentRequest(row pgx.Row) (*domain.ConsentRequest, error) {
	var cr domain.ConsentRequest
	var scopes []string
	err := row.Scan(&cr.ID, &cr.PartnerBankID, &cr.UserID, &scopes, &cr.Purpose,
		&cr.ValidFrom, &cr.ValidUntil, &cr.Status, &cr.RejectReason, &cr.DecidedAt, &cr.CreatedAt)
	if err != nil {
		return nil, err
	}
	cr.Scopes = domain.NewScopeSet(scopes...)
	return &cr, nil
}

func (r pgConsentRequests) Create(ctx context.Context, cr *domain.ConsentRequest) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO consent_requests (partner_bank_id, user_id, scopes, purpose, valid_from, valid_until, status) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at",
		cr.PartnerBankID, cr.UserID, cr.Scopes.Strings(), cr.Purpose, cr.ValidFrom, cr.ValidUntil, cr.Status,
	).Scan(&cr.ID, &cr.CreatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "consent request insert failed")
	}
	return nil
}

func (r pgConsentRequests) Get(ctx context.Context, id int64) (*domain.ConsentRequest, error) {
	cr, err := scanConsentRequest(r.h.q.QueryRow(ctx,
		"SELECT "+consentReqCols+" FROM consent_requests WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, "consent request %d not found", id)
	}
	return cr, nil
}

func (r pgConsentRequests) Update(ctx context.Context, cr *domain.ConsentRequest) error {
	tag, err := r.h.q.Exec(ctx,
		"UPDATE consent_requests SET status = $1, reject_reason = $2, decided_at = $3 WHERE id = $4",
		cr.Status, cr.RejectReason, cr.DecidedAt, cr.ID)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "consent request update failed")
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "consent request %d not found", cr.ID)
	}
	return nil
}

func (r pgConsentRequests) ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.ConsentRequest, error) {
	f = f.Normalize()
	rows, err := r.h.q.Query(ctx,
		"SELECT "+consentReqCols+" FROM consent_requests WHERE user_id = $1 AND ($2 = '' OR status = $2) ORDER BY id DESC OFFSET $3 LIMIT $4",
		userID, f.Status, f.Offset, f.Limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "consent request list failed")
	}
	defer rows.Close()

	var out []domain.ConsentRequest
	for rows.Next() {
		cr, err := scanConsentRequest(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "consent request scan failed")
		}
		out = append(out, *cr)
	}
	return out, rows.Err()
}

type pgConsents struct{ h *pgHandle }

const consentCols = "id, request_id, partner_bank_id, user_id, scopes, valid_from, valid_until, status, revoked_at, created_at"

func scanConsent(row pgx.Row) (*domain.Consent, error) {
	var c domain.Consent
	var scopes []string
	err := row.Scan(&c.ID, &c.RequestID, &c.PartnerBankID, &c.UserID, &scopes,
		&c.ValidFrom, &c.ValidUntil, &c.Status, &c.RevokedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Scopes = domain.NewScopeSet(scopes...)
	return &c, nil
}

func (r pgConsents) Create(ctx context.Context, c *domain.Consent) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO consents (request_id, partner_bank_id, user_id, scopes, valid_from, valid_until, status) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at",
		c.RequestID, c.PartnerBankID, c.UserID, c.Scopes.Strings(), c.ValidFrom, c.ValidUntil, c.Status,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "consent insert failed")
	}
	return nil
}

func (r pgConsents) Get(ctx context.Context, id int64) (*domain.Consent, error) {
	c, err := scanConsent(r.h.q.QueryRow(ctx,
		"SELECT "+consentCols+" FROM consents WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, "consent %d not found", id)
	}
	return c, nil
}

func (r pgConsents) Update(ctx context.Context, c *domain.Consent) error {
	tag, err := r.h.q.Exec(ctx,
		"UPDATE consents SET status = $1, revoked_at = $2 WHERE id = $3",
		c.Status, c.RevokedAt, c.ID)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "consent update failed")
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "consent %d not found", c.ID)
	}
	return nil
}

func (r pgConsents) ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.Consent, error) {
	f = f.Normalize()
	rows, err := r.h.q.Query(ctx,
		"SELECT "+consentCols+" FROM consents WHERE user_id = $1 AND ($2 = '' OR status = $2) ORDER BY id DESC OFFSET $3 LIMIT $4",
		userID, f.Status, f.Offset, f.Limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "consent list failed")
	}
	defer rows.Close()

	var out []domain.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "consent scan failed")
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r pgConsents) ListActive(ctx context.Context, userID, partnerBankID int64) ([]domain.Consent, error) {
	rows, err := r.h.q.Query(ctx,
		"SELECT "+consentCols+" FROM consents WHERE user_id = $1 AND partner_bank_id = $2 AND status = 'active' ORDER BY id",
		userID, partnerBankID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "consent list failed")
	}
	defer rows.Close()

	var out []domain.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "consent scan failed")
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type pgConsentEvents struct{ h *pgHandle }

func (r pgConsentEvents) Append(ctx context.Context, e *domain.ConsentEvent) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO consent_events (consent_id, type, detail) VALUES ($1, $2, $3) RETURNING id, created_at",
		e.ConsentID, e.Type, e.Detail,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "consent event insert failed")
	}
	return nil
}

func (r pgConsentEvents) ListByConsent(ctx context.Context, consentID int64, f ListFilter) ([]domain.ConsentEvent, error) {
	f = f.Normalize()
	rows, err := r.h.q.Query(ctx,
		"SELECT id, consent_id, type, detail, created_at FROM consent_events WHERE consent_id = $1 AND ($2 = '' OR type = $2) ORDER BY id DESC OFFSET $3 LIMIT $4",
		consentID, f.Status, f.Offset, f.Limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "consent event list failed")
	}
	defer rows.Close()

	var out []domain.ConsentEvent
	for rows.Next() {
		var e domain.ConsentEvent
		if err := rows.Scan(&e.ID, &e.ConsentID, &e.Type, &e.Detail, &e.CreatedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "consent event scan failed")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type pgInterbank struct{ h *pgHandle }

const interbankCols = "id, from_account_id, operation_id, partner_bank_id, counterparty_account, counterparty_name, amount, currency, purpose, consent_id, payment_id, status, failure_reason, settled_at, created_at, updated_at"

func scanInterbank(row pgx.Row) (*domain.InterbankTransfer, error) {
	var t domain.InterbankTransfer
	err := row.Scan(&t.ID, &t.FromAccountID, &t.OperationID, &t.PartnerBankID, &t.CounterpartyAccount,
		&t.CounterpartyName, &t.Amount, &t.Currency, &t.Purpose, &t.ConsentID, &t.PaymentID,
		&t.Status, &t.FailureReason, &t.SettledAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r pgInterbank) Create(ctx context.Context, t *domain.InterbankTransfer) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO interbank_transfers (from_account_id, operation_id, partner_bank_id, counterparty_account, counterparty_name, amount, currency, purpose, consent_id, payment_id, status) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id, created_at, updated_at",
		t.FromAccountID, t.OperationID, t.PartnerBankID, t.CounterpartyAccount, t.CounterpartyName,
		t.Amount, t.Currency, t.Purpose, t.ConsentID, t.PaymentID, t.Status,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "interbank transfer insert failed")
	}
	return nil
}

func (r pgInterbank) Get(ctx context.Context, id int64) (*domain.InterbankTransfer, error) {
	t, err := scanInterbank(r.h.q.QueryRow(ctx,
		"SELECT "+interbankCols+" FROM interbank_transfers WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, "interbank transfer %d not found", id)
	}
	return t, nil
}

func (r pgInterbank) Update(ctx context.Context, t *domain.InterbankTransfer) error {
	tag, err := r.h.q.Exec(ctx,
		"UPDATE interbank_transfers SET status = $1, failure_reason = $2, settled_at = $3, updated_at = now() WHERE id = $4",
		t.Status, t.FailureReason, t.SettledAt, t.ID)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "interbank transfer update failed")
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "interbank transfer %d not found", t.ID)
	}
	return nil
}

func (r pgInterbank) ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.InterbankTransfer, error) {
	f = f.Normalize()
	rows, err := r.h.q.Query(ctx,
		"SELECT t."+"id, t.from_account_id, t.operation_id, t.partner_bank_id, t.counterparty_account, t.counterparty_name, t.amount, t.currency, t.purpose, t.consent_id, t.payment_id, t.status, t.failure_reason, t.settled_at, t.created_at, t.updated_at"+
			" FROM interbank_transfers t JOIN accounts a ON a.id = t.from_account_id WHERE a.owner_id = $1 AND ($2 = '' OR t.status = $2) ORDER BY t.id DESC OFFSET $3 LIMIT $4",
		userID, f.Status, f.Offset, f.Limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "interbank transfer list failed")
	}
	defer rows.Close()

	var out []domain.InterbankTransfer
	for rows.Next() {
		t, err := scanInterbank(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "interbank transfer scan failed")
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type pgFamilies struct{ h *pgHandle }

func (r pgFamilies) CreateGroup(ctx context.Context, g *domain.FamilyGroup) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO family_groups (name, owner_id) VALUES ($1, $2) RETURNING id, created_at",
		g.Name, g.OwnerID,
	).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "family group insert failed")
	}
	return nil
}

func (r pgFamilies) GetGroup(ctx context.Context, id int64) (*domain.FamilyGroup, error) {
	var g domain.FamilyGroup
	err := r.h.q.QueryRow(ctx,
		"SELECT id, name, owner_id, created_at FROM family_groups WHERE id = $1", id,
	).Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "family group %d not found", id)
	}
	return &g, nil
}

func (r pgFamilies) CreateMember(ctx context.Context, m *domain.FamilyMember) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO family_members (group_id, user_id, role, status) VALUES ($1, $2, $3, $4) RETURNING id, joined_at",
		m.GroupID, m.UserID, m.Role, m.Status,
	).Scan(&m.ID, &m.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.E(domain.KindConflict, "user %d is already a member of group %d", m.UserID, m.GroupID)
		}
		return domain.Wrap(domain.KindInternal, err, "family member insert failed")
	}
	return nil
}

const memberCols = "id, group_id, user_id, role, status, joined_at"

func (r pgFamilies) GetMember(ctx context.Context, id int64) (*domain.FamilyMember, error) {
	var m domain.FamilyMember
	err := r.h.q.QueryRow(ctx,
		"SELECT "+memberCols+" FROM family_members WHERE id = $1", id,
	).Scan(&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.Status, &m.JoinedAt)
	if err != nil {
		return nil, notFoundOr(err, "family member %d not found", id)
	}
	return &m, nil
}

func (r pgFamilies) GetMemberByUser(ctx context.Context, groupID, userID int64) (*domain.FamilyMember, error) {
	var m domain.FamilyMember
	err := r.h.q.QueryRow(ctx,
		"SELECT "+memberCols+" FROM family_members WHERE group_id = $1 AND user_id = $2", groupID, userID,
	).Scan(&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.Status, &m.JoinedAt)
	if err != nil {
		return nil, notFoundOr(err, "user %d is not a member of group %d", userID, groupID)
	}
	return &m, nil
}

func (r pgFamilies) ListMembers(ctx context.Context, groupID int64) ([]domain.FamilyMember, error) {
	rows, err := r.h.q.Query(ctx,
		"SELECT "+memberCols+" FROM family_members WHERE group_id = $1 ORDER BY id", groupID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "family member list failed")
	}
	defer rows.Close()

	var out []domain.FamilyMember
	for rows.Next() {
		var m domain.FamilyMember
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.Status, &m.JoinedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "family member scan failed")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r pgFamilies) CreateLimit(ctx context.Context, l *domain.FamilyMemberLimit) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO family_member_limits (group_id, member_id, amount, period, category_id, status) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at",
		l.GroupID, l.MemberID, l.Amount, l.Period, l.CategoryID, l.Status,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "family limit insert failed")
	}
	return nil
}

func (r pgFamilies) ListActiveLimits(ctx context.Context, memberID int64) ([]domain.FamilyMemberLimit, error) {
	rows, err := r.h.q.Query(ctx,
		"SELECT id, group_id, member_id, amount, period, category_id, status, created_at FROM family_member_limits WHERE member_id = $1 AND status = 'active' ORDER BY id",
		memberID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "family limit list failed")
	}
	defer rows.Close()

	var out []domain.FamilyMemberLimit
	for rows.Next() {
		var l domain.FamilyMemberLimit
		if err := rows.Scan(&l.ID, &l.GroupID, &l.MemberID, &l.Amount, &l.Period, &l.CategoryID, &l.Status, &l.CreatedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "family limit scan failed")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r pgFamilies) CreateBudget(ctx context.Context, b *domain.FamilyBudget) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO family_budgets (group_id, amount, period, category_id, status) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		b.GroupID, b.Amount, b.Period, b.CategoryID, b.Status,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "family budget insert failed")
	}
	return nil
}

func (r pgFamilies) ListActiveBudgets(ctx context.Context, groupID int64) ([]domain.FamilyBudget, error) {
	rows, err := r.h.q.Query(ctx,
		"SELECT id, group_id, amount, period, category_id, status, created_at FROM family_budgets WHERE group_id = $1 AND status = 'active' ORDER BY id",
		groupID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "family budget list failed")
	}
	defer rows.Close()

	var out []domain.FamilyBudget
	for rows.Next() {
		var b domain.FamilyBudget
		if err := rows.Scan(&b.ID, &b.GroupID, &b.Amount, &b.Period, &b.CategoryID, &b.Status, &b.CreatedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "family budget scan failed")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type pgFamilyTransfers struct{ h *pgHandle }

const familyTransferCols = "id, group_id, requester_member_id, recipient_member_id, from_account_id, to_account_id, amount, currency, description, status, approver_member_id, failure_reason, decided_at, created_at, updated_at"

func scanFamilyTransfer(row pgx.Row) (*domain.FamilyTransfer, error) {
	var t domain.FamilyTransfer
	err := row.Scan(&t.ID, &t.GroupID, &t.RequesterMemberID, &t.RecipientMemberID,
		&t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Currency, &t.Description,
		&t.Status, &t.ApproverMemberID, &t.FailureReason, &t.DecidedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r pgFamilyTransfers) Create(ctx context.Context, t *domain.FamilyTransfer) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO family_transfers (group_id, requester_member_id, recipient_member_id, from_account_id, to_account_id, amount, currency, description, status) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, created_at, updated_at",
		t.GroupID, t.RequesterMemberID, t.RecipientMemberID, t.FromAccountID, t.ToAccountID,
		t.Amount, t.Currency, t.Description, t.Status,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "family transfer insert failed")
	}
	return nil
}

func (r pgFamilyTransfers) Get(ctx context.Context, id int64) (*domain.FamilyTransfer, error) {
	t, err := scanFamilyTransfer(r.h.q.QueryRow(ctx,
		"SELECT "+familyTransferCols+" FROM family_transfers WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, "family transfer %d not found", id)
	}
	return t, nil
}

func (r pgFamilyTransfers) Update(ctx context.Context, t *domain.FamilyTransfer) error {
	tag, err := r.h.q.Exec(ctx,
		"UPDATE family_transfers SET status = $1, approver_member_id = $2, failure_reason = $3, decided_at = $4, updated_at = now() WHERE id = $5",
		t.Status, t.ApproverMemberID, t.FailureReason, t.DecidedAt, t.ID)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "family transfer update failed")
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "family transfer %d not found", t.ID)
	}
	return nil
}

func (r pgFamilyTransfers) ListByGroup(ctx context.Context, groupID int64, f ListFilter) ([]domain.FamilyTransfer, error) {
	f = f.Normalize()
	rows, err := r.h.q.Query(ctx,
		"SELECT "+familyTransferCols+" FROM family_transfers WHERE group_id = $1 AND ($2 = '' OR status = $2) ORDER BY id DESC OFFSET $3 LIMIT $4",
		groupID, f.Status, f.Offset, f.Limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "family transfer list failed")
	}
	defer rows.Close()

	var out []domain.FamilyTransfer
	for rows.Next() {
		t, err := scanFamilyTransfer(rows)
		if err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "family transfer scan failed")
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type pgNotifications struct{ h *pgHandle }

const notificationCols = "id, group_id, user_id, type, subject_key, payload, read, published_at, created_at"

func (r pgNotifications) Create(ctx context.Context, n *domain.FamilyNotification) error {
	err := r.h.q.QueryRow(ctx,
		"INSERT INTO family_notifications (group_id, user_id, type, subject_key, payload) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		n.GroupID, n.UserID, n.Type, n.SubjectKey, n.Payload,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "notification insert failed")
	}
	return nil
}

func (r pgNotifications) ExistsRecent(ctx context.Context, typ domain.NotificationType, subjectKey string, since time.Time) (bool, error) {
	var exists bool
	err := r.h.q.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM family_notifications WHERE type = $1 AND subject_key = $2 AND created_at >= $3)",
		typ, subjectKey, since,
	).Scan(&exists)
	if err != nil {
		return false, domain.Wrap(domain.KindInternal, err, "notification lookup failed")
	}
	return exists, nil
}

func (r pgNotifications) ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.FamilyNotification, error) {
	f = f.Normalize()
	rows, err := r.h.q.Query(ctx,
		"SELECT "+notificationCols+" FROM family_notifications WHERE user_id = $1 AND ($2 = '' OR ($2 = 'read') = read) ORDER BY id DESC OFFSET $3 LIMIT $4",
		userID, f.Status, f.Offset, f.Limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "notification list failed")
	}
	defer rows.Close()

	var out []domain.FamilyNotification
	for rows.Next() {
		var n domain.FamilyNotification
		if err := rows.Scan(&n.ID, &n.GroupID, &n.UserID, &n.Type, &n.SubjectKey, &n.Payload, &n.Read, &n.PublishedAt, &n.CreatedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "notification scan failed")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r pgNotifications) MarkRead(ctx context.Context, id, userID int64) error {
	tag, err := r.h.q.Exec(ctx,
		"UPDATE family_notifications SET read = TRUE WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "notification update failed")
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "notification %d not found", id)
	}
	return nil
}

func (r pgNotifications) ListUnpublished(ctx context.Context, limit int) ([]domain.FamilyNotification, error) {
	rows, err := r.h.q.Query(ctx,
		"SELECT "+notificationCols+" FROM family_notifications WHERE published_at IS NULL ORDER BY id LIMIT $1", limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "notification list failed")
	}
	defer rows.Close()

	var out []domain.FamilyNotification
	for rows.Next() {
		var n domain.FamilyNotification
		if err := rows.Scan(&n.ID, &n.GroupID, &n.UserID, &n.Type, &n.SubjectKey, &n.Payload, &n.Read, &n.PublishedAt, &n.CreatedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, err, "notification scan failed")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r pgNotifications) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := r.h.q.Exec(ctx,
		"UPDATE family_notifications SET published_at = $1 WHERE id = $2", at, id)
	if err != nil {
		return domain.Wrap(domain.KindInternal, err, "notification update failed")
	}
	return nil
}
