package store

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
)

// listPage sorts rows newest-first by id and applies offset/limit.
func listPage[V any](rows []V, id func(V) int64, f ListFilter) []V {
	f = f.Normalize()
	sort.Slice(rows, func(i, j int) bool { return id(rows[i]) > id(rows[j]) })
	if f.Offset >= len(rows) {
		return []V{}
	}
	rows = rows[f.Offset:]
	if len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows
}

type memAccounts struct{ h *memHandle }

func (r memAccounts) Get(ctx context.Context, id int64) (*domain.Account, error) {
	st, done := r.h.enter()
	defer done()
	a, ok := st.accounts[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "account %d not found", id)
	}
	cp := *a
	return &cp, nil
}

func (r memAccounts) GetOwned(ctx context.Context, id, ownerID int64) (*domain.Account, error) {
	st, done := r.h.enter()
	defer done()
	a, ok := st.accounts[id]
	if !ok || a.OwnerID != ownerID {
		return nil, domain.E(domain.KindNotFound, "account %d not found", id)
	}
	cp := *a
	return &cp, nil
}

func (r memAccounts) Create(ctx context.Context, a *domain.Account) error {
	st, done := r.h.enter()
	defer done()
	a.ID = st.nextID("account")
	a.CreatedAt = r.h.now()
	cp := *a
	st.accounts[a.ID] = &cp
	return nil
}

func (r memAccounts) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Account, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.Account
	for _, a := range st.accounts {
		if a.OwnerID == ownerID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memAccounts) LockForUpdate(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	st, done := r.h.enter()
	defer done()
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make(map[int64]*domain.Account, len(sorted))
	for _, id := range sorted {
		a, ok := st.accounts[id]
		if !ok {
			return nil, domain.E(domain.KindNotFound, "account %d not found", id)
		}
		cp := *a
		out[id] = &cp
	}
	return out, nil
}

func (r memAccounts) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	st, done := r.h.enter()
	defer done()
	a, ok := st.accounts[id]
	if !ok {
		return domain.E(domain.KindNotFound, "account %d not found", id)
	}
	a.Balance = balance
	return nil
}

type memTransactions struct{ h *memHandle }

func (r memTransactions) Create(ctx context.Context, t *domain.Transaction) error {
	st, done := r.h.enter()
	defer done()
	if _, dup := st.txnByExternalID[t.ExternalID]; dup {
		return domain.E(domain.KindConflict, "ledger entry %q already exists", t.ExternalID)
	}
	if _, ok := st.accounts[t.AccountID]; !ok {
		return domain.E(domain.KindNotFound, "account %d not found", t.AccountID)
	}
	t.ID = st.nextID("transaction")
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.h.now()
	}
	cp := *t
	st.transactions[t.ID] = &cp
	st.txnByExternalID[t.ExternalID] = t.ID
	return nil
}

func (r memTransactions) ListByAccount(ctx context.Context, accountID int64, f ListFilter) ([]domain.Transaction, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.Transaction
	for _, t := range st.transactions {
		if t.AccountID != accountID {
			continue
		}
		if f.Status != "" && string(t.Type) != f.Status {
			continue
		}
		out = append(out, *t)
	}
	return listPage(out, func(t domain.Transaction) int64 { return t.ID }, f), nil
}

func (r memTransactions) SumExpenses(ctx context.Context, accountIDs []int64, since time.Time, categoryID *int64) (decimal.Decimal, error) {
	st, done := r.h.enter()
	defer done()
	in := make(map[int64]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		in[id] = struct{}{}
	}
	// Expense legs carry a negative signed amount; the result is the
	// positive spend over the window.
	sum := decimal.Zero
	for _, t := range st.transactions {
		if t.Type != domain.TransactionExpense {
			continue
		}
		if _, ok := in[t.AccountID]; !ok {
			continue
		}
		if t.CreatedAt.Before(since) {
			continue
		}
		if categoryID != nil && (t.CategoryID == nil || *t.CategoryID != *categoryID) {
			continue
		}
		sum = sum.Sub(t.Amount)
	}
	return sum, nil
}

type memPayments struct{ h *memHandle }

func (r memPayments) Create(ctx context.Context, p *domain.Payment) error {
	st, done := r.h.enter()
	defer done()
	p.ID = st.nextID("payment")
	p.CreatedAt = r.h.now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	st.payments[p.ID] = &cp
	return nil
}

func (r memPayments) Get(ctx context.Context, id int64) (*domain.Payment, error) {
	st, done := r.h.enter()
	defer done()
	p, ok := st.payments[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "payment %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (r memPayments) UpdateStatus(ctx context.Context, id int64, status domain.PaymentStatus) error {
	st, done := r.h.enter()
	defer done()
	p, ok := st.payments[id]
	if !ok {
		return domain.E(domain.KindNotFound, "payment %d not found", id)
	}
	p.Status = status
	p.UpdatedAt = r.h.now()
	return nil
}

func (r memPayments) ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.Payment, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.Payment
	for _, p := range st.payments {
		if p.UserID != userID {
			continue
		}
		if f.Status != "" && string(p.Status) != f.Status {
			continue
		}
		out = append(out, *p)
	}
	return listPage(out, func(p domain.Payment) int64 { return p.ID }, f), nil
}

type memPartnerBanks struct{ h *memHandle }

func (r memPartnerBanks) GetByID(ctx context.Context, id int64) (*domain.PartnerBank, error) {
	st, done := r.h.enter()
	defer done()
	b, ok := st.banks[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "partner bank %d not found", id)
	}
	cp := *b
	return &cp, nil
}

func (r memPartnerBanks) GetByCode(ctx context.Context, code string) (*domain.PartnerBank, error) {
	st, done := r.h.enter()
	defer done()
	id, ok := st.bankByCode[code]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "partner bank %q not found", code)
	}
	cp := *st.banks[id]
	return &cp, nil
}

func (r memPartnerBanks) GetOrCreate(ctx context.Context, code, name string) (*domain.PartnerBank, error) {
	st, done := r.h.enter()
	defer done()
	if id, ok := st.bankByCode[code]; ok {
		cp := *st.banks[id]
		return &cp, nil
	}
	b := &domain.PartnerBank{
		ID:        st.nextID("partner_bank"),
		Code:      code,
		Name:      name,
		CreatedAt: r.h.now(),
	}
	st.banks[b.ID] = b
	st.bankByCode[code] = b.ID
	cp := *b
	return &cp, nil
}

type memConsentRequests struct{ h *memHandle }

func (r memConsentRequests) Create(ctx context.Context, cr *domain.ConsentRequest) error {
	st, done := r.h.enter()
	defer done()
	cr.ID = st.nextID("consent_request")
	cr.CreatedAt = r.h.now()
	cp := *cr
	st.consentRequests[cr.ID] = &cp
	return nil
}

func (r memConsentRequests) Get(ctx context.Context, id int64) (*domain.ConsentRequest, error) {
	st, done := r.h.enter()
	defer done()
	cr, ok := st.consentRequests[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "consent request %d not found", id)
	}
	cp := *cr
	return &cp, nil
}

func (r memConsentRequests) Update(ctx context.Context, cr *domain.ConsentRequest) error {
	st, done := r.h.enter()
	defer done()
	if _, ok := st.consentRequests[cr.ID]; !ok {
		return domain.E(domain.KindNotFound, "consent request %d not found", cr.ID)
	}
	cp := *cr
	st.consentRequests[cr.ID] = &cp
	return nil
}

func (r memConsentRequests) ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.ConsentRequest, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.ConsentRequest
	for _, cr := range st.consentRequests {
		if cr.UserID != userID {
			continue
		}
		if f.Status != "" && string(cr.Status) != f.Status {
			continue
		}
		out = append(out, *cr)
	}
	return listPage(out, func(cr domain.ConsentRequest) int64 { return cr.ID }, f), nil
}

type memConsents struct{ h *memHandle }

func (r memConsents) Create(ctx context.Context, c *domain.Consent) error {
	st, done := r.h.enter()
	defer done()
	c.ID = st.nextID("consent")
	c.CreatedAt = r.h.now()
	cp := *c
	st.consents[c.ID] = &cp
	return nil
}

func (r memConsents) Get(ctx context.Context, id int64) (*domain.Consent, error) {
	st, done := r.h.enter()
	defer done()
	c, ok := st.consents[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "consent %d not found", id)
	}
	cp := *c
	return &cp, nil
}

func (r memConsents) Update(ctx context.Context, c *domain.Consent) error {
	st, done := r.h.enter()
	defer done()
	if _, ok := st.consents[c.ID]; !ok {
		return domain.E(domain.KindNotFound, "consent %d not found", c.ID)
	}
	cp := *c
	st.consents[c.ID] = &cp
	return nil
}

func (r memConsents) ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.Consent, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.Consent
	for _, c := range st.consents {
		if c.UserID != userID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	return listPage(out, func(c domain.Consent) int64 { return c.ID }, f), nil
}

func (r memConsents) ListActive(ctx context.Context, userID, partnerBankID int64) ([]domain.Consent, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.Consent
	for _, c := range st.consents {
		if c.UserID == userID && c.PartnerBankID == partnerBankID && c.Status == domain.ConsentActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memConsentEvents struct{ h *memHandle }

func (r memConsentEvents) Append(ctx context.Context, e *domain.ConsentEvent) error {
	st, done := r.h.enter()
	defer done()
	e.ID = st.nextID("consent_event")
	e.CreatedAt = r.h.now()
	cp := *e
	st.consentEvents[e.ID] = &cp
	return nil
}

func (r memConsentEvents) ListByConsent(ctx context.Context, consentID int64, f ListFilter) ([]domain.ConsentEvent, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.ConsentEvent
	for _, e := range st.consentEvents {
		if e.ConsentID != consentID {
			continue
		}
		if f.Status != "" && string(e.Type) != f.Status {
			continue
		}
		out = append(out, *e)
	}
	return listPage(out, func(e domain.ConsentEvent) int64 { return e.ID }, f), nil
}

type memInterbank struct{ h *memHandle }

func (r memInterbank) Create(ctx context.Context, t *domain.InterbankTransfer) error {
	st, done := r.h.enter()
	defer done()
	t.ID = st.nextID("interbank_transfer")
	t.CreatedAt = r.h.now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	st.interbank[t.ID] = &cp
	return nil
}

func (r memInterbank) Get(ctx context.Context, id int64) (*domain.InterbankTransfer, error) {
	st, done := r.h.enter()
	defer done()
	t, ok := st.interbank[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "interbank transfer %d not found", id)
	}
	cp := *t
	return &cp, nil
}

func (r memInterbank) Update(ctx context.Context, t *domain.InterbankTransfer) error {
	st, done := r.h.enter()
	defer done()
	if _, ok := st.interbank[t.ID]; !ok {
		return domain.E(domain.KindNotFound, "interbank transfer %d not found", t.ID)
	}
	t.UpdatedAt = r.h.now()
	cp := *t
	st.interbank[t.ID] = &cp
	return nil
}

func (r memInterbank) ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.InterbankTransfer, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.InterbankTransfer
	for _, t := range st.interbank {
		acc, ok := st.accounts[t.FromAccountID]
		if !ok || acc.OwnerID != userID {
			continue
		}
		if f.Status != "" && string(t.Status) != f.Status {
			continue
		}
		out = append(out, *t)
	}
	return listPage(out, func(t domain.InterbankTransfer) int64 { return t.ID }, f), nil
}

type memFamilies struct{ h *memHandle }

func (r memFamilies) CreateGroup(ctx context.Context, g *domain.FamilyGroup) error {
	st, done := r.h.enter()
	defer done()
	g.ID = st.nextID("family_group")
	g.CreatedAt = r.h.now()
	cp := *g
	st.groups[g.ID] = &cp
	return nil
}

func (r memFamilies) GetGroup(ctx context.Context, id int64) (*domain.FamilyGroup, error) {
	st, done := r.h.enter()
	defer done()
	g, ok := st.groups[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "family group %d not found", id)
	}
	cp := *g
	return &cp, nil
}

func (r memFamilies) CreateMember(ctx context.Context, m *domain.FamilyMember) error {
	st, done := r.h.enter()
	defer done()
	key := [2]int64{m.GroupID, m.UserID}
	if _, dup := st.memberByUser[key]; dup {
		return domain.E(domain.KindConflict, "user %d is already a member of group %d", m.UserID, m.GroupID)
	}
	m.ID = st.nextID("family_member")
	m.JoinedAt = r.h.now()
	cp := *m
	st.members[m.ID] = &cp
	st.memberByUser[key] = m.ID
	return nil
}

func (r memFamilies) GetMember(ctx context.Context, id int64) (*domain.FamilyMember, error) {
	st, done := r.h.enter()
	defer done()
	m, ok := st.members[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "family member %d not found", id)
	}
	cp := *m
	return &cp, nil
}

func (r memFamilies) GetMemberByUser(ctx context.Context, groupID, userID int64) (*domain.FamilyMember, error) {
	st, done := r.h.enter()
	defer done()
	id, ok := st.memberByUser[[2]int64{groupID, userID}]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "user %d is not a member of group %d", userID, groupID)
	}
	cp := *st.members[id]
	return &cp, nil
}

func (r memFamilies) ListMembers(ctx context.Context, groupID int64) ([]domain.FamilyMember, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.FamilyMember
	for _, m := range st.members {
		if m.GroupID == groupID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memFamilies) CreateLimit(ctx context.Context, l *domain.FamilyMemberLimit) error {
	st, done := r.h.enter()
	defer done()
	l.ID = st.nextID("family_limit")
	l.CreatedAt = r.h.now()
	cp := *l
	st.limits[l.ID] = &cp
	return nil
}

func (r memFamilies) ListActiveLimits(ctx context.Context, memberID int64) ([]domain.FamilyMemberLimit, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.FamilyMemberLimit
	for _, l := range st.limits {
		if l.MemberID == memberID && l.Status == domain.LimitActive {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memFamilies) CreateBudget(ctx context.Context, b *domain.FamilyBudget) error {
	st, done := r.h.enter()
	defer done()
	b.ID = st.nextID("family_budget")
	b.CreatedAt = r.h.now()
	cp := *b
	st.budgets[b.ID] = &cp
	return nil
}

func (r memFamilies) ListActiveBudgets(ctx context.Context, groupID int64) ([]domain.FamilyBudget, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.FamilyBudget
	for _, b := range st.budgets {
		if b.GroupID == groupID && b.Status == domain.LimitActive {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memFamilyTransfers struct{ h *memHandle }

func (r memFamilyTransfers) Create(ctx context.Context, t *domain.FamilyTransfer) error {
	st, done := r.h.enter()
	defer done()
	t.ID = st.nextID("family_transfer")
	t.CreatedAt = r.h.now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	st.familyTransfers[t.ID] = &cp
	return nil
}

func (r memFamilyTransfers) Get(ctx context.Context, id int64) (*domain.FamilyTransfer, error) {
	st, done := r.h.enter()
	defer done()
	t, ok := st.familyTransfers[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "family transfer %d not found", id)
	}
	cp := *t
	return &cp, nil
}

func (r memFamilyTransfers) Update(ctx context.Context, t *domain.FamilyTransfer) error {
	st, done := r.h.enter()
	defer done()
	if _, ok := st.familyTransfers[t.ID]; !ok {
		return domain.E(domain.KindNotFound, "family transfer %d not found", t.ID)
	}
	t.UpdatedAt = r.h.now()
	cp := *t
	st.familyTransfers[t.ID] = &cp
	return nil
}

func (r memFamilyTransfers) ListByGroup(ctx context.Context, groupID int64, f ListFilter) ([]domain.FamilyTransfer, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.FamilyTransfer
	for _, t := range st.familyTransfers {
		if t.GroupID != groupID {
			continue
		}
		if f.Status != "" && string(t.Status) != f.Status {
			continue
		}
		out = append(out, *t)
	}
	return listPage(out, func(t domain.FamilyTransfer) int64 { return t.ID }, f), nil
}

type memNotifications struct{ h *memHandle }

func (r memNotifications) Create(ctx context.Context, n *domain.FamilyNotification) error {
	st, done := r.h.enter()
	defer done()
	n.ID = st.nextID("notification")
	n.CreatedAt = r.h.now()
	cp := *n
	st.notifications[n.ID] = &cp
	return nil
}

func (r memNotifications) ExistsRecent(ctx context.Context, typ domain.NotificationType, subjectKey string, since time.Time) (bool, error) {
	st, done := r.h.enter()
	defer done()
	for _, n := range st.notifications {
		if n.Type == typ && n.SubjectKey == subjectKey && !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r memNotifications) ListByUser(ctx context.Context, userID int64, f ListFilter) ([]domain.FamilyNotification, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.FamilyNotification
	for _, n := range st.notifications {
		if n.UserID != userID {
			continue
		}
		if f.Status == "unread" && n.Read {
			continue
		}
		if f.Status == "read" && !n.Read {
			continue
		}
		out = append(out, *n)
	}
	return listPage(out, func(n domain.FamilyNotification) int64 { return n.ID }, f), nil
}

func (r memNotifications) MarkRead(ctx context.Context, id, userID int64) error {
	st, done := r.h.enter()
	defer done()
	n, ok := st.notifications[id]
	if !ok || n.UserID != userID {
		return domain.E(domain.KindNotFound, "notification %d not found", id)
	}
	n.Read = true
	return nil
}

func (r memNotifications) ListUnpublished(ctx context.Context, limit int) ([]domain.FamilyNotification, error) {
	st, done := r.h.enter()
	defer done()
	var out []domain.FamilyNotification
	for _, n := range st.notifications {
		if n.PublishedAt == nil {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memNotifications) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	st, done := r.h.enter()
	defer done()
	n, ok := st.notifications[id]
	if !ok {
		return domain.E(domain.KindNotFound, "notification %d not found", id)
	}
	n.PublishedAt = &at
	return nil
}
