package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store used by unit tests and local runs. A single
// mutex serializes units of work; WithinTx operates on a deep copy of the
// state and swaps it in on commit, so a failed unit of work leaves no trace.
type Memory struct {
	mu    sync.Mutex
	state *memState
	clock func() time.Time
}

func NewMemory() *Memory {
	return &Memory{state: newMemState(), clock: time.Now}
}

// SetClock overrides the time source. Tests use it to control rolling
// windows and validity checks.
func (m *Memory) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func (m *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.clone()
	h := &memHandle{st: next, nowf: m.clock}
	if err := fn(h); err != nil {
		return err
	}
	m.state = next
	return nil
}

// Auto-commit access: each repository call locks the store for its own
// duration and operates on live state.
func (m *Memory) Accounts() AccountRepo                     { return memAccounts{m.handle()} }
func (m *Memory) Transactions() TransactionRepo             { return memTransactions{m.handle()} }
func (m *Memory) Payments() PaymentRepo                     { return memPayments{m.handle()} }
func (m *Memory) PartnerBanks() PartnerBankRepo             { return memPartnerBanks{m.handle()} }
func (m *Memory) ConsentRequests() ConsentRequestRepo       { return memConsentRequests{m.handle()} }
func (m *Memory) Consents() ConsentRepo                     { return memConsents{m.handle()} }
func (m *Memory) ConsentEvents() ConsentEventRepo           { return memConsentEvents{m.handle()} }
func (m *Memory) InterbankTransfers() InterbankTransferRepo { return memInterbank{m.handle()} }
func (m *Memory) Families() FamilyRepo                      { return memFamilies{m.handle()} }
func (m *Memory) FamilyTransfers() FamilyTransferRepo       { return memFamilyTransfers{m.handle()} }
func (m *Memory) Notifications() NotificationRepo           { return memNotifications{m.handle()} }

var _ Store = (*Memory)(nil)

func (m *Memory) handle() *memHandle { return &memHandle{mem: m} }

// memHandle binds repositories either to the live store (auto-commit, lock
// per call) or to a transaction's private state copy (no locking, the
// enclosing WithinTx already holds the mutex).
type memHandle struct {
	mem  *Memory
	st   *memState
	nowf func() time.Time
}

func (h *memHandle) enter() (*memState, func()) {
	if h.mem != nil {
		h.mem.mu.Lock()
		return h.mem.state, h.mem.mu.Unlock
	}
	return h.st, func() {}
}

func (h *memHandle) now() time.Time {
	if h.nowf != nil {
		return h.nowf()
	}
	return h.mem.clock()
}

func (h *memHandle) Accounts() AccountRepo                     { return memAccounts{h} }
func (h *memHandle) Transactions() TransactionRepo             { return memTransactions{h} }
func (h *memHandle) Payments() PaymentRepo                     { return memPayments{h} }
func (h *memHandle) PartnerBanks() PartnerBankRepo             { return memPartnerBanks{h} }
func (h *memHandle) ConsentRequests() ConsentRequestRepo       { return memConsentRequests{h} }
func (h *memHandle) Consents() ConsentRepo                     { return memConsents{h} }
func (h *memHandle) ConsentEvents() ConsentEventRepo           { return memConsentEvents{h} }
func (h *memHandle) InterbankTransfers() InterbankTransferRepo { return memInterbank{h} }
func (h *memHandle) Families() FamilyRepo                      { return memFamilies{h} }
func (h *memHandle) FamilyTransfers() FamilyTransferRepo       { return memFamilyTransfers{h} }
func (h *memHandle) Notifications() NotificationRepo           { return memNotifications{h} }

var _ Tx = (*memHandle)(nil)
