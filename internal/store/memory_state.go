package store

import (
	"github.com/Hmmir/VTB-API-HACK-sub000/internal/domain"
)

// memState is the whole relational graph held in maps keyed by id, plus the
// uniqueness indexes the schema would enforce.
type memState struct {
	seq map[string]int64

	accounts        map[int64]*domain.Account
	transactions    map[int64]*domain.Transaction
	txnByExternalID map[string]int64
	payments        map[int64]*domain.Payment
	banks           map[int64]*domain.PartnerBank
	bankByCode      map[string]int64
	consentRequests map[int64]*domain.ConsentRequest
	consents        map[int64]*domain.Consent
	consentEvents   map[int64]*domain.ConsentEvent
	interbank       map[int64]*domain.InterbankTransfer
	groups          map[int64]*domain.FamilyGroup
	members         map[int64]*domain.FamilyMember
	memberByUser    map[[2]int64]int64 // (groupID, userID) -> member id
	limits          map[int64]*domain.FamilyMemberLimit
	budgets         map[int64]*domain.FamilyBudget
	familyTransfers map[int64]*domain.FamilyTransfer
	notifications   map[int64]*domain.FamilyNotification
}

func newMemState() *memState {
	return &memState{
		seq:             make(map[string]int64),
		accounts:        make(map[int64]*domain.Account),
		transactions:    make(map[int64]*domain.Transaction),
		txnByExternalID: make(map[string]int64),
		payments:        make(map[int64]*domain.Payment),
		banks:           make(map[int64]*domain.PartnerBank),
		bankByCode:      make(map[string]int64),
		consentRequests: make(map[int64]*domain.ConsentRequest),
		consents:        make(map[int64]*domain.Consent),
		consentEvents:   make(map[int64]*domain.ConsentEvent),
		interbank:       make(map[int64]*domain.InterbankTransfer),
		groups:          make(map[int64]*domain.FamilyGroup),
		members:         make(map[int64]*domain.FamilyMember),
		memberByUser:    make(map[[2]int64]int64),
		limits:          make(map[int64]*domain.FamilyMemberLimit),
		budgets:         make(map[int64]*domain.FamilyBudget),
		familyTransfers: make(map[int64]*domain.FamilyTransfer),
		notifications:   make(map[int64]*domain.FamilyNotification),
	}
}

func (s *memState) nextID(entity string) int64 {
	s.seq[entity]++
	return s.seq[entity]
}

func cloneMap[K comparable, V any](src map[K]*V) map[K]*V {
	out := make(map[K]*V, len(src))
	for k, v := range src {
		cp := *v
		out[k] = &cp
	}
	return out
}

func clonePlain[K comparable, V any](src map[K]V) map[K]V {
	out := make(map[K]V, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// clone deep-copies every row so a transaction can mutate freely and be
// discarded on rollback.
func (s *memState) clone() *memState {
	return &memState{
		seq:             clonePlain(s.seq),
		accounts:        cloneMap(s.accounts),
		transactions:    cloneMap(s.transactions),
		txnByExternalID: clonePlain(s.txnByExternalID),
		payments:        cloneMap(s.payments),
		banks:           cloneMap(s.banks),
		bankByCode:      clonePlain(s.bankByCode),
		consentRequests: cloneMap(s.consentRequests),
		consents:        cloneMap(s.consents),
		consentEvents:   cloneMap(s.consentEvents),
		interbank:       cloneMap(s.interbank),
		groups:          cloneMap(s.groups),
		members:         cloneMap(s.members),
		memberByUser:    clonePlain(s.memberByUser),
		limits:          cloneMap(s.limits),
		budgets:         cloneMap(s.budgets),
		familyTransfers: cloneMap(s.familyTransfers),
		notifications:   cloneMap(s.notifications),
	}
}
