package domain

// Closed status types per state machine. Transitions are checked through
// CanTransitionTo so illegal moves are rejected in one place instead of by
// scattered string comparisons.

// PaymentStatus tracks the lifecycle of a logical payment intent.
type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "created"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentCancelled
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentCreated:
		return next == PaymentProcessing || next == PaymentCancelled || next == PaymentFailed
	case PaymentProcessing:
		return next == PaymentCompleted || next == PaymentFailed || next == PaymentCancelled
	default:
		return false
	}
}

// ConsentRequestStatus: requested is the only non-terminal state.
type ConsentRequestStatus string

const (
	ConsentRequestRequested ConsentRequestStatus = "requested"
	ConsentRequestApproved  ConsentRequestStatus = "approved"
	ConsentRequestRejected  ConsentRequestStatus = "rejected"
	ConsentRequestExpired   ConsentRequestStatus = "expired"
)

func (s ConsentRequestStatus) CanTransitionTo(next ConsentRequestStatus) bool {
	if s != ConsentRequestRequested {
		return false
	}
	return next == ConsentRequestApproved || next == ConsentRequestRejected || next == ConsentRequestExpired
}

// ConsentStatus: expired is derived at verification time, never a stored
// transition target.
type ConsentStatus string

const (
	ConsentActive  ConsentStatus = "active"
	ConsentRevoked ConsentStatus = "revoked"
	ConsentExpired ConsentStatus = "expired"
)

func (s ConsentStatus) CanTransitionTo(next ConsentStatus) bool {
	return s == ConsentActive && next == ConsentRevoked
}

// InterbankTransferStatus: settled and failed are terminal; settlement
// callbacks against a terminal status must be no-ops.
type InterbankTransferStatus string

const (
	InterbankInitiated         InterbankTransferStatus = "initiated"
	InterbankPendingSettlement InterbankTransferStatus = "pending_settlement"
	InterbankSettled           InterbankTransferStatus = "settled"
	InterbankFailed            InterbankTransferStatus = "failed"
)

func (s InterbankTransferStatus) Terminal() bool {
	return s == InterbankSettled || s == InterbankFailed
}

func (s InterbankTransferStatus) CanTransitionTo(next InterbankTransferStatus) bool {
	switch s {
	case InterbankInitiated:
		return next == InterbankPendingSettlement || next == InterbankSettled || next == InterbankFailed
	case InterbankPendingSettlement:
		return next == InterbankSettled || next == InterbankFailed
	default:
		return false
	}
}

// FamilyTransferStatus: pending -> {approved, rejected, cancelled};
// an approved transfer with concrete accounts moves on to executed/failed.
type FamilyTransferStatus string

const (
	FamilyTransferPending   FamilyTransferStatus = "pending"
	FamilyTransferApproved  FamilyTransferStatus = "approved"
	FamilyTransferRejected  FamilyTransferStatus = "rejected"
	FamilyTransferExecuted  FamilyTransferStatus = "executed"
	FamilyTransferFailed    FamilyTransferStatus = "failed"
	FamilyTransferCancelled FamilyTransferStatus = "cancelled"
)

func (s FamilyTransferStatus) Terminal() bool {
	switch s {
	case FamilyTransferRejected, FamilyTransferExecuted, FamilyTransferFailed, FamilyTransferCancelled:
		return true
	}
	return false
}

func (s FamilyTransferStatus) CanTransitionTo(next FamilyTransferStatus) bool {
	switch s {
	case FamilyTransferPending:
		return next == FamilyTransferApproved || next == FamilyTransferRejected ||
			next == FamilyTransferExecuted || next == FamilyTransferFailed ||
			next == FamilyTransferCancelled
	case FamilyTransferApproved:
		return next == FamilyTransferExecuted || next == FamilyTransferFailed
	default:
		return false
	}
}
