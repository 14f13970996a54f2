package domain

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusApproved  PaymentStatus = "APPROVED"
	StatusRejected  PaymentStatus = "REJECTED"
	StatusCancelled PaymentStatus = "CANCELLED"
	StatusExpired   PaymentStatus = "EXPIRED"
)

// Terminal reports whether no further transition may leave s.
func (s PaymentStatus) Terminal() bool {
	return s != StatusPending
}

// CanTransition reports whether from -> to is an allowed status move.
func CanTransition(from, to PaymentStatus) bool {
	if from != StatusPending {
		return false
	}
	switch to {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

const (
	MethodGatewayQR = "gateway_qr"
	MethodWallet    = "wallet"
)

// Outcome classifies what happened to a gateway notification.
type Outcome string

const (
	OutcomeReceived             Outcome = "RECEIVED"
	OutcomeDuplicateIgnored     Outcome = "DUPLICATE_IGNORED"
	OutcomeRejected             Outcome = "REJECTED"
	OutcomeNotApproved          Outcome = "NOT_APPROVED"
	OutcomeLateApprovalRejected Outcome = "LATE_APPROVAL_REJECTED"
	OutcomeApplied              Outcome = "APPLIED"
	OutcomeIgnored              Outcome = "IGNORED"
)

// RejectReason is the validator's failure code, stored on audit entries.
type RejectReason string

const (
	ReasonMissingFields   RejectReason = "MissingFields"
	ReasonAmountMismatch  RejectReason = "AmountMismatch"
	ReasonTokenMismatch   RejectReason = "TokenMismatch"
	ReasonExpired         RejectReason = "Expired"
	ReasonAlreadyTerminal RejectReason = "AlreadyTerminal"
	ReasonUnknownOrder    RejectReason = "UnknownOrder"
)

// Authenticity reports whether the reason is a potential fraud signal.
func (r RejectReason) Authenticity() bool {
	return r == ReasonAmountMismatch || r == ReasonTokenMismatch
}

// Audit event names. Webhook outcomes reuse the Outcome values.
const (
	AuditRequestCreated         = "REQUEST_CREATED"
	AuditInstrumentFailed       = "INSTRUMENT_FAILED"
	AuditCancelled              = "CANCELLED"
	AuditExpired                = "EXPIRED"
	AuditAuthenticityError      = "AUTHENTICITY_ERROR"
	AuditGatewayError           = "GATEWAY_ERROR"
	AuditReconciliationRequired = "RECONCILIATION_REQUIRED"
	AuditWalletReserved         = "WALLET_RESERVED"
	AuditWalletConfirmed        = "WALLET_CONFIRMED"
	AuditWalletReleased         = "WALLET_RELEASED"
	AuditWalletInsufficient     = "WALLET_INSUFFICIENT_FUNDS"
	AuditWalletCredited         = "WALLET_CREDITED"
	AuditWalletSettled          = "WALLET_SETTLED"
)

const (
	WalletTxCredit  = "credit"
	WalletTxDebit   = "debit"
	WalletTxReserve = "reserve"
	WalletTxRelease = "release"
)

const (
	ReservationReserved  = "RESERVED"
	ReservationConfirmed = "CONFIRMED"
	ReservationReleased  = "RELEASED"
)

const (
	RoleCustomer = "CUSTOMER"
	RoleCourier  = "COURIER"
	RoleMerchant = "MERCHANT"
	RoleAdmin    = "ADMIN"
)

func ValidRole(r string) bool {
	switch r {
	case RoleCustomer, RoleCourier, RoleMerchant, RoleAdmin:
		return true
	}
	return false
}

// Gateway-side payment statuses as reported by FetchPayment.
const (
	GatewayStatusApproved  = "approved"
	GatewayStatusPending   = "pending"
	GatewayStatusInProcess = "in_process"
	GatewayStatusRejected  = "rejected"
	GatewayStatusCancelled = "cancelled"
)
