package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError is malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Message)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ConflictError covers a clashing active request on create and any operation
// against a request that is already terminal.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Message
}

// AuthenticityError is an amount or token mismatch between the gateway record
// and the stored request. Always audited.
type AuthenticityError struct {
	Reason  RejectReason
	OrderID string
}

func (e *AuthenticityError) Error() string {
	return fmt.Sprintf("authenticity check failed for order %s: %s", e.OrderID, e.Reason)
}

type InsufficientFundsError struct {
	UserID   string
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for user %s: balance %s, required %s",
		e.UserID, e.Balance.StringFixed(2), e.Required.StringFixed(2))
}

// ExternalGatewayError wraps an upstream gateway timeout or failure.
type ExternalGatewayError struct {
	Op  string
	Err error
}

func (e *ExternalGatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *ExternalGatewayError) Unwrap() error {
	return e.Err
}
