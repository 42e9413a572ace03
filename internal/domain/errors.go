package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrDuplicateOrder          = errors.New("merchant order id already used")
	ErrUpstreamProvider        = errors.New("upstream provider error")
	ErrCallbackOrderNotFound   = errors.New("callback order not found")
	ErrCallbackAlreadyTerminal = errors.New("order already in terminal state")
	ErrSignatureMismatch       = errors.New("signature mismatch")
	ErrNotificationDelivery    = errors.New("merchant notification not acknowledged")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrUnknownChannel          = errors.New("unknown channel")
	ErrNoRoute                 = errors.New("no route configured for this amount")
	ErrChannelInactive         = errors.New("channel is inactive")
	ErrAmountOutOfRange        = errors.New("amount outside channel limits")
	ErrCapabilityDisabled      = errors.New("capability disabled for merchant")
	ErrOrderNotFound           = errors.New("order not found")
	ErrAccountNotFound         = errors.New("account not found")
	ErrNotificationNotFound    = errors.New("notification job not found")
)

// ValidationError describes a malformed or missing input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError is a shorthand for &ValidationError{...}.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// UpstreamProviderError is returned when an adapter reports failure while an
// order is being created.
type UpstreamProviderError struct {
	Channel string
	Message string
}

func (e *UpstreamProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Channel, e.Message)
}

func (e *UpstreamProviderError) Unwrap() error { return ErrUpstreamProvider }
