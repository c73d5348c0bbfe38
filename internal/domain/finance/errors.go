package finance

import (
	"errors"
	"fmt"

	"github.com/erp/billing/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Error categories. Typed errors below match these through errors.Is so
// boundaries can branch on the category without knowing the concrete type.
var (
	ErrValidation      = shared.NewDomainError("VALIDATION_ERROR", "validation failed")
	ErrNotFound        = shared.NewDomainError("NOT_FOUND", "resource not found")
	ErrConfiguration   = shared.NewDomainError("CONFIGURATION_ERROR", "ledger configuration is incomplete")
	ErrUnbalancedEntry = shared.NewDomainError("UNBALANCED_ENTRY", "journal entry does not balance")
	ErrGateway         = shared.NewDomainError("GATEWAY_ERROR", "payment gateway unavailable")
)

// ValidationError reports input that can never succeed as submitted.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing entity, or a request from a source that
// is not allowed to see one.
type NotFoundError struct {
	Entity string
	Key    string
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(entity string, key any) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConfigurationError is a setup defect, such as a missing control account.
// It is never retried.
type ConfigurationError struct {
	Key     string
	Message string
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Message)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// UnbalancedEntryError is an internal invariant violation raised before a
// journal entry reaches persistence.
type UnbalancedEntryError struct {
	EntryNumber  string
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("journal entry %s unbalanced: debits %s, credits %s",
		e.EntryNumber, e.TotalDebits.StringFixed(2), e.TotalCredits.StringFixed(2))
}

func (e *UnbalancedEntryError) Is(target error) bool { return target == ErrUnbalancedEntry }

// GatewayError wraps a transport, timeout or protocol failure talking to the
// payment provider. It never means the payment itself failed.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

// NewGatewayError creates a GatewayError for op.
func NewGatewayError(op string, statusCode int, err error) *GatewayError {
	return &GatewayError{Op: op, StatusCode: statusCode, Err: err}
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsGateway reports whether err is a GatewayError.
func IsGateway(err error) bool { return errors.Is(err, ErrGateway) }

// ErrorCode returns the category code for err, or "INTERNAL_ERROR".
func ErrorCode(err error) string {
	for _, category := range []*shared.DomainError{ErrValidation, ErrNotFound, ErrConfiguration, ErrUnbalancedEntry, ErrGateway} {
		if errors.Is(err, category) {
			return category.Code
		}
	}
	return "INTERNAL_ERROR"
}
