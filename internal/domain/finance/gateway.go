package finance

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ResultCodeSuccess is the gateway result code for a completed payment.
const ResultCodeSuccess = 0

// STKPushRequest asks the gateway to prompt a subscriber to authorize a payment
type STKPushRequest struct {
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

// Validate validates the push request
func (r *STKPushRequest) Validate() error {
	if strings.TrimSpace(r.Phone) == "" {
		return NewValidationError("phone", "is required")
	}
	if !r.Amount.IsPositive() {
		return NewValidationError("amount", "must be positive")
	}
	if strings.TrimSpace(r.AccountReference) == "" {
		return NewValidationError("account_reference", "is required")
	}
	return nil
}

// STKPushResponse carries the correlation ids issued for an accepted push request
type STKPushResponse struct {
	CheckoutRequestID   string
	MerchantRequestID   string
	ResponseDescription string
	CustomerMessage     string
}

// GatewayResult is a normalized payment outcome reported by the gateway,
// either pushed in a callback or pulled by a status query.
type GatewayResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            decimal.Decimal
	Phone             string
	TransactionDate   time.Time
	// Pending is set when the gateway has not reached an outcome yet.
	Pending bool
	Raw     json.RawMessage
}

// IsSuccess reports a final successful outcome.
func (r *GatewayResult) IsSuccess() bool {
	return !r.Pending && r.ResultCode == ResultCodeSuccess
}

// IsFailure reports a final unsuccessful outcome.
func (r *GatewayResult) IsFailure() bool {
	return !r.Pending && r.ResultCode != ResultCodeSuccess
}

// PaymentGateway defines the port for the mobile-money gateway.
// Implementations live in the infrastructure layer.
type PaymentGateway interface {
	// Initiate sends a push payment request. Transport failures are GatewayErrors.
	Initiate(ctx context.Context, req *STKPushRequest) (*STKPushResponse, error)

	// Query fetches the outcome of a prior push request.
	Query(ctx context.Context, checkoutRequestID string) (*GatewayResult, error)

	// ParseCallback validates and normalizes an asynchronous notification.
	// Malformed payloads are ValidationErrors.
	ParseCallback(ctx context.Context, payload []byte) (*GatewayResult, error)

	// IsTrustedSource reports whether ip is within the gateway's published range.
	IsTrustedSource(ip string) bool
}
