package finance

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/erp/billing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the gateway-driven status of a payment.
// It leaves PENDING exactly once and never returns.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// IsValid checks if the status is valid
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true once the payment has left PENDING
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// TargetType is what a payment was requested for
type TargetType string

const (
	TargetTypeNone         TargetType = ""
	TargetTypeInvoice      TargetType = "INVOICE"
	TargetTypeBill         TargetType = "BILL"
	TargetTypeSubscription TargetType = "SUBSCRIPTION"
)

// IsValid checks if the target type is valid
func (t TargetType) IsValid() bool {
	switch t {
	case TargetTypeNone, TargetTypeInvoice, TargetTypeBill, TargetTypeSubscription:
		return true
	}
	return false
}

// PaymentTarget optionally links a payment to the document or subscription it settles
type PaymentTarget struct {
	Type TargetType
	ID   uuid.UUID
}

// IsSet reports whether the payment is linked to a target.
func (t PaymentTarget) IsSet() bool {
	return t.Type != TargetTypeNone && t.ID != uuid.Nil
}

// DocumentKind returns the document kind for invoice and bill targets.
func (t PaymentTarget) DocumentKind() (DocumentKind, bool) {
	switch t.Type {
	case TargetTypeInvoice:
		return DocumentKindInvoice, true
	case TargetTypeBill:
		return DocumentKindBill, true
	}
	return "", false
}

// Payment is a mobile-money payment request and, once settled, its outcome.
// RequestPhone is captured at initiation for matching; Phone, Receipt,
// RawCallback and PaymentDate are only populated on completion.
type Payment struct {
	shared.TenantAggregateRoot
	Amount             decimal.Decimal
	RequestedAmount    decimal.Decimal
	Status             TransactionStatus
	CheckoutRequestID  string
	MerchantRequestID  string
	AccountReference   string
	RequestPhone       string
	Phone              string
	Receipt            string
	RawCallback        json.RawMessage
	PaymentDate        *time.Time
	Target             PaymentTarget
	ContactID          *uuid.UUID
	DepositAccountCode string
	ResultCode         *int
	ResultDesc         string
	JournalEntryID     *uuid.UUID
	// LastReconciledAt is when a reconciliation sweep last queried the gateway.
	LastReconciledAt *time.Time
}

// NewPendingPayment creates a payment awaiting gateway confirmation
func NewPendingPayment(tenantID uuid.UUID, requestPhone string, amount decimal.Decimal, accountReference string, target PaymentTarget, contactID *uuid.UUID, depositAccountCode string) (*Payment, error) {
	if tenantID == uuid.Nil {
		return nil, NewValidationError("tenant_id", "is required")
	}
	if !amount.IsPositive() {
		return nil, NewValidationError("amount", "must be positive")
	}
	if !target.Type.IsValid() {
		return nil, NewValidationError("target_type", "unknown target type %q", target.Type)
	}
	if target.Type != TargetTypeNone && target.ID == uuid.Nil {
		return nil, NewValidationError("target_id", "is required for target type %s", target.Type)
	}
	return &Payment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Amount:              amount,
		RequestedAmount:     amount,
		Status:              TransactionStatusPending,
		AccountReference:    strings.TrimSpace(accountReference),
		RequestPhone:        requestPhone,
		Target:              target,
		ContactID:           contactID,
		DepositAccountCode:  depositAccountCode,
	}, nil
}

// IsPending reports whether the payment is still awaiting an outcome.
func (p *Payment) IsPending() bool {
	return p.Status == TransactionStatusPending
}

// IsCompleted reports whether the payment completed successfully.
func (p *Payment) IsCompleted() bool {
	return p.Status == TransactionStatusCompleted
}

// AttachGatewayRequest records the correlation ids issued by the gateway.
func (p *Payment) AttachGatewayRequest(checkoutRequestID, merchantRequestID string) error {
	if strings.TrimSpace(checkoutRequestID) == "" {
		return NewValidationError("checkout_request_id", "is required")
	}
	p.CheckoutRequestID = checkoutRequestID
	p.MerchantRequestID = merchantRequestID
	p.Touch()
	return nil
}

// Completion carries what the gateway reported for a successful payment
type Completion struct {
	Amount          decimal.Decimal
	Receipt         string
	Phone           string
	TransactionDate time.Time
	ResultCode      int
	ResultDesc      string
	Raw             json.RawMessage
}

// Complete moves PENDING to COMPLETED.
func (p *Payment) Complete(c Completion) error {
	if !p.IsPending() {
		return NewValidationError("status", "payment %s already %s", p.ID, p.Status)
	}
	if !c.Amount.IsPositive() {
		return NewValidationError("amount", "completed amount must be positive")
	}
	p.Amount = c.Amount
	p.Receipt = c.Receipt
	p.Phone = c.Phone
	if c.TransactionDate.IsZero() {
		c.TransactionDate = time.Now().UTC()
	}
	p.PaymentDate = &c.TransactionDate
	p.RawCallback = c.Raw
	code := c.ResultCode
	p.ResultCode = &code
	p.ResultDesc = c.ResultDesc
	p.Status = TransactionStatusCompleted
	p.IncrementVersion()
	return nil
}

// Fail moves PENDING to FAILED. No ledger entry is ever written for it.
func (p *Payment) Fail(resultCode int, resultDesc string) error {
	if !p.IsPending() {
		return NewValidationError("status", "payment %s already %s", p.ID, p.Status)
	}
	p.ResultCode = &resultCode
	p.ResultDesc = resultDesc
	p.Status = TransactionStatusFailed
	p.IncrementVersion()
	return nil
}

// AttachJournalEntry links the payment's posted journal entry.
func (p *Payment) AttachJournalEntry(entryID uuid.UUID) {
	p.JournalEntryID = &entryID
}

// PaymentSnapshot is the audited view of a payment
type PaymentSnapshot struct {
	ID                uuid.UUID         `json:"id"`
	Status            TransactionStatus `json:"transaction_status"`
	Amount            string            `json:"amount"`
	RequestedAmount   string            `json:"requested_amount"`
	CheckoutRequestID string            `json:"checkout_request_id,omitempty"`
	Receipt           string            `json:"receipt,omitempty"`
	Phone             string            `json:"phone,omitempty"`
	PaymentDate       *time.Time        `json:"payment_date,omitempty"`
	ResultCode        *int              `json:"result_code,omitempty"`
	ResultDesc        string            `json:"result_desc,omitempty"`
}

// Snapshot captures the payment's audited fields.
func (p *Payment) Snapshot() PaymentSnapshot {
	return PaymentSnapshot{
		ID:                p.ID,
		Status:            p.Status,
		Amount:            p.Amount.StringFixed(2),
		RequestedAmount:   p.RequestedAmount.StringFixed(2),
		CheckoutRequestID: p.CheckoutRequestID,
		Receipt:           p.Receipt,
		Phone:             p.Phone,
		PaymentDate:       p.PaymentDate,
		ResultCode:        p.ResultCode,
		ResultDesc:        p.ResultDesc,
	}
}
