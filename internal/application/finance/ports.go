package finance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuditEntry is a before/after record of a state change
type AuditEntry struct {
	TenantID   uuid.UUID
	Actor      string
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Before     any
	After      any
}

// AuditLog is a write-only audit sink. Inside a TransactionScope it writes
// in the same transaction as the change it records.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Receipt is what the customer is told after a successful payment
type Receipt struct {
	TenantID  uuid.UUID
	PaymentID uuid.UUID
	Receipt   string
	Amount    decimal.Decimal
	Phone     string
	PaidAt    time.Time
}

// Notifier delivers payment receipts. Calls are fire-and-forget; errors are
// logged and never affect settlement.
type Notifier interface {
	SendReceipt(ctx context.Context, receipt Receipt) error
}

// CallbackLogEntry is the raw record of one inbound gateway notification
type CallbackLogEntry struct {
	ID                uuid.UUID
	TenantID          *uuid.UUID
	PaymentID         *uuid.UUID
	CheckoutRequestID string
	SourceIP          string
	Payload           []byte
	Stage             CallbackStage
	Disposition       CallbackDisposition
	Error             string
	ReceivedAt        time.Time
}

// CallbackLog persists inbound notifications outside any settlement transaction.
type CallbackLog interface {
	Record(ctx context.Context, entry *CallbackLogEntry) error
}

// PaymentMetrics records payment processing outcomes
type PaymentMetrics interface {
	RecordSettlement(ctx context.Context, source, outcome string, amount decimal.Decimal)
	RecordCallback(ctx context.Context, disposition string)
	RecordReconciliation(ctx context.Context, outcome string)
	RecordAmbiguousMatch(ctx context.Context, candidates int)
}

type noopMetrics struct{}

func (noopMetrics) RecordSettlement(context.Context, string, string, decimal.Decimal) {}
func (noopMetrics) RecordCallback(context.Context, string) {}
func (noopMetrics) RecordReconciliation(context.Context, string) {}
func (noopMetrics) RecordAmbiguousMatch(context.Context, int) {}

type noopNotifier struct{}

func (noopNotifier) SendReceipt(context.Context, Receipt) error { return nil }

type noopCallbackLog struct{}

func (noopCallbackLog) Record(context.Context, *CallbackLogEntry) error { return nil }
