package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentAllocation assigns part of a payment to one invoice or bill
type PaymentAllocation struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	PaymentID    uuid.UUID
	DocumentKind DocumentKind
	DocumentID   uuid.UUID
	Amount       decimal.Decimal
	CreatedAt    time.Time
}

// NewPaymentAllocation creates an allocation row
func NewPaymentAllocation(tenantID, paymentID uuid.UUID, kind DocumentKind, documentID uuid.UUID, amount decimal.Decimal) (*PaymentAllocation, error) {
	if !kind.IsValid() {
		return nil, NewValidationError("document_kind", "unknown document kind %q", kind)
	}
	if documentID == uuid.Nil {
		return nil, NewValidationError("document_id", "is required")
	}
	if !amount.IsPositive() {
		return nil, NewValidationError("amount", "allocation amount must be positive")
	}
	return &PaymentAllocation{
		ID:           uuid.New(),
		TenantID:     tenantID,
		PaymentID:    paymentID,
		DocumentKind: kind,
		DocumentID:   documentID,
		Amount:       amount,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// SumAllocations totals allocation amounts.
func SumAllocations(allocations []PaymentAllocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// AllocationDirection returns the single document kind shared by all
// allocations, or ok=false when invoices and bills are mixed.
// An empty slice reports DocumentKindInvoice.
func AllocationDirection(allocations []PaymentAllocation) (kind DocumentKind, ok bool) {
	kind = DocumentKindInvoice
	for i, a := range allocations {
		if i == 0 {
			kind = a.DocumentKind
			continue
		}
		if a.DocumentKind != kind {
			return "", false
		}
	}
	return kind, true
}
