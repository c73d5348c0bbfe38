package finance

import (
	"strings"
	"time"

	"github.com/erp/billing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentKind distinguishes invoices (receivable) from bills (payable)
type DocumentKind string

const (
	DocumentKindInvoice DocumentKind = "INVOICE"
	DocumentKindBill    DocumentKind = "BILL"
)

// IsValid checks if the document kind is valid
func (k DocumentKind) IsValid() bool {
	return k == DocumentKindInvoice || k == DocumentKindBill
}

// String returns the string representation of DocumentKind
func (k DocumentKind) String() string {
	return string(k)
}

// SourceType maps the document kind to its journal source type.
func (k DocumentKind) SourceType() SourceType {
	if k == DocumentKindBill {
		return SourceTypeBill
	}
	return SourceTypeInvoice
}

// NumberPrefix is the display prefix used when numbering documents of this kind.
func (k DocumentKind) NumberPrefix() string {
	if k == DocumentKindBill {
		return "BILL"
	}
	return "INV"
}

// DocumentStatus represents the lifecycle status of an invoice or bill
type DocumentStatus string

const (
	DocumentStatusDraft  DocumentStatus = "DRAFT"
	DocumentStatusIssued DocumentStatus = "ISSUED"
	DocumentStatusPaid   DocumentStatus = "PAID"
	DocumentStatusVoid   DocumentStatus = "VOID"
)

// IsValid checks if the status is valid
func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusDraft, DocumentStatusIssued, DocumentStatusPaid, DocumentStatusVoid:
		return true
	}
	return false
}

// PaymentStatus is derived solely from outstanding relative to total
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

// IsValid checks if the payment status is valid
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPartial, PaymentStatusPaid:
		return true
	}
	return false
}

// DocumentLine is a pre-tax line posted to a revenue (invoice) or expense (bill) account
type DocumentLine struct {
	ID          uuid.UUID
	AccountCode string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
}

// Document is an invoice or a bill
type Document struct {
	shared.TenantAggregateRoot
	Kind            DocumentKind
	Number          string
	ContactID       uuid.UUID
	IssueDate       time.Time
	DueDate         *time.Time
	Lines           []DocumentLine
	Subtotal        decimal.Decimal
	TaxAmount       decimal.Decimal
	Total           decimal.Decimal
	AmountAllocated decimal.Decimal
	Status          DocumentStatus
	PaymentStatus   PaymentStatus
	JournalEntryID  *uuid.UUID
}

// NewDocumentLine builds a line from quantity and unit price.
func NewDocumentLine(accountCode, description string, quantity, unitPrice decimal.Decimal) (DocumentLine, error) {
	if strings.TrimSpace(accountCode) == "" {
		return DocumentLine{}, NewValidationError("account_code", "is required")
	}
	if !quantity.IsPositive() {
		return DocumentLine{}, NewValidationError("quantity", "must be positive")
	}
	if unitPrice.IsNegative() {
		return DocumentLine{}, NewValidationError("unit_price", "cannot be negative")
	}
	return DocumentLine{
		ID:          uuid.New(),
		AccountCode: strings.TrimSpace(accountCode),
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Amount:      quantity.Mul(unitPrice).Round(2),
	}, nil
}

// NewDocument creates a draft invoice or bill. Total is subtotal plus tax.
func NewDocument(tenantID uuid.UUID, kind DocumentKind, contactID uuid.UUID, lines []DocumentLine, taxAmount decimal.Decimal, issueDate time.Time) (*Document, error) {
	if tenantID == uuid.Nil {
		return nil, NewValidationError("tenant_id", "is required")
	}
	if !kind.IsValid() {
		return nil, NewValidationError("kind", "unknown document kind %q", kind)
	}
	if contactID == uuid.Nil {
		return nil, NewValidationError("contact_id", "is required")
	}
	if len(lines) == 0 {
		return nil, NewValidationError("lines", "at least one line is required")
	}
	if taxAmount.IsNegative() {
		return nil, NewValidationError("tax_amount", "cannot be negative")
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Amount)
	}
	total := subtotal.Add(taxAmount)
	if !total.IsPositive() {
		return nil, NewValidationError("total", "must be positive")
	}

	return &Document{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Kind:                kind,
		ContactID:           contactID,
		IssueDate:           issueDate,
		Lines:               lines,
		Subtotal:            subtotal,
		TaxAmount:           taxAmount,
		Total:               total,
		AmountAllocated:     decimal.Zero,
		Status:              DocumentStatusDraft,
		PaymentStatus:       PaymentStatusPending,
	}, nil
}

// Outstanding returns max(0, total - allocated).
func (d *Document) Outstanding() decimal.Decimal {
	remaining := d.Total.Sub(d.AmountAllocated)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Source returns the journal source reference for the document.
func (d *Document) Source() SourceReference {
	return SourceReference{Type: d.Kind.SourceType(), ID: d.ID}
}

// Issue assigns the document number and moves DRAFT to ISSUED.
func (d *Document) Issue(number string) error {
	if d.Status != DocumentStatusDraft {
		return NewValidationError("status", "only draft documents can be issued, got %s", d.Status)
	}
	if strings.TrimSpace(number) == "" {
		return NewValidationError("number", "is required")
	}
	d.Number = number
	d.Status = DocumentStatusIssued
	d.IncrementVersion()
	return nil
}

// CanAcceptPayment reports whether allocations may be applied.
func (d *Document) CanAcceptPayment() bool {
	return d.Status == DocumentStatusIssued && d.Outstanding().IsPositive()
}

// ApplyAllocation records amount against the document and re-derives its
// payment status. The amount must be positive and not exceed outstanding.
func (d *Document) ApplyAllocation(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "allocation amount must be positive")
	}
	if !d.CanAcceptPayment() {
		return NewValidationError("document_id", "%s %s cannot accept payments (status %s, outstanding %s)",
			strings.ToLower(d.Kind.String()), d.ID, d.Status, d.Outstanding().StringFixed(2))
	}
	if amount.GreaterThan(d.Outstanding()) {
		return NewValidationError("amount", "allocation %s exceeds outstanding %s",
			amount.StringFixed(2), d.Outstanding().StringFixed(2))
	}
	d.AmountAllocated = d.AmountAllocated.Add(amount)
	d.refreshPaymentStatus()
	d.IncrementVersion()
	return nil
}

// SyncAllocated replaces the allocated total with the persisted sum of
// allocation rows, the source of truth for outstanding.
func (d *Document) SyncAllocated(total decimal.Decimal) {
	if total.Equal(d.AmountAllocated) {
		return
	}
	d.AmountAllocated = total
	if d.Status == DocumentStatusIssued || d.Status == DocumentStatusPaid {
		d.refreshPaymentStatus()
	}
}

// refreshPaymentStatus derives PaymentStatus and, when fully paid, Status.
func (d *Document) refreshPaymentStatus() {
	outstanding := d.Outstanding()
	switch {
	case outstanding.IsZero():
		d.PaymentStatus = PaymentStatusPaid
		d.Status = DocumentStatusPaid
	case outstanding.LessThan(d.Total):
		d.PaymentStatus = PaymentStatusPartial
	default:
		d.PaymentStatus = PaymentStatusPending
	}
}

// AttachJournalEntry links the posted journal entry.
func (d *Document) AttachJournalEntry(entryID uuid.UUID) {
	d.JournalEntryID = &entryID
}

// Void cancels an issued or draft document that has no allocations.
func (d *Document) Void() error {
	if d.Status == DocumentStatusVoid || d.Status == DocumentStatusPaid {
		return NewValidationError("status", "cannot void a %s document", d.Status)
	}
	if d.AmountAllocated.IsPositive() {
		return NewValidationError("status", "cannot void a document with allocations")
	}
	d.Status = DocumentStatusVoid
	d.IncrementVersion()
	return nil
}
