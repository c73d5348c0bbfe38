package finance

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceTolerance is the largest debit/credit difference a posted entry may carry.
var BalanceTolerance = decimal.New(1, -2)

// SourceType identifies the kind of document a journal entry was posted for
type SourceType string

const (
	SourceTypeInvoice SourceType = "INVOICE"
	SourceTypeBill    SourceType = "BILL"
	SourceTypePayment SourceType = "PAYMENT"
)

// IsValid checks if the source type is valid
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeInvoice, SourceTypeBill, SourceTypePayment:
		return true
	}
	return false
}

// String returns the string representation of SourceType
func (s SourceType) String() string {
	return string(s)
}

// SourceReference is the tagged reference from a journal entry to the
// document it records. At most one entry exists per reference.
type SourceReference struct {
	Type SourceType
	ID   uuid.UUID
}

// InvoiceSource references an invoice.
func InvoiceSource(id uuid.UUID) SourceReference {
	return SourceReference{Type: SourceTypeInvoice, ID: id}
}

// BillSource references a bill.
func BillSource(id uuid.UUID) SourceReference {
	return SourceReference{Type: SourceTypeBill, ID: id}
}

// PaymentSource references a payment.
func PaymentSource(id uuid.UUID) SourceReference {
	return SourceReference{Type: SourceTypePayment, ID: id}
}

// Validate checks that the reference is complete.
func (r SourceReference) Validate() error {
	if !r.Type.IsValid() {
		return NewValidationError("source_type", "unknown source type %q", r.Type)
	}
	if r.ID == uuid.Nil {
		return NewValidationError("source_id", "is required")
	}
	return nil
}

func (r SourceReference) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// LineType is the side of a journal line
type LineType string

const (
	LineTypeDebit  LineType = "DEBIT"
	LineTypeCredit LineType = "CREDIT"
)

// IsValid checks if the line type is valid
func (t LineType) IsValid() bool {
	return t == LineTypeDebit || t == LineTypeCredit
}

// JournalLine is one debit or credit against a single account
type JournalLine struct {
	ID          uuid.UUID
	EntryID     uuid.UUID
	AccountID   uuid.UUID
	AccountCode string
	Type        LineType
	Amount      decimal.Decimal
	Description string
}

// JournalEntry is a double-entry record for one source document
type JournalEntry struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	EntryNumber  string
	EntryDate    time.Time
	Source       SourceReference
	Description  string
	Lines        []JournalLine
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
	IsPosted     bool
	PostedAt     *time.Time
	CreatedAt    time.Time
}

// NewEntryNumber returns a globally unique entry number of the form
// JE-<yyyymmdd>-<8 hex>.
func NewEntryNumber(date time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("JE-%s-%s", date.UTC().Format("20060102"), strings.ToUpper(suffix))
}

// newJournalEntry creates an unposted entry with no lines.
func newJournalEntry(tenantID uuid.UUID, source SourceReference, entryDate time.Time, description string) *JournalEntry {
	id := uuid.New()
	return &JournalEntry{
		ID:           id,
		TenantID:     tenantID,
		EntryNumber:  NewEntryNumber(entryDate),
		EntryDate:    entryDate,
		Source:       source,
		Description:  description,
		TotalDebits:  decimal.Zero,
		TotalCredits: decimal.Zero,
		CreatedAt:    time.Now().UTC(),
	}
}

// addLine appends a line. Zero amounts are dropped; negative amounts are rejected.
func (e *JournalEntry) addLine(account *Account, lineType LineType, amount decimal.Decimal, description string) error {
	if amount.IsNegative() {
		return NewValidationError("amount", "journal line amount cannot be negative: %s", amount)
	}
	if amount.IsZero() {
		return nil
	}
	e.Lines = append(e.Lines, JournalLine{
		ID:          uuid.New(),
		EntryID:     e.ID,
		AccountID:   account.ID,
		AccountCode: account.Code,
		Type:        lineType,
		Amount:      amount,
		Description: description,
	})
	return nil
}

// Totals sums the debit and credit sides.
func (e *JournalEntry) Totals() (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, line := range e.Lines {
		switch line.Type {
		case LineTypeDebit:
			debits = debits.Add(line.Amount)
		case LineTypeCredit:
			credits = credits.Add(line.Amount)
		}
	}
	return debits, credits
}

// IsBalanced reports whether debits and credits agree within BalanceTolerance.
func (e *JournalEntry) IsBalanced() bool {
	debits, credits := e.Totals()
	return debits.Sub(credits).Abs().LessThanOrEqual(BalanceTolerance)
}

// Post recomputes totals and marks the entry posted. An unbalanced or empty
// entry is rejected and left unposted.
func (e *JournalEntry) Post(at time.Time) error {
	if e.IsPosted {
		return nil
	}
	if len(e.Lines) == 0 {
		return NewValidationError("lines", "journal entry %s has no lines", e.EntryNumber)
	}
	debits, credits := e.Totals()
	e.TotalDebits, e.TotalCredits = debits, credits
	if !e.IsBalanced() {
		return &UnbalancedEntryError{EntryNumber: e.EntryNumber, TotalDebits: debits, TotalCredits: credits}
	}
	e.IsPosted = true
	e.PostedAt = &at
	return nil
}

// LinesFor returns the lines posted against accountCode on the given side.
func (e *JournalEntry) LinesFor(accountCode string, lineType LineType) []JournalLine {
	var out []JournalLine
	for _, line := range e.Lines {
		if line.AccountCode == accountCode && line.Type == lineType {
			out = append(out, line)
		}
	}
	return out
}
