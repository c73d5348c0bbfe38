package finance

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerAccounts names the control accounts, by code, that posting relies on
type LedgerAccounts struct {
	Receivable          string
	Payable             string
	TaxPayable          string
	TaxReceivable       string
	UnappliedFunds      string
	SupplierPrepayments string
	DefaultDeposit      string
}

// AccountResolver looks up an account by code for the tenant being posted.
// A missing account must be reported as a ConfigurationError.
type AccountResolver func(code string) (*Account, error)

// JournalBuilder accumulates lines for one entry. The first error sticks
// and is returned from Build.
type JournalBuilder struct {
	entry *JournalEntry
	err   error
}

// NewJournalBuilder starts an entry for source.
func NewJournalBuilder(tenantID uuid.UUID, source SourceReference, entryDate time.Time, description string) *JournalBuilder {
	b := &JournalBuilder{entry: newJournalEntry(tenantID, source, entryDate, description)}
	if err := source.Validate(); err != nil {
		b.err = err
	}
	return b
}

// Debit adds a debit line.
func (b *JournalBuilder) Debit(account *Account, amount decimal.Decimal, description string) *JournalBuilder {
	return b.add(account, LineTypeDebit, amount, description)
}

// Credit adds a credit line.
func (b *JournalBuilder) Credit(account *Account, amount decimal.Decimal, description string) *JournalBuilder {
	return b.add(account, LineTypeCredit, amount, description)
}

func (b *JournalBuilder) add(account *Account, lineType LineType, amount decimal.Decimal, description string) *JournalBuilder {
	if b.err != nil {
		return b
	}
	if account == nil {
		b.err = NewConfigurationError("account", "nil account for %s line", strings.ToLower(string(lineType)))
		return b
	}
	b.err = b.entry.addLine(account, lineType, amount, description)
	return b
}

// Build posts the entry, rejecting it if it does not balance.
func (b *JournalBuilder) Build(postedAt time.Time) (*JournalEntry, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.entry.Post(postedAt); err != nil {
		return nil, err
	}
	return b.entry, nil
}

// BuildDocumentEntry builds the entry for an issued invoice or bill.
//
// Invoice: Dr receivable total; Cr each revenue account its grouped pre-tax
// amount; Cr tax payable. Bill mirrors it: Cr payable total; Dr each expense
// account; Dr tax receivable.
func BuildDocumentEntry(doc *Document, codes LedgerAccounts, resolve AccountResolver, postedAt time.Time) (*JournalEntry, error) {
	control, taxCode := codes.Receivable, codes.TaxPayable
	controlKey, taxKey := "ledger.receivable", "ledger.tax_payable"
	if doc.Kind == DocumentKindBill {
		control, taxCode = codes.Payable, codes.TaxReceivable
		controlKey, taxKey = "ledger.payable", "ledger.tax_receivable"
	}

	controlAccount, err := resolveRequired(resolve, controlKey, control)
	if err != nil {
		return nil, err
	}

	b := NewJournalBuilder(doc.TenantID, doc.Source(), doc.IssueDate,
		fmt.Sprintf("%s %s", strings.ToLower(doc.Kind.String()), doc.Number))

	// Revenue (invoice) or expense (bill) per account, in first-seen order.
	grouped := make(map[string]decimal.Decimal)
	var order []string
	for _, line := range doc.Lines {
		if _, seen := grouped[line.AccountCode]; !seen {
			order = append(order, line.AccountCode)
			grouped[line.AccountCode] = decimal.Zero
		}
		grouped[line.AccountCode] = grouped[line.AccountCode].Add(line.Amount)
	}

	if doc.Kind == DocumentKindBill {
		b.Credit(controlAccount, doc.Total, "accounts payable")
	} else {
		b.Debit(controlAccount, doc.Total, "accounts receivable")
	}

	for _, code := range order {
		account, err := resolveRequired(resolve, "line.account_code", code)
		if err != nil {
			return nil, err
		}
		if doc.Kind == DocumentKindBill {
			b.Debit(account, grouped[code], "expense")
		} else {
			b.Credit(account, grouped[code], "revenue")
		}
	}

	if doc.TaxAmount.IsPositive() {
		taxAccount, err := resolveRequired(resolve, taxKey, taxCode)
		if err != nil {
			return nil, err
		}
		if doc.Kind == DocumentKindBill {
			b.Debit(taxAccount, doc.TaxAmount, "input tax")
		} else {
			b.Credit(taxAccount, doc.TaxAmount, "output tax")
		}
	}

	return b.Build(postedAt)
}

// BuildPaymentEntry builds the entry for a completed payment and its allocations.
//
// Incoming (invoice allocations): Dr deposit amount; Cr receivable allocated;
// Cr unapplied funds remainder. Outgoing (bill allocations): Dr payable
// allocated; Dr supplier prepayments remainder; Cr deposit amount.
func BuildPaymentEntry(payment *Payment, allocations []PaymentAllocation, codes LedgerAccounts, resolve AccountResolver, postedAt time.Time) (*JournalEntry, error) {
	allocated := SumAllocations(allocations)
	if allocated.GreaterThan(payment.Amount) {
		return nil, NewValidationError("allocations", "allocated %s exceeds payment amount %s",
			allocated.StringFixed(2), payment.Amount.StringFixed(2))
	}
	kind, ok := AllocationDirection(allocations)
	if !ok {
		return nil, NewValidationError("allocations", "a payment cannot settle invoices and bills together")
	}
	if len(allocations) == 0 && payment.Target.Type == TargetTypeBill {
		kind = DocumentKindBill
	}

	depositCode := payment.DepositAccountCode
	if depositCode == "" {
		depositCode = codes.DefaultDeposit
	}
	deposit, err := resolveRequired(resolve, "ledger.default_deposit", depositCode)
	if err != nil {
		return nil, err
	}

	entryDate := postedAt
	if payment.PaymentDate != nil {
		entryDate = *payment.PaymentDate
	}
	description := "payment"
	if payment.Receipt != "" {
		description = "payment " + payment.Receipt
	}
	b := NewJournalBuilder(payment.TenantID, PaymentSource(payment.ID), entryDate, description)
	remainder := payment.Amount.Sub(allocated)

	if kind == DocumentKindBill {
		if allocated.IsPositive() {
			payable, err := resolveRequired(resolve, "ledger.payable", codes.Payable)
			if err != nil {
				return nil, err
			}
			b.Debit(payable, allocated, "accounts payable")
		}
		if remainder.IsPositive() {
			prepayments, err := resolveRequired(resolve, "ledger.supplier_prepayments", codes.SupplierPrepayments)
			if err != nil {
				return nil, err
			}
			b.Debit(prepayments, remainder, "supplier prepayment")
		}
		b.Credit(deposit, payment.Amount, "payment out")
		return b.Build(postedAt)
	}

	b.Debit(deposit, payment.Amount, "payment in")
	if allocated.IsPositive() {
		receivable, err := resolveRequired(resolve, "ledger.receivable", codes.Receivable)
		if err != nil {
			return nil, err
		}
		b.Credit(receivable, allocated, "accounts receivable")
	}
	if remainder.IsPositive() {
		unapplied, err := resolveRequired(resolve, "ledger.unapplied_funds", codes.UnappliedFunds)
		if err != nil {
			return nil, err
		}
		b.Credit(unapplied, remainder, "unapplied funds")
	}
	return b.Build(postedAt)
}

func resolveRequired(resolve AccountResolver, key, code string) (*Account, error) {
	if strings.TrimSpace(code) == "" {
		return nil, NewConfigurationError(key, "no account code configured")
	}
	account, err := resolve(code)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, NewConfigurationError(key, "account %q does not exist", code)
	}
	return account, nil
}
