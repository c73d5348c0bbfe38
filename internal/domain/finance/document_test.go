package finance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newIssuedInvoice creates an issued invoice with a single revenue line and no tax.
func newIssuedInvoice(t *testing.T, tenantID uuid.UUID, total string) *Document {
	t.Helper()
	line, err := NewDocumentLine("4000", "services", decimal.NewFromInt(1), dec(total))
	require.NoError(t, err)
	doc, err := NewDocument(tenantID, DocumentKindInvoice, uuid.New(), []DocumentLine{line}, decimal.Zero, time.Now())
	require.NoError(t, err)
	require.NoError(t, doc.Issue("INV-001"))
	return doc
}

func TestNewDocument_ComputesTotals(t *testing.T) {
	l1, err := NewDocumentLine("4000", "consulting", dec("2"), dec("250"))
	require.NoError(t, err)
	l2, err := NewDocumentLine("4100", "hosting", dec("1"), dec("362.07"))
	require.NoError(t, err)

	doc, err := NewDocument(uuid.New(), DocumentKindInvoice, uuid.New(), []DocumentLine{l1, l2}, dec("137.93"), time.Now())
	require.NoError(t, err)

	assert.True(t, doc.Subtotal.Equal(dec("862.07")))
	assert.True(t, doc.Total.Equal(dec("1000")))
	assert.Equal(t, DocumentStatusDraft, doc.Status)
	assert.Equal(t, PaymentStatusPending, doc.PaymentStatus)
	assert.True(t, doc.Outstanding().Equal(dec("1000")))
}

func TestNewDocument_Validation(t *testing.T) {
	line, err := NewDocumentLine("4000", "x", dec("1"), dec("10"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		tenant  uuid.UUID
		kind    DocumentKind
		contact uuid.UUID
		lines   []DocumentLine
		tax     decimal.Decimal
	}{
		{"missing tenant", uuid.Nil, DocumentKindInvoice, uuid.New(), []DocumentLine{line}, decimal.Zero},
		{"bad kind", uuid.New(), DocumentKind("QUOTE"), uuid.New(), []DocumentLine{line}, decimal.Zero},
		{"missing contact", uuid.New(), DocumentKindBill, uuid.Nil, []DocumentLine{line}, decimal.Zero},
		{"no lines", uuid.New(), DocumentKindInvoice, uuid.New(), nil, decimal.Zero},
		{"negative tax", uuid.New(), DocumentKindInvoice, uuid.New(), []DocumentLine{line}, dec("-1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDocument(tt.tenant, tt.kind, tt.contact, tt.lines, tt.tax, time.Now())
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
}

func TestDocument_ApplyAllocation(t *testing.T) {
	tests := []struct {
		name            string
		allocations     []string
		wantOutstanding string
		wantPayment     PaymentStatus
		wantStatus      DocumentStatus
	}{
		{"full payment", []string{"1000"}, "0", PaymentStatusPaid, DocumentStatusPaid},
		{"partial payment", []string{"600"}, "400", PaymentStatusPartial, DocumentStatusIssued},
		{"two partials settle", []string{"600", "400"}, "0", PaymentStatusPaid, DocumentStatusPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newIssuedInvoice(t, uuid.New(), "1000")
			for _, a := range tt.allocations {
				require.NoError(t, doc.ApplyAllocation(dec(a)))
			}
			assert.True(t, doc.Outstanding().Equal(dec(tt.wantOutstanding)), "outstanding %s", doc.Outstanding())
			assert.Equal(t, tt.wantPayment, doc.PaymentStatus)
			assert.Equal(t, tt.wantStatus, doc.Status)
		})
	}
}

func TestDocument_ApplyAllocation_Rejects(t *testing.T) {
	doc := newIssuedInvoice(t, uuid.New(), "1000")

	err := doc.ApplyAllocation(dec("1000.01"))
	assert.True(t, IsValidation(err))

	err = doc.ApplyAllocation(decimal.Zero)
	assert.True(t, IsValidation(err))

	require.NoError(t, doc.ApplyAllocation(dec("1000")))
	err = doc.ApplyAllocation(dec("1"))
	assert.True(t, IsValidation(err), "paid document accepts no further allocations")
	assert.True(t, doc.AmountAllocated.Equal(dec("1000")))
}

func TestDocument_DraftCannotAcceptPayment(t *testing.T) {
	line, err := NewDocumentLine("4000", "x", dec("1"), dec("10"))
	require.NoError(t, err)
	doc, err := NewDocument(uuid.New(), DocumentKindInvoice, uuid.New(), []DocumentLine{line}, decimal.Zero, time.Now())
	require.NoError(t, err)

	assert.False(t, doc.CanAcceptPayment())
	assert.True(t, IsValidation(doc.ApplyAllocation(dec("5"))))
}

func TestDocument_SyncAllocated(t *testing.T) {
	doc := newIssuedInvoice(t, uuid.New(), "1000")
	doc.SyncAllocated(dec("250"))
	assert.Equal(t, PaymentStatusPartial, doc.PaymentStatus)
	assert.True(t, doc.Outstanding().Equal(dec("750")))

	doc.SyncAllocated(dec("1000"))
	assert.Equal(t, PaymentStatusPaid, doc.PaymentStatus)
	assert.Equal(t, DocumentStatusPaid, doc.Status)
}

func TestDocument_Void(t *testing.T) {
	doc := newIssuedInvoice(t, uuid.New(), "100")
	require.NoError(t, doc.ApplyAllocation(dec("10")))
	assert.True(t, IsValidation(doc.Void()))

	other := newIssuedInvoice(t, uuid.New(), "100")
	require.NoError(t, other.Void())
	assert.Equal(t, DocumentStatusVoid, other.Status)
	assert.False(t, other.CanAcceptPayment())
}
