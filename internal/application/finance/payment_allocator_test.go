package finance

import (
	"errors"
	"testing"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentAllocator_Allocate(t *testing.T) {
	tests := []struct {
		name            string
		invoiceTotal    string
		paymentAmount   string
		allocate        string
		wantStatus      finance.PaymentStatus
		wantDocStatus   finance.DocumentStatus
		wantOutstanding string
		wantUnapplied   string
	}{
		{
			name:            "full payment",
			invoiceTotal:    "1000",
			paymentAmount:   "1000",
			allocate:        "1000",
			wantStatus:      finance.PaymentStatusPaid,
			wantDocStatus:   finance.DocumentStatusPaid,
			wantOutstanding: "0",
			wantUnapplied:   "0",
		},
		{
			name:            "partial payment",
			invoiceTotal:    "1000",
			paymentAmount:   "600",
			allocate:        "600",
			wantStatus:      finance.PaymentStatusPartial,
			wantDocStatus:   finance.DocumentStatusIssued,
			wantOutstanding: "400",
			wantUnapplied:   "0",
		},
		{
			name:            "overpayment leaves unapplied funds",
			invoiceTotal:    "1000",
			paymentAmount:   "1500",
			allocate:        "1000",
			wantStatus:      finance.PaymentStatusPaid,
			wantDocStatus:   finance.DocumentStatusPaid,
			wantOutstanding: "0",
			wantUnapplied:   "500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillingFixture(t)
			invoice := f.issueInvoice(tt.invoiceTotal)
			payment := f.completedPayment(tt.paymentAmount)

			result, err := f.allocator.Allocate(f.ctx, AllocatePaymentRequest{
				TenantID:  f.tenantID,
				PaymentID: payment.ID,
				Allocations: []AllocationLine{
					{Kind: finance.DocumentKindInvoice, DocumentID: invoice.ID, Amount: dec(tt.allocate)},
				},
			})
			require.NoError(t, err)
			require.Len(t, result.Allocations, 1)

			doc := f.store.document(invoice.ID)
			assert.Equal(t, tt.wantStatus, doc.PaymentStatus)
			assert.Equal(t, tt.wantDocStatus, doc.Status)
			assert.True(t, doc.Outstanding().Equal(dec(tt.wantOutstanding)), "outstanding %s", doc.Outstanding())

			entry := f.entryFor(finance.PaymentSource(payment.ID))
			assert.Equal(t, result.JournalEntry.ID, entry.ID)
			assert.True(t, entry.IsBalanced())
			assert.True(t, entry.TotalDebits.Equal(dec(tt.paymentAmount)))
			assert.True(t, lineTotal(entry, "1100", finance.LineTypeDebit).Equal(dec(tt.paymentAmount)))
			assert.True(t, lineTotal(entry, "1200", finance.LineTypeCredit).Equal(dec(tt.allocate)))
			assert.True(t, lineTotal(entry, "2400", finance.LineTypeCredit).Equal(dec(tt.wantUnapplied)))

			stored := f.store.payment(payment.ID)
			require.NotNil(t, stored.JournalEntryID)
			assert.Equal(t, entry.ID, *stored.JournalEntryID)
		})
	}
}

func TestPaymentAllocator_SplitAcrossInvoices(t *testing.T) {
	f := newBillingFixture(t)
	first := f.issueInvoice("400")
	second := f.issueInvoice("800")
	payment := f.completedPayment("1000")

	_, err := f.allocator.Allocate(f.ctx, AllocatePaymentRequest{
		TenantID:  f.tenantID,
		PaymentID: payment.ID,
		Allocations: []AllocationLine{
			{Kind: finance.DocumentKindInvoice, DocumentID: first.ID, Amount: dec("400")},
			{Kind: finance.DocumentKindInvoice, DocumentID: second.ID, Amount: dec("600")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, finance.PaymentStatusPaid, f.store.document(first.ID).PaymentStatus)
	secondDoc := f.store.document(second.ID)
	assert.Equal(t, finance.PaymentStatusPartial, secondDoc.PaymentStatus)
	assert.True(t, secondDoc.Outstanding().Equal(dec("200")))
	assert.Len(t, f.store.allocationRows(), 2)

	entry := f.entryFor(finance.PaymentSource(payment.ID))
	assert.True(t, lineTotal(entry, "1200", finance.LineTypeCredit).Equal(dec("1000")))
	assert.True(t, lineTotal(entry, "2400", finance.LineTypeCredit).IsZero())
}

func TestPaymentAllocator_OutgoingBillPayment(t *testing.T) {
	f := newBillingFixture(t)
	bill := f.issueDocument(finance.DocumentKindBill, "300")
	payment := f.completedPayment("300")

	_, err := f.allocator.Allocate(f.ctx, AllocatePaymentRequest{
		TenantID:    f.tenantID,
		PaymentID:   payment.ID,
		Allocations: []AllocationLine{{Kind: finance.DocumentKindBill, DocumentID: bill.ID, Amount: dec("300")}},
	})
	require.NoError(t, err)

	entry := f.entryFor(finance.PaymentSource(payment.ID))
	assert.True(t, lineTotal(entry, "2000", finance.LineTypeDebit).Equal(dec("300")))
	assert.True(t, lineTotal(entry, "1100", finance.LineTypeCredit).Equal(dec("300")))
	assert.Equal(t, finance.PaymentStatusPaid, f.store.document(bill.ID).PaymentStatus)
}

func TestPaymentAllocator_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		build     func(f *billingFixture) AllocatePaymentRequest
		wantField string
		notFound  bool
	}{
		{
			name: "sum exceeds payment amount",
			build: func(f *billingFixture) AllocatePaymentRequest {
				a, b := f.issueInvoice("500"), f.issueInvoice("500")
				p := f.completedPayment("600")
				return AllocatePaymentRequest{TenantID: f.tenantID, PaymentID: p.ID, Allocations: []AllocationLine{
					{Kind: finance.DocumentKindInvoice, DocumentID: a.ID, Amount: dec("400")},
					{Kind: finance.DocumentKindInvoice, DocumentID: b.ID, Amount: dec("400")},
				}}
			},
			wantField: "allocations",
		},
		{
			name: "amount exceeds outstanding",
			build: func(f *billingFixture) AllocatePaymentRequest {
				inv := f.issueInvoice("100")
				p := f.completedPayment("600")
				return AllocatePaymentRequest{TenantID: f.tenantID, PaymentID: p.ID, Allocations: []AllocationLine{
					{Kind: finance.DocumentKindInvoice, DocumentID: inv.ID, Amount: dec("150")},
				}}
			},
			wantField: "allocations[0].amount",
		},
		{
			name: "non-positive amount",
			build: func(f *billingFixture) AllocatePaymentRequest {
				inv := f.issueInvoice("100")
				p := f.completedPayment("100")
				return AllocatePaymentRequest{TenantID: f.tenantID, PaymentID: p.ID, Allocations: []AllocationLine{
					{Kind: finance.DocumentKindInvoice, DocumentID: inv.ID, Amount: dec("0")},
				}}
			},
			wantField: "allocations[0].amount",
		},
		{
			name: "duplicate document",
			build: func(f *billingFixture) AllocatePaymentRequest {
				inv := f.issueInvoice("100")
				p := f.completedPayment("100")
				return AllocatePaymentRequest{TenantID: f.tenantID, PaymentID: p.ID, Allocations: []AllocationLine{
					{Kind: finance.DocumentKindInvoice, DocumentID: inv.ID, Amount: dec("50")},
					{Kind: finance.DocumentKindInvoice, DocumentID: inv.ID, Amount: dec("50")},
				}}
			},
			wantField: "allocations[1].document_id",
		},
		{
			name: "mixed invoices and bills",
			build: func(f *billingFixture) AllocatePaymentRequest {
				inv := f.issueInvoice("100")
				bill := f.issueDocument(finance.DocumentKindBill, "100")
				p := f.completedPayment("200")
				return AllocatePaymentRequest{TenantID: f.tenantID, PaymentID: p.ID, Allocations: []AllocationLine{
					{Kind: finance.DocumentKindInvoice, DocumentID: inv.ID, Amount: dec("100")},
					{Kind: finance.DocumentKindBill, DocumentID: bill.ID, Amount: dec("100")},
				}}
			},
			wantField: "allocations",
		},
		{
			name: "pending payment",
			build: func(f *billingFixture) AllocatePaymentRequest {
				inv := f.issueInvoice("100")
				p := f.pendingPayment("100", finance.PaymentTarget{}, "ws_CO_pending")
				return AllocatePaymentRequest{TenantID: f.tenantID, PaymentID: p.ID, Allocations: []AllocationLine{
					{Kind: finance.DocumentKindInvoice, DocumentID: inv.ID, Amount: dec("100")},
				}}
			},
			wantField: "payment_id",
		},
		{
			name: "no allocations",
			build: func(f *billingFixture) AllocatePaymentRequest {
				p := f.completedPayment("100")
				return AllocatePaymentRequest{TenantID: f.tenantID, PaymentID: p.ID}
			},
			wantField: "allocations",
		},
		{
			name: "payment of another tenant",
			build: func(f *billingFixture) AllocatePaymentRequest {
				inv := f.issueInvoice("100")
				p := f.completedPayment("100")
				return AllocatePaymentRequest{TenantID: uuid.New(), PaymentID: p.ID, Allocations: []AllocationLine{
					{Kind: finance.DocumentKindInvoice, DocumentID: inv.ID, Amount: dec("100")},
				}}
			},
			notFound: true,
		},
		{
			name: "unknown document",
			build: func(f *billingFixture) AllocatePaymentRequest {
				p := f.completedPayment("100")
				return AllocatePaymentRequest{TenantID: f.tenantID, PaymentID: p.ID, Allocations: []AllocationLine{
					{Kind: finance.DocumentKindInvoice, DocumentID: uuid.New(), Amount: dec("100")},
				}}
			},
			notFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillingFixture(t)
			req := tt.build(f)
			before := f.store.rowCounts()

			_, err := f.allocator.Allocate(f.ctx, req)
			require.Error(t, err)

			if tt.notFound {
				assert.True(t, finance.IsNotFound(err), "got %v", err)
			} else {
				var ve *finance.ValidationError
				require.True(t, errors.As(err, &ve), "got %v", err)
				assert.Equal(t, tt.wantField, ve.Field)
			}
			assert.Equal(t, before, f.store.rowCounts())
			assert.Empty(t, f.store.allocationRows())
		})
	}
}

func TestPaymentAllocator_RollsBackOnPostingFailure(t *testing.T) {
	f := newBillingFixture(t, withoutAccount("1100"))
	// Invoice posting does not touch the deposit account.
	invoice := f.issueInvoice("1000")
	payment := f.completedPayment("1000")

	_, err := f.allocator.Allocate(f.ctx, AllocatePaymentRequest{
		TenantID:    f.tenantID,
		PaymentID:   payment.ID,
		Allocations: []AllocationLine{{Kind: finance.DocumentKindInvoice, DocumentID: invoice.ID, Amount: dec("1000")}},
	})

	assert.True(t, finance.IsConfiguration(err))
	assert.Empty(t, f.store.allocationRows())
	doc := f.store.document(invoice.ID)
	assert.Equal(t, finance.PaymentStatusPending, doc.PaymentStatus)
	assert.True(t, doc.Outstanding().Equal(dec("1000")))
	assert.Nil(t, f.store.payment(payment.ID).JournalEntryID)
}

func TestPaymentAllocator_PostedPaymentCannotBeReallocated(t *testing.T) {
	f := newBillingFixture(t)
	invoice := f.issueInvoice("1000")
	payment := f.completedPayment("500")
	req := AllocatePaymentRequest{
		TenantID:    f.tenantID,
		PaymentID:   payment.ID,
		Allocations: []AllocationLine{{Kind: finance.DocumentKindInvoice, DocumentID: invoice.ID, Amount: dec("500")}},
	}
	_, err := f.allocator.Allocate(f.ctx, req)
	require.NoError(t, err)

	_, err = f.allocator.Allocate(f.ctx, req)

	assert.True(t, finance.IsValidation(err))
	assert.Len(t, f.store.allocationRows(), 1)
	invoiceDoc := f.store.document(invoice.ID)
	assert.True(t, invoiceDoc.Outstanding().Equal(dec("500")))
}
