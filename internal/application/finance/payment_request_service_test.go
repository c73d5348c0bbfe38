package finance

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPaymentRequestService_Initiate(t *testing.T) {
	f := newBillingFixture(t)
	invoice := f.issueInvoice("1000")
	f.gateway.On("Initiate", mock.Anything, mock.MatchedBy(func(req *finance.STKPushRequest) bool {
		return req.Phone == "254712345678" && req.Amount.Equal(dec("1000")) && req.AccountReference == invoice.Number
	})).Return(&finance.STKPushResponse{
		CheckoutRequestID:   "ws_CO_191220191020363925",
		MerchantRequestID:   "29115-34620561-1",
		ResponseDescription: "Success. Request accepted for processing",
	}, nil)

	payment, err := f.requests.Initiate(f.ctx, InitiatePaymentRequest{
		TenantID:         f.tenantID,
		Phone:            "+254 712-345-678",
		Amount:           dec("1000"),
		AccountReference: invoice.Number,
		Description:      "Invoice",
		TargetType:       finance.TargetTypeInvoice,
		TargetID:         invoice.ID,
	})
	require.NoError(t, err)

	stored := f.store.payment(payment.ID)
	assert.Equal(t, finance.TransactionStatusPending, stored.Status)
	assert.Equal(t, "ws_CO_191220191020363925", stored.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", stored.MerchantRequestID)
	assert.Equal(t, "254712345678", stored.RequestPhone)
	assert.Empty(t, stored.Phone)
	assert.Nil(t, stored.PaymentDate)
	require.NotNil(t, stored.ContactID)
	assert.Equal(t, f.contactID, *stored.ContactID)
	f.gateway.AssertExpectations(t)
}

func TestPaymentRequestService_GatewayFailureStoresNothing(t *testing.T) {
	f := newBillingFixture(t)
	f.gateway.On("Initiate", mock.Anything, mock.Anything).
		Return(nil, finance.NewGatewayError("initiate", 500, errors.New("Bad Request - Invalid PhoneNumber")))

	_, err := f.requests.Initiate(f.ctx, InitiatePaymentRequest{
		TenantID:         f.tenantID,
		Phone:            "0712345678",
		Amount:           dec("10"),
		AccountReference: "ACC-9",
	})

	assert.True(t, finance.IsGateway(err))
	assert.Zero(t, f.store.rowCounts()["payments"])
}

func TestPaymentRequestService_Rejects(t *testing.T) {
	f := newBillingFixture(t)
	draft, err := f.documents.Create(f.ctx, CreateDocumentRequest{
		TenantID:  f.tenantID,
		Kind:      finance.DocumentKindInvoice,
		ContactID: f.contactID,
		Lines:     []DocumentLineInput{{AccountCode: "4000", UnitPrice: dec("10")}},
	})
	require.NoError(t, err)

	valid := func() InitiatePaymentRequest {
		return InitiatePaymentRequest{TenantID: f.tenantID, Phone: "0712345678", Amount: dec("10"), AccountReference: "ACC-1"}
	}
	tests := []struct {
		name     string
		mutate   func(r *InitiatePaymentRequest)
		field    string
		notFound bool
	}{
		{"invalid phone", func(r *InitiatePaymentRequest) { r.Phone = "0612345678" }, "phone", false},
		{"missing phone", func(r *InitiatePaymentRequest) { r.Phone = "" }, "phone", false},
		{"zero amount", func(r *InitiatePaymentRequest) { r.Amount = dec("0") }, "amount", false},
		{"account reference too long", func(r *InitiatePaymentRequest) { r.AccountReference = "ACCOUNT-REF-123" }, "account_reference", false},
		{"target without id", func(r *InitiatePaymentRequest) { r.TargetType = finance.TargetTypeInvoice }, "target_id", false},
		{"unknown target type", func(r *InitiatePaymentRequest) {
			r.TargetType = "ORDER"
			r.TargetID = uuid.New()
		}, "target_type", false},
		{"draft invoice", func(r *InitiatePaymentRequest) {
			r.TargetType = finance.TargetTypeInvoice
			r.TargetID = draft.ID
		}, "target_id", false},
		{"unknown invoice", func(r *InitiatePaymentRequest) {
			r.TargetType = finance.TargetTypeInvoice
			r.TargetID = uuid.New()
		}, "", true},
		{"unknown subscription", func(r *InitiatePaymentRequest) {
			r.TargetType = finance.TargetTypeSubscription
			r.TargetID = uuid.New()
		}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)

			_, err := f.requests.Initiate(f.ctx, req)

			require.Error(t, err)
			if tt.notFound {
				assert.True(t, finance.IsNotFound(err), "got %v", err)
			} else {
				var ve *finance.ValidationError
				require.True(t, errors.As(err, &ve), "got %v", err)
				assert.Equal(t, tt.field, ve.Field)
			}
		})
	}
	f.gateway.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestDocumentNumberService_ConcurrentNext(t *testing.T) {
	f := newBillingFixture(t)
	const n = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := f.numbers.Next(f.ctx, f.tenantID, "INV")
			assert.NoError(t, err)
			mu.Lock()
			numbers = append(numbers, number)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Strings(numbers)
	require.Len(t, numbers, n)
	for i, number := range numbers {
		assert.Equal(t, FormatDocumentNumber("INV", int64(i+1)), number)
	}

	other, err := f.numbers.Next(f.ctx, uuid.New(), "INV")
	require.NoError(t, err)
	assert.Equal(t, "INV-001", other)
}

func TestFormatDocumentNumber(t *testing.T) {
	assert.Equal(t, "INV-001", FormatDocumentNumber("INV", 1))
	assert.Equal(t, "BILL-042", FormatDocumentNumber("BILL", 42))
	assert.Equal(t, "INV-1234", FormatDocumentNumber("INV", 1234))
}
