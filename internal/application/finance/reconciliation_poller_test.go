package finance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReconciliationPoller_Sync(t *testing.T) {
	tests := []struct {
		name       string
		result     *finance.GatewayResult
		queryErr   error
		want       SyncOutcome
		wantStatus finance.TransactionStatus
	}{
		{
			name:       "success completes payment",
			result:     successResult("ws_CO_sync", "1000"),
			want:       SyncCompleted,
			wantStatus: finance.TransactionStatusCompleted,
		},
		{
			name:       "failure marks payment failed",
			result:     failureResult("ws_CO_sync"),
			want:       SyncFailed,
			wantStatus: finance.TransactionStatusFailed,
		},
		{
			name:       "still processing is a no-op",
			result:     &finance.GatewayResult{CheckoutRequestID: "ws_CO_sync", Pending: true, ResultDesc: "The transaction is being processed"},
			want:       SyncStillPending,
			wantStatus: finance.TransactionStatusPending,
		},
		{
			name:       "gateway error defers",
			queryErr:   finance.NewGatewayError("query", 503, errors.New("service unavailable")),
			want:       SyncDeferred,
			wantStatus: finance.TransactionStatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillingFixture(t)
			invoice := f.issueInvoice("1000")
			payment := f.pendingPayment("1000", finance.PaymentTarget{Type: finance.TargetTypeInvoice, ID: invoice.ID}, "ws_CO_sync")
			if tt.queryErr != nil {
				f.gateway.On("Query", mock.Anything, "ws_CO_sync").Return(nil, tt.queryErr)
			} else {
				f.gateway.On("Query", mock.Anything, "ws_CO_sync").Return(tt.result, nil)
			}

			res, err := f.poller.Sync(f.ctx, f.tenantID, payment.ID)

			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.wantStatus, f.store.payment(payment.ID).Status)
			assert.Equal(t, 1, f.metrics.reconciliations[string(tt.want)])
			if tt.want != SyncCompleted {
				assert.Empty(t, f.store.allocationRows())
			}
		})
	}
}

func TestReconciliationPoller_SyncCompletedSettlesLikeCallback(t *testing.T) {
	f := newBillingFixture(t)
	invoice := f.issueInvoice("1000")
	payment := f.pendingPayment("1500", finance.PaymentTarget{Type: finance.TargetTypeInvoice, ID: invoice.ID}, "ws_CO_over")
	f.gateway.On("Query", mock.Anything, "ws_CO_over").Return(successResult("ws_CO_over", "1500"), nil)

	res, err := f.poller.Sync(f.ctx, f.tenantID, payment.ID)
	require.NoError(t, err)
	require.Equal(t, SyncCompleted, res.Outcome)

	doc := f.store.document(invoice.ID)
	assert.True(t, doc.Outstanding().IsZero())
	entry := f.entryFor(finance.PaymentSource(payment.ID))
	assert.True(t, entry.IsBalanced())
	assert.True(t, lineTotal(entry, "1200", finance.LineTypeCredit).Equal(dec("1000")))
	assert.True(t, lineTotal(entry, "2400", finance.LineTypeCredit).Equal(dec("500")))
	audits := f.store.auditEntries()
	require.Len(t, audits, 1)
	assert.Equal(t, "system:reconciliation", audits[0].Actor)
	assert.Equal(t, 1, f.metrics.settlements["reconciliation:completed"])
}

func TestReconciliationPoller_SyncSkipsSettledPayments(t *testing.T) {
	f := newBillingFixture(t)
	payment := f.completedPayment("100")

	res, err := f.poller.Sync(f.ctx, f.tenantID, payment.ID)

	require.NoError(t, err)
	assert.Equal(t, SyncAlreadyProcessed, res.Outcome)
	f.gateway.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestReconciliationPoller_SyncUnknownPayment(t *testing.T) {
	f := newBillingFixture(t)
	payment := f.pendingPayment("100", finance.PaymentTarget{}, "ws_CO_tenant")

	_, err := f.poller.Sync(f.ctx, uuid.New(), payment.ID)
	assert.True(t, finance.IsNotFound(err))

	_, err = f.poller.Sync(f.ctx, f.tenantID, uuid.New())
	assert.True(t, finance.IsNotFound(err))
}

func TestReconciliationPoller_NonGatewayErrorIsReturned(t *testing.T) {
	f := newBillingFixture(t)
	payment := f.pendingPayment("100", finance.PaymentTarget{}, "ws_CO_ctx")
	f.gateway.On("Query", mock.Anything, "ws_CO_ctx").Return(nil, context.Canceled)

	_, err := f.poller.Sync(f.ctx, f.tenantID, payment.ID)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, finance.TransactionStatusPending, f.store.payment(payment.ID).Status)
}

func TestReconciliationPoller_SyncBatch(t *testing.T) {
	f := newBillingFixture(t)
	now := time.Now().UTC()
	oldest := f.pendingPaymentAt("100", "ws_CO_a", now.Add(-30*time.Minute))
	middle := f.pendingPaymentAt("200", "ws_CO_b", now.Add(-20*time.Minute))
	f.pendingPaymentAt("300", "ws_CO_c", now.Add(-10*time.Minute))
	fresh := f.pendingPaymentAt("400", "ws_CO_fresh", now.Add(-30*time.Second))
	f.completedPayment("500")

	f.gateway.On("Query", mock.Anything, "ws_CO_a").Return(successResult("ws_CO_a", "100"), nil)
	f.gateway.On("Query", mock.Anything, "ws_CO_b").
		Return(nil, finance.NewGatewayError("query", 0, context.DeadlineExceeded))

	batch, err := f.poller.SyncBatch(f.ctx, 2)

	require.NoError(t, err)
	assert.Equal(t, 2, batch.Scanned)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, oldest.ID, batch.Results[0].PaymentID)
	assert.Equal(t, SyncCompleted, batch.Results[0].Outcome)
	assert.Equal(t, middle.ID, batch.Results[1].PaymentID)
	assert.Equal(t, SyncDeferred, batch.Results[1].Outcome)
	assert.Equal(t, 1, batch.Count(SyncCompleted))
	assert.Zero(t, batch.Errors)
	f.gateway.AssertNotCalled(t, "Query", mock.Anything, "ws_CO_c")
	f.gateway.AssertNotCalled(t, "Query", mock.Anything, "ws_CO_fresh")
	assert.Equal(t, finance.TransactionStatusPending, f.store.payment(fresh.ID).Status)
}

func TestReconciliationPoller_QueryResultWithoutPayerDetails(t *testing.T) {
	f := newBillingFixture(t)
	payment := f.pendingPayment("1000", finance.PaymentTarget{}, "ws_CO_bare")
	// status queries carry no phone, receipt or amount
	f.gateway.On("Query", mock.Anything, "ws_CO_bare").Return(&finance.GatewayResult{
		CheckoutRequestID: "ws_CO_bare",
		MerchantRequestID: "MR-ws_CO_bare",
		ResultCode:        finance.ResultCodeSuccess,
		ResultDesc:        "The service request is processed successfully.",
	}, nil)

	res, err := f.poller.Sync(f.ctx, f.tenantID, payment.ID)

	require.NoError(t, err)
	require.Equal(t, SyncCompleted, res.Outcome)
	stored := f.store.payment(payment.ID)
	assert.Equal(t, "254712345678", stored.Phone)
	assert.True(t, stored.Amount.Equal(dec("1000")))
	require.NotNil(t, stored.PaymentDate)

	f.waitForReceipts(1)
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.receipts, 1)
	assert.Equal(t, "254712345678", f.notifier.receipts[0].Phone)
}

func TestReconciliationPoller_UnresolvedPaymentsDoNotStarveNewer(t *testing.T) {
	f := newBillingFixture(t)
	now := time.Now().UTC()
	stuckA := f.pendingPaymentAt("100", "ws_CO_lost_a", now.Add(-time.Hour))
	stuckB := f.pendingPaymentAt("200", "ws_CO_lost_b", now.Add(-50*time.Minute))
	newer := f.pendingPaymentAt("300", "ws_CO_newer", now.Add(-5*time.Minute))

	unknown := finance.NewGatewayError("query", 500, errors.New("The transaction is not found"))
	f.gateway.On("Query", mock.Anything, "ws_CO_lost_a").Return(nil, unknown)
	f.gateway.On("Query", mock.Anything, "ws_CO_lost_b").Return(nil, unknown)
	f.gateway.On("Query", mock.Anything, "ws_CO_newer").Return(successResult("ws_CO_newer", "300"), nil)

	first, err := f.poller.SyncBatch(f.ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Count(SyncDeferred))
	assert.NotNil(t, f.store.payment(stuckA.ID).LastReconciledAt)
	assert.NotNil(t, f.store.payment(stuckB.ID).LastReconciledAt)
	assert.Equal(t, finance.TransactionStatusPending, f.store.payment(newer.ID).Status)

	second, err := f.poller.SyncBatch(f.ctx, 2)
	require.NoError(t, err)
	require.NotEmpty(t, second.Results)
	assert.Equal(t, newer.ID, second.Results[0].PaymentID, "never-queried payments go first")
	assert.Equal(t, SyncCompleted, second.Results[0].Outcome)
	assert.Equal(t, finance.TransactionStatusCompleted, f.store.payment(newer.ID).Status)
}

func TestReconciliationPoller_BatchContinuesAfterError(t *testing.T) {
	f := newBillingFixture(t, withoutAccount("1100"))
	now := time.Now().UTC()
	broken := f.pendingPaymentAt("100", "ws_CO_x", now.Add(-10*time.Minute))
	failing := f.pendingPaymentAt("200", "ws_CO_y", now.Add(-5*time.Minute))
	f.gateway.On("Query", mock.Anything, "ws_CO_x").Return(successResult("ws_CO_x", "100"), nil)
	f.gateway.On("Query", mock.Anything, "ws_CO_y").Return(failureResult("ws_CO_y"), nil)

	batch, err := f.poller.SyncBatch(f.ctx, 0)

	require.NoError(t, err)
	assert.Equal(t, 1, batch.Errors)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, SyncFailed, batch.Results[0].Outcome)
	assert.Equal(t, finance.TransactionStatusPending, f.store.payment(broken.ID).Status)
	assert.Equal(t, finance.TransactionStatusFailed, f.store.payment(failing.ID).Status)
}

// A callback and a reconciliation query reporting the same success race;
// exactly one settles and the other observes the completed payment.
func TestCallbackAndReconciliationRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newBillingFixture(t)
		invoice := f.issueInvoice("1000")
		payment := f.pendingPayment("1000", finance.PaymentTarget{Type: finance.TargetTypeInvoice, ID: invoice.ID}, "ws_CO_race")
		payload := f.expectCallback(`{"race":true}`, successResult("ws_CO_race", "1000"))
		f.gateway.On("Query", mock.Anything, "ws_CO_race").Return(successResult("ws_CO_race", "1000"), nil)

		var (
			wg       sync.WaitGroup
			callback CallbackOutcome
			syncRes  *SyncResult
			syncErr  error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			callback = f.processor.Handle(f.ctx, CallbackRequest{Payload: payload, SourceIP: trustedIP})
		}()
		go func() {
			defer wg.Done()
			syncRes, syncErr = f.poller.Sync(f.ctx, f.tenantID, payment.ID)
		}()
		wg.Wait()

		require.NoError(t, syncErr)
		completed := 0
		if callback.Disposition == DispositionCompleted {
			completed++
		} else {
			assert.Equal(t, DispositionAlreadyProcessed, callback.Disposition)
		}
		if syncRes.Outcome == SyncCompleted {
			completed++
		} else {
			assert.Equal(t, SyncAlreadyProcessed, syncRes.Outcome)
		}
		assert.Equal(t, 1, completed, "exactly one path settles")

		assert.Len(t, f.store.allocationRows(), 1)
		assert.Len(t, f.store.journalEntries(), 2, "invoice and payment entries")
		assert.Len(t, f.store.auditEntries(), 1)
		invoiceDoc := f.store.document(invoice.ID)
		assert.True(t, invoiceDoc.Outstanding().IsZero())
		f.waitForReceipts(1)
	}
}
