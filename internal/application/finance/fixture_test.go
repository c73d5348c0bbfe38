package finance

import (
	"context"
	"testing"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testLedgerAccounts = finance.LedgerAccounts{
	Receivable:          "1200",
	Payable:             "2000",
	TaxPayable:          "2200",
	TaxReceivable:       "1400",
	UnappliedFunds:      "2400",
	SupplierPrepayments: "1300",
	DefaultDeposit:      "1100",
}

var testChart = []struct {
	code string
	name string
	typ  finance.AccountType
}{
	{"1100", "M-Pesa Clearing", finance.AccountTypeAsset},
	{"1200", "Accounts Receivable", finance.AccountTypeAsset},
	{"1300", "Supplier Prepayments", finance.AccountTypeAsset},
	{"1400", "VAT Receivable", finance.AccountTypeAsset},
	{"2000", "Accounts Payable", finance.AccountTypeLiability},
	{"2200", "VAT Payable", finance.AccountTypeLiability},
	{"2400", "Unapplied Customer Funds", finance.AccountTypeLiability},
	{"4000", "Subscription Revenue", finance.AccountTypeRevenue},
	{"4100", "Service Revenue", finance.AccountTypeRevenue},
	{"5000", "Hosting Expense", finance.AccountTypeExpense},
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// billingFixture wires every service over one in-memory store.
type billingFixture struct {
	t         *testing.T
	ctx       context.Context
	store     *memoryStore
	tenantID  uuid.UUID
	contactID uuid.UUID

	gateway   *MockPaymentGateway
	metrics   *recordingMetrics
	notifier  *recordingNotifier
	callbacks *recordingCallbackLog

	poster     *LedgerPoster
	allocator  *PaymentAllocator
	numbers    *DocumentNumberService
	documents  *DocumentService
	settlement *PaymentSettlementService
	matcher    *PaymentMatcher
	processor  *CallbackProcessor
	poller     *ReconciliationPoller
	requests   *PaymentRequestService
}

type fixtureOption func(*fixtureSettings)

type fixtureSettings struct {
	skipAccounts map[string]bool
	policy       finance.AmountPolicy
	enforceIP    bool
}

func withoutAccount(code string) fixtureOption {
	return func(s *fixtureSettings) { s.skipAccounts[code] = true }
}

func withAmountPolicy(policy finance.AmountPolicy) fixtureOption {
	return func(s *fixtureSettings) { s.policy = policy }
}

func withTrustedSourceEnforced() fixtureOption {
	return func(s *fixtureSettings) { s.enforceIP = true }
}

func newBillingFixture(t *testing.T, opts ...fixtureOption) *billingFixture {
	t.Helper()
	settings := &fixtureSettings{skipAccounts: map[string]bool{}}
	for _, opt := range opts {
		opt(settings)
	}

	f := &billingFixture{
		t:         t,
		ctx:       context.Background(),
		store:     newMemoryStore(),
		tenantID:  uuid.New(),
		contactID: uuid.New(),
		gateway:   new(MockPaymentGateway),
		metrics:   newRecordingMetrics(),
		notifier:  newRecordingNotifier(),
		callbacks: &recordingCallbackLog{},
	}
	for _, a := range testChart {
		if settings.skipAccounts[a.code] {
			continue
		}
		f.addAccount(f.tenantID, a.code, a.name, a.typ)
	}

	f.poster = NewLedgerPoster(f.store, testLedgerAccounts, nil)
	f.allocator = NewPaymentAllocator(f.store, f.poster, nil)
	f.numbers = NewDocumentNumberService(f.store)
	f.documents = NewDocumentService(f.store, f.numbers, f.poster, nil)
	f.settlement = NewPaymentSettlementService(PaymentSettlementServiceConfig{
		Scope:     f.store,
		Allocator: f.allocator,
		Poster:    f.poster,
		Notifier:  f.notifier,
		Metrics:   f.metrics,
		Settings:  SettlementConfig{AmountPolicy: settings.policy},
	})
	f.matcher = NewPaymentMatcher(f.store.paymentReader(), DefaultHeuristicWindow, settings.policy, f.metrics, nil)
	f.processor = NewCallbackProcessor(f.gateway, f.matcher, f.settlement, f.callbacks, f.metrics,
		CallbackProcessorConfig{EnforceTrustedSource: settings.enforceIP}, nil)
	f.poller = NewReconciliationPoller(f.store, f.gateway, f.settlement, f.metrics,
		ReconciliationConfig{MinAge: 2 * time.Minute, QueryTimeout: time.Second, BatchSize: 10}, nil)
	f.requests = NewPaymentRequestService(f.store, f.gateway, PaymentRequestConfig{GatewayTimeout: time.Second}, nil)
	return f
}

func (f *billingFixture) addAccount(tenantID uuid.UUID, code, name string, typ finance.AccountType) *finance.Account {
	f.t.Helper()
	account, err := finance.NewAccount(tenantID, code, name, typ)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Execute(f.ctx, func(repos TransactionalRepositories) error {
		return repos.AccountRepo().Create(f.ctx, account)
	}))
	return account
}

// issueDocument creates and issues a single-line document for total.
func (f *billingFixture) issueDocument(kind finance.DocumentKind, total string) *finance.Document {
	f.t.Helper()
	code := "4000"
	if kind == finance.DocumentKindBill {
		code = "5000"
	}
	doc, err := f.documents.Create(f.ctx, CreateDocumentRequest{
		TenantID:  f.tenantID,
		Kind:      kind,
		ContactID: f.contactID,
		Lines:     []DocumentLineInput{{AccountCode: code, Description: "Plan", UnitPrice: dec(total)}},
		Issue:     true,
	})
	require.NoError(f.t, err)
	return doc
}

func (f *billingFixture) issueInvoice(total string) *finance.Document {
	f.t.Helper()
	return f.issueDocument(finance.DocumentKindInvoice, total)
}

// pendingPayment stores a PENDING payment as if Initiate had succeeded.
func (f *billingFixture) pendingPayment(amount string, target finance.PaymentTarget, checkoutID string) *finance.Payment {
	f.t.Helper()
	p, err := finance.NewPendingPayment(f.tenantID, "254712345678", dec(amount), "ACC-1", target, nil, "")
	require.NoError(f.t, err)
	require.NoError(f.t, p.AttachGatewayRequest(checkoutID, "MR-"+checkoutID))
	f.storePayment(p)
	return p
}

func (f *billingFixture) storePayment(p *finance.Payment) {
	f.t.Helper()
	require.NoError(f.t, f.store.Execute(f.ctx, func(repos TransactionalRepositories) error {
		return repos.PaymentRepo().Create(f.ctx, p)
	}))
}

// completedPayment stores a COMPLETED, unposted payment ready for allocation.
func (f *billingFixture) completedPayment(amount string) *finance.Payment {
	f.t.Helper()
	p, err := finance.NewPendingPayment(f.tenantID, "254712345678", dec(amount), "ACC-1", finance.PaymentTarget{}, nil, "")
	require.NoError(f.t, err)
	require.NoError(f.t, p.Complete(finance.Completion{Amount: dec(amount), Receipt: "QK" + p.ID.String()[:8], Phone: "254712345678"}))
	f.storePayment(p)
	return p
}

func successResult(checkoutID, amount string) *finance.GatewayResult {
	return &finance.GatewayResult{
		CheckoutRequestID: checkoutID,
		MerchantRequestID: "MR-" + checkoutID,
		ResultCode:        finance.ResultCodeSuccess,
		ResultDesc:        "The service request is processed successfully.",
		Receipt:           "NLJ7RT61SV",
		Amount:            dec(amount),
		Phone:             "254712345678",
		TransactionDate:   time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
	}
}

func failureResult(checkoutID string) *finance.GatewayResult {
	return &finance.GatewayResult{
		CheckoutRequestID: checkoutID,
		MerchantRequestID: "MR-" + checkoutID,
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	}
}

// entryFor returns the stored journal entry for source, failing if absent.
func (f *billingFixture) entryFor(source finance.SourceReference) finance.JournalEntry {
	f.t.Helper()
	for _, e := range f.store.journalEntries() {
		if e.Source == source {
			return e
		}
	}
	f.t.Fatalf("no journal entry for %s", source)
	return finance.JournalEntry{}
}

func lineTotal(entry finance.JournalEntry, code string, lineType finance.LineType) decimal.Decimal {
	total := decimal.Zero
	for _, l := range entry.LinesFor(code, lineType) {
		total = total.Add(l.Amount)
	}
	return total
}

// waitForReceipts blocks until n receipts were sent or the timeout passes.
func (f *billingFixture) waitForReceipts(n int) {
	f.t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.notifier.sent:
		case <-time.After(2 * time.Second):
			f.t.Fatalf("timed out waiting for receipt %d", i+1)
		}
	}
}
