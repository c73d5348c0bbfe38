package finance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// =============================================================================
// Mock Payment Gateway
// =============================================================================

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Initiate(ctx context.Context, req *finance.STKPushRequest) (*finance.STKPushResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.STKPushResponse), args.Error(1)
}

func (m *MockPaymentGateway) Query(ctx context.Context, checkoutRequestID string) (*finance.GatewayResult, error) {
	args := m.Called(ctx, checkoutRequestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.GatewayResult), args.Error(1)
}

func (m *MockPaymentGateway) ParseCallback(ctx context.Context, payload []byte) (*finance.GatewayResult, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.GatewayResult), args.Error(1)
}

func (m *MockPaymentGateway) IsTrustedSource(ip string) bool {
	args := m.Called(ip)
	return args.Bool(0)
}

// =============================================================================
// Recording collaborators
// =============================================================================

type recordingNotifier struct {
	mu       sync.Mutex
	receipts []Receipt
	sent     chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(chan struct{}, 16)}
}

func (n *recordingNotifier) SendReceipt(_ context.Context, r Receipt) error {
	n.mu.Lock()
	n.receipts = append(n.receipts, r)
	n.mu.Unlock()
	n.sent <- struct{}{}
	return nil
}

type recordingCallbackLog struct {
	mu      sync.Mutex
	entries []CallbackLogEntry
}

func (l *recordingCallbackLog) Record(_ context.Context, e *CallbackLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *e)
	return nil
}

type recordingMetrics struct {
	mu              sync.Mutex
	settlements     map[string]int
	callbacks       map[string]int
	reconciliations map[string]int
	ambiguous       []int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		settlements:     map[string]int{},
		callbacks:       map[string]int{},
		reconciliations: map[string]int{},
	}
}

func (m *recordingMetrics) RecordSettlement(_ context.Context, source, outcome string, _ decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements[source+":"+outcome]++
}

func (m *recordingMetrics) RecordCallback(_ context.Context, disposition string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[disposition]++
}

func (m *recordingMetrics) RecordReconciliation(_ context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciliations[outcome]++
}

func (m *recordingMetrics) RecordAmbiguousMatch(_ context.Context, candidates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ambiguous = append(m.ambiguous, candidates)
}

// =============================================================================
// In-memory store
// =============================================================================

// memoryStore is a TransactionScope over in-memory tables. Execute holds a
// single mutex for the whole transaction, which serializes transactions the
// way row locks would, and restores a snapshot when fn returns an error.
type memoryStore struct {
	mu            sync.Mutex
	accounts      map[string]finance.Account
	journals      []finance.JournalEntry
	documents     map[uuid.UUID]finance.Document
	payments      map[uuid.UUID]finance.Payment
	allocations   []finance.PaymentAllocation
	subscriptions map[uuid.UUID]finance.Subscription
	sequences     map[uuid.UUID]int64
	audits        []AuditEntry
	txCount       int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts:      map[string]finance.Account{},
		documents:     map[uuid.UUID]finance.Document{},
		payments:      map[uuid.UUID]finance.Payment{},
		subscriptions: map[uuid.UUID]finance.Subscription{},
		sequences:     map[uuid.UUID]int64{},
	}
}

type memorySnapshot struct {
	accounts      map[string]finance.Account
	journals      []finance.JournalEntry
	documents     map[uuid.UUID]finance.Document
	payments      map[uuid.UUID]finance.Payment
	allocations   []finance.PaymentAllocation
	subscriptions map[uuid.UUID]finance.Subscription
	sequences     map[uuid.UUID]int64
	audits        []AuditEntry
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memoryStore) snapshot() memorySnapshot {
	return memorySnapshot{
		accounts:      copyMap(s.accounts),
		journals:      append([]finance.JournalEntry(nil), s.journals...),
		documents:     copyMap(s.documents),
		payments:      copyMap(s.payments),
		allocations:   append([]finance.PaymentAllocation(nil), s.allocations...),
		subscriptions: copyMap(s.subscriptions),
		sequences:     copyMap(s.sequences),
		audits:        append([]AuditEntry(nil), s.audits...),
	}
}

func (s *memoryStore) restore(snap memorySnapshot) {
	s.accounts = snap.accounts
	s.journals = snap.journals
	s.documents = snap.documents
	s.payments = snap.payments
	s.allocations = snap.allocations
	s.subscriptions = snap.subscriptions
	s.sequences = snap.sequences
	s.audits = snap.audits
}

func (s *memoryStore) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	snap := s.snapshot()
	if err := fn(memoryRepos{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Read helpers for assertions; they take the store lock.

func (s *memoryStore) payment(id uuid.UUID) finance.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[id]
}

func (s *memoryStore) document(id uuid.UUID) finance.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documents[id]
}

func (s *memoryStore) subscription(id uuid.UUID) finance.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions[id]
}

func (s *memoryStore) journalEntries() []finance.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]finance.JournalEntry(nil), s.journals...)
}

func (s *memoryStore) allocationRows() []finance.PaymentAllocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]finance.PaymentAllocation(nil), s.allocations...)
}

func (s *memoryStore) auditEntries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.audits...)
}

func (s *memoryStore) rowCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"journals":      len(s.journals),
		"payments":      len(s.payments),
		"allocations":   len(s.allocations),
		"documents":     len(s.documents),
		"subscriptions": len(s.subscriptions),
		"audits":        len(s.audits),
	}
}

func accountKey(tenantID uuid.UUID, code string) string {
	return tenantID.String() + "/" + code
}

type memoryRepos struct{ s *memoryStore }

func (r memoryRepos) AccountRepo() finance.AccountRepository { return memoryAccounts(r) }
func (r memoryRepos) JournalRepo() finance.JournalEntryRepository { return memoryJournals(r) }
func (r memoryRepos) DocumentRepo() finance.DocumentRepository { return memoryDocuments(r) }
func (r memoryRepos) PaymentRepo() finance.PaymentRepository { return memoryPayments(r) }
func (r memoryRepos) AllocationRepo() finance.PaymentAllocationRepository {
	return memoryAllocations(r)
}
func (r memoryRepos) SubscriptionRepo() finance.SubscriptionRepository { return memorySubscriptions(r) }
func (r memoryRepos) SequenceRepo() finance.SequenceRepository { return memorySequences(r) }
func (r memoryRepos) AuditLog() AuditLog { return memoryAudit(r) }

type memoryAccounts memoryRepos

func (r memoryAccounts) FindByCode(_ context.Context, tenantID uuid.UUID, code string) (*finance.Account, error) {
	a, ok := r.s.accounts[accountKey(tenantID, code)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r memoryAccounts) Create(_ context.Context, a *finance.Account) error {
	r.s.accounts[accountKey(a.TenantID, a.Code)] = *a
	return nil
}

type memoryJournals memoryRepos

func (r memoryJournals) FindBySource(_ context.Context, tenantID uuid.UUID, source finance.SourceReference) (*finance.JournalEntry, error) {
	for _, e := range r.s.journals {
		if e.TenantID == tenantID && e.Source == source {
			entry := e
			return &entry, nil
		}
	}
	return nil, nil
}

func (r memoryJournals) Create(_ context.Context, entry *finance.JournalEntry) error {
	if !entry.IsPosted {
		return errors.New("journal entry is not posted")
	}
	for _, e := range r.s.journals {
		if e.Source == entry.Source {
			return errors.New("duplicate key value violates unique constraint \"idx_journal_entries_source\"")
		}
	}
	r.s.journals = append(r.s.journals, *entry)
	return nil
}

type memoryDocuments memoryRepos

func (r memoryDocuments) FindByIDForTenant(_ context.Context, tenantID uuid.UUID, kind finance.DocumentKind, id uuid.UUID) (*finance.Document, error) {
	d, ok := r.s.documents[id]
	if !ok || d.TenantID != tenantID || d.Kind != kind {
		return nil, nil
	}
	return &d, nil
}

func (r memoryDocuments) FindByIDForUpdate(ctx context.Context, tenantID uuid.UUID, kind finance.DocumentKind, id uuid.UUID) (*finance.Document, error) {
	return r.FindByIDForTenant(ctx, tenantID, kind, id)
}

func (r memoryDocuments) FindLatestOutstanding(_ context.Context, tenantID uuid.UUID, kind finance.DocumentKind, contactID uuid.UUID) (*finance.Document, error) {
	var latest *finance.Document
	for _, d := range r.s.documents {
		if d.TenantID != tenantID || d.Kind != kind || d.ContactID != contactID || !d.CanAcceptPayment() {
			continue
		}
		if latest == nil || d.IssueDate.After(latest.IssueDate) {
			doc := d
			latest = &doc
		}
	}
	return latest, nil
}

func (r memoryDocuments) Create(_ context.Context, doc *finance.Document) error {
	r.s.documents[doc.ID] = *doc
	return nil
}

func (r memoryDocuments) Save(_ context.Context, doc *finance.Document) error {
	if _, ok := r.s.documents[doc.ID]; !ok {
		return errors.New("record not found")
	}
	r.s.documents[doc.ID] = *doc
	return nil
}

type memoryPayments memoryRepos

func (r memoryPayments) FindByIDForTenant(_ context.Context, tenantID, id uuid.UUID) (*finance.Payment, error) {
	p, ok := r.s.payments[id]
	if !ok || p.TenantID != tenantID {
		return nil, nil
	}
	return &p, nil
}

func (r memoryPayments) FindByIDForUpdate(_ context.Context, id uuid.UUID) (*finance.Payment, error) {
	p, ok := r.s.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r memoryPayments) FindByCheckoutRequestID(_ context.Context, checkoutRequestID string) (*finance.Payment, error) {
	for _, p := range r.s.payments {
		if p.CheckoutRequestID == checkoutRequestID {
			payment := p
			return &payment, nil
		}
	}
	return nil, nil
}

func (r memoryPayments) FindByMerchantRequestID(_ context.Context, merchantRequestID string) (*finance.Payment, error) {
	for _, p := range r.s.payments {
		if p.MerchantRequestID == merchantRequestID {
			payment := p
			return &payment, nil
		}
	}
	return nil, nil
}

func (r memoryPayments) FindPendingByPhoneAndAmount(_ context.Context, phone string, amount decimal.Decimal, since time.Time) ([]finance.Payment, error) {
	var out []finance.Payment
	for _, p := range r.s.payments {
		if p.IsPending() && p.RequestPhone == phone && (amount.IsZero() || p.RequestedAmount.Equal(amount)) && !p.CreatedAt.Before(since) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memoryPayments) FindPendingForReconciliation(_ context.Context, olderThan time.Time, limit int) ([]finance.Payment, error) {
	var out []finance.Payment
	for _, p := range r.s.payments {
		if p.IsPending() && p.CheckoutRequestID != "" && p.CreatedAt.Before(olderThan) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastReconciledAt, out[j].LastReconciledAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryPayments) MarkReconciliationAttempt(_ context.Context, id uuid.UUID, at time.Time) error {
	p, ok := r.s.payments[id]
	if !ok || !p.IsPending() {
		return nil
	}
	p.LastReconciledAt = &at
	r.s.payments[id] = p
	return nil
}

func (r memoryPayments) Create(_ context.Context, p *finance.Payment) error {
	r.s.payments[p.ID] = *p
	return nil
}

func (r memoryPayments) Save(_ context.Context, p *finance.Payment) error {
	if _, ok := r.s.payments[p.ID]; !ok {
		return errors.New("record not found")
	}
	r.s.payments[p.ID] = *p
	return nil
}

type memoryAllocations memoryRepos

func (r memoryAllocations) CreateBatch(_ context.Context, allocations []finance.PaymentAllocation) error {
	r.s.allocations = append(r.s.allocations, allocations...)
	return nil
}

func (r memoryAllocations) FindByPayment(_ context.Context, tenantID, paymentID uuid.UUID) ([]finance.PaymentAllocation, error) {
	var out []finance.PaymentAllocation
	for _, a := range r.s.allocations {
		if a.TenantID == tenantID && a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r memoryAllocations) SumByDocument(_ context.Context, tenantID uuid.UUID, kind finance.DocumentKind, documentID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range r.s.allocations {
		if a.TenantID == tenantID && a.DocumentKind == kind && a.DocumentID == documentID {
			total = total.Add(a.Amount)
		}
	}
	return total, nil
}

type memorySubscriptions memoryRepos

func (r memorySubscriptions) FindByIDForUpdate(_ context.Context, tenantID, id uuid.UUID) (*finance.Subscription, error) {
	sub, ok := r.s.subscriptions[id]
	if !ok || sub.TenantID != tenantID {
		return nil, nil
	}
	return &sub, nil
}

func (r memorySubscriptions) Create(_ context.Context, sub *finance.Subscription) error {
	r.s.subscriptions[sub.ID] = *sub
	return nil
}

func (r memorySubscriptions) Save(_ context.Context, sub *finance.Subscription) error {
	r.s.subscriptions[sub.ID] = *sub
	return nil
}

type memorySequences memoryRepos

func (r memorySequences) Next(_ context.Context, tenantID uuid.UUID) (int64, error) {
	r.s.sequences[tenantID]++
	return r.s.sequences[tenantID], nil
}

type memoryAudit memoryRepos

func (r memoryAudit) Record(_ context.Context, entry AuditEntry) error {
	r.s.audits = append(r.s.audits, entry)
	return nil
}

// lockedPayments reads payments outside a transaction, as the callback
// matcher does.
type lockedPayments struct {
	memoryPayments
}

func (s *memoryStore) paymentReader() finance.PaymentRepository {
	return lockedPayments{memoryPayments{s: s}}
}

func (r lockedPayments) FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*finance.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.memoryPayments.FindByCheckoutRequestID(ctx, checkoutRequestID)
}

func (r lockedPayments) FindByMerchantRequestID(ctx context.Context, merchantRequestID string) (*finance.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.memoryPayments.FindByMerchantRequestID(ctx, merchantRequestID)
}

func (r lockedPayments) FindPendingByPhoneAndAmount(ctx context.Context, phone string, amount decimal.Decimal, since time.Time) ([]finance.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.memoryPayments.FindPendingByPhoneAndAmount(ctx, phone, amount, since)
}

var _ TransactionScope = (*memoryStore)(nil)
var _ TransactionalRepositories = memoryRepos{}
