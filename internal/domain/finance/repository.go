package finance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Find methods return (nil, nil) when no row matches. ForUpdate variants
// take a row lock that is held until the surrounding transaction ends.

// AccountRepository defines persistence for chart-of-accounts entries
type AccountRepository interface {
	FindByCode(ctx context.Context, tenantID uuid.UUID, code string) (*Account, error)
	Create(ctx context.Context, account *Account) error
}

// JournalEntryRepository defines persistence for journal entries and their lines
type JournalEntryRepository interface {
	FindBySource(ctx context.Context, tenantID uuid.UUID, source SourceReference) (*JournalEntry, error)
	// Create inserts the entry and its lines. Only posted entries may be stored.
	Create(ctx context.Context, entry *JournalEntry) error
}

// DocumentRepository defines persistence for invoices and bills
type DocumentRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID uuid.UUID, kind DocumentKind, id uuid.UUID) (*Document, error)
	FindByIDForUpdate(ctx context.Context, tenantID uuid.UUID, kind DocumentKind, id uuid.UUID) (*Document, error)
	// FindLatestOutstanding returns the most recently issued document of the
	// contact that can still accept payments.
	FindLatestOutstanding(ctx context.Context, tenantID uuid.UUID, kind DocumentKind, contactID uuid.UUID) (*Document, error)
	Create(ctx context.Context, doc *Document) error
	Save(ctx context.Context, doc *Document) error
}

// PaymentRepository defines persistence for payments.
// Gateway correlation ids are globally unique, so lookups by them are not tenant-scoped.
type PaymentRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*Payment, error)
	FindByMerchantRequestID(ctx context.Context, merchantRequestID string) (*Payment, error)
	// FindPendingByPhoneAndAmount returns pending payments requested from phone for
	// amount since the given time, newest first. A zero amount matches any amount.
	FindPendingByPhoneAndAmount(ctx context.Context, phone string, amount decimal.Decimal, since time.Time) ([]Payment, error)
	// FindPendingForReconciliation returns pending payments that carry a checkout
	// id and were created before olderThan. Payments never queried come first,
	// then the least recently queried, then the oldest.
	FindPendingForReconciliation(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error)
	// MarkReconciliationAttempt records that the gateway was queried for a
	// pending payment at the given time.
	MarkReconciliationAttempt(ctx context.Context, id uuid.UUID, at time.Time) error
	Create(ctx context.Context, payment *Payment) error
	Save(ctx context.Context, payment *Payment) error
}

// PaymentAllocationRepository defines persistence for allocations
type PaymentAllocationRepository interface {
	CreateBatch(ctx context.Context, allocations []PaymentAllocation) error
	FindByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]PaymentAllocation, error)
	SumByDocument(ctx context.Context, tenantID uuid.UUID, kind DocumentKind, documentID uuid.UUID) (decimal.Decimal, error)
}

// SubscriptionRepository defines persistence for subscriptions
type SubscriptionRepository interface {
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Subscription, error)
	Create(ctx context.Context, sub *Subscription) error
	Save(ctx context.Context, sub *Subscription) error
}

// SequenceRepository issues per-tenant document sequence numbers
type SequenceRepository interface {
	// Next atomically increments and returns the tenant's sequence, starting at 1.
	Next(ctx context.Context, tenantID uuid.UUID) (int64, error)
}
