package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/erp/billing/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate takes a row lock held until the transaction ends. Dialects
// without row locks (sqlite) drop the clause.
var forUpdate = clause.Locking{Strength: clause.LockingStrengthUpdate}

// notFoundAsNil maps gorm's not-found error to the (nil, nil) convention
// used by Find methods.
func notFoundAsNil(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

// updateAll writes every column of model except identity and creation
// fields, scoped to the tenant. Zero affected rows means the row is gone.
func updateAll(ctx context.Context, db *gorm.DB, model any, entity string, tenantID, id uuid.UUID) error {
	result := db.WithContext(ctx).
		Model(model).
		Where("tenant_id = ?", tenantID).
		Select("*").
		Omit("id", "tenant_id", "created_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return finance.NewNotFoundError(entity, id)
	}
	return nil
}

// GormAccountRepository implements finance.AccountRepository using GORM
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new GormAccountRepository
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// FindByCode finds an account by its tenant-unique code
func (r *GormAccountRepository) FindByCode(ctx context.Context, tenantID uuid.UUID, code string) (*finance.Account, error) {
	var model models.AccountModel
	if err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND code = ?", tenantID, code).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return model.ToDomain(), nil
}

// Create inserts a new account
func (r *GormAccountRepository) Create(ctx context.Context, account *finance.Account) error {
	return r.db.WithContext(ctx).Create(models.AccountModelFromDomain(account)).Error
}

// GormJournalEntryRepository implements finance.JournalEntryRepository using GORM
type GormJournalEntryRepository struct {
	db *gorm.DB
}

// NewGormJournalEntryRepository creates a new GormJournalEntryRepository
func NewGormJournalEntryRepository(db *gorm.DB) *GormJournalEntryRepository {
	return &GormJournalEntryRepository{db: db}
}

// FindBySource finds the entry posted for a source document
func (r *GormJournalEntryRepository) FindBySource(ctx context.Context, tenantID uuid.UUID, source finance.SourceReference) (*finance.JournalEntry, error) {
	var model models.JournalEntryModel
	if err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no") }).
		First(&model, "tenant_id = ? AND source_type = ? AND source_id = ?", tenantID, source.Type, source.ID).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return model.ToDomain(), nil
}

// Create inserts a posted entry with its lines
func (r *GormJournalEntryRepository) Create(ctx context.Context, entry *finance.JournalEntry) error {
	if !entry.IsPosted {
		return fmt.Errorf("journal entry %s is not posted", entry.EntryNumber)
	}
	return r.db.WithContext(ctx).Create(models.JournalEntryModelFromDomain(entry)).Error
}

// GormDocumentRepository implements finance.DocumentRepository using GORM
type GormDocumentRepository struct {
	db *gorm.DB
}

// NewGormDocumentRepository creates a new GormDocumentRepository
func NewGormDocumentRepository(db *gorm.DB) *GormDocumentRepository {
	return &GormDocumentRepository{db: db}
}

func (r *GormDocumentRepository) find(ctx context.Context, lock bool, query string, args ...any) (*finance.Document, error) {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(forUpdate)
	}
	var model models.DocumentModel
	if err := q.Where(query, args...).First(&model).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	var lines []models.DocumentLineModel
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", model.ID).
		Order("line_no").
		Find(&lines).Error; err != nil {
		return nil, err
	}
	model.Lines = lines
	return model.ToDomain(), nil
}

// FindByIDForTenant finds a document of the given kind for a tenant
func (r *GormDocumentRepository) FindByIDForTenant(ctx context.Context, tenantID uuid.UUID, kind finance.DocumentKind, id uuid.UUID) (*finance.Document, error) {
	return r.find(ctx, false, "id = ? AND tenant_id = ? AND kind = ?", id, tenantID, kind)
}

// FindByIDForUpdate finds and row-locks a document
func (r *GormDocumentRepository) FindByIDForUpdate(ctx context.Context, tenantID uuid.UUID, kind finance.DocumentKind, id uuid.UUID) (*finance.Document, error) {
	return r.find(ctx, true, "id = ? AND tenant_id = ? AND kind = ?", id, tenantID, kind)
}

// FindLatestOutstanding returns the contact's most recently issued document
// that still has an outstanding balance
func (r *GormDocumentRepository) FindLatestOutstanding(ctx context.Context, tenantID uuid.UUID, kind finance.DocumentKind, contactID uuid.UUID) (*finance.Document, error) {
	var model models.DocumentModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND kind = ? AND contact_id = ?", tenantID, kind, contactID).
		Where("status = ? AND total > amount_allocated", finance.DocumentStatusIssued).
		Order("issue_date DESC, created_at DESC").
		First(&model).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return r.find(ctx, false, "id = ?", model.ID)
}

// Create inserts a document with its lines
func (r *GormDocumentRepository) Create(ctx context.Context, doc *finance.Document) error {
	return r.db.WithContext(ctx).Create(models.DocumentModelFromDomain(doc)).Error
}

// Save updates the document header. Lines are immutable once created.
func (r *GormDocumentRepository) Save(ctx context.Context, doc *finance.Document) error {
	model := models.DocumentModelFromDomain(doc)
	model.Lines = nil
	return updateAll(ctx, r.db, model, "document", doc.TenantID, doc.ID)
}

// GormPaymentRepository implements finance.PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) first(q *gorm.DB, query string, args ...any) (*finance.Payment, error) {
	var model models.PaymentModel
	if err := q.Where(query, args...).First(&model).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return model.ToDomain(), nil
}

func (r *GormPaymentRepository) list(q *gorm.DB) ([]finance.Payment, error) {
	var paymentModels []models.PaymentModel
	if err := q.Find(&paymentModels).Error; err != nil {
		return nil, err
	}
	payments := make([]finance.Payment, len(paymentModels))
	for i := range paymentModels {
		payments[i] = *paymentModels[i].ToDomain()
	}
	return payments, nil
}

// FindByIDForTenant finds a payment by ID for a specific tenant
func (r *GormPaymentRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*finance.Payment, error) {
	return r.first(r.db.WithContext(ctx), "id = ? AND tenant_id = ?", id, tenantID)
}

// FindByIDForUpdate finds and row-locks a payment
func (r *GormPaymentRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*finance.Payment, error) {
	return r.first(r.db.WithContext(ctx).Clauses(forUpdate), "id = ?", id)
}

// FindByCheckoutRequestID finds a payment by the gateway's checkout request id
func (r *GormPaymentRepository) FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*finance.Payment, error) {
	if checkoutRequestID == "" {
		return nil, nil
	}
	return r.first(r.db.WithContext(ctx), "checkout_request_id = ?", checkoutRequestID)
}

// FindByMerchantRequestID finds a payment by the gateway's merchant request id
func (r *GormPaymentRepository) FindByMerchantRequestID(ctx context.Context, merchantRequestID string) (*finance.Payment, error) {
	if merchantRequestID == "" {
		return nil, nil
	}
	return r.first(r.db.WithContext(ctx).Order("created_at DESC"), "merchant_request_id = ?", merchantRequestID)
}

// FindPendingByPhoneAndAmount returns pending payments requested from phone
// for amount since the given time, newest first. A zero amount is not filtered on.
func (r *GormPaymentRepository) FindPendingByPhoneAndAmount(ctx context.Context, phone string, amount decimal.Decimal, since time.Time) ([]finance.Payment, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND request_phone = ? AND created_at >= ?", finance.TransactionStatusPending, phone, since)
	if !amount.IsZero() {
		q = q.Where("requested_amount = ?", amount)
	}
	return r.list(q.Order("created_at DESC"))
}

// FindPendingForReconciliation returns pending payments carrying a checkout
// id that were created before olderThan, never-queried first, then least
// recently queried
func (r *GormPaymentRepository) FindPendingForReconciliation(ctx context.Context, olderThan time.Time, limit int) ([]finance.Payment, error) {
	return r.list(r.db.WithContext(ctx).
		Where("status = ? AND checkout_request_id <> '' AND created_at < ?", finance.TransactionStatusPending, olderThan).
		Order("last_reconciled_at IS NOT NULL, last_reconciled_at ASC, created_at ASC").
		Limit(limit))
}

// MarkReconciliationAttempt stamps a pending payment with the time the
// gateway was last queried for it
func (r *GormPaymentRepository) MarkReconciliationAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentModel{}).
		Where("id = ? AND status = ?", id, finance.TransactionStatusPending).
		Update("last_reconciled_at", at).Error
}

// Create inserts a new payment
func (r *GormPaymentRepository) Create(ctx context.Context, payment *finance.Payment) error {
	return r.db.WithContext(ctx).Create(models.PaymentModelFromDomain(payment)).Error
}

// Save updates a payment
func (r *GormPaymentRepository) Save(ctx context.Context, payment *finance.Payment) error {
	return updateAll(ctx, r.db, models.PaymentModelFromDomain(payment), "payment", payment.TenantID, payment.ID)
}

// GormPaymentAllocationRepository implements finance.PaymentAllocationRepository using GORM
type GormPaymentAllocationRepository struct {
	db *gorm.DB
}

// NewGormPaymentAllocationRepository creates a new GormPaymentAllocationRepository
func NewGormPaymentAllocationRepository(db *gorm.DB) *GormPaymentAllocationRepository {
	return &GormPaymentAllocationRepository{db: db}
}

// CreateBatch inserts allocation rows
func (r *GormPaymentAllocationRepository) CreateBatch(ctx context.Context, allocations []finance.PaymentAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	rows := make([]models.PaymentAllocationModel, len(allocations))
	for i, a := range allocations {
		rows[i] = models.PaymentAllocationModelFromDomain(a)
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// FindByPayment returns the allocations of a payment
func (r *GormPaymentAllocationRepository) FindByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]finance.PaymentAllocation, error) {
	var rows []models.PaymentAllocationModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND payment_id = ?", tenantID, paymentID).
		Order("created_at").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	allocations := make([]finance.PaymentAllocation, len(rows))
	for i := range rows {
		allocations[i] = rows[i].ToDomain()
	}
	return allocations, nil
}

// SumByDocument returns the total allocated to a document
func (r *GormPaymentAllocationRepository) SumByDocument(ctx context.Context, tenantID uuid.UUID, kind finance.DocumentKind, documentID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentAllocationModel{}).
		Where("tenant_id = ? AND document_kind = ? AND document_id = ?", tenantID, kind, documentID).
		Select("SUM(amount)").
		Scan(&total).Error; err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// GormSubscriptionRepository implements finance.SubscriptionRepository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// FindByIDForUpdate finds and row-locks a subscription
func (r *GormSubscriptionRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*finance.Subscription, error) {
	var model models.SubscriptionModel
	if err := r.db.WithContext(ctx).
		Clauses(forUpdate).
		First(&model, "id = ? AND tenant_id = ?", id, tenantID).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return model.ToDomain(), nil
}

// Create inserts a new subscription
func (r *GormSubscriptionRepository) Create(ctx context.Context, sub *finance.Subscription) error {
	return r.db.WithContext(ctx).Create(models.SubscriptionModelFromDomain(sub)).Error
}

// Save updates a subscription
func (r *GormSubscriptionRepository) Save(ctx context.Context, sub *finance.Subscription) error {
	return updateAll(ctx, r.db, models.SubscriptionModelFromDomain(sub), "subscription", sub.TenantID, sub.ID)
}

var (
	_ finance.AccountRepository           = (*GormAccountRepository)(nil)
	_ finance.JournalEntryRepository      = (*GormJournalEntryRepository)(nil)
	_ finance.DocumentRepository          = (*GormDocumentRepository)(nil)
	_ finance.PaymentRepository           = (*GormPaymentRepository)(nil)
	_ finance.PaymentAllocationRepository = (*GormPaymentAllocationRepository)(nil)
	_ finance.SubscriptionRepository      = (*GormSubscriptionRepository)(nil)
)
