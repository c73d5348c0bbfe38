package persistence

import (
	"context"

	appfinance "github.com/erp/billing/internal/application/finance"
	"github.com/erp/billing/internal/domain/finance"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
// It provides atomic execution of multiple repository operations.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appfinance.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

func (r *gormTransactionalRepositories) AccountRepo() finance.AccountRepository {
	return NewGormAccountRepository(r.tx)
}

func (r *gormTransactionalRepositories) JournalRepo() finance.JournalEntryRepository {
	return NewGormJournalEntryRepository(r.tx)
}

func (r *gormTransactionalRepositories) DocumentRepo() finance.DocumentRepository {
	return NewGormDocumentRepository(r.tx)
}

func (r *gormTransactionalRepositories) PaymentRepo() finance.PaymentRepository {
	return NewGormPaymentRepository(r.tx)
}

func (r *gormTransactionalRepositories) AllocationRepo() finance.PaymentAllocationRepository {
	return NewGormPaymentAllocationRepository(r.tx)
}

func (r *gormTransactionalRepositories) SubscriptionRepo() finance.SubscriptionRepository {
	return NewGormSubscriptionRepository(r.tx)
}

func (r *gormTransactionalRepositories) SequenceRepo() finance.SequenceRepository {
	return NewGormSequenceRepository(r.tx)
}

func (r *gormTransactionalRepositories) AuditLog() appfinance.AuditLog {
	return NewGormAuditLog(r.tx)
}

// Ensure GormTransactionScope implements TransactionScope
var _ appfinance.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ appfinance.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
