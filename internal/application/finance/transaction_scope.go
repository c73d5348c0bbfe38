package finance

import (
	"context"

	"github.com/erp/billing/internal/domain/finance"
)

// TransactionScope provides transactional access to billing repositories.
// Everything done through the repositories handed to fn commits or rolls
// back together; a returned error rolls back.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to all billing repositories within
// a transaction. All repositories share the same underlying database transaction.
type TransactionalRepositories interface {
	AccountRepo() finance.AccountRepository
	JournalRepo() finance.JournalEntryRepository
	DocumentRepo() finance.DocumentRepository
	PaymentRepo() finance.PaymentRepository
	AllocationRepo() finance.PaymentAllocationRepository
	SubscriptionRepo() finance.SubscriptionRepository
	SequenceRepo() finance.SequenceRepository
	AuditLog() AuditLog
}

// NoOpTransactionScope runs functions against fixed repositories without a
// real transaction. Used in tests with mocked repositories.
type NoOpTransactionScope struct {
	Accounts      finance.AccountRepository
	Journals      finance.JournalEntryRepository
	Documents     finance.DocumentRepository
	Payments      finance.PaymentRepository
	Allocations   finance.PaymentAllocationRepository
	Subscriptions finance.SubscriptionRepository
	Sequences     finance.SequenceRepository
	Audit         AuditLog
}

// Execute runs the function without a real transaction.
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

func (s *NoOpTransactionScope) AccountRepo() finance.AccountRepository { return s.Accounts }
func (s *NoOpTransactionScope) JournalRepo() finance.JournalEntryRepository { return s.Journals }
func (s *NoOpTransactionScope) DocumentRepo() finance.DocumentRepository { return s.Documents }
func (s *NoOpTransactionScope) PaymentRepo() finance.PaymentRepository { return s.Payments }
func (s *NoOpTransactionScope) AllocationRepo() finance.PaymentAllocationRepository {
	return s.Allocations
}
func (s *NoOpTransactionScope) SubscriptionRepo() finance.SubscriptionRepository { return s.Subscriptions }
func (s *NoOpTransactionScope) SequenceRepo() finance.SequenceRepository { return s.Sequences }
func (s *NoOpTransactionScope) AuditLog() AuditLog { return s.Audit }

var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
