package finance

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AllocationLine assigns amount of a payment to one document
type AllocationLine struct {
	Kind       finance.DocumentKind `json:"kind" validate:"required,oneof=INVOICE BILL"`
	DocumentID uuid.UUID            `json:"document_id" validate:"required"`
	Amount     decimal.Decimal      `json:"amount"`
}

// AllocatePaymentRequest applies a completed payment across outstanding documents
type AllocatePaymentRequest struct {
	TenantID    uuid.UUID        `json:"tenant_id" validate:"required"`
	PaymentID   uuid.UUID        `json:"payment_id" validate:"required"`
	Allocations []AllocationLine `json:"allocations" validate:"required,min=1,dive"`
}

// AllocationResult is the state written by one allocation
type AllocationResult struct {
	Payment      *finance.Payment
	Allocations  []finance.PaymentAllocation
	Documents    []*finance.Document
	JournalEntry *finance.JournalEntry
}

// PaymentAllocator applies a payment's amount across documents, updates
// their status and posts the payment's journal entry, all in one transaction.
type PaymentAllocator struct {
	scope  TransactionScope
	poster *LedgerPoster
	logger *zap.Logger
}

// NewPaymentAllocator creates a new PaymentAllocator
func NewPaymentAllocator(scope TransactionScope, poster *LedgerPoster, logger *zap.Logger) *PaymentAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentAllocator{scope: scope, poster: poster, logger: logger}
}

// Allocate runs AllocateWith in its own transaction.
func (a *PaymentAllocator) Allocate(ctx context.Context, req AllocatePaymentRequest) (*AllocationResult, error) {
	var result *AllocationResult
	err := a.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		result, err = a.AllocateWith(ctx, repos, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AllocateWith allocates inside the caller's transaction. Any error leaves
// the transaction to be rolled back by the caller.
func (a *PaymentAllocator) AllocateWith(ctx context.Context, repos TransactionalRepositories, req AllocatePaymentRequest) (*AllocationResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	total := decimal.Zero
	seen := make(map[uuid.UUID]bool, len(req.Allocations))
	for i, line := range req.Allocations {
		if !line.Amount.IsPositive() {
			return nil, finance.NewValidationError(fmt.Sprintf("allocations[%d].amount", i), "must be positive")
		}
		if seen[line.DocumentID] {
			return nil, finance.NewValidationError(fmt.Sprintf("allocations[%d].document_id", i), "document listed more than once")
		}
		if line.Kind != req.Allocations[0].Kind {
			return nil, finance.NewValidationError("allocations", "a payment cannot settle invoices and bills together")
		}
		seen[line.DocumentID] = true
		total = total.Add(line.Amount)
	}

	payment, err := repos.PaymentRepo().FindByIDForUpdate(ctx, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil || !payment.BelongsTo(req.TenantID) {
		return nil, finance.NewNotFoundError("payment", req.PaymentID)
	}
	if !payment.IsCompleted() {
		return nil, finance.NewValidationError("payment_id", "payment is %s, only completed payments can be allocated", payment.Status)
	}
	if payment.JournalEntryID != nil {
		return nil, finance.NewValidationError("payment_id", "payment %s is already posted", payment.ID)
	}
	if total.GreaterThan(payment.Amount) {
		return nil, finance.NewValidationError("allocations", "allocated %s exceeds payment amount %s",
			total.StringFixed(2), payment.Amount.StringFixed(2))
	}

	result := &AllocationResult{Payment: payment}
	for i, line := range req.Allocations {
		doc, err := repos.DocumentRepo().FindByIDForUpdate(ctx, req.TenantID, line.Kind, line.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", line.Kind, err)
		}
		if doc == nil {
			return nil, finance.NewNotFoundError(string(line.Kind), line.DocumentID)
		}

		// Outstanding is recomputed from the persisted allocation rows.
		allocated, err := repos.AllocationRepo().SumByDocument(ctx, req.TenantID, line.Kind, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to sum allocations: %w", err)
		}
		doc.SyncAllocated(allocated)

		if err := doc.ApplyAllocation(line.Amount); err != nil {
			var ve *finance.ValidationError
			if errors.As(err, &ve) {
				ve.Field = fmt.Sprintf("allocations[%d].%s", i, ve.Field)
			}
			return nil, err
		}

		allocation, err := finance.NewPaymentAllocation(req.TenantID, payment.ID, line.Kind, doc.ID, line.Amount)
		if err != nil {
			return nil, err
		}
		result.Allocations = append(result.Allocations, *allocation)
		result.Documents = append(result.Documents, doc)
	}

	if err := repos.AllocationRepo().CreateBatch(ctx, result.Allocations); err != nil {
		return nil, fmt.Errorf("failed to save allocations: %w", err)
	}
	for _, doc := range result.Documents {
		if err := repos.DocumentRepo().Save(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to update %s %s: %w", doc.Kind, doc.ID, err)
		}
	}

	entry, err := a.poster.PostWith(ctx, repos, req.TenantID, finance.PaymentSource(payment.ID))
	if err != nil {
		return nil, err
	}
	result.JournalEntry = entry
	payment.AttachJournalEntry(entry.ID)

	a.logger.Info("Payment allocated",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.Int("documents", len(result.Documents)),
		zap.String("allocated", total.StringFixed(2)),
		zap.String("unapplied", payment.Amount.Sub(total).StringFixed(2)))

	return result, nil
}
