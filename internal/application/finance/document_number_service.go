package finance

import (
	"context"
	"fmt"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
)

// FormatDocumentNumber renders a sequence value as PREFIX-NNN.
func FormatDocumentNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

// DocumentNumberService layers display formatting over the per-tenant sequence
type DocumentNumberService struct {
	scope TransactionScope
}

// NewDocumentNumberService creates a new DocumentNumberService
func NewDocumentNumberService(scope TransactionScope) *DocumentNumberService {
	return &DocumentNumberService{scope: scope}
}

// Next issues the next number for tenantID in its own transaction.
func (s *DocumentNumberService) Next(ctx context.Context, tenantID uuid.UUID, prefix string) (string, error) {
	var number string
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		number, err = s.NextWith(ctx, repos, tenantID, prefix)
		return err
	})
	return number, err
}

// NextWith issues the next number inside the caller's transaction, so a
// rollback also rolls back the increment.
func (s *DocumentNumberService) NextWith(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, prefix string) (string, error) {
	if tenantID == uuid.Nil {
		return "", finance.NewValidationError("tenant_id", "is required")
	}
	n, err := repos.SequenceRepo().Next(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to issue sequence number: %w", err)
	}
	return FormatDocumentNumber(prefix, n), nil
}
