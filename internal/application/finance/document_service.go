package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DocumentLineInput is one line of a new invoice or bill
type DocumentLineInput struct {
	AccountCode string          `json:"account_code" validate:"required"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreateDocumentRequest creates an invoice or bill
type CreateDocumentRequest struct {
	TenantID  uuid.UUID            `json:"tenant_id" validate:"required"`
	Kind      finance.DocumentKind `json:"kind" validate:"required,oneof=INVOICE BILL"`
	ContactID uuid.UUID            `json:"contact_id" validate:"required"`
	IssueDate time.Time            `json:"issue_date"`
	DueDate   *time.Time           `json:"due_date"`
	Lines     []DocumentLineInput  `json:"lines" validate:"required,min=1,dive"`
	TaxAmount decimal.Decimal      `json:"tax_amount"`
	// Issue numbers and posts the document immediately.
	Issue bool `json:"issue"`
}

// DocumentService creates, numbers and posts invoices and bills
type DocumentService struct {
	scope   TransactionScope
	numbers *DocumentNumberService
	poster  *LedgerPoster
	logger  *zap.Logger
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(scope TransactionScope, numbers *DocumentNumberService, poster *LedgerPoster, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{scope: scope, numbers: numbers, poster: poster, logger: logger}
}

// Create stores a new document, issuing it when requested.
func (s *DocumentService) Create(ctx context.Context, req CreateDocumentRequest) (*finance.Document, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	lines := make([]finance.DocumentLine, 0, len(req.Lines))
	for i, in := range req.Lines {
		quantity := in.Quantity
		if quantity.IsZero() {
			quantity = decimal.NewFromInt(1)
		}
		line, err := finance.NewDocumentLine(in.AccountCode, in.Description, quantity, in.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("lines[%d]: %w", i, err)
		}
		lines = append(lines, line)
	}
	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate = time.Now().UTC()
	}
	doc, err := finance.NewDocument(req.TenantID, req.Kind, req.ContactID, lines, req.TaxAmount, issueDate)
	if err != nil {
		return nil, err
	}
	doc.DueDate = req.DueDate

	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := repos.DocumentRepo().Create(ctx, doc); err != nil {
			return fmt.Errorf("failed to create %s: %w", doc.Kind, err)
		}
		if !req.Issue {
			return nil
		}
		return s.issueWith(ctx, repos, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Issue numbers a draft document and posts its journal entry in one transaction.
func (s *DocumentService) Issue(ctx context.Context, tenantID uuid.UUID, kind finance.DocumentKind, id uuid.UUID) (*finance.Document, error) {
	var doc *finance.Document
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		doc, err = repos.DocumentRepo().FindByIDForUpdate(ctx, tenantID, kind, id)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", kind, err)
		}
		if doc == nil {
			return finance.NewNotFoundError(string(kind), id)
		}
		return s.issueWith(ctx, repos, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) issueWith(ctx context.Context, repos TransactionalRepositories, doc *finance.Document) error {
	number, err := s.numbers.NextWith(ctx, repos, doc.TenantID, doc.Kind.NumberPrefix())
	if err != nil {
		return err
	}
	if err := doc.Issue(number); err != nil {
		return err
	}
	if err := repos.DocumentRepo().Save(ctx, doc); err != nil {
		return fmt.Errorf("failed to issue %s: %w", doc.Kind, err)
	}
	entry, err := s.poster.PostWith(ctx, repos, doc.TenantID, doc.Source())
	if err != nil {
		return err
	}
	doc.AttachJournalEntry(entry.ID)

	s.logger.Info("Document issued",
		zap.String("tenant_id", doc.TenantID.String()),
		zap.String("kind", doc.Kind.String()),
		zap.String("number", doc.Number),
		zap.String("total", doc.Total.StringFixed(2)))
	return nil
}
