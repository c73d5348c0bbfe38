package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerPoster builds and persists balanced journal entries for invoices,
// bills and payments. Posting is idempotent per source document.
type LedgerPoster struct {
	scope    TransactionScope
	accounts finance.LedgerAccounts
	logger   *zap.Logger
	now      func() time.Time
}

// NewLedgerPoster creates a new LedgerPoster
func NewLedgerPoster(scope TransactionScope, accounts finance.LedgerAccounts, logger *zap.Logger) *LedgerPoster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerPoster{
		scope:    scope,
		accounts: accounts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Post posts the entry for source in its own transaction.
func (p *LedgerPoster) Post(ctx context.Context, tenantID uuid.UUID, source finance.SourceReference) (*finance.JournalEntry, error) {
	var entry *finance.JournalEntry
	err := p.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		entry, err = p.PostWith(ctx, repos, tenantID, source)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PostWith posts the entry for source inside the caller's transaction. An
// existing entry for the same source is returned unchanged.
func (p *LedgerPoster) PostWith(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, source finance.SourceReference) (*finance.JournalEntry, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}

	existing, err := repos.JournalRepo().FindBySource(ctx, tenantID, source)
	if err != nil {
		return nil, fmt.Errorf("failed to look up journal entry: %w", err)
	}
	if existing != nil {
		p.logger.Debug("Journal entry already posted",
			zap.String("source", source.String()),
			zap.String("entry_number", existing.EntryNumber))
		return existing, nil
	}

	resolve := p.resolver(ctx, repos, tenantID)

	var entry *finance.JournalEntry
	switch source.Type {
	case finance.SourceTypeInvoice, finance.SourceTypeBill:
		entry, err = p.postDocument(ctx, repos, tenantID, source, resolve)
	case finance.SourceTypePayment:
		entry, err = p.postPayment(ctx, repos, tenantID, source, resolve)
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info("Journal entry posted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("source", source.String()),
		zap.String("entry_number", entry.EntryNumber),
		zap.String("total", entry.TotalDebits.StringFixed(2)))
	return entry, nil
}

func (p *LedgerPoster) postDocument(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, source finance.SourceReference, resolve finance.AccountResolver) (*finance.JournalEntry, error) {
	kind := finance.DocumentKindInvoice
	if source.Type == finance.SourceTypeBill {
		kind = finance.DocumentKindBill
	}
	doc, err := repos.DocumentRepo().FindByIDForUpdate(ctx, tenantID, kind, source.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", kind, err)
	}
	if doc == nil {
		return nil, finance.NewNotFoundError(string(kind), source.ID)
	}
	if doc.Status == finance.DocumentStatusDraft || doc.Status == finance.DocumentStatusVoid {
		return nil, finance.NewValidationError("status", "cannot post a %s document", doc.Status)
	}

	entry, err := finance.BuildDocumentEntry(doc, p.accounts, resolve, p.now())
	if err != nil {
		return nil, err
	}
	if err := repos.JournalRepo().Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save journal entry: %w", err)
	}
	doc.AttachJournalEntry(entry.ID)
	if err := repos.DocumentRepo().Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to link journal entry: %w", err)
	}
	return entry, nil
}

func (p *LedgerPoster) postPayment(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, source finance.SourceReference, resolve finance.AccountResolver) (*finance.JournalEntry, error) {
	payment, err := repos.PaymentRepo().FindByIDForTenant(ctx, tenantID, source.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil {
		return nil, finance.NewNotFoundError("payment", source.ID)
	}
	if !payment.IsCompleted() {
		return nil, finance.NewValidationError("status", "cannot post a %s payment", payment.Status)
	}

	allocations, err := repos.AllocationRepo().FindByPayment(ctx, tenantID, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocations: %w", err)
	}

	entry, err := finance.BuildPaymentEntry(payment, allocations, p.accounts, resolve, p.now())
	if err != nil {
		return nil, err
	}
	if err := repos.JournalRepo().Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save journal entry: %w", err)
	}
	payment.AttachJournalEntry(entry.ID)
	if err := repos.PaymentRepo().Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to link journal entry: %w", err)
	}
	return entry, nil
}

// resolver looks accounts up by tenant and code, caching per posting.
func (p *LedgerPoster) resolver(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID) finance.AccountResolver {
	cache := make(map[string]*finance.Account)
	return func(code string) (*finance.Account, error) {
		if a, ok := cache[code]; ok {
			return a, nil
		}
		account, err := repos.AccountRepo().FindByCode(ctx, tenantID, code)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve account %s: %w", code, err)
		}
		if account == nil {
			p.logger.Error("Ledger account missing",
				zap.String("tenant_id", tenantID.String()),
				zap.String("account_code", code))
			return nil, finance.NewConfigurationError("account", "account %q is not set up for tenant %s", code, tenantID)
		}
		if !account.IsActive {
			return nil, finance.NewConfigurationError("account", "account %q is inactive", code)
		}
		cache[code] = account
		return account, nil
	}
}
