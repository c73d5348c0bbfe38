package models

import (
	"encoding/json"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountModel is the persistence model for chart-of-accounts entries.
type AccountModel struct {
	AggregateModel
	TenantID uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_account_tenant_code,priority:1"`
	Code     string              `gorm:"type:varchar(20);not null;uniqueIndex:idx_account_tenant_code,priority:2"`
	Name     string              `gorm:"type:varchar(200);not null"`
	Type     finance.AccountType `gorm:"type:varchar(20);not null"`
	IsActive bool                `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts the persistence model to a domain Account.
func (m *AccountModel) ToDomain() *finance.Account {
	return &finance.Account{
		TenantAggregateRoot: m.tenantRoot(m.TenantID),
		Code:                m.Code,
		Name:                m.Name,
		Type:                m.Type,
		IsActive:            m.IsActive,
	}
}

// AccountModelFromDomain creates a persistence model from a domain Account.
func AccountModelFromDomain(a *finance.Account) *AccountModel {
	m := &AccountModel{
		TenantID: a.TenantID,
		Code:     a.Code,
		Name:     a.Name,
		Type:     a.Type,
		IsActive: a.IsActive,
	}
	m.FromDomainAggregateRoot(a.BaseAggregateRoot)
	return m
}

// JournalEntryModel is the persistence model for posted journal entries.
// (tenant_id, source_type, source_id) is unique: one entry per source document.
type JournalEntryModel struct {
	ID           uuid.UUID          `gorm:"type:uuid;primary_key"`
	TenantID     uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_journal_entry_source,priority:1"`
	EntryNumber  string             `gorm:"type:varchar(40);not null;uniqueIndex"`
	EntryDate    time.Time          `gorm:"not null;index"`
	SourceType   finance.SourceType `gorm:"type:varchar(20);not null;uniqueIndex:idx_journal_entry_source,priority:2"`
	SourceID     uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex:idx_journal_entry_source,priority:3"`
	Description  string             `gorm:"type:varchar(500)"`
	TotalDebits  decimal.Decimal    `gorm:"type:decimal(18,4);not null"`
	TotalCredits decimal.Decimal    `gorm:"type:decimal(18,4);not null"`
	IsPosted     bool               `gorm:"not null"`
	CreatedAt    time.Time          `gorm:"not null"`
	Lines        []JournalLineModel `gorm:"foreignKey:EntryID;references:ID"`
	PostedAt     *time.Time
}

// TableName returns the table name for GORM
func (JournalEntryModel) TableName() string {
	return "journal_entries"
}

// JournalLineModel is one debit or credit line of a journal entry.
type JournalLineModel struct {
	ID          uuid.UUID        `gorm:"type:uuid;primary_key"`
	EntryID     uuid.UUID        `gorm:"type:uuid;not null;index"`
	LineNo      int              `gorm:"not null"`
	AccountID   uuid.UUID        `gorm:"type:uuid;not null;index"`
	AccountCode string           `gorm:"type:varchar(20);not null"`
	Type        finance.LineType `gorm:"type:varchar(10);not null"`
	Amount      decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	Description string           `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (JournalLineModel) TableName() string {
	return "journal_lines"
}

// ToDomain converts the persistence model to a domain JournalEntry.
func (m *JournalEntryModel) ToDomain() *finance.JournalEntry {
	entry := &finance.JournalEntry{
		ID:           m.ID,
		TenantID:     m.TenantID,
		EntryNumber:  m.EntryNumber,
		EntryDate:    m.EntryDate,
		Source:       finance.SourceReference{Type: m.SourceType, ID: m.SourceID},
		Description:  m.Description,
		TotalDebits:  m.TotalDebits,
		TotalCredits: m.TotalCredits,
		IsPosted:     m.IsPosted,
		PostedAt:     m.PostedAt,
		CreatedAt:    m.CreatedAt,
		Lines:        make([]finance.JournalLine, len(m.Lines)),
	}
	for i, l := range m.Lines {
		entry.Lines[i] = finance.JournalLine{
			ID:          l.ID,
			EntryID:     l.EntryID,
			AccountID:   l.AccountID,
			AccountCode: l.AccountCode,
			Type:        l.Type,
			Amount:      l.Amount,
			Description: l.Description,
		}
	}
	return entry
}

// JournalEntryModelFromDomain creates a persistence model from a domain JournalEntry.
// Line order is kept through LineNo.
func JournalEntryModelFromDomain(e *finance.JournalEntry) *JournalEntryModel {
	m := &JournalEntryModel{
		ID:           e.ID,
		TenantID:     e.TenantID,
		EntryNumber:  e.EntryNumber,
		EntryDate:    e.EntryDate,
		SourceType:   e.Source.Type,
		SourceID:     e.Source.ID,
		Description:  e.Description,
		TotalDebits:  e.TotalDebits,
		TotalCredits: e.TotalCredits,
		IsPosted:     e.IsPosted,
		PostedAt:     e.PostedAt,
		CreatedAt:    e.CreatedAt,
		Lines:        make([]JournalLineModel, len(e.Lines)),
	}
	for i, l := range e.Lines {
		id := l.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		m.Lines[i] = JournalLineModel{
			ID:          id,
			EntryID:     e.ID,
			LineNo:      i + 1,
			AccountID:   l.AccountID,
			AccountCode: l.AccountCode,
			Type:        l.Type,
			Amount:      l.Amount,
			Description: l.Description,
		}
	}
	return m
}

// DocumentModel is the persistence model for invoices and bills. Numbers
// come from one per-tenant sequence shared by both kinds, so they are
// unique per tenant once assigned.
type DocumentModel struct {
	AggregateModel
	TenantID        uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_document_tenant_number,priority:1,where:number <> ''"`
	Kind            finance.DocumentKind   `gorm:"type:varchar(10);not null;index"`
	Number          string                 `gorm:"type:varchar(30);not null;default:'';uniqueIndex:idx_document_tenant_number,priority:2,where:number <> ''"`
	ContactID       uuid.UUID              `gorm:"type:uuid;not null;index"`
	IssueDate       time.Time              `gorm:"not null"`
	Subtotal        decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	TaxAmount       decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	Total           decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	AmountAllocated decimal.Decimal        `gorm:"type:decimal(18,4);not null"`
	Status          finance.DocumentStatus `gorm:"type:varchar(20);not null;index"`
	PaymentStatus   finance.PaymentStatus  `gorm:"type:varchar(20);not null"`
	JournalEntryID  *uuid.UUID             `gorm:"type:uuid"`
	Lines           []DocumentLineModel    `gorm:"foreignKey:DocumentID;references:ID"`
	DueDate         *time.Time
}

// TableName returns the table name for GORM
func (DocumentModel) TableName() string {
	return "documents"
}

// DocumentLineModel is a pre-tax line of an invoice or bill.
type DocumentLineModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primary_key"`
	DocumentID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	LineNo      int             `gorm:"not null"`
	AccountCode string          `gorm:"type:varchar(20);not null"`
	Description string          `gorm:"type:varchar(500)"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the table name for GORM
func (DocumentLineModel) TableName() string {
	return "document_lines"
}

// ToDomain converts the persistence model to a domain Document.
func (m *DocumentModel) ToDomain() *finance.Document {
	doc := &finance.Document{
		TenantAggregateRoot: m.tenantRoot(m.TenantID),
		Kind:                m.Kind,
		Number:              m.Number,
		ContactID:           m.ContactID,
		IssueDate:           m.IssueDate,
		DueDate:             m.DueDate,
		Subtotal:            m.Subtotal,
		TaxAmount:           m.TaxAmount,
		Total:               m.Total,
		AmountAllocated:     m.AmountAllocated,
		Status:              m.Status,
		PaymentStatus:       m.PaymentStatus,
		JournalEntryID:      m.JournalEntryID,
		Lines:               make([]finance.DocumentLine, len(m.Lines)),
	}
	for i, l := range m.Lines {
		doc.Lines[i] = finance.DocumentLine{
			ID:          l.ID,
			AccountCode: l.AccountCode,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Amount:      l.Amount,
		}
	}
	return doc
}

// DocumentModelFromDomain creates a persistence model from a domain Document.
func DocumentModelFromDomain(d *finance.Document) *DocumentModel {
	m := &DocumentModel{
		TenantID:        d.TenantID,
		Kind:            d.Kind,
		Number:          d.Number,
		ContactID:       d.ContactID,
		IssueDate:       d.IssueDate,
		DueDate:         d.DueDate,
		Subtotal:        d.Subtotal,
		TaxAmount:       d.TaxAmount,
		Total:           d.Total,
		AmountAllocated: d.AmountAllocated,
		Status:          d.Status,
		PaymentStatus:   d.PaymentStatus,
		JournalEntryID:  d.JournalEntryID,
		Lines:           make([]DocumentLineModel, len(d.Lines)),
	}
	m.FromDomainAggregateRoot(d.BaseAggregateRoot)
	for i, l := range d.Lines {
		id := l.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		m.Lines[i] = DocumentLineModel{
			ID:          id,
			DocumentID:  d.ID,
			LineNo:      i + 1,
			AccountCode: l.AccountCode,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Amount:      l.Amount,
		}
	}
	return m
}

// PaymentModel is the persistence model for gateway payments. The checkout
// request id is globally unique once the gateway has issued it.
type PaymentModel struct {
	TenantAggregateModel
	Amount             decimal.Decimal           `gorm:"type:decimal(18,4);not null"`
	RequestedAmount    decimal.Decimal           `gorm:"type:decimal(18,4);not null"`
	Status             finance.TransactionStatus `gorm:"type:varchar(20);not null;index"`
	CheckoutRequestID  string                    `gorm:"type:varchar(100);not null;default:'';uniqueIndex:idx_payment_checkout_request,where:checkout_request_id <> ''"`
	MerchantRequestID  string                    `gorm:"type:varchar(100);not null;default:'';index"`
	AccountReference   string                    `gorm:"type:varchar(20);not null"`
	RequestPhone       string                    `gorm:"type:varchar(20);not null;index"`
	Phone              string                    `gorm:"type:varchar(20)"`
	Receipt            string                    `gorm:"type:varchar(50)"`
	RawCallback        *string                   `gorm:"type:jsonb"`
	TargetType         finance.TargetType        `gorm:"type:varchar(20);not null;default:''"`
	TargetID           *uuid.UUID                `gorm:"type:uuid;index"`
	ContactID          *uuid.UUID                `gorm:"type:uuid;index"`
	DepositAccountCode string                    `gorm:"type:varchar(20);not null"`
	ResultDesc         string                    `gorm:"type:varchar(500)"`
	JournalEntryID     *uuid.UUID                `gorm:"type:uuid"`
	ResultCode         *int
	PaymentDate        *time.Time
	LastReconciledAt   *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment.
func (m *PaymentModel) ToDomain() *finance.Payment {
	p := &finance.Payment{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		Amount:              m.Amount,
		RequestedAmount:     m.RequestedAmount,
		Status:              m.Status,
		CheckoutRequestID:   m.CheckoutRequestID,
		MerchantRequestID:   m.MerchantRequestID,
		AccountReference:    m.AccountReference,
		RequestPhone:        m.RequestPhone,
		Phone:               m.Phone,
		Receipt:             m.Receipt,
		PaymentDate:         m.PaymentDate,
		Target:              finance.PaymentTarget{Type: m.TargetType},
		ContactID:           m.ContactID,
		DepositAccountCode:  m.DepositAccountCode,
		ResultCode:          m.ResultCode,
		ResultDesc:          m.ResultDesc,
		JournalEntryID:      m.JournalEntryID,
		LastReconciledAt:    m.LastReconciledAt,
	}
	if m.TargetID != nil {
		p.Target.ID = *m.TargetID
	}
	if m.RawCallback != nil {
		p.RawCallback = json.RawMessage(*m.RawCallback)
	}
	return p
}

// PaymentModelFromDomain creates a persistence model from a domain Payment.
func PaymentModelFromDomain(p *finance.Payment) *PaymentModel {
	m := &PaymentModel{
		Amount:             p.Amount,
		RequestedAmount:    p.RequestedAmount,
		Status:             p.Status,
		CheckoutRequestID:  p.CheckoutRequestID,
		MerchantRequestID:  p.MerchantRequestID,
		AccountReference:   p.AccountReference,
		RequestPhone:       p.RequestPhone,
		Phone:              p.Phone,
		Receipt:            p.Receipt,
		PaymentDate:        p.PaymentDate,
		TargetType:         p.Target.Type,
		ContactID:          p.ContactID,
		DepositAccountCode: p.DepositAccountCode,
		ResultCode:         p.ResultCode,
		ResultDesc:         p.ResultDesc,
		JournalEntryID:     p.JournalEntryID,
		LastReconciledAt:   p.LastReconciledAt,
	}
	m.FromDomainTenantAggregateRoot(p.TenantAggregateRoot)
	if p.Target.ID != uuid.Nil {
		id := p.Target.ID
		m.TargetID = &id
	}
	if len(p.RawCallback) > 0 {
		raw := string(p.RawCallback)
		m.RawCallback = &raw
	}
	return m
}

// PaymentAllocationModel assigns part of a payment to one document.
type PaymentAllocationModel struct {
	ID           uuid.UUID            `gorm:"type:uuid;primary_key"`
	TenantID     uuid.UUID            `gorm:"type:uuid;not null;index:idx_allocation_document,priority:1"`
	PaymentID    uuid.UUID            `gorm:"type:uuid;not null;index"`
	DocumentKind finance.DocumentKind `gorm:"type:varchar(10);not null;index:idx_allocation_document,priority:2"`
	DocumentID   uuid.UUID            `gorm:"type:uuid;not null;index:idx_allocation_document,priority:3"`
	Amount       decimal.Decimal      `gorm:"type:decimal(18,4);not null"`
	CreatedAt    time.Time            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PaymentAllocationModel) TableName() string {
	return "payment_allocations"
}

// ToDomain converts the persistence model to a domain PaymentAllocation.
func (m *PaymentAllocationModel) ToDomain() finance.PaymentAllocation {
	return finance.PaymentAllocation{
		ID:           m.ID,
		TenantID:     m.TenantID,
		PaymentID:    m.PaymentID,
		DocumentKind: m.DocumentKind,
		DocumentID:   m.DocumentID,
		Amount:       m.Amount,
		CreatedAt:    m.CreatedAt,
	}
}

// PaymentAllocationModelFromDomain creates a persistence model from a domain PaymentAllocation.
func PaymentAllocationModelFromDomain(a finance.PaymentAllocation) PaymentAllocationModel {
	return PaymentAllocationModel{
		ID:           a.ID,
		TenantID:     a.TenantID,
		PaymentID:    a.PaymentID,
		DocumentKind: a.DocumentKind,
		DocumentID:   a.DocumentID,
		Amount:       a.Amount,
		CreatedAt:    a.CreatedAt,
	}
}

// SubscriptionModel is the persistence model for plan subscriptions.
type SubscriptionModel struct {
	TenantAggregateModel
	PlanCode           string                     `gorm:"type:varchar(50);not null"`
	Price              decimal.Decimal            `gorm:"type:decimal(18,4);not null"`
	Status             finance.SubscriptionStatus `gorm:"type:varchar(20);not null;index"`
	BillingInterval    finance.BillingInterval    `gorm:"type:varchar(20);not null"`
	LastPaymentID      *uuid.UUID                 `gorm:"type:uuid"`
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// TableName returns the table name for GORM
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// ToDomain converts the persistence model to a domain Subscription.
func (m *SubscriptionModel) ToDomain() *finance.Subscription {
	return &finance.Subscription{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		PlanCode:            m.PlanCode,
		Price:               m.Price,
		Status:              m.Status,
		BillingInterval:     m.BillingInterval,
		CurrentPeriodStart:  m.CurrentPeriodStart,
		CurrentPeriodEnd:    m.CurrentPeriodEnd,
		LastPaymentID:       m.LastPaymentID,
	}
}

// SubscriptionModelFromDomain creates a persistence model from a domain Subscription.
func SubscriptionModelFromDomain(s *finance.Subscription) *SubscriptionModel {
	m := &SubscriptionModel{
		PlanCode:           s.PlanCode,
		Price:              s.Price,
		Status:             s.Status,
		BillingInterval:    s.BillingInterval,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		LastPaymentID:      s.LastPaymentID,
	}
	m.FromDomainTenantAggregateRoot(s.TenantAggregateRoot)
	return m
}

// SequenceCounterModel holds the next document number per tenant.
type SequenceCounterModel struct {
	TenantID  uuid.UUID `gorm:"type:uuid;primary_key"`
	Sequence  int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SequenceCounterModel) TableName() string {
	return "sequence_counters"
}

// AuditRecordModel is an append-only audit row. Before and After hold JSON
// snapshots of the changed entity.
type AuditRecordModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index:idx_audit_entity,priority:1"`
	Actor      string    `gorm:"type:varchar(100);not null"`
	Action     string    `gorm:"type:varchar(50);not null"`
	EntityType string    `gorm:"type:varchar(50);not null;index:idx_audit_entity,priority:2"`
	EntityID   uuid.UUID `gorm:"type:uuid;not null;index:idx_audit_entity,priority:3"`
	Before     *string   `gorm:"type:jsonb"`
	After      *string   `gorm:"type:jsonb"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AuditRecordModel) TableName() string {
	return "audit_records"
}

// GatewayCallbackLogModel is the raw record of one inbound gateway
// notification. Payload is stored as text because it may not be valid JSON.
type GatewayCallbackLogModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primary_key"`
	TenantID          *uuid.UUID `gorm:"type:uuid;index"`
	PaymentID         *uuid.UUID `gorm:"type:uuid;index"`
	CheckoutRequestID string     `gorm:"type:varchar(100);index"`
	SourceIP          string     `gorm:"type:varchar(64)"`
	Payload           string     `gorm:"type:text"`
	Stage             string     `gorm:"type:varchar(20);not null"`
	Disposition       string     `gorm:"type:varchar(30);not null;index"`
	Error             string     `gorm:"type:text"`
	ReceivedAt        time.Time  `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (GatewayCallbackLogModel) TableName() string {
	return "gateway_callback_logs"
}

// All returns every billing model, in dependency order, for schema
// creation in tests.
func All() []any {
	return []any{
		&AccountModel{},
		&JournalEntryModel{},
		&JournalLineModel{},
		&DocumentModel{},
		&DocumentLineModel{},
		&PaymentModel{},
		&PaymentAllocationModel{},
		&SubscriptionModel{},
		&SequenceCounterModel{},
		&AuditRecordModel{},
		&GatewayCallbackLogModel{},
	}
}
