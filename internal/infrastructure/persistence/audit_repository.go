package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	appfinance "github.com/erp/billing/internal/application/finance"
	"github.com/erp/billing/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAuditLog appends audit records. Built on a transaction handle it
// writes atomically with the change it records.
type GormAuditLog struct {
	db *gorm.DB
}

// NewGormAuditLog creates a new GormAuditLog
func NewGormAuditLog(db *gorm.DB) *GormAuditLog {
	return &GormAuditLog{db: db}
}

// Record appends one audit row
func (l *GormAuditLog) Record(ctx context.Context, entry appfinance.AuditEntry) error {
	before, err := snapshotJSON(entry.Before)
	if err != nil {
		return fmt.Errorf("audit before snapshot: %w", err)
	}
	after, err := snapshotJSON(entry.After)
	if err != nil {
		return fmt.Errorf("audit after snapshot: %w", err)
	}
	return l.db.WithContext(ctx).Create(&models.AuditRecordModel{
		ID:         uuid.New(),
		TenantID:   entry.TenantID,
		Actor:      entry.Actor,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Before:     before,
		After:      after,
		CreatedAt:  time.Now().UTC(),
	}).Error
}

func snapshotJSON(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// GormCallbackLog persists raw gateway notifications outside any
// settlement transaction.
type GormCallbackLog struct {
	db *gorm.DB
}

// NewGormCallbackLog creates a new GormCallbackLog
func NewGormCallbackLog(db *gorm.DB) *GormCallbackLog {
	return &GormCallbackLog{db: db}
}

// Record inserts the callback log row, assigning an ID when missing
func (l *GormCallbackLog) Record(ctx context.Context, entry *appfinance.CallbackLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	return l.db.WithContext(ctx).Create(&models.GatewayCallbackLogModel{
		ID:                entry.ID,
		TenantID:          entry.TenantID,
		PaymentID:         entry.PaymentID,
		CheckoutRequestID: entry.CheckoutRequestID,
		SourceIP:          entry.SourceIP,
		Payload:           string(entry.Payload),
		Stage:             string(entry.Stage),
		Disposition:       string(entry.Disposition),
		Error:             entry.Error,
		ReceivedAt:        entry.ReceivedAt,
	}).Error
}

var (
	_ appfinance.AuditLog    = (*GormAuditLog)(nil)
	_ appfinance.CallbackLog = (*GormCallbackLog)(nil)
)
