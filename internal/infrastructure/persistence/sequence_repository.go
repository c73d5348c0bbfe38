package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// nextSequenceSQL increments the tenant's counter in one statement. The
// conflicting row is locked by the upsert, so concurrent callers serialize
// and each observes a distinct value. Supported by PostgreSQL and SQLite.
const nextSequenceSQL = `INSERT INTO sequence_counters (tenant_id, sequence, updated_at) VALUES (?, 1, ?)
ON CONFLICT (tenant_id) DO UPDATE SET sequence = sequence_counters.sequence + 1, updated_at = excluded.updated_at
RETURNING sequence`

// GormSequenceRepository implements finance.SequenceRepository with an
// atomic upsert on sequence_counters.
type GormSequenceRepository struct {
	db *gorm.DB
}

// NewGormSequenceRepository creates a new GormSequenceRepository
func NewGormSequenceRepository(db *gorm.DB) *GormSequenceRepository {
	return &GormSequenceRepository{db: db}
}

// Next returns the tenant's next sequence value, starting at 1
func (r *GormSequenceRepository) Next(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var next int64
	result := r.db.WithContext(ctx).Raw(nextSequenceSQL, tenantID, time.Now().UTC()).Scan(&next)
	if result.Error != nil {
		return 0, fmt.Errorf("next sequence for tenant %s: %w", tenantID, result.Error)
	}
	if next < 1 {
		return 0, fmt.Errorf("next sequence for tenant %s: counter returned %d", tenantID, next)
	}
	return next, nil
}

var _ finance.SequenceRepository = (*GormSequenceRepository)(nil)
