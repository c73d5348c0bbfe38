package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appfinance "github.com/erp/billing/internal/application/finance"
	"github.com/erp/billing/internal/infrastructure/persistence/models"
)

func TestGormAuditLog_RecordSnapshots(t *testing.T) {
	db := setupBillingTestDB(t)
	log := NewGormAuditLog(db)
	tenantID, entityID := uuid.New(), uuid.New()

	err := log.Record(context.Background(), appfinance.AuditEntry{
		TenantID:   tenantID,
		Actor:      "callback",
		Action:     "payment.settled",
		EntityType: "payment",
		EntityID:   entityID,
		Before:     map[string]string{"status": "PENDING"},
		After:      map[string]string{"status": "COMPLETED"},
	})
	require.NoError(t, err)

	var row models.AuditRecordModel
	require.NoError(t, db.Where("entity_id = ?", entityID).First(&row).Error)
	assert.Equal(t, tenantID, row.TenantID)
	assert.Equal(t, "payment.settled", row.Action)
	require.NotNil(t, row.Before)
	require.NotNil(t, row.After)
	assert.JSONEq(t, `{"status":"PENDING"}`, *row.Before)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, *row.After)
	assert.False(t, row.CreatedAt.IsZero())
}

func TestGormAuditLog_NilSnapshotsStayNull(t *testing.T) {
	db := setupBillingTestDB(t)
	entityID := uuid.New()

	require.NoError(t, NewGormAuditLog(db).Record(context.Background(), appfinance.AuditEntry{
		TenantID:   uuid.New(),
		Actor:      "system",
		Action:     "payment.created",
		EntityType: "payment",
		EntityID:   entityID,
	}))

	var row models.AuditRecordModel
	require.NoError(t, db.Where("entity_id = ?", entityID).First(&row).Error)
	assert.Nil(t, row.Before)
	assert.Nil(t, row.After)
}

func TestGormCallbackLog_RecordAssignsDefaults(t *testing.T) {
	db := setupBillingTestDB(t)
	paymentID := uuid.New()
	entry := &appfinance.CallbackLogEntry{
		PaymentID:         &paymentID,
		CheckoutRequestID: "ws_CO_010320261230",
		SourceIP:          "196.201.214.10",
		Payload:           []byte("not json"),
		Stage:             appfinance.StageReceived,
		Disposition:       appfinance.DispositionInvalidPayload,
		Error:             "bad payload",
	}

	require.NoError(t, NewGormCallbackLog(db).Record(context.Background(), entry))
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.False(t, entry.ReceivedAt.IsZero())

	var row models.GatewayCallbackLogModel
	require.NoError(t, db.First(&row, "id = ?", entry.ID).Error)
	assert.Equal(t, "not json", row.Payload)
	assert.Equal(t, string(appfinance.DispositionInvalidPayload), row.Disposition)
	assert.Nil(t, row.TenantID)
	require.NotNil(t, row.PaymentID)
	assert.Equal(t, paymentID, *row.PaymentID)
}
