package notification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appfinance "github.com/erp/billing/internal/application/finance"
)

func TestLogNotifier_SendReceipt(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	paymentID := uuid.New()
	err := n.SendReceipt(context.Background(), appfinance.Receipt{
		TenantID:  uuid.New(),
		PaymentID: paymentID,
		Receipt:   "NLJ7RT61SV",
		Amount:    decimal.NewFromInt(1500),
		Phone:     "254708374149",
		PaidAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, paymentID.String(), fields["payment_id"])
	assert.Equal(t, "NLJ7RT61SV", fields["receipt"])
	assert.Equal(t, "1500.00", fields["amount"])
	assert.Equal(t, "254******149", fields["phone"])
}

func TestLogNotifier_CancelledContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.SendReceipt(ctx, appfinance.Receipt{}), context.Canceled)
	assert.Zero(t, logs.Len())
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "254******149", MaskPhone("254708374149"))
	assert.Equal(t, "12345", MaskPhone("12345"))
	assert.Equal(t, "", MaskPhone(""))
}
