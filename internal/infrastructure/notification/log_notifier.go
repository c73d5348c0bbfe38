package notification

import (
	"context"

	"go.uber.org/zap"

	appfinance "github.com/erp/billing/internal/application/finance"
	"github.com/erp/billing/internal/infrastructure/logger"
)

// LogNotifier records payment receipts in the structured log. It stands in
// for an SMS or email channel.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{logger: log.Named("notifier")}
}

// SendReceipt logs the receipt with the phone number masked
func (n *LogNotifier) SendReceipt(ctx context.Context, receipt appfinance.Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.For(ctx, n.logger).Info("Payment receipt",
		zap.String("tenant_id", receipt.TenantID.String()),
		zap.String("payment_id", receipt.PaymentID.String()),
		zap.String("receipt", receipt.Receipt),
		zap.String("amount", receipt.Amount.StringFixed(2)),
		zap.String("phone", MaskPhone(receipt.Phone)),
		zap.Time("paid_at", receipt.PaidAt),
	)
	return nil
}

// MaskPhone keeps the country prefix and last three digits
func MaskPhone(phone string) string {
	if len(phone) <= 6 {
		return phone
	}
	masked := []byte(phone)
	for i := 3; i < len(masked)-3; i++ {
		masked[i] = '*'
	}
	return string(masked)
}

var _ appfinance.Notifier = (*LogNotifier)(nil)
