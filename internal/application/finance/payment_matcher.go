package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultHeuristicWindow bounds how old a pending payment may be to match
// a notification by phone and amount.
const DefaultHeuristicWindow = 5 * time.Minute

// MatchMethod records how a notification was matched to a payment
type MatchMethod string

const (
	MatchByCheckoutRequestID MatchMethod = "checkout_request_id"
	MatchByMerchantRequestID MatchMethod = "merchant_request_id"
	MatchByHeuristic         MatchMethod = "phone_amount_recency"
)

// PaymentMatcher resolves a gateway result to the payment it concerns.
// Correlation ids are authoritative; the phone/amount/recency fallback is a
// best-effort last resort that can pick the wrong payment when several
// identical requests are in flight.
type PaymentMatcher struct {
	payments finance.PaymentRepository
	window   time.Duration
	policy   finance.AmountPolicy
	metrics  PaymentMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaymentMatcher creates a new PaymentMatcher. Under TrustRequestedAmount
// the gateway amount is nominal, so the fallback matches on phone and
// recency only.
func NewPaymentMatcher(payments finance.PaymentRepository, window time.Duration, policy finance.AmountPolicy, metrics PaymentMetrics, logger *zap.Logger) *PaymentMatcher {
	if window <= 0 {
		window = DefaultHeuristicWindow
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentMatcher{
		payments: payments,
		window:   window,
		policy:   policy,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Match returns the payment for result, or (nil, "", nil) when nothing matches.
func (m *PaymentMatcher) Match(ctx context.Context, result *finance.GatewayResult) (*finance.Payment, MatchMethod, error) {
	if result.CheckoutRequestID != "" {
		p, err := m.payments.FindByCheckoutRequestID(ctx, result.CheckoutRequestID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to match by checkout request id: %w", err)
		}
		if p != nil {
			return p, MatchByCheckoutRequestID, nil
		}
	}

	if result.MerchantRequestID != "" {
		p, err := m.payments.FindByMerchantRequestID(ctx, result.MerchantRequestID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to match by merchant request id: %w", err)
		}
		if p != nil {
			return p, MatchByMerchantRequestID, nil
		}
	}

	if result.Phone == "" || !result.Amount.IsPositive() {
		return nil, "", nil
	}
	phone, err := finance.NormalizePhone(result.Phone)
	if err != nil {
		return nil, "", nil
	}
	amount := result.Amount
	if m.policy == finance.TrustRequestedAmount {
		amount = decimal.Zero
	}
	candidates, err := m.payments.FindPendingByPhoneAndAmount(ctx, phone, amount, m.now().Add(-m.window))
	if err != nil {
		return nil, "", fmt.Errorf("failed to match by phone and amount: %w", err)
	}
	if len(candidates) == 0 {
		return nil, "", nil
	}
	if len(candidates) > 1 {
		m.metrics.RecordAmbiguousMatch(ctx, len(candidates))
		m.logger.Warn("Ambiguous heuristic payment match, using most recent",
			zap.String("checkout_request_id", result.CheckoutRequestID),
			zap.Int("candidates", len(candidates)),
			zap.String("chosen_payment_id", candidates[0].ID.String()))
	}
	chosen := candidates[0]
	return &chosen, MatchByHeuristic, nil
}
