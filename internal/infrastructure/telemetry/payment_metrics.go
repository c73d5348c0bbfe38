package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PaymentMetrics records settlement, callback, reconciliation and gateway
// instruments on a single meter.
type PaymentMetrics struct {
	settlements     *Counter
	settledAmount   *FloatCounter
	callbacks       *Counter
	reconciliations *Counter
	ambiguous       *Counter
	candidates      *Histogram
	gatewayCalls    *Counter
	gatewayDuration *Histogram
}

// NewPaymentMetrics creates the payment instruments on meter.
func NewPaymentMetrics(meter metric.Meter) (*PaymentMetrics, error) {
	m := &PaymentMetrics{}
	var err error

	if m.settlements, err = NewCounter(meter, "billing_payment_settlements_total",
		"Payment settlement attempts by source and outcome", "{settlement}"); err != nil {
		return nil, err
	}
	if m.settledAmount, err = NewFloatCounter(meter, "billing_payment_settled_amount_total",
		"Sum of completed payment amounts", "{currency}"); err != nil {
		return nil, err
	}
	if m.callbacks, err = NewCounter(meter, "billing_gateway_callbacks_total",
		"Gateway callbacks by disposition", "{callback}"); err != nil {
		return nil, err
	}
	if m.reconciliations, err = NewCounter(meter, "billing_reconciliation_syncs_total",
		"Reconciliation status queries by outcome", "{sync}"); err != nil {
		return nil, err
	}
	if m.ambiguous, err = NewCounter(meter, "billing_ambiguous_matches_total",
		"Heuristic callback matches with more than one candidate", "{match}"); err != nil {
		return nil, err
	}
	if m.candidates, err = NewHistogram(meter, HistogramOpts{
		Name:        "billing_ambiguous_match_candidates",
		Description: "Candidate payments considered by ambiguous heuristic matches",
		Unit:        "{payment}",
		Boundaries:  []float64{2, 3, 5, 10},
	}); err != nil {
		return nil, err
	}
	if m.gatewayCalls, err = NewCounter(meter, "billing_gateway_requests_total",
		"Outbound payment gateway requests by operation and HTTP status", "{request}"); err != nil {
		return nil, err
	}
	if m.gatewayDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "billing_gateway_request_duration_seconds",
		Description: "Outbound payment gateway request latency",
		Unit:        "s",
		Boundaries:  GatewayDurationBuckets,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordSettlement counts a settlement attempt. Completed amounts are summed.
func (m *PaymentMetrics) RecordSettlement(ctx context.Context, source, outcome string, amount decimal.Decimal) {
	m.settlements.Inc(ctx, AttrSource.String(source), AttrOutcome.String(outcome))
	if outcome == "completed" {
		m.settledAmount.Add(ctx, amount.InexactFloat64(), AttrSource.String(source))
	}
}

// RecordCallback counts a processed gateway callback.
func (m *PaymentMetrics) RecordCallback(ctx context.Context, disposition string) {
	m.callbacks.Inc(ctx, AttrDisposition.String(disposition))
}

// RecordReconciliation counts a reconciliation query result.
func (m *PaymentMetrics) RecordReconciliation(ctx context.Context, outcome string) {
	m.reconciliations.Inc(ctx, AttrOutcome.String(outcome))
}

// RecordAmbiguousMatch counts a heuristic match that had several candidates.
func (m *PaymentMetrics) RecordAmbiguousMatch(ctx context.Context, candidates int) {
	m.ambiguous.Inc(ctx)
	m.candidates.Record(ctx, float64(candidates))
}

// RecordGatewayRequest records one outbound gateway call. status is 0 when
// no HTTP response was received.
func (m *PaymentMetrics) RecordGatewayRequest(ctx context.Context, operation string, status int, elapsed time.Duration) {
	attrs := []attribute.KeyValue{AttrOperation.String(operation), AttrStatusCode.String(strconv.Itoa(status))}
	m.gatewayCalls.Inc(ctx, attrs...)
	m.gatewayDuration.RecordDuration(ctx, elapsed, AttrOperation.String(operation))
}
