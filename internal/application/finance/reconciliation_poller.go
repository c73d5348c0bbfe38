package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/erp/billing/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncOutcome is what a reconciliation attempt did for one payment
type SyncOutcome string

const (
	SyncCompleted        SyncOutcome = "completed"
	SyncFailed           SyncOutcome = "failed"
	SyncStillPending     SyncOutcome = "still_pending"
	SyncDeferred         SyncOutcome = "deferred"
	SyncAlreadyProcessed SyncOutcome = "already_processed"
	SyncSkipped          SyncOutcome = "skipped"
)

// SyncResult is the outcome of reconciling one payment
type SyncResult struct {
	PaymentID  uuid.UUID
	Outcome    SyncOutcome
	Settlement *SettlementResult
	// Reason explains a deferred or skipped sync.
	Reason string
}

// BatchResult summarizes one reconciliation sweep
type BatchResult struct {
	Scanned int
	Results []SyncResult
	Errors  int
}

// Count returns how many results had outcome.
func (b *BatchResult) Count(outcome SyncOutcome) int {
	n := 0
	for _, r := range b.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// ReconciliationConfig configures the poller
type ReconciliationConfig struct {
	// MinAge is how long a payment stays pending before it is queried,
	// leaving the callback a chance to arrive first.
	MinAge       time.Duration
	QueryTimeout time.Duration
	BatchSize    int
}

// ReconciliationPoller queries the gateway for payments stuck in PENDING and
// settles them through the same path callbacks use.
type ReconciliationPoller struct {
	scope      TransactionScope
	gateway    finance.PaymentGateway
	settlement *PaymentSettlementService
	metrics    PaymentMetrics
	config     ReconciliationConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewReconciliationPoller creates a new ReconciliationPoller
func NewReconciliationPoller(
	scope TransactionScope,
	gateway finance.PaymentGateway,
	settlement *PaymentSettlementService,
	metrics PaymentMetrics,
	config ReconciliationConfig,
	logger *zap.Logger,
) *ReconciliationPoller {
	if config.MinAge <= 0 {
		config.MinAge = 2 * time.Minute
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationPoller{
		scope:      scope,
		gateway:    gateway,
		settlement: settlement,
		metrics:    metrics,
		config:     config,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sync reconciles a single payment of tenantID. Gateway transport failures
// defer the payment to a later sweep and are not returned as errors.
func (p *ReconciliationPoller) Sync(ctx context.Context, tenantID, paymentID uuid.UUID) (*SyncResult, error) {
	var payment *finance.Payment
	err := p.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		payment, err = repos.PaymentRepo().FindByIDForTenant(ctx, tenantID, paymentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil {
		return nil, finance.NewNotFoundError("payment", paymentID)
	}
	return p.sync(ctx, payment)
}

func (p *ReconciliationPoller) sync(ctx context.Context, payment *finance.Payment) (*SyncResult, error) {
	res := &SyncResult{PaymentID: payment.ID}
	if !payment.IsPending() {
		res.Outcome = SyncAlreadyProcessed
		p.metrics.RecordReconciliation(ctx, string(res.Outcome))
		return res, nil
	}
	if payment.CheckoutRequestID == "" {
		res.Outcome = SyncSkipped
		res.Reason = "payment has no checkout request id"
		p.metrics.RecordReconciliation(ctx, string(res.Outcome))
		return res, nil
	}

	p.markAttempt(ctx, payment.ID)
	queryCtx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	result, err := p.gateway.Query(queryCtx, payment.CheckoutRequestID)
	cancel()
	if err != nil {
		if !finance.IsGateway(err) {
			return nil, err
		}
		res.Outcome = SyncDeferred
		res.Reason = err.Error()
		p.metrics.RecordReconciliation(ctx, string(res.Outcome))
		p.logger.Warn("Gateway status query failed, deferring",
			zap.String("payment_id", payment.ID.String()),
			zap.String("checkout_request_id", payment.CheckoutRequestID),
			zap.Error(err))
		return res, nil
	}

	if result.Pending {
		res.Outcome = SyncStillPending
		p.metrics.RecordReconciliation(ctx, string(res.Outcome))
		p.logger.Debug("Payment still pending at gateway",
			zap.String("payment_id", payment.ID.String()),
			zap.String("checkout_request_id", payment.CheckoutRequestID))
		return res, nil
	}
	if result.CheckoutRequestID == "" {
		result.CheckoutRequestID = payment.CheckoutRequestID
	}

	settlement, err := p.settlement.Settle(ctx, payment.ID, result, SettlementSourceReconciliation)
	if err != nil {
		return nil, err
	}
	res.Settlement = settlement
	switch settlement.Outcome {
	case SettlementCompleted:
		res.Outcome = SyncCompleted
	case SettlementFailed:
		res.Outcome = SyncFailed
	default:
		res.Outcome = SyncAlreadyProcessed
	}
	p.metrics.RecordReconciliation(ctx, string(res.Outcome))
	return res, nil
}

// markAttempt stamps the payment so the next sweep starts with payments that
// have waited longest for a query. Failing to stamp never blocks the query.
func (p *ReconciliationPoller) markAttempt(ctx context.Context, paymentID uuid.UUID) {
	err := p.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		return repos.PaymentRepo().MarkReconciliationAttempt(ctx, paymentID, p.now())
	})
	if err != nil {
		p.logger.Warn("Failed to record reconciliation attempt",
			zap.String("payment_id", paymentID.String()),
			zap.Error(err))
	}
}

// SyncBatch reconciles up to limit pending payments older than MinAge.
// Payments never queried go first, then the least recently queried, so a
// backlog that never settles cannot crowd out newer payments. A failure on
// one payment is logged and the sweep continues.
func (p *ReconciliationPoller) SyncBatch(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = p.config.BatchSize
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "sync_batch")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrBatchSize, limit)

	var pending []finance.Payment
	err := p.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		pending, err = repos.PaymentRepo().FindPendingForReconciliation(ctx, p.now().Add(-p.config.MinAge), limit)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}

	batch := &BatchResult{Scanned: len(pending)}
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		res, err := p.sync(ctx, &pending[i])
		if err != nil {
			batch.Errors++
			p.logger.Error("Payment reconciliation failed",
				zap.String("payment_id", pending[i].ID.String()),
				zap.Error(err))
			continue
		}
		batch.Results = append(batch.Results, *res)
	}

	telemetry.SetAttributes(span,
		"scanned", batch.Scanned,
		"completed", batch.Count(SyncCompleted),
		"errors", batch.Errors,
	)
	if batch.Scanned > 0 {
		p.logger.Info("Reconciliation sweep finished",
			zap.Int("scanned", batch.Scanned),
			zap.Int("completed", batch.Count(SyncCompleted)),
			zap.Int("failed", batch.Count(SyncFailed)),
			zap.Int("still_pending", batch.Count(SyncStillPending)),
			zap.Int("deferred", batch.Count(SyncDeferred)),
			zap.Int("errors", batch.Errors))
	}
	return batch, ctx.Err()
}
