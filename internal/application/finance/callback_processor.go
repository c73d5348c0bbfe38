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

// CallbackStage is a step of callback handling
type CallbackStage string

const (
	StageReceived     CallbackStage = "RECEIVED"
	StageValidated    CallbackStage = "VALIDATED"
	StageMatched      CallbackStage = "MATCHED"
	StageProcessed    CallbackStage = "PROCESSED"
	StageAcknowledged CallbackStage = "ACKNOWLEDGED"
)

// CallbackDisposition is the overall result of handling one callback
type CallbackDisposition string

const (
	DispositionCompleted        CallbackDisposition = "completed"
	DispositionFailed           CallbackDisposition = "failed"
	DispositionAlreadyProcessed CallbackDisposition = "already_processed"
	DispositionUntrustedSource  CallbackDisposition = "untrusted_source"
	DispositionInvalidPayload   CallbackDisposition = "invalid_payload"
	DispositionUnmatched        CallbackDisposition = "unmatched"
	DispositionError            CallbackDisposition = "error"
)

// CallbackRequest is one raw inbound notification
type CallbackRequest struct {
	Payload  []byte
	SourceIP string
}

// CallbackOutcome describes how a callback was handled. It always ends
// acknowledged; Err carries the logged reason when nothing was applied.
type CallbackOutcome struct {
	Stages      []CallbackStage
	Disposition CallbackDisposition
	PaymentID   *uuid.UUID
	MatchedBy   MatchMethod
	Result      *finance.GatewayResult
	Settlement  *SettlementResult
	Err         error
}

// Stage returns the last stage reached.
func (o *CallbackOutcome) Stage() CallbackStage {
	if len(o.Stages) == 0 {
		return ""
	}
	return o.Stages[len(o.Stages)-1]
}

// Reached reports whether stage was passed through.
func (o *CallbackOutcome) Reached(stage CallbackStage) bool {
	for _, s := range o.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func (o *CallbackOutcome) advance(stage CallbackStage) {
	o.Stages = append(o.Stages, stage)
}

// CallbackProcessorConfig configures callback handling
type CallbackProcessorConfig struct {
	// EnforceTrustedSource rejects callbacks from outside the gateway's
	// address range. When false the check only logs.
	EnforceTrustedSource bool
}

// CallbackProcessor validates and applies asynchronous gateway notifications.
// It never returns an error: every callback is acknowledged so the gateway
// does not retry, and reconciliation picks up anything left pending.
type CallbackProcessor struct {
	gateway    finance.PaymentGateway
	matcher    *PaymentMatcher
	settlement *PaymentSettlementService
	callbacks  CallbackLog
	metrics    PaymentMetrics
	config     CallbackProcessorConfig
	logger     *zap.Logger
}

// NewCallbackProcessor creates a new CallbackProcessor
func NewCallbackProcessor(
	gateway finance.PaymentGateway,
	matcher *PaymentMatcher,
	settlement *PaymentSettlementService,
	callbacks CallbackLog,
	metrics PaymentMetrics,
	config CallbackProcessorConfig,
	logger *zap.Logger,
) *CallbackProcessor {
	if callbacks == nil {
		callbacks = noopCallbackLog{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackProcessor{
		gateway:    gateway,
		matcher:    matcher,
		settlement: settlement,
		callbacks:  callbacks,
		metrics:    metrics,
		config:     config,
		logger:     logger,
	}
}

// Handle processes one callback and always returns an acknowledged outcome.
func (p *CallbackProcessor) Handle(ctx context.Context, req CallbackRequest) (out CallbackOutcome) {
	out.advance(StageReceived)
	receivedAt := time.Now().UTC()

	ctx, span := telemetry.StartServiceSpan(ctx, "callback", "handle")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			out.Disposition = DispositionError
			out.Err = fmt.Errorf("callback processing panicked: %v", r)
			p.logger.Error("Callback processing panicked",
				zap.String("source_ip", req.SourceIP),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
		stage := out.Stage()
		out.advance(StageAcknowledged)
		p.metrics.RecordCallback(ctx, string(out.Disposition))
		p.record(ctx, req, receivedAt, stage, &out)

		telemetry.SetAttribute(span, telemetry.SpanAttrDisposition, string(out.Disposition))
		if out.Result != nil {
			telemetry.SetAttribute(span, telemetry.SpanAttrCheckoutRequestID, out.Result.CheckoutRequestID)
		}
		if out.Disposition == DispositionError {
			telemetry.RecordError(span, out.Err)
		}
	}()

	p.process(ctx, req, &out)
	return out
}

func (p *CallbackProcessor) process(ctx context.Context, req CallbackRequest, out *CallbackOutcome) {
	if !p.gateway.IsTrustedSource(req.SourceIP) {
		if p.config.EnforceTrustedSource {
			out.Disposition = DispositionUntrustedSource
			out.Err = finance.NewNotFoundError("callback source", req.SourceIP)
			p.logger.Warn("Callback from untrusted source rejected", zap.String("source_ip", req.SourceIP))
			return
		}
		p.logger.Warn("Callback from untrusted source accepted outside production", zap.String("source_ip", req.SourceIP))
	}

	result, err := p.gateway.ParseCallback(ctx, req.Payload)
	if err != nil {
		out.Disposition = DispositionInvalidPayload
		out.Err = err
		p.logger.Warn("Invalid callback payload",
			zap.String("source_ip", req.SourceIP),
			zap.Int("payload_bytes", len(req.Payload)),
			zap.Error(err))
		return
	}
	out.Result = result
	out.advance(StageValidated)

	payment, method, err := p.matcher.Match(ctx, result)
	if err != nil {
		out.Disposition = DispositionError
		out.Err = err
		p.logger.Error("Callback matching failed",
			zap.String("checkout_request_id", result.CheckoutRequestID),
			zap.Error(err))
		return
	}
	if payment == nil {
		out.Disposition = DispositionUnmatched
		out.Err = finance.NewNotFoundError("payment", result.CheckoutRequestID)
		p.logger.Warn("Callback did not match any payment",
			zap.String("checkout_request_id", result.CheckoutRequestID),
			zap.String("merchant_request_id", result.MerchantRequestID),
			zap.Int("result_code", result.ResultCode))
		return
	}
	paymentID := payment.ID
	out.PaymentID = &paymentID
	out.MatchedBy = method
	out.advance(StageMatched)

	settlement, err := p.settlement.Settle(ctx, payment.ID, result, SettlementSourceCallback)
	if err != nil {
		out.Disposition = DispositionError
		out.Err = err
		p.logger.Error("Callback settlement failed",
			zap.String("payment_id", payment.ID.String()),
			zap.String("checkout_request_id", result.CheckoutRequestID),
			zap.Error(err))
		return
	}
	out.Settlement = settlement
	out.advance(StageProcessed)

	switch settlement.Outcome {
	case SettlementCompleted:
		out.Disposition = DispositionCompleted
	case SettlementFailed:
		out.Disposition = DispositionFailed
	default:
		out.Disposition = DispositionAlreadyProcessed
	}
}

// record writes the callback log. Failures are logged and ignored.
func (p *CallbackProcessor) record(ctx context.Context, req CallbackRequest, receivedAt time.Time, stage CallbackStage, out *CallbackOutcome) {
	entry := &CallbackLogEntry{
		ID:          uuid.New(),
		PaymentID:   out.PaymentID,
		SourceIP:    req.SourceIP,
		Payload:     req.Payload,
		Stage:       stage,
		Disposition: out.Disposition,
		ReceivedAt:  receivedAt,
	}
	if out.Result != nil {
		entry.CheckoutRequestID = out.Result.CheckoutRequestID
	}
	if out.Settlement != nil && out.Settlement.Payment != nil {
		tenantID := out.Settlement.Payment.TenantID
		entry.TenantID = &tenantID
	}
	if out.Err != nil {
		entry.Error = out.Err.Error()
	}
	if err := p.callbacks.Record(context.WithoutCancel(ctx), entry); err != nil {
		p.logger.Warn("Failed to record callback log", zap.Error(err))
	}
}
