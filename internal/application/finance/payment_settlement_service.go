package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/erp/billing/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementSource identifies which path reported the gateway outcome
type SettlementSource string

const (
	SettlementSourceCallback       SettlementSource = "callback"
	SettlementSourceReconciliation SettlementSource = "reconciliation"
)

// SettlementOutcome is what Settle did to the payment
type SettlementOutcome string

const (
	SettlementCompleted        SettlementOutcome = "completed"
	SettlementFailed           SettlementOutcome = "failed"
	SettlementAlreadyProcessed SettlementOutcome = "already_processed"
)

// SettlementResult is the state after Settle
type SettlementResult struct {
	Outcome      SettlementOutcome
	Payment      *finance.Payment
	Allocations  []finance.PaymentAllocation
	Document     *finance.Document
	Subscription *finance.Subscription
	JournalEntry *finance.JournalEntry
}

// SettlementConfig configures settlement
type SettlementConfig struct {
	AmountPolicy    finance.AmountPolicy
	NotifierTimeout time.Duration
}

// PaymentSettlementService is the single transactional, idempotency-gated
// routine that moves a payment out of PENDING. Callbacks and reconciliation
// both settle through it; whichever locks the payment first wins and the
// other observes a terminal status and does nothing.
type PaymentSettlementService struct {
	scope     TransactionScope
	allocator *PaymentAllocator
	poster    *LedgerPoster
	notifier  Notifier
	metrics   PaymentMetrics
	config    SettlementConfig
	logger    *zap.Logger
}

// PaymentSettlementServiceConfig holds collaborators for the settlement service
type PaymentSettlementServiceConfig struct {
	Scope     TransactionScope
	Allocator *PaymentAllocator
	Poster    *LedgerPoster
	Notifier  Notifier
	Metrics   PaymentMetrics
	Settings  SettlementConfig
	Logger    *zap.Logger
}

// NewPaymentSettlementService creates a new PaymentSettlementService
func NewPaymentSettlementService(cfg PaymentSettlementServiceConfig) *PaymentSettlementService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	settings := cfg.Settings
	if settings.AmountPolicy == "" {
		settings.AmountPolicy = finance.TrustGatewayAmount
	}
	if settings.NotifierTimeout <= 0 {
		settings.NotifierTimeout = 10 * time.Second
	}
	return &PaymentSettlementService{
		scope:     cfg.Scope,
		allocator: cfg.Allocator,
		poster:    cfg.Poster,
		notifier:  notifier,
		metrics:   metrics,
		config:    settings,
		logger:    logger,
	}
}

// Settle applies a final gateway result to the payment. A payment that has
// already left PENDING yields SettlementAlreadyProcessed and no error.
func (s *PaymentSettlementService) Settle(ctx context.Context, paymentID uuid.UUID, result *finance.GatewayResult, source SettlementSource) (*SettlementResult, error) {
	if result == nil || result.Pending {
		return nil, finance.NewValidationError("result", "cannot settle a payment without a final gateway result")
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "settle")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrPaymentID, paymentID.String(),
		telemetry.SpanAttrSource, string(source),
		"result_code", result.ResultCode,
	)

	out := &SettlementResult{}
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		payment, err := repos.PaymentRepo().FindByIDForUpdate(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("failed to lock payment: %w", err)
		}
		if payment == nil {
			return finance.NewNotFoundError("payment", paymentID)
		}
		out.Payment = payment

		// Idempotency gate: only a PENDING payment can be settled.
		if !payment.IsPending() {
			out.Outcome = SettlementAlreadyProcessed
			return nil
		}

		before := payment.Snapshot()
		if result.IsSuccess() {
			err = s.complete(ctx, repos, payment, result, out)
		} else {
			err = s.fail(ctx, repos, payment, result, out)
		}
		if err != nil {
			return err
		}

		action := "payment.completed"
		if out.Outcome == SettlementFailed {
			action = "payment.failed"
		}
		return repos.AuditLog().Record(ctx, AuditEntry{
			TenantID:   payment.TenantID,
			Actor:      "system:" + string(source),
			Action:     action,
			EntityType: "payment",
			EntityID:   payment.ID,
			Before:     before,
			After:      out.Payment.Snapshot(),
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("Payment settlement failed",
			zap.String("payment_id", paymentID.String()),
			zap.String("source", string(source)),
			zap.Error(err))
		return nil, err
	}

	payment := out.Payment
	s.metrics.RecordSettlement(ctx, string(source), string(out.Outcome), payment.Amount)
	telemetry.SetAttribute(span, telemetry.SpanAttrOutcome, string(out.Outcome))

	switch out.Outcome {
	case SettlementAlreadyProcessed:
		s.logger.Info("Payment already settled",
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", string(payment.Status)),
			zap.String("source", string(source)))
	case SettlementCompleted:
		s.logger.Info("Payment completed",
			zap.String("tenant_id", payment.TenantID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.String("receipt", payment.Receipt),
			zap.String("amount", payment.Amount.StringFixed(2)),
			zap.String("source", string(source)))
		s.sendReceipt(ctx, payment)
	case SettlementFailed:
		s.logger.Info("Payment failed",
			zap.String("tenant_id", payment.TenantID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.Int("result_code", result.ResultCode),
			zap.String("result_desc", result.ResultDesc),
			zap.String("source", string(source)))
	}
	telemetry.SetOK(span)
	return out, nil
}

func (s *PaymentSettlementService) complete(ctx context.Context, repos TransactionalRepositories, payment *finance.Payment, result *finance.GatewayResult, out *SettlementResult) error {
	amount := s.config.AmountPolicy.SettledAmount(payment.RequestedAmount, result.Amount)
	if !result.Amount.IsZero() && !amount.Equal(result.Amount) {
		s.logger.Warn("Gateway amount differs from settled amount",
			zap.String("payment_id", payment.ID.String()),
			zap.String("gateway_amount", result.Amount.StringFixed(2)),
			zap.String("settled_amount", amount.StringFixed(2)),
			zap.String("policy", string(s.config.AmountPolicy)))
	}

	// Status queries report neither the payer's phone nor the receipt.
	phone := result.Phone
	if phone == "" {
		phone = payment.RequestPhone
	}
	if err := payment.Complete(finance.Completion{
		Amount:          amount,
		Receipt:         result.Receipt,
		Phone:           phone,
		TransactionDate: result.TransactionDate,
		ResultCode:      result.ResultCode,
		ResultDesc:      result.ResultDesc,
		Raw:             result.Raw,
	}); err != nil {
		return err
	}
	if err := repos.PaymentRepo().Save(ctx, payment); err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	out.Outcome = SettlementCompleted

	if payment.Target.Type == finance.TargetTypeSubscription {
		return s.activateSubscription(ctx, repos, payment, out)
	}

	doc, err := s.resolveDocument(ctx, repos, payment)
	if err != nil {
		return err
	}
	if doc == nil {
		entry, err := s.poster.PostWith(ctx, repos, payment.TenantID, finance.PaymentSource(payment.ID))
		if err != nil {
			return err
		}
		out.JournalEntry = entry
		payment.AttachJournalEntry(entry.ID)
		return nil
	}

	allocation, err := s.allocator.AllocateWith(ctx, repos, AllocatePaymentRequest{
		TenantID:  payment.TenantID,
		PaymentID: payment.ID,
		Allocations: []AllocationLine{{
			Kind:       doc.Kind,
			DocumentID: doc.ID,
			Amount:     decimal.Min(doc.Outstanding(), payment.Amount),
		}},
	})
	if err != nil {
		return err
	}
	out.Payment = allocation.Payment
	out.Allocations = allocation.Allocations
	out.Document = allocation.Documents[0]
	out.JournalEntry = allocation.JournalEntry
	return nil
}

// resolveDocument finds the invoice or bill a completed payment settles: the
// linked target, else the contact's most recent outstanding invoice. A nil
// document means the payment is posted entirely as unapplied funds.
func (s *PaymentSettlementService) resolveDocument(ctx context.Context, repos TransactionalRepositories, payment *finance.Payment) (*finance.Document, error) {
	if kind, ok := payment.Target.DocumentKind(); ok {
		doc, err := repos.DocumentRepo().FindByIDForUpdate(ctx, payment.TenantID, kind, payment.Target.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", kind, err)
		}
		if doc != nil && doc.CanAcceptPayment() {
			return doc, nil
		}
		s.logger.Warn("Payment target cannot accept payment, falling back",
			zap.String("payment_id", payment.ID.String()),
			zap.String("target_type", string(payment.Target.Type)),
			zap.String("target_id", payment.Target.ID.String()))
	}

	if payment.ContactID == nil {
		return nil, nil
	}
	doc, err := repos.DocumentRepo().FindLatestOutstanding(ctx, payment.TenantID, finance.DocumentKindInvoice, *payment.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to find outstanding invoice: %w", err)
	}
	if doc != nil {
		s.logger.Info("Payment matched to latest outstanding invoice",
			zap.String("payment_id", payment.ID.String()),
			zap.String("invoice_id", doc.ID.String()),
			zap.String("invoice_number", doc.Number))
	}
	return doc, nil
}

func (s *PaymentSettlementService) activateSubscription(ctx context.Context, repos TransactionalRepositories, payment *finance.Payment, out *SettlementResult) error {
	sub, err := repos.SubscriptionRepo().FindByIDForUpdate(ctx, payment.TenantID, payment.Target.ID)
	if err != nil {
		return fmt.Errorf("failed to lock subscription: %w", err)
	}
	if sub == nil {
		return s.refuseActivation(ctx, repos, payment, nil, "subscription not found", out)
	}
	before := struct {
		Status finance.SubscriptionStatus `json:"status"`
		End    *time.Time                 `json:"current_period_end,omitempty"`
	}{sub.Status, sub.CurrentPeriodEnd}

	if err := sub.Activate(payment.ID, *payment.PaymentDate); err != nil {
		if !finance.IsValidation(err) {
			return err
		}
		return s.refuseActivation(ctx, repos, payment, sub, err.Error(), out)
	}
	if err := repos.SubscriptionRepo().Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	out.Subscription = sub

	return repos.AuditLog().Record(ctx, AuditEntry{
		TenantID:   sub.TenantID,
		Actor:      "system:payment",
		Action:     "subscription.activated",
		EntityType: "subscription",
		EntityID:   sub.ID,
		Before:     before,
		After: struct {
			Status finance.SubscriptionStatus `json:"status"`
			Start  *time.Time                 `json:"current_period_start"`
			End    *time.Time                 `json:"current_period_end"`
		}{sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd},
	})
}

// refuseActivation keeps a collected payment when its subscription can no
// longer be activated: the payment stays COMPLETED, its amount is posted as
// unapplied funds and the refusal is audited against the subscription.
func (s *PaymentSettlementService) refuseActivation(ctx context.Context, repos TransactionalRepositories, payment *finance.Payment, sub *finance.Subscription, reason string, out *SettlementResult) error {
	s.logger.Warn("Subscription activation refused, holding payment as unapplied funds",
		zap.String("payment_id", payment.ID.String()),
		zap.String("subscription_id", payment.Target.ID.String()),
		zap.String("reason", reason))

	entry, err := s.poster.PostWith(ctx, repos, payment.TenantID, finance.PaymentSource(payment.ID))
	if err != nil {
		return err
	}
	out.JournalEntry = entry
	payment.AttachJournalEntry(entry.ID)

	state := struct {
		Status finance.SubscriptionStatus `json:"status,omitempty"`
		Reason string                     `json:"reason"`
	}{Reason: reason}
	if sub != nil {
		state.Status = sub.Status
		out.Subscription = sub
	}
	return repos.AuditLog().Record(ctx, AuditEntry{
		TenantID:   payment.TenantID,
		Actor:      "system:payment",
		Action:     "subscription.activation_refused",
		EntityType: "subscription",
		EntityID:   payment.Target.ID,
		Before:     state,
	})
}

func (s *PaymentSettlementService) fail(ctx context.Context, repos TransactionalRepositories, payment *finance.Payment, result *finance.GatewayResult, out *SettlementResult) error {
	if err := payment.Fail(result.ResultCode, result.ResultDesc); err != nil {
		return err
	}
	if err := repos.PaymentRepo().Save(ctx, payment); err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	out.Outcome = SettlementFailed
	return nil
}

// sendReceipt notifies the customer without waiting for delivery.
func (s *PaymentSettlementService) sendReceipt(ctx context.Context, payment *finance.Payment) {
	receipt := Receipt{
		TenantID:  payment.TenantID,
		PaymentID: payment.ID,
		Receipt:   payment.Receipt,
		Amount:    payment.Amount,
		Phone:     payment.Phone,
		PaidAt:    *payment.PaymentDate,
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.NotifierTimeout)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Receipt notifier panicked", zap.Any("panic", r))
			}
		}()
		if err := s.notifier.SendReceipt(notifyCtx, receipt); err != nil {
			s.logger.Warn("Failed to send payment receipt",
				zap.String("payment_id", receipt.PaymentID.String()),
				zap.Error(err))
		}
	}()
}
