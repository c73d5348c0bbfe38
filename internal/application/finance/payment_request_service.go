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

// InitiatePaymentRequest starts a push payment
type InitiatePaymentRequest struct {
	TenantID           uuid.UUID          `json:"tenant_id" validate:"required"`
	Phone              string             `json:"phone" validate:"required"`
	Amount             decimal.Decimal    `json:"amount"`
	AccountReference   string             `json:"account_reference" validate:"required,max=12"`
	Description        string             `json:"description" validate:"max=13"`
	TargetType         finance.TargetType `json:"target_type" validate:"omitempty,oneof=INVOICE BILL SUBSCRIPTION"`
	TargetID           uuid.UUID          `json:"target_id" validate:"required_with=TargetType"`
	ContactID          *uuid.UUID         `json:"contact_id"`
	DepositAccountCode string             `json:"deposit_account_code"`
}

// PaymentRequestConfig configures payment initiation
type PaymentRequestConfig struct {
	GatewayTimeout time.Duration
}

// PaymentRequestService initiates push payments and records them as pending
type PaymentRequestService struct {
	scope   TransactionScope
	gateway finance.PaymentGateway
	config  PaymentRequestConfig
	logger  *zap.Logger
}

// NewPaymentRequestService creates a new PaymentRequestService
func NewPaymentRequestService(scope TransactionScope, gateway finance.PaymentGateway, config PaymentRequestConfig, logger *zap.Logger) *PaymentRequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.GatewayTimeout <= 0 {
		config.GatewayTimeout = 30 * time.Second
	}
	return &PaymentRequestService{scope: scope, gateway: gateway, config: config, logger: logger}
}

// Initiate validates the request, sends the push request and stores a
// PENDING payment carrying the gateway's correlation ids. Gateway failures
// are returned as GatewayErrors and nothing is stored.
func (s *PaymentRequestService) Initiate(ctx context.Context, req InitiatePaymentRequest) (*finance.Payment, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "payment", "initiate")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrTenantID, req.TenantID.String(),
		telemetry.SpanAttrTargetType, string(req.TargetType),
		telemetry.SpanAttrAmount, req.Amount,
	)

	phone, err := finance.NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	payment, err := finance.NewPendingPayment(req.TenantID, phone, req.Amount, req.AccountReference,
		finance.PaymentTarget{Type: req.TargetType, ID: req.TargetID}, req.ContactID, req.DepositAccountCode)
	if err != nil {
		return nil, err
	}

	if err := s.checkTarget(ctx, payment); err != nil {
		return nil, err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()
	resp, err := s.gateway.Initiate(gwCtx, &finance.STKPushRequest{
		Phone:            phone,
		Amount:           req.Amount,
		AccountReference: req.AccountReference,
		Description:      req.Description,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Warn("Payment initiation failed",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("account_reference", req.AccountReference),
			zap.Error(err))
		return nil, err
	}
	if err := payment.AttachGatewayRequest(resp.CheckoutRequestID, resp.MerchantRequestID); err != nil {
		return nil, err
	}

	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		return repos.PaymentRepo().Create(ctx, payment)
	})
	if err != nil {
		// The push was sent; reconciliation cannot find it without this row.
		telemetry.RecordError(span, err)
		s.logger.Error("Failed to record initiated payment",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("checkout_request_id", resp.CheckoutRequestID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	s.logger.Info("Payment initiated",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("checkout_request_id", payment.CheckoutRequestID),
		zap.String("amount", payment.Amount.StringFixed(2)))
	telemetry.SetAttributes(span,
		telemetry.SpanAttrPaymentID, payment.ID.String(),
		telemetry.SpanAttrCheckoutRequestID, payment.CheckoutRequestID,
	)
	telemetry.SetOK(span)
	return payment, nil
}

// checkTarget verifies that a linked document or subscription exists for the tenant.
func (s *PaymentRequestService) checkTarget(ctx context.Context, payment *finance.Payment) error {
	if !payment.Target.IsSet() {
		return nil
	}
	return s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if kind, ok := payment.Target.DocumentKind(); ok {
			doc, err := repos.DocumentRepo().FindByIDForTenant(ctx, payment.TenantID, kind, payment.Target.ID)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", kind, err)
			}
			if doc == nil {
				return finance.NewNotFoundError(string(kind), payment.Target.ID)
			}
			if !doc.CanAcceptPayment() {
				return finance.NewValidationError("target_id", "%s %s cannot accept payments", kind, doc.Number)
			}
			if payment.ContactID == nil {
				contactID := doc.ContactID
				payment.ContactID = &contactID
			}
			return nil
		}
		sub, err := repos.SubscriptionRepo().FindByIDForUpdate(ctx, payment.TenantID, payment.Target.ID)
		if err != nil {
			return fmt.Errorf("failed to load subscription: %w", err)
		}
		if sub == nil {
			return finance.NewNotFoundError("subscription", payment.Target.ID)
		}
		return nil
	})
}
