package finance

import (
	"time"

	"github.com/erp/billing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionStatus represents the status of a tenant subscription
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusTrial     SubscriptionStatus = "TRIAL"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

// IsValid checks if the status is valid
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusTrial, SubscriptionStatusActive,
		SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// BillingInterval is the length of one paid subscription period
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "MONTHLY"
	BillingIntervalYearly  BillingInterval = "YEARLY"
)

// IsValid checks if the interval is valid
func (i BillingInterval) IsValid() bool {
	return i == BillingIntervalMonthly || i == BillingIntervalYearly
}

// PeriodEnd returns the end of a period starting at start.
func (i BillingInterval) PeriodEnd(start time.Time) time.Time {
	if i == BillingIntervalYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// Subscription is a plan subscription paid through the gateway
type Subscription struct {
	shared.TenantAggregateRoot
	PlanCode           string
	Price              decimal.Decimal
	Status             SubscriptionStatus
	BillingInterval    BillingInterval
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	LastPaymentID      *uuid.UUID
}

// NewSubscription creates a subscription pending its first payment
func NewSubscription(tenantID uuid.UUID, planCode string, price decimal.Decimal, interval BillingInterval) (*Subscription, error) {
	if planCode == "" {
		return nil, NewValidationError("plan_code", "is required")
	}
	if !interval.IsValid() {
		return nil, NewValidationError("billing_interval", "unknown interval %q", interval)
	}
	if price.IsNegative() {
		return nil, NewValidationError("price", "cannot be negative")
	}
	return &Subscription{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		PlanCode:            planCode,
		Price:               price,
		Status:              SubscriptionStatusPending,
		BillingInterval:     interval,
	}, nil
}

// Activate marks the subscription active for one billing period starting at
// paidAt. An active subscription paid before its period ends is extended
// from the current period end instead.
func (s *Subscription) Activate(paymentID uuid.UUID, paidAt time.Time) error {
	if s.Status == SubscriptionStatusCancelled {
		return NewValidationError("status", "cannot activate a cancelled subscription")
	}
	start := paidAt
	if s.Status == SubscriptionStatusActive && s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(paidAt) {
		start = *s.CurrentPeriodEnd
	}
	end := s.BillingInterval.PeriodEnd(start)
	s.CurrentPeriodStart = &start
	s.CurrentPeriodEnd = &end
	s.Status = SubscriptionStatusActive
	s.LastPaymentID = &paymentID
	s.IncrementVersion()
	return nil
}

// StartTrial moves a PENDING subscription into a trial ending at until.
func (s *Subscription) StartTrial(startAt, until time.Time) error {
	if s.Status != SubscriptionStatusPending {
		return NewValidationError("status", "cannot start a trial on a %s subscription", s.Status)
	}
	if !until.After(startAt) {
		return NewValidationError("trial_end", "must be after the trial start")
	}
	s.CurrentPeriodStart = &startAt
	s.CurrentPeriodEnd = &until
	s.Status = SubscriptionStatusTrial
	s.IncrementVersion()
	return nil
}

// Cancel ends the subscription. A cancelled subscription is never activated again.
func (s *Subscription) Cancel() error {
	if s.Status == SubscriptionStatusCancelled {
		return NewValidationError("status", "subscription is already cancelled")
	}
	s.Status = SubscriptionStatusCancelled
	s.IncrementVersion()
	return nil
}

// Expire lapses an ACTIVE or TRIAL subscription whose period ended before now.
// A later payment re-activates it.
func (s *Subscription) Expire(now time.Time) error {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusTrial {
		return NewValidationError("status", "cannot expire a %s subscription", s.Status)
	}
	if s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now) {
		return NewValidationError("current_period_end", "period has not ended")
	}
	s.Status = SubscriptionStatusExpired
	s.IncrementVersion()
	return nil
}
