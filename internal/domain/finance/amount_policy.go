package finance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountPolicy decides which amount a successful payment settles for when the
// gateway-reported amount and the requested amount differ. Sandbox gateways
// charge a nominal amount, so non-production deployments trust the request.
type AmountPolicy string

const (
	TrustGatewayAmount   AmountPolicy = "gateway"
	TrustRequestedAmount AmountPolicy = "requested"
)

// ParseAmountPolicy parses a configured policy name.
func ParseAmountPolicy(s string) (AmountPolicy, error) {
	switch AmountPolicy(s) {
	case TrustGatewayAmount, TrustRequestedAmount:
		return AmountPolicy(s), nil
	case "":
		return TrustGatewayAmount, nil
	}
	return "", fmt.Errorf("unknown amount policy %q", s)
}

// SettledAmount picks the amount to record. The gateway amount is used when
// the policy trusts it and it was reported; otherwise the requested amount.
func (p AmountPolicy) SettledAmount(requested, reported decimal.Decimal) decimal.Decimal {
	if p == TrustRequestedAmount || !reported.IsPositive() {
		return requested
	}
	return reported
}
