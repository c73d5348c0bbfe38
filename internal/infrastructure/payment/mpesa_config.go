package payment

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

const (
	mpesaSandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	mpesaProductionBaseURL = "https://api.safaricom.co.ke"

	// MpesaEnvironmentSandbox selects the Daraja sandbox
	MpesaEnvironmentSandbox = "sandbox"
	// MpesaEnvironmentProduction selects the live Daraja API
	MpesaEnvironmentProduction = "production"

	// DefaultMpesaTransactionType is the paybill STK push transaction type
	DefaultMpesaTransactionType = "CustomerPayBillOnline"

	defaultMpesaTimeout = 30 * time.Second
)

// MpesaConfig contains configuration for the M-Pesa Daraja API
type MpesaConfig struct {
	// Environment is sandbox or production
	Environment string
	// BaseURL overrides the environment's API host when set
	BaseURL string
	// ConsumerKey and ConsumerSecret are the OAuth client credentials
	ConsumerKey    string
	ConsumerSecret string
	// ShortCode is the paybill or till number receiving payments
	ShortCode string
	// PassKey is the Lipa Na M-Pesa Online pass key
	PassKey string
	// TransactionType is CustomerPayBillOnline or CustomerBuyGoodsOnline
	TransactionType string
	// CallbackURL receives the asynchronous STK push result
	CallbackURL string
	// Timeout bounds every HTTP call to the gateway
	Timeout time.Duration
	// TrustedCIDRs lists the networks callbacks may originate from
	TrustedCIDRs []string
}

// Errors for configuration validation
var (
	ErrMpesaInvalidEnvironment = errors.New("mpesa: environment must be sandbox or production")
	ErrMpesaMissingConsumerKey = errors.New("mpesa: missing consumer key")
	ErrMpesaMissingSecret      = errors.New("mpesa: missing consumer secret")
	ErrMpesaMissingShortCode   = errors.New("mpesa: missing short code")
	ErrMpesaMissingPassKey     = errors.New("mpesa: missing pass key")
	ErrMpesaMissingCallbackURL = errors.New("mpesa: missing callback URL")
	ErrMpesaInvalidCIDR        = errors.New("mpesa: invalid trusted CIDR")
)

// Validate validates the configuration
func (c *MpesaConfig) Validate() error {
	switch c.Environment {
	case "", MpesaEnvironmentSandbox, MpesaEnvironmentProduction:
	default:
		return ErrMpesaInvalidEnvironment
	}
	if c.ConsumerKey == "" {
		return ErrMpesaMissingConsumerKey
	}
	if c.ConsumerSecret == "" {
		return ErrMpesaMissingSecret
	}
	if c.ShortCode == "" {
		return ErrMpesaMissingShortCode
	}
	if c.PassKey == "" {
		return ErrMpesaMissingPassKey
	}
	if c.CallbackURL == "" {
		return ErrMpesaMissingCallbackURL
	}
	if _, err := parsePrefixes(c.TrustedCIDRs); err != nil {
		return err
	}
	return nil
}

func (c *MpesaConfig) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.Environment == MpesaEnvironmentProduction {
		return mpesaProductionBaseURL
	}
	return mpesaSandboxBaseURL
}

func (c *MpesaConfig) transactionType() string {
	if c.TransactionType == "" {
		return DefaultMpesaTransactionType
	}
	return c.TransactionType
}

func (c *MpesaConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultMpesaTimeout
	}
	return c.Timeout
}

// parsePrefixes accepts CIDRs and bare addresses.
func parsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrMpesaInvalidCIDR, raw)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMpesaInvalidCIDR, raw)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}
