package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/billing/internal/domain/finance"
	"github.com/erp/billing/internal/infrastructure/cache"
)

const (
	mpesaTokenPath    = "/oauth/v1/generate?grant_type=client_credentials"
	mpesaSTKPushPath  = "/mpesa/stkpush/v1/processrequest"
	mpesaSTKQueryPath = "/mpesa/stkpushquery/v1/query"

	// tokens are refreshed this long before Daraja expires them
	mpesaTokenExpiryMargin = time.Minute
	mpesaDefaultTokenTTL   = 50 * time.Minute

	defaultTransactionDesc = "Payment"
)

// Gateway operation names used for errors and metrics
const (
	opToken    = "token"
	opInitiate = "initiate"
	opQuery    = "query"
)

var eastAfricaTime = time.FixedZone("EAT", 3*60*60)

// TokenCache stores OAuth access tokens between gateway calls
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GatewayMetrics records the latency and status of outbound gateway calls
type GatewayMetrics interface {
	RecordGatewayRequest(ctx context.Context, operation string, status int, elapsed time.Duration)
}

// MpesaOption configures an MpesaAdapter
type MpesaOption func(*MpesaAdapter)

// WithTokenCache shares access tokens through cache, e.g. Redis across instances
func WithTokenCache(tokens TokenCache) MpesaOption {
	return func(a *MpesaAdapter) { a.tokens = tokens }
}

// WithHTTPClient replaces the default bounded HTTP client
func WithHTTPClient(client *http.Client) MpesaOption {
	return func(a *MpesaAdapter) { a.httpClient = client }
}

// WithGatewayMetrics records every outbound request
func WithGatewayMetrics(metrics GatewayMetrics) MpesaOption {
	return func(a *MpesaAdapter) { a.metrics = metrics }
}

// WithLogger sets the adapter logger
func WithLogger(logger *zap.Logger) MpesaOption {
	return func(a *MpesaAdapter) { a.logger = logger }
}

// MpesaAdapter implements the PaymentGateway port for M-Pesa STK push
type MpesaAdapter struct {
	config     *MpesaConfig
	httpClient *http.Client
	tokens     TokenCache
	metrics    GatewayMetrics
	trusted    []netip.Prefix
	validate   *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewMpesaAdapter creates a new M-Pesa adapter
func NewMpesaAdapter(config *MpesaConfig, opts ...MpesaOption) (*MpesaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	trusted, err := parsePrefixes(config.TrustedCIDRs)
	if err != nil {
		return nil, err
	}

	a := &MpesaAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.timeout(),
		},
		trusted:  trusted,
		validate: validator.New(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tokens == nil {
		a.tokens = cache.NewMemoryTokenCache()
	}
	return a, nil
}

// Initiate sends an STK push prompting the subscriber to authorize payment
func (a *MpesaAdapter) Initiate(ctx context.Context, req *finance.STKPushRequest) (*finance.STKPushResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	phone, err := finance.NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	if !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, finance.NewValidationError("amount", "must be a whole amount, got %s", req.Amount)
	}
	desc := req.Description
	if desc == "" {
		desc = defaultTransactionDesc
	}

	password, timestamp := a.password()
	body := mpesaSTKPushBody{
		BusinessShortCode: a.config.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   a.config.transactionType(),
		Amount:            req.Amount.IntPart(),
		PartyA:            phone,
		PartyB:            a.config.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       a.config.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   desc,
	}

	respBody, err := a.postJSON(ctx, opInitiate, mpesaSTKPushPath, body)
	if err != nil {
		return nil, err
	}

	var resp mpesaSTKPushResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, finance.NewGatewayError(opInitiate, http.StatusOK, fmt.Errorf("mpesa: failed to parse response: %w", err))
	}
	if resp.ResponseCode != "0" {
		return nil, finance.NewGatewayError(opInitiate, http.StatusOK, &MpesaAPIError{Code: resp.ResponseCode, Message: resp.ResponseDescription})
	}
	if resp.CheckoutRequestID == "" {
		return nil, finance.NewGatewayError(opInitiate, http.StatusOK, errors.New("mpesa: response has no checkout request id"))
	}

	return &finance.STKPushResponse{
		CheckoutRequestID:   resp.CheckoutRequestID,
		MerchantRequestID:   resp.MerchantRequestID,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
	}, nil
}

// Query fetches the status of an STK push. A request the subscriber has not
// answered yet comes back as a pending result, not an error.
func (a *MpesaAdapter) Query(ctx context.Context, checkoutRequestID string) (*finance.GatewayResult, error) {
	if strings.TrimSpace(checkoutRequestID) == "" {
		return nil, finance.NewValidationError("checkout_request_id", "is required")
	}

	password, timestamp := a.password()
	body := mpesaQueryBody{
		BusinessShortCode: a.config.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	respBody, err := a.postJSON(ctx, opQuery, mpesaSTKQueryPath, body)
	if err != nil {
		var apiErr *MpesaAPIError
		if errors.As(err, &apiErr) && apiErr.Code == mpesaErrorStillProcessing {
			return &finance.GatewayResult{
				CheckoutRequestID: checkoutRequestID,
				ResultDesc:        apiErr.Message,
				Pending:           true,
			}, nil
		}
		return nil, err
	}

	var resp mpesaQueryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, finance.NewGatewayError(opQuery, http.StatusOK, fmt.Errorf("mpesa: failed to parse response: %w", err))
	}

	result := &finance.GatewayResult{
		CheckoutRequestID: checkoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		ResultDesc:        resp.ResultDesc,
		Raw:               json.RawMessage(respBody),
	}
	if resp.ResultCode == "" {
		result.Pending = true
		result.ResultDesc = resp.ResponseDescription
		return result, nil
	}
	code, err := strconv.Atoi(resp.ResultCode)
	if err != nil {
		return nil, finance.NewGatewayError(opQuery, http.StatusOK, fmt.Errorf("mpesa: invalid result code %q", resp.ResultCode))
	}
	result.ResultCode = code
	return result, nil
}

// ParseCallback validates an STK push result notification and normalizes it
func (a *MpesaAdapter) ParseCallback(_ context.Context, payload []byte) (*finance.GatewayResult, error) {
	var envelope mpesaCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, finance.NewValidationError("payload", "malformed callback: %v", err)
	}
	if err := a.validate.Struct(&envelope); err != nil {
		return nil, finance.NewValidationError("payload", "invalid callback: %v", err)
	}

	cb := envelope.Body.STKCallback
	result := &finance.GatewayResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        *cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		Raw:               append(json.RawMessage(nil), payload...),
	}
	if result.ResultCode != finance.ResultCodeSuccess {
		return result, nil
	}

	items := cb.CallbackMetadata.values()
	amount, err := decimal.NewFromString(items[mpesaItemAmount])
	if err != nil || !amount.IsPositive() {
		return nil, finance.NewValidationError("payload", "successful callback has no valid %s", mpesaItemAmount)
	}
	result.Amount = amount

	result.Receipt = items[mpesaItemReceipt]
	if result.Receipt == "" {
		return nil, finance.NewValidationError("payload", "successful callback has no %s", mpesaItemReceipt)
	}

	if phone := items[mpesaItemPhone]; phone != "" {
		// Phone numbers arrive as JSON numbers and may be rendered in exponent form.
		if d, err := decimal.NewFromString(phone); err == nil {
			phone = d.StringFixed(0)
		}
		result.Phone = phone
	}

	if raw := items[mpesaItemTransactionDate]; raw != "" {
		date, err := time.ParseInLocation(mpesaTimestampLayout, raw, eastAfricaTime)
		if err != nil {
			return nil, finance.NewValidationError("payload", "invalid %s %q", mpesaItemTransactionDate, raw)
		}
		result.TransactionDate = date.UTC()
	}
	return result, nil
}

// IsTrustedSource reports whether ip lies inside a configured callback range
func (a *MpesaAdapter) IsTrustedSource(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range a.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// password derives the request password from the short code, pass key and
// the current EAT timestamp.
func (a *MpesaAdapter) password() (string, string) {
	timestamp := a.now().In(eastAfricaTime).Format(mpesaTimestampLayout)
	raw := a.config.ShortCode + a.config.PassKey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw)), timestamp
}

func (a *MpesaAdapter) tokenKey() string {
	return "mpesa:token:" + a.config.ShortCode
}

// accessToken returns a cached OAuth token or fetches a new one
func (a *MpesaAdapter) accessToken(ctx context.Context) (string, error) {
	key := a.tokenKey()
	token, ok, err := a.tokens.Get(ctx, key)
	if err != nil {
		a.logger.Warn("mpesa token cache read failed", zap.Error(err))
	}
	if ok {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.baseURL()+mpesaTokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("mpesa: failed to create request: %w", err)
	}
	req.SetBasicAuth(a.config.ConsumerKey, a.config.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	respBody, err := a.send(ctx, opToken, req)
	if err != nil {
		return "", err
	}
	var resp mpesaTokenResponse
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.AccessToken == "" {
		return "", finance.NewGatewayError(opToken, http.StatusOK, errors.New("mpesa: token response has no access token"))
	}

	if err := a.tokens.Set(ctx, key, resp.AccessToken, tokenTTL(resp.ExpiresIn)); err != nil {
		a.logger.Warn("mpesa token cache write failed", zap.Error(err))
	}
	return resp.AccessToken, nil
}

func tokenTTL(expiresIn string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(expiresIn))
	if err != nil || secs <= 0 {
		return mpesaDefaultTokenTTL
	}
	ttl := time.Duration(secs)*time.Second - mpesaTokenExpiryMargin
	if ttl <= 0 {
		return time.Duration(secs) * time.Second / 2
	}
	return ttl
}

// postJSON sends an authorized JSON request to path
func (a *MpesaAdapter) postJSON(ctx context.Context, op, path string, body any) ([]byte, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("mpesa: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.baseURL()+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("mpesa: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	respBody, err := a.send(ctx, op, req)
	var gwErr *finance.GatewayError
	if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusUnauthorized {
		// the token was revoked early; drop it so the next call fetches a fresh one
		if delErr := a.tokens.Delete(ctx, a.tokenKey()); delErr != nil {
			a.logger.Warn("mpesa token cache delete failed", zap.Error(delErr))
		}
	}
	return respBody, err
}

// send executes req and maps transport and HTTP failures to GatewayErrors
func (a *MpesaAdapter) send(ctx context.Context, op string, req *http.Request) ([]byte, error) {
	start := time.Now()
	status := 0
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordGatewayRequest(ctx, op, status, time.Since(start))
		}
	}()

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, finance.NewGatewayError(op, 0, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, finance.NewGatewayError(op, status, fmt.Errorf("mpesa: failed to read response: %w", err))
	}

	if status >= 400 {
		var errResp mpesaErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.ErrorCode != "" {
			return nil, finance.NewGatewayError(op, status, &MpesaAPIError{Code: errResp.ErrorCode, Message: errResp.ErrorMessage})
		}
		return nil, finance.NewGatewayError(op, status, fmt.Errorf("mpesa: HTTP %d", status))
	}
	return respBody, nil
}

var _ finance.PaymentGateway = (*MpesaAdapter)(nil)
