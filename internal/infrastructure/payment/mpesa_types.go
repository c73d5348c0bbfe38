package payment

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Daraja error code returned while an STK push is still awaiting the subscriber.
const mpesaErrorStillProcessing = "500.001.1001"

// Callback metadata item names
const (
	mpesaItemAmount          = "Amount"
	mpesaItemReceipt         = "MpesaReceiptNumber"
	mpesaItemPhone           = "PhoneNumber"
	mpesaItemTransactionDate = "TransactionDate"
)

// Daraja timestamps use this layout in East Africa Time.
const mpesaTimestampLayout = "20060102150405"

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type mpesaSTKPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type mpesaSTKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type mpesaQueryBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type mpesaQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// mpesaErrorResponse is the body Daraja returns with non-2xx statuses
type mpesaErrorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// MpesaAPIError is a structured error reported by the Daraja API
type MpesaAPIError struct {
	Code    string
	Message string
}

func (e *MpesaAPIError) Error() string {
	return fmt.Sprintf("mpesa: %s - %s", e.Code, e.Message)
}

// mpesaCallbackEnvelope is the STK push result notification
type mpesaCallbackEnvelope struct {
	Body *mpesaCallbackBody `json:"Body" validate:"required"`
}

type mpesaCallbackBody struct {
	STKCallback *mpesaSTKCallback `json:"stkCallback" validate:"required"`
}

type mpesaSTKCallback struct {
	MerchantRequestID string                 `json:"MerchantRequestID" validate:"required"`
	CheckoutRequestID string                 `json:"CheckoutRequestID" validate:"required"`
	ResultCode        *int                   `json:"ResultCode" validate:"required"`
	ResultDesc        string                 `json:"ResultDesc"`
	CallbackMetadata  *mpesaCallbackMetadata `json:"CallbackMetadata"`
}

type mpesaCallbackMetadata struct {
	Items []mpesaCallbackItem `json:"Item" validate:"dive"`
}

type mpesaCallbackItem struct {
	Name  string          `json:"Name" validate:"required"`
	Value json.RawMessage `json:"Value"`
}

// values flattens metadata items into their textual values. Numbers keep
// their literal JSON form; items without a value are skipped.
func (m *mpesaCallbackMetadata) values() map[string]string {
	out := map[string]string{}
	if m == nil {
		return out
	}
	for _, item := range m.Items {
		raw := strings.TrimSpace(string(item.Value))
		if raw == "" || raw == "null" {
			continue
		}
		if strings.HasPrefix(raw, `"`) {
			var s string
			if err := json.Unmarshal(item.Value, &s); err != nil {
				continue
			}
			raw = s
		}
		out[item.Name] = raw
	}
	return out
}
