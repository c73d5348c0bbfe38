package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appfinance "github.com/erp/billing/internal/application/finance"
	"github.com/erp/billing/internal/infrastructure/logger"
)

// DefaultMaxCallbackBodySize bounds how much of a callback body is read
const DefaultMaxCallbackBodySize int64 = 64 << 10

// CallbackProcessor handles one raw gateway notification
type CallbackProcessor interface {
	Handle(ctx context.Context, req appfinance.CallbackRequest) appfinance.CallbackOutcome
}

// MpesaAck is the acknowledgement body the gateway expects
type MpesaAck struct {
	ResultCode int    `json:"ResultCode" example:"0"`
	ResultDesc string `json:"ResultDesc" example:"Accepted"`
}

// acceptedAck answers every callback, whatever the outcome.
var acceptedAck = MpesaAck{ResultCode: 0, ResultDesc: "Accepted"}

// PaymentCallbackHandler receives M-Pesa STK push results. The endpoint is
// called by the gateway itself and does not require authentication.
type PaymentCallbackHandler struct {
	processor   CallbackProcessor
	maxBodySize int64
	logger      *zap.Logger
}

// NewPaymentCallbackHandler creates a new PaymentCallbackHandler
func NewPaymentCallbackHandler(processor CallbackProcessor, maxBodySize int64, log *zap.Logger) *PaymentCallbackHandler {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxCallbackBodySize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentCallbackHandler{
		processor:   processor,
		maxBodySize: maxBodySize,
		logger:      log,
	}
}

// HandleMpesaCallback godoc
//
//	@ID				handleMpesaCallbackPaymentCallback
//	@Summary		Handle M-Pesa STK push callback
//	@Description	Receive the asynchronous result of an STK push. Always acknowledged.
//	@Tags			payment-callbacks
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	MpesaAck
//	@Router			/payments/mpesa/callback [post]
func (h *PaymentCallbackHandler) HandleMpesaCallback(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.For(ctx, h.logger)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBodySize+1))
	if err != nil {
		log.Warn("Failed to read payment callback body", zap.Error(err))
		c.JSON(http.StatusOK, acceptedAck)
		return
	}
	if int64(len(payload)) > h.maxBodySize {
		log.Warn("Payment callback body too large, ignoring",
			zap.Int64("max_bytes", h.maxBodySize),
			zap.String("client_ip", c.ClientIP()),
		)
		c.JSON(http.StatusOK, acceptedAck)
		return
	}

	outcome := h.processor.Handle(ctx, appfinance.CallbackRequest{
		Payload:  payload,
		SourceIP: c.ClientIP(),
	})
	log.Debug("Payment callback acknowledged",
		zap.String("disposition", string(outcome.Disposition)),
		zap.String("stage", string(outcome.Stage())),
	)
	c.JSON(http.StatusOK, acceptedAck)
}
