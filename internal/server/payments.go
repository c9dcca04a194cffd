package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
)

type verifyPaymentRequest struct {
	Reference string `json:"reference"`
}

func (s *Server) VerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		AbortWithError(c, newValidationError("reference", "required", "reference is required"))
		return
	}

	result, err := s.ledgerSvc.Verify(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrOutcomePending) {
			c.JSON(http.StatusAccepted, gin.H{
				"reference":      reference,
				"payment_status": ledgerdomain.PaymentStatusPending,
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	if result.PaymentStatus == ledgerdomain.PaymentStatusFailed {
		AbortWithError(c, ledgerdomain.ErrPaymentFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"invoice_id":         result.InvoiceID,
		"invoice_status":     result.InvoiceStatus,
		"payment_status":     result.PaymentStatus,
		"receipt_number":     result.ReceiptNumber,
		"already_reconciled": result.AlreadyReconciled,
	})
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhookSvc.Ingest(c.Request.Context(), provider, paymentdomain.Notification{
		Payload: payload,
		Headers: c.Request.Header,
		Query:   c.Request.URL.Query(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result != nil && result.Ack != nil {
		c.JSON(http.StatusOK, result.Ack)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
