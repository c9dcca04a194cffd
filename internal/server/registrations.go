package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	registrationdomain "github.com/smallbiznis/swimreg/internal/registration/domain"
)

type submitRegistrationRequest struct {
	Parent        registrationdomain.ParentInfo     `json:"parent"`
	Swimmers      []registrationdomain.SwimmerInput `json:"swimmers"`
	Consents      registrationdomain.Consents       `json:"consents"`
	PaymentOption string                            `json:"payment_option"`
	Provider      string                            `json:"provider"`
	TotalAmount   int64                             `json:"total_amount"`
}

func (s *Server) SubmitRegistration(c *gin.Context) {
	var req submitRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	submit := registrationdomain.SubmitRequest{
		Parent:        req.Parent,
		Swimmers:      req.Swimmers,
		Consents:      req.Consents,
		PaymentOption: registrationdomain.PaymentOption(req.PaymentOption),
		Provider:      req.Provider,
		TotalAmount:   req.TotalAmount,
	}
	if account, ok := accountFromContext(c); ok {
		ownerID := account.ID
		submit.OwnerID = &ownerID
	}

	result, err := s.registrationSvc.Submit(c.Request.Context(), submit)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrProviderUnavailable) && result != nil {
			respondProviderUnavailable(c, result)
			return
		}
		AbortWithError(c, err)
		return
	}

	if result.PaymentID == nil {
		c.JSON(http.StatusCreated, gin.H{
			"invoice_id":   result.InvoiceID,
			"status":       result.InvoiceStatus,
			"total_amount": result.TotalAmount,
			"currency":     result.Currency,
		})
		return
	}
	c.JSON(http.StatusCreated, result)
}

// respondProviderUnavailable keeps the invoice id in the error so the client
// can retry through pay-invoice.
func respondProviderUnavailable(c *gin.Context, result *ledgerdomain.PaymentResult) {
	_, payload := mapError(paymentdomain.ErrProviderUnavailable)
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error":      payload,
		"invoice_id": result.InvoiceID,
	})
}
