package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/swimreg/internal/authorization"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
)

func (s *Server) LinkRegistrations(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, actorOf(account), authorization.ObjectAccount, authorization.ActionLink, &account.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.linkerSvc.Link(ctx, account.ID, account.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked": result})
}

func (s *Server) ListSwimmers(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, actorOf(account), authorization.ObjectSwimmer, authorization.ActionView, &account.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	swimmers, err := s.registrationSvc.ListSwimmers(ctx, account.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": swimmers})
}

func (s *Server) GetInvoice(c *gin.Context) {
	detail, ok := s.authorizedInvoice(c, c.Param("id"), authorization.ObjectInvoice, authorization.ActionView)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": detail})
}

type payInvoiceRequest struct {
	Provider string `json:"provider"`
	Phone    string `json:"phone"`
}

func (s *Server) PayInvoice(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	invoiceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req payInvoiceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	// ownership is checked by the ledger against the stored invoice
	if err := s.authzSvc.Authorize(c.Request.Context(), actorOf(account), authorization.ObjectInvoice, authorization.ActionPay, &account.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.ledgerSvc.PayInvoice(c.Request.Context(), ledgerdomain.PayInvoiceRequest{
		InvoiceID:  invoiceID,
		OwnerID:    account.ID,
		Provider:   strings.TrimSpace(req.Provider),
		PayerPhone: strings.TrimSpace(req.Phone),
	})
	if err != nil {
		if result != nil && isProviderUnavailable(err) {
			respondProviderUnavailable(c, result)
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) DownloadReceipt(c *gin.Context) {
	detail, ok := s.authorizedInvoice(c, c.Param("invoiceId"), authorization.ObjectReceipt, authorization.ActionView)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	receipt, err := s.receiptSvc.GetForInvoice(ctx, detail.Invoice.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	body, err := s.receiptSvc.RenderPDF(ctx, receipt)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+s.receiptSvc.DownloadName(receipt)+`"`)
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, "application/pdf", body)
}

// authorizedInvoice loads the invoice named by raw and checks the caller may
// act on it. It writes the error response itself.
func (s *Server) authorizedInvoice(c *gin.Context, raw string, object, action string) (*ledgerdomain.InvoiceDetail, bool) {
	account, ok := accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return nil, false
	}
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return nil, false
	}

	ctx := c.Request.Context()
	detail, err := s.ledgerSvc.GetInvoice(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if err := s.authzSvc.Authorize(ctx, actorOf(account), object, action, detail.Invoice.OwnerID); err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return detail, true
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
