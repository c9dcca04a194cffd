package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/swimreg/internal/account/domain"
	"github.com/smallbiznis/swimreg/internal/authorization"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	linkerdomain "github.com/smallbiznis/swimreg/internal/linker/domain"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	registrationdomain "github.com/smallbiznis/swimreg/internal/registration/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationSentinels become 400s whose code is the sentinel text.
var validationSentinels = []error{
	ErrInvalidRequest,
	registrationdomain.ErrInvalidParent,
	registrationdomain.ErrInvalidPhone,
	registrationdomain.ErrNoSwimmers,
	registrationdomain.ErrInvalidSwimmer,
	registrationdomain.ErrConsentRequired,
	registrationdomain.ErrInvalidPaymentOption,
	registrationdomain.ErrTotalMismatch,
	ledgerdomain.ErrInvalidLineItems,
	ledgerdomain.ErrInvalidPayer,
	ledgerdomain.ErrInvalidCurrency,
	ledgerdomain.ErrInvalidReference,
	paymentdomain.ErrInvalidIntent,
	paymentdomain.ErrInvalidProvider,
	accountdomain.ErrInvalidIdentity,
	linkerdomain.ErrInvalidEmail,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if sentinel := validationSentinel(err); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ledgerdomain.ErrPaymentFailed):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_failed",
			Message: "the payment provider reported the payment as failed",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, ledgerdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ledgerdomain.ErrAmountMismatch):
		return http.StatusConflict, errorPayload{
			Type:    "amount_mismatch",
			Message: "amount paid does not match the invoice",
		}
	case errors.Is(err, ledgerdomain.ErrInvoiceAlreadyPaid):
		return http.StatusConflict, errorPayload{
			Type:    "invoice_already_paid",
			Message: "invoice is already paid",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, registrationdomain.ErrDuplicateSwimmer),
		errors.Is(err, accountdomain.ErrEmailTaken):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isProviderUnavailable(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "provider_unavailable",
			Message: "payment provider unavailable, try again later",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger low-cardinality error labels.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationSentinel(err error) error {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func isProviderUnavailable(err error) bool {
	return errors.Is(err, paymentdomain.ErrProviderUnavailable)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrInvoiceNotFound),
		errors.Is(err, ledgerdomain.ErrPaymentNotFound),
		errors.Is(err, receiptdomain.ErrReceiptNotFound),
		errors.Is(err, accountdomain.ErrAccountNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, registrationdomain.ErrDuplicateSwimmer):
		return "swimmer is already registered"
	case errors.Is(err, accountdomain.ErrEmailTaken):
		return "email belongs to another account"
	default:
		return "conflict"
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "total_amount_mismatch":
		return "total does not match the registration fee"
	case "consent_required":
		return "all required consents must be accepted"
	case "no_swimmers":
		return "at least one swimmer is required"
	default:
		return "invalid value"
	}
}
