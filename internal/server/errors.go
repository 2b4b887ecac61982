package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/dairyroute/internal/audit/domain"
	"github.com/smallbiznis/dairyroute/internal/auth"
	"github.com/smallbiznis/dairyroute/internal/authorization"
	deliverydomain "github.com/smallbiznis/dairyroute/internal/delivery/domain"
	"github.com/smallbiznis/dairyroute/internal/geo"
	invoicedomain "github.com/smallbiznis/dairyroute/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/dairyroute/internal/ledger/domain"
	"github.com/smallbiznis/dairyroute/internal/lifecycle"
	orderdomain "github.com/smallbiznis/dairyroute/internal/order/domain"
	paymentdomain "github.com/smallbiznis/dairyroute/internal/payment/domain"
	productdomain "github.com/smallbiznis/dairyroute/internal/product/domain"
	"github.com/smallbiznis/dairyroute/internal/recurrence"
	routedomain "github.com/smallbiznis/dairyroute/internal/route/domain"
	subscriptiondomain "github.com/smallbiznis/dairyroute/internal/subscription/domain"
	userdomain "github.com/smallbiznis/dairyroute/internal/user/domain"
	"github.com/smallbiznis/dairyroute/pkg/db"
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

		status, body := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, body)
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

var unauthorizedErrors = []error{
	ErrUnauthorized,
	auth.ErrMissingToken,
	auth.ErrInvalidToken,
	auth.ErrExpiredToken,
	auth.ErrInvalidRole,
}

var forbiddenErrors = []error{
	ErrForbidden,
	authorization.ErrForbidden,
	invoicedomain.ErrForbidden,
	ledgerdomain.ErrForbidden,
	paymentdomain.ErrForbidden,
	deliverydomain.ErrNotAssignedAgent,
	routedomain.ErrNotRouteAgent,
}

var notFoundErrors = []error{
	ErrNotFound,
	gorm.ErrRecordNotFound,
	subscriptiondomain.ErrSubscriptionNotFound,
	deliverydomain.ErrNotFound,
	orderdomain.ErrOrderNotFound,
	routedomain.ErrRouteNotFound,
	routedomain.ErrStopNotFound,
	invoicedomain.ErrInvoiceNotFound,
	paymentdomain.ErrPaymentNotFound,
	paymentdomain.ErrProviderNotFound,
	productdomain.ErrNotFound,
	userdomain.ErrNotFound,
	userdomain.ErrAddressNotFound,
	geo.ErrAddressNotFound,
}

var conflictErrors = []error{
	ErrConflict,
	lifecycle.ErrInvalidStatusTransition,
	db.ErrReferentialIntegrity,
	subscriptiondomain.ErrSubscriptionClosed,
	orderdomain.ErrOrderLocked,
	routedomain.ErrRouteLocked,
	routedomain.ErrDateMismatch,
	routedomain.ErrStopsOutstanding,
	invoicedomain.ErrNothingToInvoice,
	invoicedomain.ErrPeriodOverlap,
	invoicedomain.ErrInvoiceClosed,
	invoicedomain.ErrOverpayment,
	invoicedomain.ErrInvoiceNotVoidable,
	ledgerdomain.ErrSequenceConflict,
	paymentdomain.ErrInvoiceMismatch,
	paymentdomain.ErrAmountMismatch,
	productdomain.ErrDuplicateSlug,
	productdomain.ErrInactive,
	userdomain.ErrDuplicatePhone,
	userdomain.ErrNotAgent,
}

var validationErrors = []error{
	ErrInvalidRequest,
	recurrence.ErrInvalidRecurrence,
	subscriptiondomain.ErrInvalidSubscription,
	subscriptiondomain.ErrInvalidUser,
	subscriptiondomain.ErrInvalidAddress,
	subscriptiondomain.ErrInvalidProduct,
	subscriptiondomain.ErrInvalidQuantity,
	subscriptiondomain.ErrInvalidPaymentMode,
	subscriptiondomain.ErrInvalidDate,
	subscriptiondomain.ErrInvalidPeriod,
	subscriptiondomain.ErrInvalidStatus,
	deliverydomain.ErrInvalidID,
	deliverydomain.ErrInvalidRange,
	deliverydomain.ErrInvalidStatus,
	deliverydomain.ErrFailureReason,
	orderdomain.ErrInvalidID,
	orderdomain.ErrInvalidUser,
	orderdomain.ErrInvalidAddress,
	orderdomain.ErrInvalidItems,
	orderdomain.ErrInvalidQuantity,
	orderdomain.ErrInvalidPaymentMode,
	orderdomain.ErrInvalidDeliveryDate,
	orderdomain.ErrInvalidStatus,
	routedomain.ErrInvalidID,
	routedomain.ErrInvalidPosition,
	routedomain.ErrInvalidStatus,
	invoicedomain.ErrInvalidID,
	invoicedomain.ErrInvalidUser,
	invoicedomain.ErrInvalidPeriod,
	invoicedomain.ErrInvalidStatus,
	invoicedomain.ErrInvalidAmount,
	ledgerdomain.ErrInvalidUser,
	ledgerdomain.ErrInvalidAmount,
	ledgerdomain.ErrInvalidEntryType,
	ledgerdomain.ErrInvalidSource,
	ledgerdomain.ErrInvalidDescription,
	ledgerdomain.ErrInvalidPageToken,
	paymentdomain.ErrInvalidUser,
	paymentdomain.ErrInvalidInvoice,
	paymentdomain.ErrInvalidType,
	paymentdomain.ErrInvalidMethod,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidStatus,
	paymentdomain.ErrInvalidPageToken,
	paymentdomain.ErrInvalidSignature,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
	productdomain.ErrInvalidName,
	productdomain.ErrInvalidUnit,
	productdomain.ErrInvalidPrice,
	productdomain.ErrInvalidID,
	userdomain.ErrInvalidID,
	userdomain.ErrInvalidName,
	userdomain.ErrInvalidPhone,
	userdomain.ErrInvalidRole,
	userdomain.ErrInvalidAddress,
	userdomain.ErrInvalidCoordinates,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

var unavailableErrors = []error{
	ErrServiceUnavailable,
	paymentdomain.ErrGatewayUnavailable,
	invoicedomain.ErrRendererUnavailable,
	auth.ErrMissingSecret,
}

// mapError renders err as a status code and a failure envelope. Unknown
// errors are never echoed back to the caller.
func mapError(err error) (int, envelope) {
	if err == nil {
		return http.StatusInternalServerError, failure("internal_error", nil)
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, failure("validation_error", vErr.Errors)
	}

	switch {
	case isAny(err, unauthorizedErrors):
		return http.StatusUnauthorized, failure(codeOf(err, unauthorizedErrors), nil)
	case isAny(err, forbiddenErrors):
		return http.StatusForbidden, failure("forbidden", nil)
	case isAny(err, validationErrors):
		code := codeOf(err, validationErrors)
		return http.StatusBadRequest, failure("validation_error", []ValidationError{
			{
				Field:   validationErrorField(code),
				Code:    code,
				Message: validationErrorMessage(code),
			},
		})
	case isAny(err, notFoundErrors):
		return http.StatusNotFound, failure(codeOf(err, notFoundErrors), nil)
	case isAny(err, conflictErrors):
		return http.StatusConflict, failure(codeOf(err, conflictErrors), nil)
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, failure("rate_limited", nil)
	case isAny(err, unavailableErrors):
		return http.StatusServiceUnavailable, failure(codeOf(err, unavailableErrors), nil)
	default:
		return http.StatusInternalServerError, failure("internal_error", nil)
	}
}

// classifyErrorForLog feeds the request logger the same type and code the
// caller sees.
func classifyErrorForLog(err error) (string, string) {
	status, body := mapError(err)
	code := body.Message
	if len(body.Errors) > 0 {
		code = body.Errors[0].Code
	}
	switch {
	case status >= http.StatusInternalServerError:
		return "server", code
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth", code
	default:
		return "client", code
	}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// codeOf returns the sentinel text of the first target err wraps.
func codeOf(err error, targets []error) string {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "failure_reason_required":
		return "failure_reason"
	case "invalid_recurrence":
		return "delivery_days"
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
	case "failure_reason_required":
		return "failure reason is required"
	default:
		return "invalid value"
	}
}
