package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	budgetdomain "github.com/quadernolabs/quaderno/internal/budget/domain"
	retrievaldomain "github.com/quadernolabs/quaderno/internal/retrieval/domain"
	"github.com/quadernolabs/quaderno/internal/search"
	subscriptiondomain "github.com/quadernolabs/quaderno/internal/subscription/domain"
)

type errorPayload struct {
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	RenewalAt *time.Time `json:"renewal_at,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTooManyInFlight = errors.New("interaction_in_flight")
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

// budgetExhaustedError carries the renewal hint alongside the sentinel.
type budgetExhaustedError struct {
	renewalAt time.Time
}

func (e *budgetExhaustedError) Error() string { return budgetdomain.ErrBudgetExhausted.Error() }

func (e *budgetExhaustedError) Unwrap() error { return budgetdomain.ErrBudgetExhausted }

func mapError(err error) (int, errorPayload) {
	var exhausted *budgetExhaustedError
	if errors.As(err, &exhausted) {
		payload := errorPayload{
			Type:    "budget_exhausted",
			Message: "AI budget for the current period is exhausted",
		}
		if !exhausted.renewalAt.IsZero() {
			renewal := exhausted.renewalAt
			payload.RenewalAt = &renewal
		}
		return http.StatusPaymentRequired, payload
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, budgetdomain.ErrInvalidTopUp),
		errors.Is(err, retrievaldomain.ErrInvalidQuota):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "invalid request",
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, budgetdomain.ErrBudgetExhausted):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "budget_exhausted",
			Message: "AI budget for the current period is exhausted",
		}
	case errors.Is(err, budgetdomain.ErrSubscriptionInactive),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		return http.StatusForbidden, errorPayload{
			Type:    "subscription_inactive",
			Message: "no active subscription grants AI access",
		}
	case errors.Is(err, ErrTooManyInFlight):
		return http.StatusConflict, errorPayload{
			Type:    "interaction_in_flight",
			Message: "another interaction is already running",
		}
	case errors.Is(err, search.ErrQueryFailed):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "retrieval_service_error",
			Message: "semantic index unavailable",
		}
	case errors.Is(err, budgetdomain.ErrLedgerStorage):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "ledger_storage_error",
			Message: "budget ledger temporarily unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
