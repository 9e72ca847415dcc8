package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	budgetdomain "github.com/quadernolabs/quaderno/internal/budget/domain"
	retrievaldomain "github.com/quadernolabs/quaderno/internal/retrieval/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Server) getBalanceSnapshot(c *gin.Context) {
	snap, err := s.budgetSvc.GetBalanceSnapshot(c.Request.Context(), currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type admissionRequest struct {
	Feature budgetdomain.Feature `json:"feature"`
}

type admissionResponse struct {
	Allowed   bool   `json:"allowed"`
	LockToken string `json:"lock_token,omitempty"`
}

// postAdmission is the pre-flight gate the chat gateway calls before
// invoking the model.
func (s *Server) postAdmission(c *gin.Context) {
	var req admissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	userID := currentUserID(c)

	ok, err := s.budgetSvc.CheckAvailability(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !ok {
		AbortWithError(c, &budgetExhaustedError{renewalAt: s.renewalHint(c.Request.Context(), userID)})
		return
	}

	token, acquired, err := s.limiter.TryLockInteraction(c.Request.Context(), userID, string(req.Feature))
	if err != nil {
		s.log.Warn("interaction lock unavailable", zap.Error(err))
	} else if !acquired {
		AbortWithError(c, ErrTooManyInFlight)
		return
	}

	c.JSON(http.StatusOK, admissionResponse{Allowed: true, LockToken: token})
}

// renewalHint resolves the period end for exhaustion responses. Best
// effort only.
func (s *Server) renewalHint(ctx context.Context, userID string) time.Time {
	snap, err := s.budgetSvc.GetBalanceSnapshot(ctx, userID)
	if err != nil {
		return time.Time{}
	}
	return snap.PeriodEnd
}

type usageRequest struct {
	budgetdomain.UsageReport
	LockToken string `json:"lock_token,omitempty"`
}

// postUsage ingests a completed interaction. Always 202: the charge is
// post-hoc and must not fail the reporter.
func (s *Server) postUsage(c *gin.Context) {
	var req usageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Feature == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	userID := currentUserID(c)

	s.budgetSvc.RecordUsage(c.Request.Context(), userID, req.UsageReport)

	if req.LockToken != "" {
		if err := s.limiter.ReleaseInteraction(c.Request.Context(), userID, string(req.Feature), req.LockToken); err != nil {
			s.log.Warn("interaction lock release failed", zap.Error(err))
		}
	}

	c.Status(http.StatusAccepted)
}

type topUpRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) postTopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.budgetSvc.AddMidPeriodTopUp(c.Request.Context(), currentUserID(c), amount); err != nil {
		AbortWithError(c, err)
		return
	}

	snap, err := s.budgetSvc.GetBalanceSnapshot(c.Request.Context(), currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) postReset(c *gin.Context) {
	if err := s.budgetSvc.ResetCurrentPeriod(c.Request.Context(), currentUserID(c)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getUsageStats(c *gin.Context) {
	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		days = parsed
	}

	stats, err := s.budgetSvc.UsageStats(c.Request.Context(), currentUserID(c), time.Duration(days)*24*time.Hour)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) postRetrieve(c *gin.Context) {
	var req retrievaldomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" || strings.TrimSpace(req.Subject) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.retrievalSvc.Retrieve(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
