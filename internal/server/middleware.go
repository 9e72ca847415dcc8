package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/quadernolabs/quaderno/internal/observability/logger"
	"go.uber.org/zap"
)

const userIDKey = "governance.user_id"

// requireUser resolves the caller identity set by the edge gateway.
// Authentication itself happens upstream; an absent header means the
// request never went through the gateway.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(userIDKey, userID)
		c.Request = c.Request.WithContext(
			obslogger.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// rateLimit applies the per-user token bucket to the admission-heavy
// routes. Limiter outages admit the request: throttling is protective,
// not load-bearing.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		res, err := s.limiter.AllowUser(c.Request.Context(), currentUserID(c))
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many AI requests",
			}})
			return
		}
		c.Next()
	}
}
