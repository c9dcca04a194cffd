package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/swimreg/internal/observability/logger"
	"go.uber.org/zap"
)

// PublicRateLimit throttles an unauthenticated endpoint per client address.
func (s *Server) PublicRateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.publicLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.publicLimiter.Allow(ctx, endpoint, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("public rate limit check failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("public rate limit exceeded", zap.String("endpoint", endpoint))
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint)
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
