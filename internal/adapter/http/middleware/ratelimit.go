package middleware

import (
	"fmt"
	"strconv"
	"time"

	"tassiac-ledger/config"
	redisStore "tassiac-ledger/internal/adapter/storage/redis"
	"tassiac-ledger/pkg/apperror"
	"tassiac-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// Endpoint groups with their own budget.
const (
	GroupDeposits  = "deposits"
	GroupApprovals = "approvals"
	GroupDefault   = "default"
)

// RateLimitRules builds the per-group limits from configuration.
func RateLimitRules(cfg config.RateLimitConfig) map[string]RateLimitRule {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return map[string]RateLimitRule{
		GroupDeposits:  {Limit: int64(cfg.DepositLimit), Window: window},
		GroupApprovals: {Limit: int64(cfg.ApprovalLimit), Window: window},
		GroupDefault:   {Limit: int64(cfg.DefaultLimit), Window: window},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// Redis failures let the request through.
func RateLimiter(store *redisStore.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", extractIdentifier(c), group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier keys limits by authenticated user, falling back to IP.
func extractIdentifier(c *gin.Context) string {
	if id, ok := UserID(c); ok {
		return id.String()
	}
	return c.ClientIP()
}
