package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitGin is the gin flavor of RateLimit with the same decision mapping.
func RateLimitGin(cfg Config) gin.HandlerFunc {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return func(c *gin.Context) {
		key := cfg.Key(c.Request)
		decision, err := cfg.Limiter.CheckAndRecord(c.Request.Context(), key, cfg.Policy(key), clock())
		if err != nil {
			cfg.Logger.Error().Err(err).Str("key", key.String()).Msg("rate limit misconfiguration")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		if !decision.Admitted {
			cfg.Logger.Warn().
				Str("actor", key.ActorID).
				Str("action", key.ActionType).
				Dur("retry_after", decision.RetryAfter).
				Msg("request throttled")

			seconds := retryAfterSeconds(decision.RetryAfter)
			c.Header("Retry-After", strconv.FormatInt(seconds, 10))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               "rate limit exceeded",
				"retry_after_seconds": seconds,
			})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Next()
	}
}
