package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/throttleguard/throttle/throttle"
)

func TestRateLimitGin(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(t, throttle.Policy{MaxAttempts: 1, Window: time.Minute}, func() time.Time { return now })

	router := gin.New()
	router.POST("/reviews", RateLimitGin(cfg), func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/reviews", nil)
	req.Header.Set(ActorHeader, "user-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	req = httptest.NewRequest(http.MethodPost, "/reviews", nil)
	req.Header.Set(ActorHeader, "user-42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), "rate limit exceeded")
}
