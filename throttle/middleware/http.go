// Package middleware adapts a throttle.Limiter to HTTP request handling.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/throttleguard/throttle/throttle"
)

// ActorHeader carries the caller identity when the application knows it.
// Requests without it are keyed by client IP.
const ActorHeader = "X-Actor-ID"

// KeyFunc derives the ActionKey for a request.
type KeyFunc func(r *http.Request) throttle.ActionKey

// PolicyFunc resolves the Policy governing a key's action type.
type PolicyFunc func(key throttle.ActionKey) throttle.Policy

// Config wires a limiter into the middleware.
type Config struct {
	Limiter throttle.Limiter
	Key     KeyFunc
	Policy  PolicyFunc

	// Clock supplies now for each check; defaults to time.Now.
	Clock func() time.Time

	// Logger records denials at warn level; silent by default.
	Logger zerolog.Logger
}

type deniedBody struct {
	Error             string `json:"error"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
}

// RateLimit guards the wrapped handler. Admitted requests pass through with
// an X-RateLimit-Remaining header; denied requests get 429 with a Retry-After
// header and a JSON body, never a silent drop. A limiter validation error is
// a caller bug and surfaces as 500.
func RateLimit(cfg Config) func(http.Handler) http.Handler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.Key(r)
			decision, err := cfg.Limiter.CheckAndRecord(r.Context(), key, cfg.Policy(key), clock())
			if err != nil {
				cfg.Logger.Error().Err(err).Str("key", key.String()).Msg("rate limit misconfiguration")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			if !decision.Admitted {
				cfg.Logger.Warn().
					Str("actor", key.ActorID).
					Str("action", key.ActionType).
					Dur("retry_after", decision.RetryAfter).
					Msg("request throttled")
				writeDenied(w, decision)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

func writeDenied(w http.ResponseWriter, decision throttle.Decision) {
	seconds := retryAfterSeconds(decision.RetryAfter)
	body, err := sonic.Marshal(deniedBody{
		Error:             "rate limit exceeded",
		RetryAfterSeconds: seconds,
	})
	if err != nil {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write(body)
}

// retryAfterSeconds rounds up so clients never retry before the window opens.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// KeyByAction keys requests by a fixed action type and the caller identity:
// the X-Actor-ID header when present, the client IP otherwise.
func KeyByAction(action string) KeyFunc {
	return func(r *http.Request) throttle.ActionKey {
		return throttle.ActionKey{ActorID: ActorFromRequest(r), ActionType: action}
	}
}

// ActorFromRequest extracts the caller identity a KeyByAction key would use.
func ActorFromRequest(r *http.Request) string {
	if actor := r.Header.Get(ActorHeader); actor != "" {
		return actor
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
