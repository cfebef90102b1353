package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/throttleguard/throttle/config"
	"github.com/throttleguard/throttle/pkg/logger"
	"github.com/throttleguard/throttle/throttle"
	"github.com/throttleguard/throttle/throttle/middleware"
	"github.com/throttleguard/throttle/throttle/slidinglog"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New("info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.Logging.Level)

	limiter := slidinglog.New(
		slidinglog.WithSweepInterval(cfg.SweepInterval()),
		slidinglog.WithLogger(log),
	)
	defer limiter.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(cfg, limiter, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("server failed")
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func newRouter(cfg *config.Config, limiter *slidinglog.Limiter, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	guard := func(action string) gin.HandlerFunc {
		policy, ok := cfg.PolicyFor(action)
		if !ok {
			log.Fatal().Str("action", action).Msg("no policy configured for guarded route")
		}
		return middleware.RateLimitGin(middleware.Config{
			Limiter: limiter,
			Key:     middleware.KeyByAction(action),
			Policy:  func(throttle.ActionKey) throttle.Policy { return policy },
			Logger:  log,
		})
	}

	router.POST("/reviews", guard("create_review"), func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"review_id": uuid.NewString()})
	})
	router.POST("/messages", guard("send_message"), func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"message_id": uuid.NewString()})
	})
	router.POST("/login", guard("login_attempt"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"session_id": uuid.NewString()})
	})

	router.GET("/quota", handleQuota(cfg, limiter))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "tracked_keys": limiter.Size()})
	})

	admin := router.Group("/admin")
	{
		admin.POST("/reset", handleReset(limiter, log))
		admin.GET("/attempts", handleAttempts(limiter))
	}

	return router
}

// handleQuota answers "how many attempts remain" without consuming a slot.
func handleQuota(cfg *config.Config, limiter *slidinglog.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		action := c.Query("action")
		policy, ok := cfg.PolicyFor(action)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown action"})
			return
		}

		key := throttle.ActionKey{ActorID: middleware.ActorFromRequest(c.Request), ActionType: action}
		decision, err := limiter.Peek(c.Request.Context(), key, policy, time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"admitted":            decision.Admitted,
			"remaining":           decision.Remaining,
			"retry_after_seconds": int64(decision.RetryAfter / time.Second),
		})
	}
}

type resetRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Action string `json:"action" binding:"required"`
}

// handleReset is the manual-unblock surface.
func handleReset(limiter *slidinglog.Limiter, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		key := throttle.ActionKey{ActorID: req.Actor, ActionType: req.Action}
		if err := limiter.Reset(c.Request.Context(), key); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		log.Info().Str("actor", req.Actor).Str("action", req.Action).Msg("quota reset")
		c.JSON(http.StatusOK, gin.H{"reset": key.String()})
	}
}

func handleAttempts(limiter *slidinglog.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := throttle.ActionKey{ActorID: c.Query("actor"), ActionType: c.Query("action")}
		attempts, err := limiter.Attempts(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key.String(), "attempts": attempts})
	}
}
