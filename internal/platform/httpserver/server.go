// Package httpserver builds the ambient HTTP surface shared by both
// services: health, readiness, and Prometheus metrics, plus an API-key
// gate and rate limiter for any handlers a service layers on top (spec
// §6: "query/inspection endpoints are part of the ambient stack, not
// the streaming core").
package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReadyFunc reports whether the service's consumer loop has completed
// at least one successful poll cycle.
type ReadyFunc func() bool

// PingFunc checks connectivity to a downstream dependency (Redis,
// Postgres) as part of /readyz.
type PingFunc func() error

// New builds a gin.Engine with the shared health/ready/metrics routes
// already mounted. Callers add their own route group(s) on top, guarded
// by APIKeyMiddleware where appropriate.
func New(serviceName string, ready ReadyFunc, pings map[string]PingFunc, metricsHandler http.Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginZapRecovery(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		if !ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "consumer loop has not completed a poll cycle"})
			return
		}
		failures := gin.H{}
		for name, ping := range pings {
			if err := ping(); err != nil {
				failures[name] = err.Error()
			}
		}
		if len(failures) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "dependencies": failures})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsHandler))

	return r
}

// ginZapRecovery recovers panics inside HTTP handlers and logs them
// through the shared zap logger, mirroring gin.Recovery but matching
// the rest of the pipeline's structured-logging convention instead of
// gin's default plain-text logger.
func ginZapRecovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("recovered panic in HTTP handler",
					zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// APIKeyMiddleware rejects any request whose X-API-Key header does not
// match expected. An empty expected value disables the check (local
// dev only; production configs must set API_KEY).
func APIKeyMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware caps request throughput per process using a
// shared token bucket, protecting the query surface from being
// overwhelmed by the same clients the streaming core serves.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// NewServer builds an *http.Server bound to handler, left unstarted so
// callers can run it in their own goroutine and Shutdown it during
// graceful termination.
func NewServer(addr string, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
