package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/semantic-cache-gateway/internal/auth"
	"github.com/S-Corkum/semantic-cache-gateway/internal/gatewayerr"
	"github.com/S-Corkum/semantic-cache-gateway/internal/lifecycle"
	"github.com/S-Corkum/semantic-cache-gateway/internal/metrics"
	"github.com/S-Corkum/semantic-cache-gateway/internal/ratelimit"
)

const roleContextKey = "gateway.role"
const credentialContextKey = "gateway.credential"

// authMiddleware authenticates the configured credential header and
// attaches the resolved role to the request context. health, root, and
// metrics-scrape routes register without this middleware — the allow-list
// lives at the router, not inside the Authenticator (spec.md §4.1).
func authMiddleware(a *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := a.FromHeader(c.Request.Header)
		role, err := a.Authenticate(presented)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(roleContextKey, role)
		c.Set(credentialContextKey, presented)
		c.Next()
	}
}

// requireAdmin gates a route to credentials resolved to auth.RoleAdmin.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(roleContextKey)
		if role != auth.RoleAdmin {
			abortWithError(c, gatewayerr.New(gatewayerr.Unauthenticated, "admin role required"))
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware enforces spec.md §4.2 per-credential token bucket
// and sets the rate-limit response headers on every response (spec.md §6).
func rateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, _ := c.Get(credentialContextKey)
		cred, _ := credential.(string)

		decision, err := limiter.CheckAndConsume(c.Request.Context(), cred)
		if err != nil {
			abortWithError(c, gatewayerr.Wrap(gatewayerr.DependencyUnavailable, "rate limiter unavailable", err))
			return
		}

		c.Header("limit", strconv.Itoa(decision.Capacity))
		c.Header("remaining", strconv.Itoa(decision.Remaining))
		c.Header("reset_at", decision.ResetAt.UTC().Format(time.RFC3339))

		if !decision.Allowed {
			c.Header("retry_after", decision.RetryAfter.String())
			abortWithError(c, gatewayerr.New(gatewayerr.RateLimited, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}

// lifecycleMiddleware admits the request through the Lifecycle Controller,
// rejecting with ShuttingDown if a drain is already in progress, and
// guarantees exactly one Release call on every exit path via defer
// (spec.md §4.6's single-decrement-site requirement).
func lifecycleMiddleware(lc *lifecycle.Controller, rec *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !lc.Admit() {
			abortWithError(c, gatewayerr.New(gatewayerr.ShuttingDown, "server is shutting down"))
			return
		}
		rec.SetInFlight(lc.InFlight())
		defer func() {
			lc.Release()
			rec.SetInFlight(lc.InFlight())
		}()
		c.Next()
	}
}

// metricsMiddleware records requests_total and request_duration_seconds.
func metricsMiddleware(rec *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		rec.RecordRequest(c.FullPath(), strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(gatewayerr.KindOf(err)), bodyFor(err))
}

