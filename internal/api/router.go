// Package api is the HTTP transport layer: it converts wire messages to
// internal requests and back, registers the allow-list of unauthenticated
// routes, and wires auth/rate-limit/lifecycle/metrics middleware around
// the Query Orchestrator. This is the concrete adapter SPEC_FULL.md §1
// adds for the transport layer spec.md treats as an external collaborator.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/S-Corkum/semantic-cache-gateway/internal/auth"
	"github.com/S-Corkum/semantic-cache-gateway/internal/cache"
	"github.com/S-Corkum/semantic-cache-gateway/internal/kv"
	"github.com/S-Corkum/semantic-cache-gateway/internal/lifecycle"
	"github.com/S-Corkum/semantic-cache-gateway/internal/metrics"
	"github.com/S-Corkum/semantic-cache-gateway/internal/orchestrator"
	"github.com/S-Corkum/semantic-cache-gateway/internal/ratelimit"
)

// Server holds every collaborator the router needs and the handler
// methods that use them.
type Server struct {
	orchestrator   *orchestrator.Orchestrator
	cacheComponent *cache.Cache
	kvClient       kv.Client
	authenticator  *auth.Authenticator
	rateLimiter    *ratelimit.Limiter
	lifecycle      *lifecycle.Controller
	metrics        *metrics.Recorder

	promptMaxBytes              int
	defaultSimilarityThreshold  float64
	metricsRequireAuth          bool
}

// Deps bundles Server's constructor dependencies.
type Deps struct {
	Orchestrator               *orchestrator.Orchestrator
	Cache                      *cache.Cache
	KV                         kv.Client
	Authenticator              *auth.Authenticator
	RateLimiter                *ratelimit.Limiter
	Lifecycle                  *lifecycle.Controller
	Metrics                    *metrics.Recorder
	PromptMaxBytes             int
	DefaultSimilarityThreshold float64
	MetricsRequireAuth         bool
}

// NewServer constructs a Server from Deps.
func NewServer(d Deps) *Server {
	return &Server{
		orchestrator:                d.Orchestrator,
		cacheComponent:              d.Cache,
		kvClient:                    d.KV,
		authenticator:               d.Authenticator,
		rateLimiter:                 d.RateLimiter,
		lifecycle:                   d.Lifecycle,
		metrics:                     d.Metrics,
		promptMaxBytes:              d.PromptMaxBytes,
		defaultSimilarityThreshold:  d.DefaultSimilarityThreshold,
		metricsRequireAuth:          d.MetricsRequireAuth,
	}
}

// Router builds the gin engine with spec.md §6's routes. health, root, and
// (by default) the metrics scrape endpoint bypass authentication via this
// explicit allow-list, per spec.md §4.1: "some endpoints ... bypass
// authentication by an explicit allow-list maintained at the orchestration
// boundary, not inside this component."
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metricsMiddleware(s.metrics))

	r.GET("/", func(c *gin.Context) { c.Status(200) })
	r.GET("/health", s.health)

	if s.metricsRequireAuth {
		r.GET("/metrics", authMiddleware(s.authenticator), requireAdmin(), gin.WrapH(promhttp.Handler()))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	authed := r.Group("/")
	authed.Use(authMiddleware(s.authenticator))
	authed.Use(lifecycleMiddleware(s.lifecycle, s.metrics))
	authed.Use(rateLimitMiddleware(s.rateLimiter))
	authed.POST("/v1/query", s.submitQuery)

	admin := r.Group("/internal")
	admin.Use(authMiddleware(s.authenticator))
	admin.Use(requireAdmin())
	admin.GET("/metrics/summary", s.metricsSummary)

	return r
}
