// Package main is the entry point for the semantic caching gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/semantic-cache-gateway/internal/api"
	"github.com/S-Corkum/semantic-cache-gateway/internal/auth"
	"github.com/S-Corkum/semantic-cache-gateway/internal/cache"
	"github.com/S-Corkum/semantic-cache-gateway/internal/config"
	"github.com/S-Corkum/semantic-cache-gateway/internal/embedding"
	"github.com/S-Corkum/semantic-cache-gateway/internal/kv"
	"github.com/S-Corkum/semantic-cache-gateway/internal/lifecycle"
	"github.com/S-Corkum/semantic-cache-gateway/internal/llm"
	"github.com/S-Corkum/semantic-cache-gateway/internal/metrics"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
	"github.com/S-Corkum/semantic-cache-gateway/internal/orchestrator"
	"github.com/S-Corkum/semantic-cache-gateway/internal/ratelimit"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("semantic-cache-gateway\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n", version, buildTime, gitCommit)
		os.Exit(0)
	}

	logger := observability.NewStandardLogger("gateway")
	logger.Info("starting semantic cache gateway", map[string]interface{}{
		"version": version, "build_time": buildTime, "git_commit": gitCommit,
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", map[string]interface{}{"error": err.Error()})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	kvClient := kv.NewRedisClient(cfg.KV.Endpoint, cfg.KV.Password, cfg.KV.Database, logger)

	lc := lifecycle.New(kvClient, logger)
	if err := lc.ProbeStartup(ctx, cfg.Lifecycle.StartupMaxAttempts); err != nil {
		logger.Fatal("kv store unreachable at startup", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("kv store reachable", nil)

	cacheComponent := cache.New(kvClient, cfg.KV.KeyPrefix, cfg.KV.LockPrefix, logger)

	embeddingClient := embedding.New(cfg.Embedding.Endpoint, cfg.Embedding.Dim, cfg.Embedding.TimeoutSeconds, logger)
	if probeErr := embeddingClient.Probe(ctx); probeErr != nil {
		logger.Warn("embedding producer dimension probe failed at startup; semantic lookups will degrade per-request", map[string]interface{}{
			"error": probeErr.Error(),
		})
	}

	rec := metrics.New()

	llmClient := llm.New(cfg.LLM.Endpoint, cfg.LLM.TimeoutSeconds, cfg.LLM.MaxAttempts, cfg.LLM.InputUnitCost, cfg.LLM.OutputUnitCost, logger)
	llmClient.OnCost(func(inputTokens, outputTokens int, cost float64) {
		rec.AddLLMUsage(inputTokens, outputTokens, cost)
	})

	breakerClient := llm.NewBreakerClient(llmClient, cfg.Breaker.FailureThreshold, cfg.Breaker.CooldownSeconds, logger)
	breakerClient.OnStateChange(func(_, to llm.BreakerState) {
		rec.SetBreakerState(llm.StateGaugeValue(to))
	})

	authenticator := auth.New(cfg.Auth.CredentialHeaderName, cfg.Auth.AdminCredentials, cfg.Auth.UserCredentials)

	rateLimiter := ratelimit.New(kvClient, cfg.KV.RLPrefix, float64(cfg.RateLimit.Capacity), cfg.RateLimit.RefillPerSecond, logger)
	rateLimiter.OnDegraded(rec.RecordDegradedRateLimit)

	orch := orchestrator.New(cacheComponent, embeddingClient, breakerClient, rec, logger, orchestrator.Config{
		DefaultModel:     cfg.LLM.ModelDefault,
		ResponseTTL:      cfg.Cache.ResponseTTLSeconds,
		LockTTL:          cfg.Cache.LockTTLSeconds,
		LockWaitDeadline: cfg.Cache.LockWaitDeadlineSeconds,
	})

	srv := api.NewServer(api.Deps{
		Orchestrator:               orch,
		Cache:                      cacheComponent,
		KV:                         kvClient,
		Authenticator:              authenticator,
		RateLimiter:                rateLimiter,
		Lifecycle:                  lc,
		Metrics:                    rec,
		PromptMaxBytes:             cfg.Service.PromptMaxBytes,
		DefaultSimilarityThreshold: cfg.Cache.SimilarityThreshold,
		MetricsRequireAuth:         cfg.Auth.MetricsRequireAuth,
	})

	if cfg.Service.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
		Handler: srv.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", map[string]interface{}{"port": cfg.Service.Port})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case err := <-serveErr:
		logger.Error("http server error", map[string]interface{}{"error": err.Error()})
	}

	// Shutdown flag must be set before draining so late-arriving requests
	// are rejected with ShuttingDown rather than admitted (spec.md §4.6).
	lc.BeginShutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Lifecycle.ShutdownDrainSeconds+2*time.Second)
	defer shutdownCancel()

	lc.Drain(shutdownCtx, cfg.Lifecycle.ShutdownDrainSeconds, 100*time.Millisecond)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", map[string]interface{}{"error": err.Error()})
	}

	if err := kvClient.Close(); err != nil {
		logger.Error("kv client close error", map[string]interface{}{"error": err.Error()})
	}

	cancel()
	logger.Info("shutdown complete", nil)
}
