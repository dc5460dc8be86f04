package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/S-Corkum/semantic-cache-gateway/internal/gatewayerr"
	"github.com/S-Corkum/semantic-cache-gateway/internal/orchestrator"
)

// submitQueryRequest is the wire shape of spec.md §6's submit_query.
type submitQueryRequest struct {
	Prompt              string   `json:"prompt" binding:"required"`
	Model               string   `json:"model,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	MaxOutputTokens     *int     `json:"max_output_tokens,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

// queryResultResponse is the wire shape of spec.md §6's query_result.
type queryResultResponse struct {
	Response        string   `json:"response"`
	CacheHit        bool     `json:"cache_hit"`
	HitType         *string  `json:"hit_type"`
	SimilarityScore *float64 `json:"similarity_score"`
	MatchedPrompt   *string  `json:"matched_prompt"`
	TokensUsed      int      `json:"tokens_used"`
	Cost            float64  `json:"cost"`
	LatencyMS       int64    `json:"latency_ms"`
}

func (s *Server) submitQuery(c *gin.Context) {
	var req submitQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, gatewayerr.Wrap(gatewayerr.Validation, "malformed request body", err))
		return
	}

	if l := len(req.Prompt); l < 1 || l > s.promptMaxBytes {
		abortWithError(c, gatewayerr.New(gatewayerr.Validation, "prompt length out of bounds"))
		return
	}

	temperature := 0.7
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature < 0 || temperature > 2 {
		abortWithError(c, gatewayerr.New(gatewayerr.Validation, "temperature out of [0,2]"))
		return
	}

	maxTokens := 500
	if req.MaxOutputTokens != nil {
		maxTokens = *req.MaxOutputTokens
	}

	threshold := s.defaultSimilarityThreshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
	}
	if threshold < 0 || threshold > 1 {
		abortWithError(c, gatewayerr.New(gatewayerr.Validation, "similarity_threshold out of [0,1]"))
		return
	}

	resp, err := s.orchestrator.ExecuteQuery(c.Request.Context(), orchestrator.Request{
		Prompt:               req.Prompt,
		Model:                req.Model,
		Temperature:          temperature,
		MaxOutputTokens:      maxTokens,
		SimilarityThreshold:  threshold,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	var hitType *string
	if resp.HitType != "" {
		hitType = &resp.HitType
	}

	c.JSON(http.StatusOK, queryResultResponse{
		Response:        resp.Response,
		CacheHit:        resp.CacheHit,
		HitType:         hitType,
		SimilarityScore: resp.SimilarityScore,
		MatchedPrompt:   resp.MatchedPrompt,
		TokensUsed:      resp.TokensUsed,
		Cost:            resp.Cost,
		LatencyMS:       resp.LatencyMS,
	})
}

// healthResponse backs GET /health.
type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.kvClient.PingWithRetry(ctx, 1, 0); err != nil {
		c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, healthResponse{Status: "healthy"})
}

// metricsSummaryResponse backs GET /internal/metrics/summary.
type metricsSummaryResponse struct {
	ExactHits          int64 `json:"exact_hits"`
	SemanticHits       int64 `json:"semantic_hits"`
	Misses             int64 `json:"misses"`
	StoredItemEstimate int64 `json:"stored_item_estimate"`
}

func (s *Server) metricsSummary(c *gin.Context) {
	counters := s.cacheComponent.Counters()
	c.JSON(http.StatusOK, metricsSummaryResponse{
		ExactHits:          counters.ExactHits,
		SemanticHits:       counters.SemanticHits,
		Misses:             counters.Misses,
		StoredItemEstimate: counters.StoredItemEstimate,
	})
}
