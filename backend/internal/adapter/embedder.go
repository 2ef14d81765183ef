package adapter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"graph-memory/backend/internal/cache"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/metrics"
	"graph-memory/backend/pkg/logger"
)

// Embedder turns text into a vector. Implementations are deterministic for a
// fixed model; failures are reported, never substituted.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrEmptyEmbedding is returned when the provider answers without a vector
var ErrEmptyEmbedding = errors.New("embedding response contained no vector")

// EmbedderConfig configures the OpenAI-compatible embedder
type EmbedderConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint (LiteLLM or
// OpenAI itself) behind a circuit breaker.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewOpenAIEmbedder creates a new embedder. A nil collector disables metrics.
func NewOpenAIEmbedder(cfg EmbedderConfig, m *metrics.Collector) *OpenAIEmbedder {
	apiKey := cfg.APIKey
	// For LiteLLM, we can use a dummy API key if not provided
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/v1"

	log := logger.Named("embedder")
	e := &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
		logger:     log,
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedder",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Only trip if we have enough requests to make a decision
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.SetBreakerState(name, float64(to))
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about provider health
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return e
}

// Embed returns the unit-length embedding of text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res, err := e.breaker.Execute(func() (interface{}, error) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      []string{text},
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: e.dimensions,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, ErrEmptyEmbedding
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		e.logger.Error("Embedding request failed",
			zap.Error(err),
			zap.String("model", e.model),
			zap.String("breaker_state", e.breaker.State().String()),
		)
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}

	vec := res.([]float32)
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), e.dimensions)
	}
	return graph.Normalize(slices.Clone(vec)), nil
}

// State reports the circuit breaker state ("closed", "half-open", "open")
func (e *OpenAIEmbedder) State() string {
	return e.breaker.State().String()
}

// CachedEmbedder fronts an Embedder with the embedding LRU. Concurrent
// requests for the same text share a single upstream call.
type CachedEmbedder struct {
	next  Embedder
	cache *cache.SearchCache
	group singleflight.Group
}

// NewCachedEmbedder wraps next. A nil or disabled cache still deduplicates
// concurrent calls.
func NewCachedEmbedder(next Embedder, c *cache.SearchCache) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: c}
}

// Embed returns the cached vector or computes and caches it
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.GetEmbedding(text); ok {
		return vec, nil
	}
	v, err, _ := c.group.Do(text, func() (interface{}, error) {
		vec, err := c.next.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.PutEmbedding(text, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]float32)), nil
}

// State forwards the breaker state when the wrapped embedder has one
func (c *CachedEmbedder) State() string {
	if s, ok := c.next.(interface{ State() string }); ok {
		return s.State()
	}
	return "unknown"
}
