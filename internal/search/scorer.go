package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

// Scorer configuration defaults.
const (
	DefaultScorerEndpoint = "http://localhost:9659"
	DefaultScorerModel    = "cross-encoder/mmarco-mMiniLMv2-L12-H384-v1"
	DefaultScorerTimeout  = 5 * time.Second
	DefaultScorerRecheck  = 30 * time.Second
	healthCheckTimeout    = 3 * time.Second
)

// Pair is one (query, document) input to a pairwise scorer.
type Pair struct {
	Query    string
	Document string
}

// Scorer assigns a relevance score to each pair. The output has the same
// length and order as the input.
type Scorer interface {
	Score(ctx context.Context, pairs []Pair) ([]float64, error)
	// Available reports whether the scorer can currently be called.
	Available(ctx context.Context) bool
	Model() string
	Close() error
}

// HTTPScorerConfig configures an HTTPScorer.
type HTTPScorerConfig struct {
	// Endpoint is the scoring server URL.
	Endpoint string
	// Model is sent with each request; the server may serve several.
	Model string
	// Timeout bounds a single request. The caller's deadline still applies.
	Timeout time.Duration
	// SkipHealthCheck marks the scorer available without probing (tests).
	SkipHealthCheck bool
	// RecheckInterval is the minimum gap between health checks while the
	// scorer is unavailable.
	RecheckInterval time.Duration
}

// HTTPScorer calls a cross-encoder server over HTTP.
//
// Request:  POST {endpoint}/rerank {"query", "documents", "model"}
// Response: {"scores": [...]} or {"results": [{"index", "score"}]}
//
// Consecutive failures open a circuit breaker so a dead server costs one
// timeout, not one per query.
type HTTPScorer struct {
	client    *http.Client
	config    HTTPScorerConfig
	breaker   *apperrors.CircuitBreaker
	available atomic.Bool
	lastCheck atomic.Int64
	checking  atomic.Bool

	mu     sync.RWMutex
	closed bool
}

var _ Scorer = (*HTTPScorer)(nil)

// NewHTTPScorer creates a scorer and checks GET /health to set availability.
// A failed check is not an error: the scorer starts unavailable and
// Available re-checks it at most once per RecheckInterval.
func NewHTTPScorer(ctx context.Context, cfg HTTPScorerConfig) *HTTPScorer {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultScorerEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultScorerModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultScorerTimeout
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = DefaultScorerRecheck
	}

	s := &HTTPScorer{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
		breaker: apperrors.NewCircuitBreaker("scorer",
			apperrors.WithMaxFailures(3),
			apperrors.WithResetTimeout(30*time.Second)),
	}

	if cfg.SkipHealthCheck {
		s.available.Store(true)
	} else {
		s.Refresh(ctx)
	}

	slog.Debug("scorer_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout),
		slog.Bool("available", s.available.Load()))

	return s
}

// Refresh re-runs the health check and updates availability.
func (s *HTTPScorer) Refresh(ctx context.Context) bool {
	s.lastCheck.Store(time.Now().UnixNano())
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err := s.healthCheck(checkCtx)
	if err != nil {
		slog.Warn("scorer_unavailable",
			slog.String("endpoint", s.config.Endpoint),
			slog.String("error", err.Error()))
	}
	s.available.Store(err == nil)
	return err == nil
}

// recheck refreshes an unavailable scorer once RecheckInterval has passed
// since the last check. Concurrent callers share one check.
func (s *HTTPScorer) recheck(ctx context.Context) {
	if time.Since(time.Unix(0, s.lastCheck.Load())) < s.config.RecheckInterval {
		return
	}
	if !s.checking.CompareAndSwap(false, true) {
		return
	}
	defer s.checking.Store(false)

	if s.Refresh(ctx) {
		slog.Info("scorer_recovered", slog.String("endpoint", s.config.Endpoint))
	}
}

func (s *HTTPScorer) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("scorer unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type scoreResponse struct {
	Scores  []float64 `json:"scores"`
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Score implements Scorer. All pairs must share one query; the server API
// scores one query against many documents.
func (s *HTTPScorer) Score(ctx context.Context, pairs []Pair) ([]float64, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, apperrors.ErrScorerUnavailable("scorer is closed", nil)
	}
	if len(pairs) == 0 {
		return []float64{}, nil
	}

	query := pairs[0].Query
	docs := make([]string, len(pairs))
	for i, p := range pairs {
		if p.Query != query {
			return nil, apperrors.ErrInvalidInput("all pairs in a batch must share one query", nil)
		}
		docs[i] = p.Document
	}

	var scores []float64
	err := s.breaker.Execute(func() error {
		var err error
		scores, err = s.post(ctx, scoreRequest{Query: query, Documents: docs, Model: s.config.Model})
		return err
	})
	if err != nil {
		return nil, apperrors.ErrScorerUnavailable("scoring request failed", err).
			WithDetail("endpoint", s.config.Endpoint)
	}
	return scores, nil
}

func (s *HTTPScorer) post(ctx context.Context, body scoreRequest) ([]float64, error) {
	start := time.Now()

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.config.Endpoint+"/rerank", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("score request failed (status %d): %s", resp.StatusCode, string(msg))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode score response: %w", err)
	}

	scores, err := out.ordered(len(body.Documents))
	if err != nil {
		return nil, err
	}

	slog.Debug("scorer_request",
		slog.Int("documents", len(body.Documents)),
		slog.Int("payload_bytes", len(data)),
		slog.Duration("elapsed", time.Since(start)))

	return scores, nil
}

// ordered returns scores in input order for either response shape.
func (r scoreResponse) ordered(n int) ([]float64, error) {
	if r.Scores != nil {
		return r.Scores, nil
	}
	if r.Results == nil {
		return nil, fmt.Errorf("score response has neither scores nor results")
	}
	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, res := range r.Results {
		if res.Index < 0 || res.Index >= n {
			return nil, fmt.Errorf("score response index %d out of range [0,%d)", res.Index, n)
		}
		scores[res.Index] = res.Score
		seen[res.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("score response is missing index %d", i)
		}
	}
	return scores, nil
}

// Available implements Scorer. It reflects the last health check and the
// circuit breaker. While unavailable it re-runs the health check, rate
// limited by RecheckInterval.
func (s *HTTPScorer) Available(ctx context.Context) bool {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return false
	}
	if !s.available.Load() {
		s.recheck(ctx)
	}
	return s.available.Load() && s.breaker.State() != apperrors.StateOpen
}

// Model implements Scorer.
func (s *HTTPScorer) Model() string { return s.config.Model }

// Close implements Scorer.
func (s *HTTPScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if transport, ok := s.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// ScorerFactory builds the scorer for a model id.
type ScorerFactory func(ctx context.Context, model string) (Scorer, error)

// HTTPScorerFactory returns a factory that builds HTTPScorers against one
// endpoint.
func HTTPScorerFactory(endpoint string, timeout time.Duration) ScorerFactory {
	return func(ctx context.Context, model string) (Scorer, error) {
		return NewHTTPScorer(ctx, HTTPScorerConfig{
			Endpoint: endpoint,
			Model:    model,
			Timeout:  timeout,
		}), nil
	}
}

// ScorerRegistry holds at most one scorer per model id. Concurrent first
// requests for the same model share one construction.
type ScorerRegistry struct {
	factory ScorerFactory
	group   singleflight.Group

	mu      sync.RWMutex
	scorers map[string]Scorer
}

// NewScorerRegistry creates an empty registry.
func NewScorerRegistry(factory ScorerFactory) *ScorerRegistry {
	return &ScorerRegistry{
		factory: factory,
		scorers: make(map[string]Scorer),
	}
}

// Get returns the scorer for model, building it on first use.
func (r *ScorerRegistry) Get(ctx context.Context, model string) (Scorer, error) {
	if r == nil || r.factory == nil {
		return nil, apperrors.ErrScorerUnavailable("no scorer registry configured", nil)
	}

	r.mu.RLock()
	s, ok := r.scorers[model]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := r.group.Do(model, func() (any, error) {
		r.mu.RLock()
		s, ok := r.scorers[model]
		r.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := r.factory(ctx, model)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.scorers[model] = s
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, apperrors.ErrScorerUnavailable("failed to create scorer", err).WithDetail("model", model)
	}
	return v.(Scorer), nil
}

// Available reports whether the scorer for model exists or can be built and
// is ready.
func (r *ScorerRegistry) Available(ctx context.Context, model string) bool {
	s, err := r.Get(ctx, model)
	if err != nil {
		return false
	}
	return s.Available(ctx)
}

// Close closes every scorer the registry built.
func (r *ScorerRegistry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for model, s := range r.scorers {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.scorers, model)
	}
	return firstErr
}
