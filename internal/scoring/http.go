// Package scoring provides remote model scoring sources.
package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultPath = "/predict"

// prediction is the model server response.
type prediction struct {
	FraudProbability *float64 `json:"fraud_probability"`
	ConfidenceScore  float64  `json:"confidence_score"`
	ModelVersion     string   `json:"model_version,omitempty"`
}

// HTTPSource scores transactions against a model server over HTTP. It
// implements domain.ScoringSource.
type HTTPSource struct {
	name   string
	path   string
	client *resty.Client
}

// NewHTTPSource creates a source from configuration.
func NewHTTPSource(cfg domain.SourceConfig) (*HTTPSource, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("scoring source name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("scoring source %s: url is required", cfg.Name)
	}

	path := cfg.Path
	if path == "" {
		path = defaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "sentra")

	return &HTTPSource{name: cfg.Name, path: path, client: client}, nil
}

// NewHTTPSources creates one source per configuration entry.
func NewHTTPSources(cfgs []domain.SourceConfig) ([]domain.ScoringSource, error) {
	sources := make([]domain.ScoringSource, 0, len(cfgs))
	for _, cfg := range cfgs {
		s, err := NewHTTPSource(cfg)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, nil
}

// Name returns the configured source name.
func (s *HTTPSource) Name() string {
	return s.name
}

// Score posts the transaction and returns the model's fraud probability.
func (s *HTTPSource) Score(ctx context.Context, tx *domain.Transaction) (float64, float64, error) {
	var out prediction
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(tx).
		SetResult(&out).
		Post(s.path)
	if err != nil {
		return 0, 0, fmt.Errorf("scoring request failed: %w", err)
	}
	if resp.IsError() {
		return 0, 0, fmt.Errorf("scoring server returned status %d", resp.StatusCode())
	}
	if out.FraudProbability == nil {
		return 0, 0, fmt.Errorf("scoring response missing fraud_probability")
	}

	return *out.FraudProbability, out.ConfidenceScore, nil
}
