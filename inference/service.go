// Package inference turns a raw feature record into a probability score.
package inference

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"asdmodel/ml"
	"asdmodel/pipeline"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrPredictionFailed = errors.New("prediction failed")
)

// PredictionError wraps the cause of a failed scoring call.
type PredictionError struct {
	Cause error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPredictionFailed.Error(), e.Cause)
}

func (e *PredictionError) Unwrap() []error {
	return []error{ErrPredictionFailed, e.Cause}
}

type Config struct {
	APIKey    string
	Pipeline  pipeline.Options
	CacheSize int
	Bands     *RiskBands
}

type Result struct {
	Score     float64 `json:"asd_probability_score"`
	RiskLevel string  `json:"risk_level,omitempty"`
}

// Service scores records against one immutable artifact bundle.
type Service struct {
	apiKey       []byte
	bundle       *ml.Bundle
	preprocessor *pipeline.Preprocessor
	cache        *lru.Cache[string, float64]
	bands        *RiskBands
	logger       *zap.Logger
}

func NewService(bundle *ml.Bundle, cfg Config, logger *zap.Logger) (*Service, error) {
	if bundle == nil {
		return nil, errors.New("artifact bundle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		apiKey:       []byte(cfg.APIKey),
		bundle:       bundle,
		preprocessor: pipeline.NewPreprocessor(bundle, cfg.Pipeline),
		bands:        cfg.Bands,
		logger:       logger,
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, float64](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create score cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Predict authorizes the caller and scores raw.
func (s *Service) Predict(ctx context.Context, raw map[string]any, apiKey string) (Result, error) {
	if err := s.Authorize(apiKey); err != nil {
		return Result{}, err
	}
	return s.Score(ctx, raw)
}

// Authorize checks apiKey against the shared secret in constant time. An
// unset secret rejects every key.
func (s *Service) Authorize(apiKey string) error {
	if apiKey == "" || len(s.apiKey) == 0 {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), s.apiKey) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Score prepares and scores raw without an authorization check.
func (s *Service) Score(ctx context.Context, raw map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	vector, trace, err := s.preprocessor.Transform(raw)
	if err != nil {
		return Result{}, &PredictionError{Cause: err}
	}
	s.logger.Debug("features prepared",
		zap.Strings("dropped", trace.Dropped),
		zap.Strings("imputed", trace.Imputed),
		zap.Strings("unmatched", trace.Unmatched),
	)

	score, err := s.score(vector)
	if err != nil {
		return Result{}, &PredictionError{Cause: err}
	}

	result := Result{Score: score}
	if s.bands != nil {
		result.RiskLevel = s.bands.Classify(score)
	}
	return result, nil
}

func (s *Service) score(vector []float64) (float64, error) {
	if s.cache == nil {
		return s.bundle.Model.Score(vector)
	}
	key := vectorKey(vector)
	if score, ok := s.cache.Get(key); ok {
		return score, nil
	}
	score, err := s.bundle.Model.Score(vector)
	if err != nil {
		return 0, err
	}
	s.cache.Add(key, score)
	return score, nil
}

func vectorKey(vector []float64) string {
	var b strings.Builder
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
