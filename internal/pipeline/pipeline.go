// Package pipeline runs one pattern through the analyzer and the optional
// outer stages: metrics and persistence. The API, the feed worker and the
// batch runner all go through a Processor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fca_cleaner/internal/fca"
	"fca_cleaner/internal/logging"
	"fca_cleaner/internal/metrics"
	"fca_cleaner/internal/storage"
)

// ErrNoStore is returned when persistence is requested without a store.
var ErrNoStore = errors.New("storage not configured")

// Input is one pattern with an optional journey string.
type Input struct {
	Pattern string `json:"pattern"`
	Journey string `json:"journey,omitempty"`
}

// Outcome is the result of processing one Input. ID is set once the result
// has been stored.
type Outcome struct {
	ID     string              `json:"id,omitempty"`
	Result *fca.AnalysisResult `json:"result"`
}

// Processor is safe for concurrent use.
type Processor struct {
	analyzer *fca.Analyzer
	store    storage.Store
	metrics  *metrics.Recorder
	logger   logging.Logger
}

// Option configures a Processor.
type Option func(*Processor)

func WithStore(s storage.Store) Option       { return func(p *Processor) { p.store = s } }
func WithMetrics(r *metrics.Recorder) Option { return func(p *Processor) { p.metrics = r } }
func WithLogger(l logging.Logger) Option     { return func(p *Processor) { p.logger = l } }

// New creates a Processor. A nil analyzer uses fca defaults.
func New(analyzer *fca.Analyzer, opts ...Option) *Processor {
	if analyzer == nil {
		analyzer = fca.New()
	}
	p := &Processor{analyzer: analyzer, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Analyzer returns the analyzer used by the processor.
func (p *Processor) Analyzer() *fca.Analyzer { return p.analyzer }

// Store returns the configured store, or nil.
func (p *Processor) Store() storage.Store { return p.store }

// Metrics returns the configured recorder, or nil.
func (p *Processor) Metrics() *metrics.Recorder { return p.metrics }

// Process analyses in and, if persist is set, stores the result. The outcome
// is always returned; a store failure is reported as the error alongside it.
func (p *Processor) Process(ctx context.Context, source string, in Input, persist bool) (Outcome, error) {
	start := time.Now()
	var res *fca.AnalysisResult
	if in.Journey != "" {
		res = p.analyzer.AnalyzeWithJourney(in.Pattern, in.Journey)
	} else {
		res = p.analyzer.Analyze(in.Pattern)
	}
	p.metrics.Observe(source, res, time.Since(start))

	out := Outcome{Result: res}
	if !res.IsValid {
		p.logger.Debug("invalid pattern",
			logging.String("source", source),
			logging.String("error_code", string(res.ErrorCode)),
			logging.String("message", res.Message))
	}

	if !persist {
		return out, nil
	}
	if p.store == nil {
		return out, ErrNoStore
	}

	rec, err := storage.FromResult(res, source)
	if err != nil {
		return out, err
	}
	if err := p.store.Save(ctx, rec); err != nil {
		p.metrics.StoreError(source)
		p.logger.Warn("save analysis failed", logging.String("source", source), logging.Err(err))
		return out, fmt.Errorf("save analysis: %w", err)
	}
	out.ID = rec.ID
	return out, nil
}
