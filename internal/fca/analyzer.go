// Package fca parses, repairs and validates fare calculation area (FCA)
// strings such as
//
//	NYC AA LON 250.00 Q25.00 NUC 275.00 END ROE1.00
//
// The pipeline is: resegment the raw text against the reference tables,
// validate the grammar, reconstruct the pattern if validation fails, then
// reconcile the fare arithmetic. Every entry point is total and returns a
// result rather than an error.
package fca

import (
	"fmt"
	"sync"
)

// AnalysisResult is the combined outcome of analysing one pattern.
type AnalysisResult struct {
	IsValid       bool              `json:"is_valid"`
	Original      string            `json:"original"`
	Cleaned       string            `json:"cleaned"`
	Tokens        []Token           `json:"tokens"`
	GarbageTokens []string          `json:"garbage_tokens"`
	SpacingFixes  []string          `json:"spacing_fixes"`
	Fare          FareCalculation   `json:"fare"`
	Warnings      []string          `json:"warnings"`
	Message       string            `json:"message"`
	ErrorCode     ErrorCode         `json:"error_code,omitempty"`
	Mode          FareMode          `json:"mode"`
	Reconstructed bool              `json:"reconstructed"`
	Validation    *ValidationResult `json:"validation,omitempty"`
	JourneyMatch  *JourneyMatch     `json:"journey_match,omitempty"`
}

// CleanResult is the output of the repair pipeline alone.
type CleanResult struct {
	Cleaned       string   `json:"cleaned"`
	GarbageTokens []string `json:"garbage_tokens"`
	SpacingFixes  []string `json:"spacing_fixes"`
	Reconstructed bool     `json:"reconstructed"`
	Error         string   `json:"error,omitempty"`
}

// Analyzer runs the full pipeline. It is immutable after New and safe for
// concurrent use.
type Analyzer struct {
	tables *Tables
	reseg  *Resegmenter
}

// Option configures an Analyzer.
type Option func(*options)

type options struct {
	tables *Tables
	limits Limits
}

// WithTables replaces the built-in reference tables.
func WithTables(t *Tables) Option {
	return func(o *options) { o.tables = t }
}

// WithLimits sets the input size limits.
func WithLimits(l Limits) Option {
	return func(o *options) { o.limits = l }
}

// New creates an Analyzer.
func New(opts ...Option) *Analyzer {
	o := options{limits: DefaultLimits()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tables == nil {
		o.tables = DefaultTables()
	}
	return &Analyzer{
		tables: o.tables,
		reseg:  NewResegmenter(o.tables, o.limits),
	}
}

// Tables returns the reference tables the analyzer classifies against.
func (a *Analyzer) Tables() *Tables { return a.tables }

// Analyze cleans, validates and reconciles a single pattern.
func (a *Analyzer) Analyze(pattern string) *AnalysisResult {
	res := &AnalysisResult{
		Original:      pattern,
		GarbageTokens: []string{},
		SpacingFixes:  []string{},
		Warnings:      []string{},
	}

	seg := a.reseg.Resegment(pattern)
	res.GarbageTokens = append(res.GarbageTokens, seg.Garbage...)
	res.SpacingFixes = append(res.SpacingFixes, seg.Fixes...)
	if seg.Err != nil {
		res.Message = seg.Err.Message
		res.ErrorCode = seg.Err.Code
		res.Fare = Calculate(nil)
		return res
	}

	tokens := seg.Tokens
	v := Validate(tokens)
	if !v.Valid && v.Err.repairable() {
		if rebuilt, ok := Reconstruct(tokens); ok {
			res.Reconstructed = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("pattern reconstructed after: %s", v.Message))
			tokens = rebuilt
			v = Validate(rebuilt)
		}
	}

	res.Cleaned = joinRaw(tokens)
	res.Tokens = tokens
	res.Validation = v
	res.IsValid = v.Valid
	res.Message = v.Message
	res.Mode = v.Mode
	if v.Err != nil {
		res.ErrorCode = v.Err.Code
	}
	res.Warnings = append(res.Warnings, v.Warnings...)

	res.Fare = Calculate(v)
	if res.Fare.Status == FareMismatched {
		res.Warnings = append(res.Warnings, "fare mismatch: "+res.Fare.MismatchDetail)
	}
	return res
}

// AnalyzeWithJourney analyses pattern and aligns journey against its route.
// The journey is resegmented the same way as the pattern.
func (a *Analyzer) AnalyzeWithJourney(pattern, journey string) *AnalysisResult {
	res := a.Analyze(pattern)

	jseg := a.reseg.Resegment(journey)
	if jseg.Err != nil {
		res.JourneyMatch = &JourneyMatch{MissingSegments: []string{}}
		res.Warnings = append(res.Warnings, "journey: "+jseg.Err.Message)
		return res
	}

	match := MatchJourney(RouteTokens(res.Tokens), RouteTokens(jseg.Tokens))
	match.CleanedJourney = joinRaw(jseg.Tokens)
	res.JourneyMatch = &match
	for _, g := range jseg.Garbage {
		res.Warnings = append(res.Warnings, fmt.Sprintf("journey: garbage token %q removed", g))
	}
	return res
}

// Clean runs the resegmenter and, if the result does not validate, the
// reconstructor. It does not reconcile fares.
func (a *Analyzer) Clean(pattern string) CleanResult {
	seg := a.reseg.Resegment(pattern)
	cr := CleanResult{
		GarbageTokens: append([]string{}, seg.Garbage...),
		SpacingFixes:  append([]string{}, seg.Fixes...),
	}
	if seg.Err != nil {
		cr.Error = seg.Err.Message
		return cr
	}

	tokens := seg.Tokens
	if v := Validate(tokens); !v.Valid {
		cr.Error = v.Message
		if v.Err.repairable() {
			if rebuilt, ok := Reconstruct(tokens); ok {
				tokens = rebuilt
				cr.Reconstructed = true
				cr.Error = ""
			}
		}
	}
	cr.Cleaned = joinRaw(tokens)
	return cr
}

var defaultAnalyzer = sync.OnceValue(func() *Analyzer { return New() })

// Analyze runs the default analyzer.
func Analyze(pattern string) *AnalysisResult { return defaultAnalyzer().Analyze(pattern) }

// AnalyzeWithJourney runs the default analyzer with a journey.
func AnalyzeWithJourney(pattern, journey string) *AnalysisResult {
	return defaultAnalyzer().AnalyzeWithJourney(pattern, journey)
}

// Clean runs the default analyzer's repair pipeline.
func Clean(pattern string) CleanResult { return defaultAnalyzer().Clean(pattern) }
