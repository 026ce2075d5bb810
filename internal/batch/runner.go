package batch

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"fca_cleaner/internal/logging"
	"fca_cleaner/internal/pipeline"
)

// DefaultWorkers is used when Options.Workers is not positive.
const DefaultWorkers = 8

// Options configures a Runner.
type Options struct {
	Workers int
	Persist bool   // Save every result to the processor's store.
	Source  string // Recorded with stored results and metrics.
	Logger  logging.Logger
}

// Runner analyses many inputs in parallel. Results keep input order.
type Runner struct {
	proc    *pipeline.Processor
	workers int
	persist bool
	source  string
	logger  logging.Logger
}

// NewRunner creates a Runner over proc.
func NewRunner(proc *pipeline.Processor, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Source == "" {
		opts.Source = "batch"
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Runner{
		proc:    proc,
		workers: opts.Workers,
		persist: opts.Persist,
		source:  opts.Source,
		logger:  opts.Logger,
	}
}

// Summary counts outcomes of a run.
type Summary struct {
	Total          int `json:"total"`
	Valid          int `json:"valid"`
	Invalid        int `json:"invalid"`
	Reconstructed  int `json:"reconstructed"`
	FareMismatches int `json:"fare_mismatches"`
	GarbageTokens  int `json:"garbage_tokens"`
	JourneyGaps    int `json:"journey_gaps"`
	StoreErrors    int `json:"store_errors"`
}

// Report is the result of a run.
type Report struct {
	Results []pipeline.Outcome `json:"results"`
	Summary Summary            `json:"summary"`
}

// Run analyses inputs. A failed save is counted in the summary and does not
// stop the run; cancelling ctx does.
func (r *Runner) Run(ctx context.Context, inputs []pipeline.Input) (*Report, error) {
	if r.persist && r.proc.Store() == nil {
		return nil, pipeline.ErrNoStore
	}

	outcomes := make([]pipeline.Outcome, len(inputs))
	var storeErrors atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := r.proc.Process(gctx, r.source, in, r.persist)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				storeErrors.Add(1)
				r.logger.Warn("batch item not stored", logging.Int("index", i), logging.Err(err))
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := Summarize(outcomes)
	summary.StoreErrors = int(storeErrors.Load())
	r.logger.Info("batch complete",
		logging.Int("total", summary.Total),
		logging.Int("valid", summary.Valid),
		logging.Int("reconstructed", summary.Reconstructed),
		logging.Int("store_errors", summary.StoreErrors))

	return &Report{Results: outcomes, Summary: summary}, nil
}

// Summarize counts outcomes.
func Summarize(outcomes []pipeline.Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		res := o.Result
		if res == nil {
			continue
		}
		s.Total++
		if res.IsValid {
			s.Valid++
		} else {
			s.Invalid++
		}
		if res.Reconstructed {
			s.Reconstructed++
		}
		if !res.Fare.IsMatch {
			s.FareMismatches++
		}
		s.GarbageTokens += len(res.GarbageTokens)
		if res.JourneyMatch != nil && !res.JourneyMatch.IsMatch {
			s.JourneyGaps++
		}
	}
	return s
}
