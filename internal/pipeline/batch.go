package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/refgrab/internal/manifest"
	"github.com/nao1215/refgrab/internal/model"
)

// BatchProcessor handles concurrent processing of multiple seed URLs.
// It uses errgroup to manage goroutines and respect concurrency limits.
//
// Design decision: We use a separate BatchProcessor rather than adding batch
// functionality to Pipeline because:
// 1. It keeps the Pipeline focused on single-run execution
// 2. It allows different batch strategies (e.g., rate limiting, retries)
// 3. It provides cleaner separation of concerns
type BatchProcessor struct {
	// pipelineFactory creates a new pipeline for each seed.
	// We use a factory to ensure each run gets a fresh pipeline instance
	// with its own visited and downloaded state.
	pipelineFactory func() *Pipeline

	// concurrency is the maximum number of concurrent runs.
	// The default of 1 keeps multi-seed invocations polite; raising it
	// is only sensible when the seeds point at different hosts.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger

	// results stores completed run summaries.
	// Access is synchronized via mutex.
	results []*model.CrawlSummary
	mu      sync.Mutex
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent runs.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor.
//
// The pipelineFactory function is called for each seed to create a fresh
// pipeline instance. This ensures that pipeline state doesn't leak between
// runs and allows for per-run customization if needed.
func NewBatchProcessor(pipelineFactory func() *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     1,
		results:         make([]*model.CrawlSummary, 0),
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// ProcessBatch crawls multiple seeds concurrently.
// It respects the configured concurrency limit and context cancellation.
//
// Design decision: We use errgroup.SetLimit rather than a worker pool
// because it's simpler and errgroup handles the concurrency correctly.
// Each seed gets its own goroutine, but only 'concurrency' goroutines
// run simultaneously.
//
// Returns all summaries collected, even for seeds that failed.
// The error return indicates if the batch was cancelled.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, seeds []string) ([]*model.CrawlSummary, error) {
	bp.logger.Info("starting batch processing",
		"total_seeds", len(seeds),
		"concurrency", bp.concurrency,
	)

	startTime := time.Now()

	// Pre-allocate results slice to maintain order
	bp.results = make([]*model.CrawlSummary, len(seeds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, seed := range seeds {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			bp.logger.Info("crawling seed",
				"seed", seed,
				"index", i+1,
				"total", len(seeds),
			)

			summary := &model.CrawlSummary{
				RunID: manifest.NewRunID(),
				Seed:  seed,
			}

			p := bp.pipelineFactory()
			err := p.Execute(ctx, summary)

			// Store result regardless of error
			// The summary contains error information if the run failed
			bp.mu.Lock()
			bp.results[i] = summary
			bp.mu.Unlock()

			if err != nil {
				bp.logger.Warn("run failed",
					"seed", seed,
					"error", err,
				)
				// Don't return error to errgroup - we want to continue
				// other runs. The error is recorded in the summary.
				return nil
			}

			bp.logger.Info("run completed", "seed", seed)
			return nil
		})
	}

	err := g.Wait()

	bp.logger.Info("batch processing complete",
		"total_seeds", len(seeds),
		"elapsed", time.Since(startTime),
	)

	return bp.results, err
}

// ProcessBatchWithCallback crawls multiple seeds and calls a callback
// for each completed run. This is useful for streaming results.
//
// The callback receives the summary and the index of the seed in the
// original slice. The callback is called from the goroutine that completed
// the run, so it should be thread-safe if it accesses shared state.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	seeds []string,
	callback func(summary *model.CrawlSummary, index int),
) error {
	bp.logger.Info("starting batch processing with callback",
		"total_seeds", len(seeds),
		"concurrency", bp.concurrency,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, seed := range seeds {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			summary := &model.CrawlSummary{
				RunID: manifest.NewRunID(),
				Seed:  seed,
			}

			p := bp.pipelineFactory()
			_ = p.Execute(ctx, summary) //nolint:errcheck // Error is stored in summary

			callback(summary, i)
			return nil
		})
	}

	return g.Wait()
}
