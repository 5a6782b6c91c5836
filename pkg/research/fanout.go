package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/research-agent/pkg/metrics"
)

// SearchOptions caps a single search request.
type SearchOptions struct {
	MaxResults int
	Depth      string
}

// Searcher is a web-search provider.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]RetrievedItem, error)
}

// RetrievalBatch is the joined output of one fan-out. Every query of the
// round has an entry in Results, empty when it failed.
type RetrievalBatch struct {
	Results  map[string][]RetrievedItem
	Failures map[string]error
}

// FanOut runs one search per query on a bounded pool.
type FanOut struct {
	searcher    Searcher
	opts        SearchOptions
	concurrency int
	timeout     time.Duration
	retryDelay  time.Duration
	logger      *slog.Logger
}

// Retrieve searches all queries concurrently and joins on every one of them.
// Per-query failures become empty result sets; if all fail the batch is
// returned together with ErrRetrieval. A cancelled context discards the
// batch.
func (f *FanOut) Retrieve(ctx context.Context, queries []string) (RetrievalBatch, error) {
	f.logger.Info("Starting retrieval phase", "queries", len(queries))

	// One private slot per query; nothing shared is written until after Wait.
	slots := make([]Outcome[[]RetrievedItem], len(queries))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			slots[i] = f.searchOne(ctx, q)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return RetrievalBatch{}, err
	}

	batch := RetrievalBatch{
		Results:  make(map[string][]RetrievedItem, len(queries)),
		Failures: make(map[string]error),
	}
	for i, q := range queries {
		out := slots[i]
		if !out.OK() {
			batch.Results[q] = nil
			batch.Failures[q] = out.Err
			metrics.RetrievalFailures.WithLabelValues(failureReason(out.Err)).Inc()
			f.logger.Warn("Search failed", "query", q, "error", out.Err)
			continue
		}
		batch.Results[q] = out.Value
		f.logger.Info("Search successful", "query", q, "count", len(out.Value))
	}

	if len(queries) > 0 && len(batch.Failures) == len(queries) {
		return batch, ErrRetrieval
	}
	return batch, nil
}

var errNoResults = errors.New("search returned no results")

func (f *FanOut) searchOne(ctx context.Context, query string) Outcome[[]RetrievedItem] {
	var lastErr error
	for attempt := 1; attempt <= providerAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, f.retryDelay); err != nil {
				return softFailed[[]RetrievedItem](err, attempt-1)
			}
		}

		items, err := f.searchWithTimeout(ctx, query)
		if err == nil {
			if len(items) == 0 {
				// An empty answer is a real answer; retrying will not change it.
				return softFailed[[]RetrievedItem](errNoResults, attempt)
			}
			if len(items) > f.opts.MaxResults {
				items = items[:f.opts.MaxResults]
			}
			return succeeded(items, attempt)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return softFailed[[]RetrievedItem](fmt.Errorf("search %q: %w", query, lastErr), providerAttempts)
}

func (f *FanOut) searchWithTimeout(ctx context.Context, query string) ([]RetrievedItem, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.searcher.Search(ctx, query, f.opts)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, errNoResults):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "provider_error"
	}
}
