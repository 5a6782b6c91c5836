package research

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFanOut(s Searcher, concurrency int) *FanOut {
	return &FanOut{
		searcher:    s,
		opts:        SearchOptions{MaxResults: 3, Depth: "basic"},
		concurrency: concurrency,
		timeout:     time.Second,
		logger:      discardLogger(),
	}
}

// gatedSearcher tracks how many searches run at once.
type gatedSearcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *gatedSearcher) Search(ctx context.Context, query string, _ SearchOptions) ([]RetrievedItem, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return []RetrievedItem{{URL: "https://example.com/" + query, Title: query}}, nil
}

func TestRetrieveRespectsConcurrencyLimit(t *testing.T) {
	s := &gatedSearcher{}
	f := newTestFanOut(s, 2)

	batch, err := f.Retrieve(context.Background(), []string{"a", "b", "c", "d", "e", "f"})
	require.NoError(t, err)
	assert.Len(t, batch.Results, 6)
	assert.LessOrEqual(t, s.peak.Load(), int32(2))
}

func TestRetrieveTruncatesToMaxResults(t *testing.T) {
	f := newTestFanOut(&fakeSearcher{items: 8}, 2)

	batch, err := f.Retrieve(context.Background(), []string{"geothermal"})
	require.NoError(t, err)
	assert.Len(t, batch.Results["geothermal"], 3)
}

func TestRetrievePartialFailure(t *testing.T) {
	searcher := &fakeSearcher{fail: func(q string) bool { return q == "broken" }}
	f := newTestFanOut(searcher, 2)

	batch, err := f.Retrieve(context.Background(), []string{"ok", "broken"})
	require.NoError(t, err)
	assert.Contains(t, batch.Results, "broken")
	assert.Empty(t, batch.Results["broken"])
	assert.Contains(t, batch.Failures, "broken")
	assert.Len(t, batch.Results["ok"], 3)

	calls := 0
	for _, q := range searcher.searched() {
		if q == "broken" {
			calls++
		}
	}
	assert.Equal(t, 2, calls, "a failing query is retried once")
}

func TestRetrieveAllFailed(t *testing.T) {
	f := newTestFanOut(&fakeSearcher{fail: func(string) bool { return true }}, 2)

	batch, err := f.Retrieve(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Len(t, batch.Failures, 2)
}

type emptySearcher struct {
	mu    sync.Mutex
	calls int
}

func (e *emptySearcher) Search(context.Context, string, SearchOptions) ([]RetrievedItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return nil, nil
}

func TestRetrieveEmptyResultIsNotRetried(t *testing.T) {
	s := &emptySearcher{}
	f := newTestFanOut(s, 1)

	batch, err := f.Retrieve(context.Background(), []string{"nothing"})
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.ErrorIs(t, batch.Failures["nothing"], errNoResults)
	assert.Equal(t, 1, s.calls)
}

func TestRetrieveTimesOutSlowSearches(t *testing.T) {
	searcher := &fakeSearcher{onQuery: func(ctx context.Context, q string) error {
		if q == "slow" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}}
	f := newTestFanOut(searcher, 2)
	f.timeout = 20 * time.Millisecond

	batch, err := f.Retrieve(context.Background(), []string{"fast", "slow"})
	require.NoError(t, err)
	assert.True(t, errors.Is(batch.Failures["slow"], context.DeadlineExceeded))
	assert.Equal(t, "timeout", failureReason(batch.Failures["slow"]))
	assert.NotEmpty(t, batch.Results["fast"])
}

func TestRetrieveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFanOut(&fakeSearcher{}, 2)
	_, err := f.Retrieve(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}
