package findings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-agent/pkg/research"
	"github.com/mikeboe/research-agent/pkg/splitter"
	"github.com/mikeboe/research-agent/pkg/vectorstore"
)

type fakeStore struct {
	added    []vectorstore.Finding
	deleted  []string
	searched vectorstore.SearchOptions
	hits     []vectorstore.ScoredFinding
	bySource []vectorstore.Finding
	byFilter map[string]any
	addErr   error
}

func (s *fakeStore) AddFindings(_ context.Context, f []vectorstore.Finding) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.added = append(s.added, f...)
	return nil
}

func (s *fakeStore) SimilaritySearch(_ context.Context, _ []float32, opts vectorstore.SearchOptions) ([]vectorstore.ScoredFinding, error) {
	s.searched = opts
	return s.hits, nil
}

func (s *fakeStore) FindingsBySource(context.Context, string) ([]vectorstore.Finding, error) {
	return s.bySource, nil
}

func (s *fakeStore) FindingsByMetadata(_ context.Context, filter map[string]any) ([]vectorstore.Finding, error) {
	s.byFilter = filter
	return s.bySource, nil
}

func (s *fakeStore) DeleteJobFindings(_ context.Context, jobID string) (int64, error) {
	s.deleted = append(s.deleted, jobID)
	return 0, nil
}

type fakeEmbedder struct {
	texts []string
	err   error
}

func (e *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	e.texts = append(e.texts, text)
	return []float32{1, 0}, e.err
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func newTestIndex(store Store, emb Embedder) *Index {
	x := NewIndex(store, emb, splitter.NewSummaryChunker(500, 0))
	x.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return x
}

func TestIndexSummaries(t *testing.T) {
	store := &fakeStore{}
	emb := &fakeEmbedder{}
	x := newTestIndex(store, emb)

	n, err := x.IndexSummaries(context.Background(), "job-1", []research.SummaryRecord{
		{Query: "cost", Text: "Prices fell by half.", Sources: []research.Source{{URL: "https://a.example"}, {URL: "https://b.example"}}},
		{Query: "missing", Text: "No results found for query: missing", NoResults: true},
		{Query: "uncited", Text: "General background."},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, store.added, 2)
	first := store.added[0]
	assert.Equal(t, "job-1", first.JobID)
	assert.Equal(t, "cost", first.Query)
	assert.Equal(t, "https://a.example", first.Source)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, first.Metadata["sources"])
	assert.Equal(t, "job-1", first.Metadata["job_id"])
	assert.Equal(t, []float32{0, 1}, first.Embedding)
	assert.Equal(t, "", store.added[1].Source)

	assert.Equal(t, []string{"job-1"}, store.deleted)
	assert.Equal(t, "Query: cost\n\nPrices fell by half.", emb.texts[0])
}

func TestIndexSummariesNothingToIndex(t *testing.T) {
	store := &fakeStore{}
	x := newTestIndex(store, &fakeEmbedder{})

	n, err := x.IndexSummaries(context.Background(), "job-1", []research.SummaryRecord{
		{Query: "q", Text: "No results found for query: q", NoResults: true},
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.deleted)
}

func TestIndexSummariesEmbeddingFailure(t *testing.T) {
	store := &fakeStore{}
	x := newTestIndex(store, &fakeEmbedder{err: errors.New("quota")})

	_, err := x.IndexSummaries(context.Background(), "job-1", []research.SummaryRecord{{Query: "q", Text: "text"}})
	assert.Error(t, err)
	assert.Empty(t, store.added)
}

func TestSearchFormatsResults(t *testing.T) {
	store := &fakeStore{hits: []vectorstore.ScoredFinding{{
		Finding: vectorstore.Finding{
			Source:   "https://a.example",
			Content:  "Prices fell.",
			Metadata: map[string]any{"source": "https://a.example", "query": "cost", "job_id": "job-1"},
		},
		Score: 0.91234,
	}}}
	x := newTestIndex(store, &fakeEmbedder{})

	resp, err := x.Search(context.Background(), SearchArgs{Query: "price trend", JobID: "job-1"})
	require.NoError(t, err)

	assert.Equal(t, 5, store.searched.TopK)
	assert.Equal(t, "job-1", store.searched.JobID)
	assert.Equal(t,
		"[Source]: https://a.example\n[Content]: Prices fell.\n[score]: 0.912\n[job_id]: job-1\n[query]: cost",
		resp.Results)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	x := newTestIndex(&fakeStore{}, &fakeEmbedder{})
	_, err := x.Search(context.Background(), SearchArgs{Query: " "})
	assert.Error(t, err)
}

func TestFindBySourceAndMetadata(t *testing.T) {
	store := &fakeStore{bySource: []vectorstore.Finding{
		{Query: "cost", Content: "Prices fell."},
		{Query: "policy", Content: "Subsidies grew."},
	}}
	x := newTestIndex(store, &fakeEmbedder{})

	src, err := x.FindBySource(context.Background(), FindSourceArgs{Source: "https://a.example"})
	require.NoError(t, err)
	assert.Equal(t, "[Query]: cost\n[Content]: Prices fell.\n\n[Query]: policy\n[Content]: Subsidies grew.", src.Content)

	filter := map[string]any{"$or": []any{map[string]any{"query": "cost"}}}
	meta, err := x.FindByMetadata(context.Background(), FindMetadataArgs{Filter: filter})
	require.NoError(t, err)
	assert.Equal(t, filter, store.byFilter)
	assert.Contains(t, meta.Content, "[Source]: unknown\n[Content]: Prices fell.")
}
