package findings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mikeboe/research-agent/pkg/research"
	"github.com/mikeboe/research-agent/pkg/splitter"
	"github.com/mikeboe/research-agent/pkg/vectorstore"
)

// Store is the persistence the index needs; *vectorstore.FindingStore
// implements it.
type Store interface {
	AddFindings(ctx context.Context, findings []vectorstore.Finding) error
	SimilaritySearch(ctx context.Context, embedding []float32, opts vectorstore.SearchOptions) ([]vectorstore.ScoredFinding, error)
	FindingsBySource(ctx context.Context, source string) ([]vectorstore.Finding, error)
	FindingsByMetadata(ctx context.Context, filter map[string]any) ([]vectorstore.Finding, error)
	DeleteJobFindings(ctx context.Context, jobID string) (int64, error)
}

// Embedder turns text into vectors; *embeddings.GoogleEmbedder implements it.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Index stores research summaries as searchable findings.
type Index struct {
	Store    Store
	Embedder Embedder
	Chunker  *splitter.SummaryChunker
	Logger   *slog.Logger
}

func NewIndex(store Store, embedder Embedder, chunker *splitter.SummaryChunker) *Index {
	return &Index{Store: store, Embedder: embedder, Chunker: chunker, Logger: slog.Default()}
}

// IndexSummaries chunks, embeds and stores the summaries of a job, replacing
// whatever was indexed for it before. It returns the number of findings
// written.
func (x *Index) IndexSummaries(ctx context.Context, jobID string, summaries []research.SummaryRecord) (int, error) {
	var (
		findings []vectorstore.Finding
		texts    []string
	)
	for _, rec := range summaries {
		chunks, err := x.Chunker.Chunk(rec)
		if err != nil {
			return 0, err
		}
		sources := make([]string, 0, len(rec.Sources))
		for _, src := range rec.Sources {
			sources = append(sources, src.URL)
		}
		primary := ""
		if len(sources) > 0 {
			primary = sources[0]
		}
		for _, ch := range chunks {
			findings = append(findings, vectorstore.Finding{
				JobID:   jobID,
				Query:   rec.Query,
				Source:  primary,
				Content: ch.Text,
				Metadata: map[string]any{
					"job_id":  jobID,
					"query":   rec.Query,
					"source":  primary,
					"sources": sources,
					"chunk":   ch.Index,
				},
			})
			texts = append(texts, ch.Embeddable())
		}
	}
	if len(findings) == 0 {
		x.logger().Info("Nothing to index", "job_id", jobID)
		return 0, nil
	}

	vectors, err := x.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed findings: %w", err)
	}
	if len(vectors) != len(findings) {
		return 0, fmt.Errorf("expected %d embeddings, got %d", len(findings), len(vectors))
	}
	for i := range findings {
		findings[i].Embedding = vectors[i]
	}

	if jobID != "" {
		if _, err := x.Store.DeleteJobFindings(ctx, jobID); err != nil {
			return 0, err
		}
	}
	if err := x.Store.AddFindings(ctx, findings); err != nil {
		return 0, err
	}
	x.logger().Info("Indexed findings", "job_id", jobID, "count", len(findings))
	return len(findings), nil
}

type SearchArgs struct {
	Query  string `json:"query"`
	TopK   int    `json:"topK,omitempty"`
	Source string `json:"source,omitempty"`
	JobID  string `json:"job_id,omitempty"`
}

type SearchResp struct {
	Results string `json:"results"`
}

// Search runs a semantic search over the findings.
func (x *Index) Search(ctx context.Context, args SearchArgs) (SearchResp, error) {
	if strings.TrimSpace(args.Query) == "" {
		return SearchResp{}, errors.New("query cannot be empty")
	}
	if args.TopK <= 0 {
		args.TopK = 5
	}
	x.logger().Info("Search findings", "query", args.Query, "topK", args.TopK, "source", args.Source, "job_id", args.JobID)

	vec, err := x.Embedder.EmbedText(ctx, args.Query)
	if err != nil {
		return SearchResp{}, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	results, err := x.Store.SimilaritySearch(ctx, vec, vectorstore.SearchOptions{
		TopK:   args.TopK,
		JobID:  args.JobID,
		Source: args.Source,
	})
	if err != nil {
		return SearchResp{}, fmt.Errorf("failed to search: %w", err)
	}

	formatted := make([]string, 0, len(results))
	for _, r := range results {
		formatted = append(formatted, formatFinding(r.Finding, fmt.Sprintf("%.3f", r.Score)))
	}
	return SearchResp{Results: strings.Join(formatted, "\n\n")}, nil
}

type FindSourceArgs struct {
	Source string `json:"source"`
}

type FindSourceResp struct {
	Content string `json:"content"`
}

// FindBySource returns every finding that cites a URL.
func (x *Index) FindBySource(ctx context.Context, args FindSourceArgs) (FindSourceResp, error) {
	if strings.TrimSpace(args.Source) == "" {
		return FindSourceResp{}, errors.New("source cannot be empty")
	}
	results, err := x.Store.FindingsBySource(ctx, args.Source)
	if err != nil {
		return FindSourceResp{}, fmt.Errorf("failed to find findings: %w", err)
	}

	formatted := make([]string, 0, len(results))
	for _, f := range results {
		formatted = append(formatted, fmt.Sprintf("[Query]: %s\n[Content]: %s", f.Query, f.Content))
	}
	return FindSourceResp{Content: strings.Join(formatted, "\n\n")}, nil
}

type FindMetadataArgs struct {
	Filter map[string]any `json:"filter"`
}

type FindMetadataResp struct {
	Content string `json:"content"`
}

// FindByMetadata returns findings matching a $and/$or/$not metadata filter.
func (x *Index) FindByMetadata(ctx context.Context, args FindMetadataArgs) (FindMetadataResp, error) {
	results, err := x.Store.FindingsByMetadata(ctx, args.Filter)
	if err != nil {
		return FindMetadataResp{}, fmt.Errorf("failed to find findings: %w", err)
	}

	formatted := make([]string, 0, len(results))
	for _, f := range results {
		formatted = append(formatted, formatFinding(f, ""))
	}
	return FindMetadataResp{Content: strings.Join(formatted, "\n\n")}, nil
}

func formatFinding(f vectorstore.Finding, score string) string {
	source := f.Source
	if source == "" {
		source = "unknown"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[Source]: %s\n[Content]: %s", source, f.Content)
	if score != "" {
		fmt.Fprintf(&sb, "\n[score]: %s", score)
	}

	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		if k != "source" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n[%s]: %v", k, f.Metadata[k])
	}
	return sb.String()
}

func (x *Index) logger() *slog.Logger {
	if x.Logger == nil {
		return slog.Default()
	}
	return x.Logger
}
