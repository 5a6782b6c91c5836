package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// snippetLimit bounds how much of each result goes into a prompt.
const snippetLimit = 600

// Summarizer condenses one query's results into a SummaryRecord.
type Summarizer struct {
	gen         *generator
	concurrency int
	temperature float64
}

// Summarize never fails: empty input and provider failures both yield a
// record marked NoResults. The returned error, when non-nil, is the soft
// failure to record.
func (s *Summarizer) Summarize(ctx context.Context, query string, items []RetrievedItem) (SummaryRecord, error) {
	if len(items) == 0 {
		return noResultsRecord(query), nil
	}

	var parsed struct {
		Summary   string `json:"summary"`
		Citations []int  `json:"citations"`
	}
	out := s.gen.complete(ctx,
		summarizerSystemPrompt+"\n\n# Response Format:\n"+summarySchema,
		buildSummaryInput(query, items),
		s.temperature, true,
		func(content string) error {
			parsed.Summary, parsed.Citations = "", nil
			if err := json.Unmarshal([]byte(content), &parsed); err != nil {
				return fmt.Errorf("json parse error: %w", err)
			}
			if strings.TrimSpace(parsed.Summary) == "" {
				return errors.New("empty summary")
			}
			return nil
		})
	if !out.OK() {
		s.gen.logger.Warn("Summarization failed", "query", query, "error", out.Err)
		return noResultsRecord(query), fmt.Errorf("%w: %v", ErrSummarization, out.Err)
	}

	return SummaryRecord{
		Query:   query,
		Text:    strings.TrimSpace(parsed.Summary),
		Sources: citedSources(items, parsed.Citations),
	}, nil
}

// SummarizeAll summarizes every query of a round on a bounded pool and
// returns the records in query order.
func (s *Summarizer) SummarizeAll(ctx context.Context, queries []string, results map[string][]RetrievedItem) ([]SummaryRecord, map[string]error, error) {
	s.gen.logger.Info("Starting summarizing phase", "queries", len(queries))

	records := make([]SummaryRecord, len(queries))
	errs := make([]error, len(queries))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			records[i], errs[i] = s.Summarize(ctx, q, results[q])
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	failures := make(map[string]error)
	for i, q := range queries {
		if errs[i] != nil {
			failures[q] = errs[i]
		}
	}
	return records, failures, nil
}

func noResultsRecord(query string) SummaryRecord {
	return SummaryRecord{
		Query:     query,
		Text:      fmt.Sprintf("No results found for query: %s", query),
		NoResults: true,
	}
}

// citedSources maps 1-based citation numbers onto the given items. Numbers
// outside the range are ignored; without any valid citation every given item
// counts as used.
func citedSources(items []RetrievedItem, citations []int) []Source {
	seen := make(map[string]bool)
	var out []Source
	add := func(item RetrievedItem) {
		url := strings.TrimSpace(item.URL)
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		out = append(out, Source{URL: url, Title: item.Title})
	}

	for _, n := range citations {
		if n >= 1 && n <= len(items) {
			add(items[n-1])
		}
	}
	if len(out) == 0 {
		for _, item := range items {
			add(item)
		}
	}
	return out
}

func buildSummaryInput(query string, items []RetrievedItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nSearch Results:\n", query)
	for i, item := range items {
		fmt.Fprintf(&sb, "\n[%d] Title: %s\nURL: %s\nContent: %s\n", i+1, item.Title, item.URL, truncateRunes(item.Content, snippetLimit))
	}
	return sb.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
