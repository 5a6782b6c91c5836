package splitter

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/mikeboe/research-agent/pkg/research"
)

// Chunk is one embeddable piece of a summary.
type Chunk struct {
	Query string
	Index int
	Text  string
}

// Embeddable prefixes the chunk with its query so the vector carries the
// question it answers.
func (c Chunk) Embeddable() string {
	return fmt.Sprintf("Query: %s\n\n%s", c.Query, c.Text)
}

// SummaryChunker splits research summaries with langchaingo's recursive
// character splitter.
type SummaryChunker struct {
	splitter textsplitter.TextSplitter
}

func NewSummaryChunker(chunkSize, chunkOverlap int) *SummaryChunker {
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	return &SummaryChunker{splitter: ts}
}

// Chunk returns nothing for "no results" records.
func (c *SummaryChunker) Chunk(rec research.SummaryRecord) ([]Chunk, error) {
	if rec.NoResults || strings.TrimSpace(rec.Text) == "" {
		return nil, nil
	}
	parts, err := c.splitter.SplitText(rec.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to split summary for %q: %w", rec.Query, err)
	}

	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		chunks = append(chunks, Chunk{Query: rec.Query, Index: len(chunks), Text: p})
	}
	return chunks, nil
}
