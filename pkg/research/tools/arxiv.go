package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/research-agent/pkg/research"
)

const arxivURL = "https://export.arxiv.org/api/query"

// ArxivEntry holds one entry of the arXiv Atom feed
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink holds an arXiv entry link
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
	Rel  string `xml:"rel,attr"`
}

// ArxivFeed is the whole arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Arxiv searches arXiv papers. Depth "basic" matches titles only, "advanced"
// matches every field.
type Arxiv struct {
	BaseURL string
	client  *http.Client
}

func NewArxiv() *Arxiv {
	return &Arxiv{BaseURL: arxivURL, client: &http.Client{Timeout: 30 * time.Second}}
}

// Search queries the arXiv API.
func (a *Arxiv) Search(ctx context.Context, query string, opts research.SearchOptions) ([]research.RetrievedItem, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	field := "all"
	if opts.Depth == "basic" {
		field = "ti"
	}

	params := url.Values{}
	params.Add("search_query", field+":"+query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: failed to create request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv: failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("arxiv: failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv: API returned non-200 status code: %d, body: %s", resp.StatusCode, string(body))
	}

	items, err := ParseArxivFeed(body)
	if err != nil {
		return nil, err
	}
	if len(items) > maxResults {
		items = items[:maxResults]
	}
	return items, nil
}

// ParseArxivFeed converts an Atom feed into retrieved items.
func ParseArxivFeed(body []byte) ([]research.RetrievedItem, error) {
	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv: failed to unmarshal XML: %w", err)
	}

	items := make([]research.RetrievedItem, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		title := strings.Join(strings.Fields(entry.Title), " ")
		if title == "" {
			continue
		}
		items = append(items, research.RetrievedItem{
			URL:     entryLink(entry),
			Title:   title,
			Content: strings.Join(strings.Fields(entry.Summary), " "),
		})
	}
	return items, nil
}

// entryLink prefers the abstract page, then the PDF, then the entry id.
func entryLink(entry ArxivEntry) string {
	var pdf string
	for _, link := range entry.Link {
		switch {
		case link.Rel == "alternate" && link.Href != "":
			return link.Href
		case link.Type == "application/pdf" && pdf == "":
			pdf = link.Href
		}
	}
	if pdf != "" {
		return pdf
	}
	return strings.TrimSpace(entry.ID)
}
