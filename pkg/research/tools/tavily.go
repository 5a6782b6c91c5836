package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mikeboe/research-agent/pkg/research"
)

const tavilyURL = "https://api.tavily.com/search"

// maxRateLimitRetries bounds the retries of a query answered with HTTP 429.
const maxRateLimitRetries = 3

var ErrRateLimited = errors.New("tavily: rate limited")

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey  string
	BaseURL string

	client  *http.Client
	limiter *rate.Limiter
	// maxBackoff caps the wait between retries on HTTP 429.
	maxBackoff time.Duration
}

// NewTavily constructs a Tavily search provider that issues at most rps
// requests per second. rps <= 0 disables client-side limiting.
func NewTavily(apiKey string, rps float64) *Tavily {
	return NewTavilyWithClient(apiKey, rps, &http.Client{Timeout: 30 * time.Second})
}

// NewTavilyWithClient is NewTavily with a caller supplied HTTP client.
func NewTavilyWithClient(apiKey string, rps float64, client *http.Client) *Tavily {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &Tavily{
		APIKey:     apiKey,
		BaseURL:    tavilyURL,
		client:     client,
		limiter:    rate.NewLimiter(limit, burst),
		maxBackoff: 30 * time.Second,
	}
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search posts a query to Tavily.
func (t *Tavily) Search(ctx context.Context, query string, opts research.SearchOptions) ([]research.RetrievedItem, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	depth := opts.Depth
	if depth == "" {
		depth = "basic"
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	payload, err := json.Marshal(tavilyRequest{Query: query, MaxResults: maxResults, SearchDepth: depth})
	if err != nil {
		return nil, fmt.Errorf("tavily: failed to marshal request: %w", err)
	}

	var resp *http.Response
	delay := min(time.Second, t.maxBackoff)
	for attempt := 0; ; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("tavily: failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.APIKey)

		resp, err = t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tavily: request failed: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()
		if attempt >= maxRateLimitRetries {
			return nil, ErrRateLimited
		}

		// Back off on 429, doubling up to maxBackoff.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < t.maxBackoff {
			delay = min(delay*2, t.maxBackoff)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tavily: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tavily: failed to decode response: %w", err)
	}

	items := make([]research.RetrievedItem, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		items = append(items, research.RetrievedItem{
			URL:     r.URL,
			Title:   r.Title,
			Content: r.Content,
			Score:   r.Score,
		})
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}
