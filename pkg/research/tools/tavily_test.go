package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-agent/pkg/research"
)

func TestTavilySearch(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[
			{"title":"A","url":"https://a.example","content":"alpha","score":0.9},
			{"title":"B","url":"https://b.example","content":"beta","score":0.5},
			{"title":"C","url":"https://c.example","content":"gamma","score":0.1}
		]}`))
	}))
	defer srv.Close()

	tv := NewTavilyWithClient("key", 0, srv.Client())
	tv.BaseURL = srv.URL

	items, err := tv.Search(context.Background(), "quantum computing", research.SearchOptions{MaxResults: 2, Depth: "advanced"})
	require.NoError(t, err)

	assert.Equal(t, "quantum computing", got.Query)
	assert.Equal(t, 2, got.MaxResults)
	assert.Equal(t, "advanced", got.SearchDepth)
	require.Len(t, items, 2)
	assert.Equal(t, research.RetrievedItem{URL: "https://a.example", Title: "A", Content: "alpha", Score: 0.9}, items[0])
}

func TestTavilyMissingKey(t *testing.T) {
	tv := NewTavily("", 0)
	_, err := tv.Search(context.Background(), "q", research.SearchOptions{})
	assert.Error(t, err)
}

func TestTavilyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tv := NewTavilyWithClient("key", 0, srv.Client())
	tv.BaseURL = srv.URL

	_, err := tv.Search(context.Background(), "q", research.SearchOptions{MaxResults: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 500")
}

func TestTavilyRetriesOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"title":"A","url":"https://a.example","content":"alpha"}]}`))
	}))
	defer srv.Close()

	tv := NewTavilyWithClient("key", 0, srv.Client())
	tv.BaseURL = srv.URL

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	items, err := tv.Search(ctx, "q", research.SearchOptions{MaxResults: 3})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTavilyGivesUpWhenAlwaysRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tv := NewTavilyWithClient("key", 0, srv.Client())
	tv.BaseURL = srv.URL
	tv.maxBackoff = 10 * time.Millisecond

	start := time.Now()
	_, err := tv.Search(context.Background(), "q", research.SearchOptions{})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(maxRateLimitRetries+1), calls.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}
