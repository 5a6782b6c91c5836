package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-agent/pkg/findings"
	"github.com/mikeboe/research-agent/pkg/research"
)

type fakeJobs struct {
	created []CreateJobRequest
	jobs    map[uuid.UUID]*Job
	logs    []LogEntry
}

func (f *fakeJobs) CreateJob(_ context.Context, req CreateJobRequest) (*Job, error) {
	if _, err := req.jobConfig(research.DefaultConfig()); err != nil {
		return nil, err
	}
	f.created = append(f.created, req)
	job := &Job{ID: uuid.New(), Topic: req.Topic, Status: "pending"}
	if f.jobs == nil {
		f.jobs = map[uuid.UUID]*Job{}
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) GetJob(_ context.Context, id uuid.UUID) (*Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) ListJobs(context.Context) ([]Job, error) {
	var out []Job
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeJobs) GetJobLogs(context.Context, uuid.UUID) ([]LogEntry, error) {
	return f.logs, nil
}

type fakeTools struct {
	searched findings.SearchArgs
	err      error
}

func (f *fakeTools) Search(_ context.Context, args findings.SearchArgs) (findings.SearchResp, error) {
	f.searched = args
	return findings.SearchResp{Results: "[Source]: https://a.example"}, f.err
}

func (f *fakeTools) FindBySource(_ context.Context, args findings.FindSourceArgs) (findings.FindSourceResp, error) {
	return findings.FindSourceResp{Content: "by source " + args.Source}, nil
}

func (f *fakeTools) FindByMetadata(context.Context, findings.FindMetadataArgs) (findings.FindMetadataResp, error) {
	return findings.FindMetadataResp{Content: "by metadata"}, nil
}

func newTestRouter(jobs JobService, tools FindingsTools) (*gin.Engine, *Handler) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(jobs, tools)
	h.RegisterRoutes(r)
	return r, h
}

func do(r http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateJob(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "valid", body: map[string]any{"topic": "solid-state batteries"}, status: http.StatusAccepted},
		{name: "with overrides", body: map[string]any{"topic": "fusion", "max_iterations": 2, "confidence_threshold": 6}, status: http.StatusAccepted},
		{name: "empty topic", body: map[string]any{"topic": "  "}, status: http.StatusBadRequest},
		{name: "threshold out of range", body: map[string]any{"topic": "fusion", "confidence_threshold": 11}, status: http.StatusBadRequest},
		{name: "malformed body", body: "not an object", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(&fakeJobs{}, nil)
			w := do(r, http.MethodPost, "/api/research", tt.body, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestGetJob(t *testing.T) {
	jobs := &fakeJobs{}
	r, _ := newTestRouter(jobs, nil)

	w := do(r, http.MethodPost, "/api/research", map[string]any{"topic": "fusion"}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var created Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = do(r, http.MethodGet, "/api/research/"+created.ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"topic":"fusion"`)

	w = do(r, http.MethodGet, "/api/research/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/research/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndLogsReturnEmptyArrays(t *testing.T) {
	r, _ := newTestRouter(&fakeJobs{}, nil)

	w := do(r, http.MethodGet, "/api/research", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(r, http.MethodGet, "/api/research/"+uuid.NewString()+"/logs", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSearchFindings(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		r, _ := newTestRouter(&fakeJobs{}, nil)
		w := do(r, http.MethodGet, "/api/findings/search?q=cost", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("passes filters", func(t *testing.T) {
		tools := &fakeTools{}
		r, _ := newTestRouter(&fakeJobs{}, tools)
		w := do(r, http.MethodGet, "/api/findings/search?q=cost&top_k=3&job_id=j1&source=https://a.example", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, findings.SearchArgs{Query: "cost", TopK: 3, JobID: "j1", Source: "https://a.example"}, tools.searched)
	})

	t.Run("bad top_k", func(t *testing.T) {
		r, _ := newTestRouter(&fakeJobs{}, &fakeTools{})
		w := do(r, http.MethodGet, "/api/findings/search?q=cost&top_k=zero", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("search error", func(t *testing.T) {
		r, _ := newTestRouter(&fakeJobs{}, &fakeTools{err: errors.New("query cannot be empty")})
		w := do(r, http.MethodGet, "/api/findings/search", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(&fakeJobs{}, nil)
	w := do(r, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "research_agent_jobs_started_total")
}

func TestJobConfigOverrides(t *testing.T) {
	three := 3
	cfg, err := CreateJobRequest{Topic: "fusion", MaxQueries: &three}.jobConfig(research.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxQueries)
	assert.Equal(t, research.DefaultConfig().MaxIterations, cfg.MaxIterations)

	zero := 0
	_, err = CreateJobRequest{Topic: "fusion", MaxIterations: &zero}.jobConfig(research.DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
