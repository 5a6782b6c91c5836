package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/research-agent/pkg/findings"
)

// JobService is the job API the handler serves; *Service implements it.
type JobService interface {
	CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error)
}

// FindingsTools queries indexed findings; *findings.Index implements it.
type FindingsTools interface {
	Search(ctx context.Context, args findings.SearchArgs) (findings.SearchResp, error)
	FindBySource(ctx context.Context, args findings.FindSourceArgs) (findings.FindSourceResp, error)
	FindByMetadata(ctx context.Context, args findings.FindMetadataArgs) (findings.FindMetadataResp, error)
}

type Handler struct {
	Service JobService
	// Tools is nil when findings indexing is disabled.
	Tools FindingsTools
	MCP   http.Handler
}

func NewHandler(s JobService, tools FindingsTools) *Handler {
	return &Handler{
		Service: s,
		Tools:   tools,
		MCP:     NewMCPHandler(NewMCPServer(s, tools)),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	mcpHandler := gin.WrapH(h.MCP)
	r.POST("/mcp", mcpHandler)
	r.GET("/mcp", mcpHandler)
	r.DELETE("/mcp", mcpHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	{
		api.POST("/research", h.createJob)
		api.GET("/research", h.listJobs)
		api.GET("/research/:id", h.getJob)
		api.GET("/research/:id/logs", h.getJobLogs)

		api.GET("/findings/search", h.searchFindings)
	}
}

func (h *Handler) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Service.CreateJob(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) listJobs(c *gin.Context) {
	jobs, err := h.Service.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) getJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	job, err := h.Service.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) getJobLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	logs, err := h.Service.GetJobLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) searchFindings(c *gin.Context) {
	if h.Tools == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "findings index is not configured"})
		return
	}

	args := findings.SearchArgs{
		Query:  c.Query("q"),
		Source: c.Query("source"),
		JobID:  c.Query("job_id"),
	}
	if k := c.Query("top_k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top_k must be a positive integer"})
			return
		}
		args.TopK = n
	}

	resp, err := h.Tools.Search(c.Request.Context(), args)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
