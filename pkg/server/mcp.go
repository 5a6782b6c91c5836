package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/research-agent/pkg/findings"
)

var mcpImpl = &mcp.Implementation{Name: "research-agent-mcp", Version: "1.0.0"}

var errIndexDisabled = errors.New("findings index is not configured")

// NewMCPServer exposes the findings tools and job reports as MCP tools.
// tools may be nil, in which case the findings tools report an error.
func NewMCPServer(jobs JobService, tools FindingsTools) *mcp.Server {
	srv := mcp.NewServer(mcpImpl, nil)
	registerSearchFindings(srv, tools)
	registerFindBySource(srv, tools)
	registerFindByMetadata(srv, tools)
	registerResearchReport(srv, jobs)
	return srv
}

// NewMCPHandler serves srv over the streamable HTTP transport.
func NewMCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

// addTextTool registers a tool whose result is a single text block. Decode
// and call failures become tool errors rather than protocol errors.
func addTextTool[A any](srv *mcp.Server, tool *mcp.Tool, call func(ctx context.Context, args A) (string, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args A
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		text, err := call(ctx, args)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	})
}

func registerSearchFindings(srv *mcp.Server, tools FindingsTools) {
	tool := &mcp.Tool{
		Name:        "search_findings",
		Description: "Semantic search over the summaries of finished research jobs.",
		InputSchema: inputSchema(map[string]any{
			"query":  map[string]any{"type": "string", "description": "The search query."},
			"topK":   map[string]any{"type": "integer", "description": "The number of top results to return (default: 5)."},
			"source": map[string]any{"type": "string", "description": "Only return findings citing this URL."},
			"job_id": map[string]any{"type": "string", "description": "Only return findings of this research job."},
		}, []string{"query"}),
	}

	addTextTool(srv, tool, func(ctx context.Context, args findings.SearchArgs) (string, error) {
		if tools == nil {
			return "", errIndexDisabled
		}
		resp, err := tools.Search(ctx, args)
		return resp.Results, err
	})
}

func registerFindBySource(srv *mcp.Server, tools FindingsTools) {
	tool := &mcp.Tool{
		Name:        "find_findings_by_source",
		Description: "Find every finding that cites a source URL.",
		InputSchema: inputSchema(map[string]any{
			"source": map[string]any{"type": "string", "description": "The source URL."},
		}, []string{"source"}),
	}

	addTextTool(srv, tool, func(ctx context.Context, args findings.FindSourceArgs) (string, error) {
		if tools == nil {
			return "", errIndexDisabled
		}
		resp, err := tools.FindBySource(ctx, args)
		return resp.Content, err
	})
}

func registerFindByMetadata(srv *mcp.Server, tools FindingsTools) {
	tool := &mcp.Tool{
		Name:        "find_findings_by_metadata",
		Description: "Find findings using logical filters on metadata.",
		InputSchema: inputSchema(map[string]any{
			"filter": map[string]any{
				"type":        "object",
				"description": "JSON filter object with logical operators ($and, $or, $not)",
			},
		}, []string{"filter"}),
	}

	addTextTool(srv, tool, func(ctx context.Context, args findings.FindMetadataArgs) (string, error) {
		if tools == nil {
			return "", errIndexDisabled
		}
		resp, err := tools.FindByMetadata(ctx, args)
		return resp.Content, err
	})
}

type reportArgs struct {
	JobID string `json:"job_id"`
}

func registerResearchReport(srv *mcp.Server, jobs JobService) {
	tool := &mcp.Tool{
		Name:        "get_research_report",
		Description: "Get the status and final report of a research job.",
		InputSchema: inputSchema(map[string]any{
			"job_id": map[string]any{"type": "string", "description": "The research job ID."},
		}, []string{"job_id"}),
	}

	addTextTool(srv, tool, func(ctx context.Context, args reportArgs) (string, error) {
		id, err := uuid.Parse(args.JobID)
		if err != nil {
			return "", errors.New("job_id must be a UUID")
		}
		job, err := jobs.GetJob(ctx, id)
		if err != nil {
			return "", err
		}
		return formatJob(job), nil
	})
}

func formatJob(job *Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Topic]: %s\n[Status]: %s", job.Topic, job.Status)
	if job.ConfidenceScore != nil {
		fmt.Fprintf(&b, "\n[Confidence]: %d/10", *job.ConfidenceScore)
	}
	if job.Iterations != nil {
		fmt.Fprintf(&b, "\n[Iterations]: %d", *job.Iterations)
	}
	if job.Error != nil {
		fmt.Fprintf(&b, "\n[Error]: %s", *job.Error)
	}
	if job.Report != nil {
		fmt.Fprintf(&b, "\n\n%s", *job.Report)
	}
	return b.String()
}
