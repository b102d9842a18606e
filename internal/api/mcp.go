package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/jhm/internal/datastore"
	"github.com/kalambet/jhm/internal/extsync"
	"github.com/kalambet/jhm/internal/record"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Data *datastore.Facade
	Sync *extsync.Reconciler // optional; sync_status reports unavailable when nil
}

// NewMCPServer creates an MCP server with the jhm tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"jhm",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("jhm tracks job applications, resumes and cover letters stored on this machine."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_jobs",
			mcp.WithDescription("List tracked job applications, optionally filtered by status or company."),
			mcp.WithString("status", mcp.Description("Only jobs with this status (wishlist, applied, interviewing, offered, rejected, accepted, archived)")),
			mcp.WithString("company", mcp.Description("Only jobs at this company")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of jobs (default 50)")),
		),
		mcpListJobs(deps),
	)

	s.AddTool(
		mcp.NewTool("save_job",
			mcp.WithDescription("Create or update a job application. Jobs matching an existing id, url or title and company are updated in place: the given fields replace stored ones and omitted fields are kept."),
			mcp.WithString("job", mcp.Description("JSON object with the job fields (title, company, url, status, notes, ...)"), mcp.Required()),
		),
		mcpSaveJob(deps),
	)

	s.AddTool(
		mcp.NewTool("get_stats",
			mcp.WithDescription("Report how many jobs, resumes, letters and settings are stored and which backend is active."),
		),
		mcpGetStats(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_status",
			mcp.WithDescription("Show the result of the last browser extension sync."),
		),
		mcpSyncStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jhm://settings",
			"Settings",
			mcp.WithResourceDescription("Current application settings as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSettings(deps),
	)

	return s
}

func mcpListJobs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobs, err := deps.Data.ListJobs(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list jobs: %v", err)), nil
		}
		jobs = filterRecords(jobs, map[string]string{
			"status":  req.GetString("status", ""),
			"company": req.GetString("company", ""),
		})

		limit := req.GetInt("limit", 50)
		if limit <= 0 {
			limit = 50
		}
		if len(jobs) > limit {
			jobs = jobs[:limit]
		}

		b, err := json.Marshal(jobs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal jobs: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSaveJob(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("job")
		if err != nil {
			return mcpError("job is required"), nil
		}
		job, err := record.Decode([]byte(raw))
		if err != nil {
			return mcpError(fmt.Sprintf("invalid job JSON: %v", err)), nil
		}

		existing, err := matchingJob(ctx, deps, job)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to look up job: %v", err)), nil
		}
		verb := "Saved"
		if existing != nil {
			// fields the caller left out keep their stored values
			for k, v := range job {
				existing[k] = v
			}
			job, verb = existing, "Updated"
		}
		if job.String("source") == "" {
			job["source"] = record.SourceManual
		}

		id, err := deps.Data.SaveJob(ctx, job)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save job: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("%s job %s", verb, id)), nil
	}
}

// matchingJob returns the stored job that job should update: the one with
// its id, or else a duplicate by url or title and company.
func matchingJob(ctx context.Context, deps MCPDeps, job record.Record) (record.Record, error) {
	if id := job.ID(); id != "" {
		return deps.Data.LoadJob(ctx, id)
	}
	jobs, err := deps.Data.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	if dup, ok := record.FindDuplicateJob(jobs, job); ok {
		return dup, nil
	}
	return nil, nil
}

func mcpGetStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(map[string]any{
			"mode":  deps.Data.Mode(),
			"stats": deps.Data.Stats(ctx),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSyncStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Sync == nil {
			return mcpError("extension sync is not available: the object store is not active"), nil
		}
		st, err := deps.Sync.Status(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read sync status: %v", err)), nil
		}
		if st.LastSync == "" {
			return mcpText("The extension has not synced yet."), nil
		}
		b, err := json.Marshal(st)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sync status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSettings(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		settings, err := deps.Data.LoadSettings(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
		b, err := json.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
