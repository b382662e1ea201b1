package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/stockmeta/internal/export"
	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/pipeline"
	"github.com/kalambet/stockmeta/internal/prompt"
	"github.com/kalambet/stockmeta/internal/storage"
)

// MCPDescriber generates metadata for one local file.
type MCPDescriber interface {
	Describe(ctx context.Context, settings pipeline.Settings, path string) (orchestrator.Record, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Describer MCPDescriber
	Settings  func() (pipeline.Settings, error)
}

// NewMCPServer creates an MCP server with the stockmeta tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"stockmeta",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("stockmeta generates stock-site titles, descriptions and keywords for local media files."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("describe_file",
			mcp.WithDescription("Generate stock metadata (or an image prompt) for a local image or video file."),
			mcp.WithString("path", mcp.Description("Absolute path to the media file"), mcp.Required()),
			mcp.WithString("mode", mcp.Description("metadata (default) or prompt")),
			mcp.WithString("provider", mcp.Description("Provider override: gemini, grok, mistral, groq or ollama")),
		),
		mcpDescribeFile(deps),
	)

	s.AddTool(
		mcp.NewTool("list_results",
			mcp.WithDescription("List generated records of the current working set."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of records (default 20)")),
			mcp.WithBoolean("failed_only", mcp.Description("Only return failed records")),
		),
		mcpListResults(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"results://latest",
			"Latest Results",
			mcp.WithResourceDescription("Records of the most recent generation run as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLatest(deps),
	)

	return s
}

func mcpDescribeFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}
		settings, err := deps.Settings()
		if err != nil {
			return mcpError(fmt.Sprintf("loading settings: %v", err)), nil
		}
		if m := req.GetString("mode", ""); m != "" {
			mode, err := prompt.ParseMode(m)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			settings.Mode = mode
		}
		if p := req.GetString("provider", ""); p != "" {
			settings.Provider = p
			settings.Model = ""
		}
		// The result is returned directly; no CSV is written for ad-hoc files.
		settings.Export.AutoCSV = false

		rec, err := deps.Describer.Describe(ctx, settings, path)
		if err != nil {
			return mcpError(fmt.Sprintf("describe failed: %v", err)), nil
		}
		if rec.Failed {
			return mcpError(rec.Description), nil
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListResults(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 500 {
			limit = 500
		}
		failedOnly := req.GetBool("failed_only", false)

		results, err := deps.Store.ListResults()
		if err != nil {
			return mcpError(fmt.Sprintf("listing results: %v", err)), nil
		}
		records := make([]orchestrator.Record, 0, limit)
		for _, rec := range export.FromStored(results) {
			if failedOnly && !rec.Failed {
				continue
			}
			rec.Thumbnail = ""
			records = append(records, rec)
			if len(records) == limit {
				break
			}
		}

		b, err := json.Marshal(records)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceLatest(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records := []orchestrator.Record{}
		sessions, err := deps.Store.ListSessions(1)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(sessions) > 0 {
			results, err := deps.Store.SessionResults(sessions[0].ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load results: %w", err)
			}
			for _, rec := range export.FromStored(results) {
				rec.Thumbnail = ""
				records = append(records, rec)
			}
		}

		b, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal results: %w", err)
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
