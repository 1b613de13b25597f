package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/resumechat/internal/pipeline"
	"github.com/kalambet/resumechat/internal/profile"
	"github.com/kalambet/resumechat/internal/tree"
)

// Preparer builds a prompt without calling the model.
type Preparer interface {
	Prepare(ctx context.Context, message string) (pipeline.Prepared, error)
}

// ContextLoader loads the full profile document.
type ContextLoader interface {
	Load(ctx context.Context) (*tree.Map, profile.Source, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat     Answerer
	Preparer Preparer // optional; if nil, select_context is not registered
	Profiles ContextLoader
	Version  string
}

// NewMCPServer creates an MCP server exposing the resume assistant as a tool
// and the profile document as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"resumechat",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("resumechat answers questions about the resume owner's professional background."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_about_resume",
			mcp.WithDescription("Ask a question about the resume owner's experience, skills, or background."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	if deps.Preparer != nil {
		s.AddTool(
			mcp.NewTool("select_context",
				mcp.WithDescription("Show which topic categories and profile sections a question selects, without calling the model."),
				mcp.WithString("question", mcp.Description("The question to analyse"), mcp.Required()),
			),
			mcpSelectContext(deps),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"resume://context",
			"Resume Context",
			mcp.WithResourceDescription("The full profile document answers are grounded in"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceContext(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		ans, err := deps.Chat.Answer(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("%s: %v", chatFailure, err)), nil
		}
		return mcpText(ans.Text), nil
	}
}

func mcpSelectContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		p, err := deps.Preparer.Prepare(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("selection failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"categories": p.Categories,
			"source":     p.Source,
			"context":    p.Reduced,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal selection: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceContext(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		doc, _, err := deps.Profiles.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load context: %w", err)
		}

		text, err := tree.Indent(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal context: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     text,
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
