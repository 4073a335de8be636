package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

func askRepositoryTool() mcp.Tool {
	return mcp.NewTool("ask_repository",
		mcp.WithDescription("Answer a question about a remote repository using its structure and vector index"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id, e.g. group/name or a numeric GitLab id")),
		mcp.WithString("question", mcp.Required(), mcp.Description("Natural-language question")),
		mcp.WithString("ref", mcp.Description("Branch, tag or commit; defaults to HEAD")),
	)
}

func rebuildIndexTool() mcp.Tool {
	return mcp.NewTool("rebuild_index",
		mcp.WithDescription("Fetch candidate files of a repository and rebuild its vector index"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("ref", mcp.Description("Branch, tag or commit; defaults to HEAD")),
		mcp.WithBoolean("append", mcp.Description("Append to the existing index instead of replacing it")),
	)
}

func indexStatusTool() mcp.Tool {
	return mcp.NewTool("index_status",
		mcp.WithDescription("Show the live index generation and the latest rebuild run of a project"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
	)
}

func (s *Server) handleAskRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	project := stringArg(args, "project")
	question := stringArg(args, "question")
	if project == "" || question == "" {
		return mcp.NewToolResultError("project and question are required"), nil
	}

	answer, err := s.answerer.Answer(ctx, project, question, stringArg(args, "ref"))
	if err != nil {
		s.logger.Warn("mcp_ask_failed", "project", project, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("answer failed: %v", err)), nil
	}

	var b strings.Builder
	b.WriteString(answer.Text)
	if len(answer.Context) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, item := range answer.Context {
			fmt.Fprintf(&b, "- %s (%s)\n", item.Path, item.Kind)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleRebuildIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	project := stringArg(args, "project")
	if project == "" {
		return mcp.NewToolResultError("project is required"), nil
	}
	appendMode, _ := args["append"].(bool)

	run, err := s.rebuilder.Rebuild(ctx, project, stringArg(args, "ref"), domain.RebuildOptions{Append: appendMode})
	if err != nil {
		s.logger.Warn("mcp_rebuild_failed", "project", project, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("rebuild failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(run)), nil
}

func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := stringArg(arguments(request), "project")
	if project == "" {
		return mcp.NewToolResultError("project is required"), nil
	}
	status, err := s.inspector.Status(ctx, project)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return mcp.NewToolResultText(fmt.Sprintf("project %s has no index yet", project)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(status)), nil
}

func arguments(request mcp.CallToolRequest) map[string]any {
	args, _ := request.Params.Arguments.(map[string]any)
	return args
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func formatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}
