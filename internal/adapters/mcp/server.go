// Package mcpadapter exposes the question answering and indexing use cases as
// MCP tools over stdio.
package mcpadapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/repo-assistant/internal/core/ports"
)

const (
	ServerName    = "repoqa"
	ServerVersion = "1.0.0"
)

type Server struct {
	mcp       *server.MCPServer
	answerer  ports.QuestionAnswerer
	rebuilder ports.IndexRebuilder
	inspector ports.IndexInspector
	logger    *slog.Logger
}

func NewServer(
	answerer ports.QuestionAnswerer,
	rebuilder ports.IndexRebuilder,
	inspector ports.IndexInspector,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:       server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		answerer:  answerer,
		rebuilder: rebuilder,
		inspector: inspector,
		logger:    logger,
	}
	s.mcp.AddTool(askRepositoryTool(), s.handleAskRepository)
	s.mcp.AddTool(rebuildIndexTool(), s.handleRebuildIndex)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	return s
}

// ServeStdio serves on the process stdin and stdout until ctx is cancelled
// or stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve speaks line-delimited JSON-RPC over in and out. Cancellation of ctx
// is a clean shutdown.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("mcp_server_started", "name", ServerName, "version", ServerVersion)
	err := stdio.Listen(ctx, in, out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		s.logger.Info("mcp_server_stopped")
		return nil
	}
	return err
}
