package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/nexus/internal/index"
	"github.com/Aman-CERP/nexus/internal/search"
	"github.com/Aman-CERP/nexus/internal/state"
	"github.com/Aman-CERP/nexus/internal/store"
	"github.com/Aman-CERP/nexus/pkg/nexus"
	"github.com/Aman-CERP/nexus/pkg/version"
)

// ServerName is reported to clients during initialization.
const ServerName = "nexus"

// Library is the part of *nexus.Library the server calls.
type Library interface {
	IndexDirectory(ctx context.Context, path string, opts nexus.IndexOptions) (*index.IndexProgress, error)
	Search(ctx context.Context, query string, mode search.Mode, limit int) (*search.Response, error)
	Status(ctx context.Context) (nexus.Status, error)
	Explain(ctx context.Context, ref string) ([]store.Hit, *state.FileRecord, error)
}

// Server exposes a Library to MCP clients.
type Server struct {
	mcp    *mcp.Server
	lib    Library
	logger *slog.Logger
}

// NewServer creates a server over lib and registers its tools and
// resources.
func NewServer(lib Library) (*Server, error) {
	if lib == nil {
		return nil, errors.New("library is required")
	}

	s := &Server{
		lib:    lib,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Short(),
		},
		nil,
	)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return ServerName, version.Short()
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_directory",
		Description: "Index every supported file under a directory (or a single file) into the local store. Unchanged files are skipped; deleted files are removed from the store.",
	}, s.indexDirectoryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search indexed documents. Hybrid mode fuses semantic and keyword rankings; semantic and lexical run a single ranking.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_status",
		Description: "Report store location, entry counts and the active embedding model.",
	}, s.statusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 3))
}

func (s *Server) indexDirectoryHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexDirectoryInput) (
	*mcp.CallToolResult,
	IndexDirectoryOutput,
	error,
) {
	path := strings.TrimSpace(input.Path)
	if path == "" {
		return nil, IndexDirectoryOutput{}, NewInvalidParamsError("path parameter is required")
	}
	if input.MaxFileMB < 0 {
		return nil, IndexDirectoryOutput{}, NewInvalidParamsError("max_file_mb must not be negative")
	}
	if input.MaxMemoryMB != nil && *input.MaxMemoryMB < 0 {
		return nil, IndexDirectoryOutput{}, NewInvalidParamsError("max_memory_mb must not be negative")
	}

	reqID := requestID()
	start := time.Now()
	s.logger.Info("mcp_index_started", slog.String("request_id", reqID), slog.String("path", path))

	progress, err := s.lib.IndexDirectory(ctx, path, nexus.IndexOptions{
		GPU:         input.GPU,
		MaxFileMB:   input.MaxFileMB,
		MaxMemoryMB: input.MaxMemoryMB,
	})
	if err != nil {
		s.logger.Warn("mcp_index_failed", slog.String("request_id", reqID), slog.String("error", err.Error()))
		return nil, IndexDirectoryOutput{}, MapError(err)
	}

	out := progressOutput(progress)
	s.logger.Info("mcp_index_complete",
		slog.String("request_id", reqID),
		slog.Int("indexed", out.FilesIndexed),
		slog.Int("skipped", out.FilesSkipped),
		slog.Int("errors", len(out.Errors)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return textResult(FormatIndexProgress(path, progress)), out, nil
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	mode, err := search.ParseMode(input.Mode)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	limit := input.Limit
	switch {
	case limit < 0:
		return nil, SearchOutput{}, NewInvalidParamsError("limit must be positive")
	case limit == 0:
		limit = DefaultSearchLimit
	case limit > MaxSearchLimit:
		limit = MaxSearchLimit
	}

	reqID := requestID()
	start := time.Now()
	resp, err := s.lib.Search(ctx, input.Query, mode, limit)
	if err != nil {
		s.logger.Warn("mcp_search_failed",
			slog.String("request_id", reqID),
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}
	s.logger.Debug("mcp_search_complete",
		slog.String("request_id", reqID),
		slog.String("mode", mode.String()),
		slog.Int("results", len(resp.Results)),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()))

	out := SearchOutput{
		Query:    resp.Query,
		Mode:     resp.Mode.String(),
		Results:  resp.Results,
		Warnings: resp.Warnings,
	}
	if out.Results == nil {
		out.Results = []search.Result{}
	}
	return textResult(FormatSearchResults(resp)), out, nil
}

func (s *Server) statusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	st, err := s.lib.Status(ctx)
	if err != nil {
		return nil, StatusOutput{}, MapError(err)
	}
	return nil, StatusOutput{
		StorePath:        st.StorePath,
		TrackedFiles:     st.TrackedFiles,
		VectorEmbeddings: st.VectorEmbeddings,
		LexicalDocuments: st.LexicalDocuments,
		LexicalBackend:   st.LexicalBackend,
		EmbeddingModel:   st.EmbeddingModel,
		Dimensions:       st.Dimensions,
		Consistent:       st.VectorEmbeddings == st.LexicalDocuments,
	}, nil
}

// Serve runs the server over stdio until ctx is done or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return fmt.Errorf("mcp server: %w", err)
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// requestID creates a short ID for log correlation.
func requestID() string {
	return uuid.NewString()[:8]
}
