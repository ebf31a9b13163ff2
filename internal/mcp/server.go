package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/strandlabs/strand/internal/security"
	"github.com/strandlabs/strand/internal/tools"
)

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	// ProjectRoot is the directory read_project_file is confined to.
	// Empty leaves that tool unregistered.
	ProjectRoot string
	Logger      *slog.Logger
}

// Server wraps the MCP SDK server around the strand toolsets.
type Server struct {
	mcpServer *mcp.Server
	clock     *tools.Clock
	web       *tools.Web
	project   *tools.Project // nil without a project root
	logger    *slog.Logger
}

// NewServer creates an MCP server with the strand tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	clock, err := tools.NewClock(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("clock toolset: %w", err)
	}
	web, err := tools.NewWeb(security.NewURL(), cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("web toolset: %w", err)
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		clock:  clock,
		web:    web,
		logger: cfg.Logger,
	}

	if cfg.ProjectRoot != "" {
		paths, err := security.NewPath(cfg.ProjectRoot)
		if err != nil {
			return nil, fmt.Errorf("project root: %w", err)
		}
		s.project, err = tools.NewProject(paths, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("project toolset: %w", err)
		}
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return s, nil
}

// Run serves the MCP protocol on the given transport. It blocks until
// the transport closes or ctx is canceled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// registerTools registers every available toolset on the MCP server.
func (s *Server) registerTools() error {
	currentTimeSchema, err := jsonschema.For[tools.CurrentTimeInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", tools.CurrentTimeName, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: tools.CurrentTimeName,
		Description: "Get the current date and time, optionally in a specific IANA time zone. " +
			"Returns RFC 3339 time, Unix timestamp, zone name, and weekday.",
		InputSchema: currentTimeSchema,
	}, s.CurrentTime)

	fetchSchema, err := jsonschema.For[tools.FetchWebpageInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", tools.FetchWebpageName, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: tools.FetchWebpageName,
		Description: "Fetch a public web page and extract its readable text. " +
			"Private networks and metadata endpoints are blocked; long pages are truncated.",
		InputSchema: fetchSchema,
	}, s.FetchWebpage)

	if s.project != nil {
		readSchema, err := jsonschema.For[tools.ReadProjectFileInput](nil)
		if err != nil {
			return fmt.Errorf("schema for %s: %w", tools.ReadProjectFileName, err)
		}
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name: tools.ReadProjectFileName,
			Description: "Read a text file from the project directory. " +
				"Paths are relative to the project root; access outside the root is denied. " +
				"Oversized files are returned truncated.",
			InputSchema: readSchema,
		}, s.ReadProjectFile)
	}

	return nil
}

// CurrentTime handles the current_time MCP tool call.
func (s *Server) CurrentTime(ctx context.Context, req *mcp.CallToolRequest, input tools.CurrentTimeInput) (*mcp.CallToolResult, any, error) {
	out, err := s.clock.CurrentTime(&ai.ToolContext{Context: ctx}, input)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(out)
}

// FetchWebpage handles the fetch_webpage MCP tool call.
func (s *Server) FetchWebpage(ctx context.Context, req *mcp.CallToolRequest, input tools.FetchWebpageInput) (*mcp.CallToolResult, any, error) {
	out, err := s.web.FetchWebpage(&ai.ToolContext{Context: ctx}, input)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(out)
}

// ReadProjectFile handles the read_project_file MCP tool call.
func (s *Server) ReadProjectFile(ctx context.Context, req *mcp.CallToolRequest, input tools.ReadProjectFileInput) (*mcp.CallToolResult, any, error) {
	out, err := s.project.ReadFile(&ai.ToolContext{Context: ctx}, input)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(out)
}

// jsonResult marshals a tool output into a text content result.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// errorResult surfaces a tool-level failure as a result the client can
// display, keeping the protocol call itself successful.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
