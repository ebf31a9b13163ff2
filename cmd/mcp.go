package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/strandlabs/strand/internal/mcp"
)

// parseMCPFlags parses `strand mcp` flags from args.
func parseMCPFlags(args []string) (projectRoot string, err error) {
	flags := flag.NewFlagSet("mcp", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)

	root := flags.String("project-root", ".", "Project root for read_project_file (empty disables the tool)")

	if err := flags.Parse(args); err != nil {
		return "", fmt.Errorf("parsing mcp flags: %w", err)
	}
	return *root, nil
}

// runMCP initializes and starts the MCP server on stdio transport.
func runMCP() error {
	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	projectRoot, err := parseMCPFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting MCP server", "version", Version)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Name:        "strand",
		Version:     Version,
		ProjectRoot: projectRoot,
		Logger:      slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	slog.Info("MCP server ready", "name", "strand", "version", Version, "transport", "stdio")

	if err := mcpServer.Run(ctx, &mcpSdk.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	slog.Info("MCP server shut down gracefully")
	return nil
}
