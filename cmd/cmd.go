// Package cmd provides CLI commands for strand.
//
// Commands:
//   - serve: HTTP API server with NDJSON streaming
//   - chat: interactive terminal client against a running server
//   - mcp: Model Context Protocol server exposing the tool kit
//   - conversations: list or delete conversations over the HTTP API
//
// Signal handling and graceful shutdown are implemented for the
// long-running commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/strandlabs/strand/internal/log"
)

// Execute is the main entry point for the strand CLI application.
func Execute() error {
	// Initialize logger once at entry point. Stderr only: the mcp
	// command reserves stdout for JSON-RPC.
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "chat":
		return runChat()
	case "mcp":
		return runMCP()
	case "conversations":
		return runConversations(os.Stdout)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("strand - agent chat server and terminal client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  strand serve [addr]              Start HTTP API server (default: 127.0.0.1:3400)")
	fmt.Println("  strand chat [flags]              Start the interactive terminal client")
	fmt.Println("  strand mcp [flags]               Start MCP server on stdio (for IDE integration)")
	fmt.Println("  strand conversations list        List your conversations")
	fmt.Println("  strand conversations delete <id> Delete a conversation")
	fmt.Println("  strand --version                 Show version information")
	fmt.Println("  strand --help                    Show this help")
	fmt.Println()
	fmt.Println("Chat flags:")
	fmt.Println("  --server addr      Server base URL or host:port (default: 127.0.0.1:3400)")
	fmt.Println("  --conversation id  Open a specific conversation")
	fmt.Println("  --new              Start a fresh conversation")
	fmt.Println()
	fmt.Println("Chat commands (in interactive mode):")
	fmt.Println("  /help              Show available commands")
	fmt.Println("  /clear             Hide the transcript above this point")
	fmt.Println("  /exit, /quit       Exit strand")
	fmt.Println()
	fmt.Println("Shortcuts:")
	fmt.Println("  Esc                Ask the server to stop the current reply")
	fmt.Println("  Ctrl+C             Cancel the stream locally; press twice to exit")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY     Gemini API key (serve)")
	fmt.Println("  OPENAI_API_KEY     OpenAI API key (serve)")
	fmt.Println("  DATABASE_URL       PostgreSQL connection URL (serve)")
	fmt.Println("  STRAND_*           Configuration overrides (serve)")
	fmt.Println("  DEBUG              Enable debug logging")
	fmt.Println()
	fmt.Println("Learn more: https://github.com/strandlabs/strand")
}
