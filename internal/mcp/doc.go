// Package mcp exposes the strand tool kit over the Model Context
// Protocol, so MCP clients (editors, agent runtimes, the genkit CLI)
// can call the same tools strand sessions use.
//
// # Supported Tools
//
//   - current_time: zone-aware clock
//   - fetch_webpage: readable-text extraction from public web pages
//   - read_project_file: path-validated file reads, registered only
//     when a project root is configured
//
// Tool names, inputs, and behavior are identical to the genkit
// registrations in [github.com/strandlabs/strand/internal/tools]; this
// package is a second transport over the same toolsets, not a second
// implementation.
//
// # Handler Pattern
//
// Handlers follow the net/http.Handler shape: one method per tool,
// input schemas inferred from the tool input structs via
// jsonschema-go, results built inline. Tool-level failures (bad zone,
// rejected path, blocked URL) become IsError results the client can
// show; only protocol-level faults surface as Go errors.
//
// # Usage
//
//	server, err := mcp.NewServer(mcp.Config{
//		Name:        "strand",
//		Version:     "0.3.0",
//		ProjectRoot: root,
//		Logger:      logger,
//	})
//	if err != nil {
//		return err
//	}
//	return server.Run(ctx, transport) // e.g. the SDK's StdioTransport
package mcp
