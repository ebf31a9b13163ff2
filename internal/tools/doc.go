// Package tools defines the tool kit the agent can call during
// generation.
//
// Each toolset is a small struct created with its New constructor and
// registered through its Register function, which returns the defined
// [github.com/firebase/genkit/go/ai.Tool] handles. Handlers take typed,
// jsonschema-tagged inputs and return typed outputs; a returned error
// surfaces to the model as a failed tool call and never aborts the
// turn.
//
// Shipped tools:
//   - current_time: zone-aware clock
//   - read_project_file: file read confined to the project root
//   - fetch_webpage: HTTP GET with SSRF protection and readable-text
//     extraction
//
// [Register] assembles the whole kit for the server. The MCP server
// reuses the same toolsets by calling the handler methods directly.
package tools
