// Package security validates untrusted inputs before tools act on them.
//
// [Path] confines file access to a single root directory, rejecting
// traversal and symlink escapes (CWE-22). [URL] blocks fetch targets on
// private networks and cloud metadata endpoints (CWE-918), and
// [URL.SafeTransport] extends that check to DNS resolution so a
// rebinding hostname cannot slip past static validation.
//
// Validators are constructed once and shared between the tool kit and
// the MCP server. All methods are safe for concurrent use.
package security
