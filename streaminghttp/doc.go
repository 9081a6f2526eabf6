// Package streaminghttp implements the MCP streamable HTTP transport.
//
// A single endpoint accepts JSON-RPC 2.0 messages over POST and renders
// each response either as a one-shot Server-Sent Events stream or as a
// plain JSON body, depending on the client's Accept header. Every POST
// runs the same pipeline: bearer-token validation, per-identity rate
// limiting, session resolution via the Mcp-Session-Id header, method
// dispatch, and response rendering. DELETE on the same endpoint
// terminates the session named by the header.
//
// HTTP-layer rejections (401, 429) still carry JSON-RPC error bodies so
// clients have a single error shape to parse: -32001 for authentication
// failures and -32003 for rate limiting.
package streaminghttp
