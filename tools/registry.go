package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-vikunja/vikunja-mcp/auth"
	"github.com/go-vikunja/vikunja-mcp/mcp"
)

// Registry is a static tool set that dispatches calls by name.
type Registry struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]Handler
}

// NewRegistry constructs a Registry with the given tool definitions.
// Duplicate names resolve last-write-wins.
func NewRegistry(defs ...Tool) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(defs))}
	for _, d := range defs {
		r.tools = append(r.tools, d.Descriptor)
		if d.Handler != nil {
			r.handlers[d.Descriptor.Name] = d.Handler
		}
	}
	return r
}

// ListTools returns a copy of the registered descriptors.
func (r *Registry) ListTools(ctx context.Context) []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// CallTool dispatches a request to the named tool. Handler errors are
// converted to IsError results here so execution failures never cross
// the dispatcher boundary as errors.
func (r *Registry) CallTool(ctx context.Context, req *mcp.CallToolRequest, user *auth.UserContext) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, &InvalidArgumentsError{Tool: "", Reason: "missing tool name"}
	}

	r.mu.RLock()
	h := r.handlers[req.Name]
	r.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.Name)
	}

	res, err := h(ctx, user, req.Arguments)
	if err != nil {
		var invalid *InvalidArgumentsError
		if errors.As(err, &invalid) {
			return nil, err
		}
		return Errorf("tool %s failed: %v", req.Name, err), nil
	}
	return res, nil
}

// TextResult builds a successful text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}

// Errorf builds an execution-failure CallToolResult with IsError set.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: msg}}, IsError: true}
}

// JSONResult marshals v into a text content block, the shape MCP clients
// expect structured payloads in.
func JSONResult(v any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Errorf("failed to encode result: %v", err)
	}
	return TextResult(string(b))
}

// validateArguments checks raw arguments against the tool's input schema:
// required fields must be present and, for strict schemas, no unknown
// fields may appear. Type mismatches are caught later by strict decoding.
func validateArguments(toolName string, schema mcp.ToolInputSchema, raw json.RawMessage) error {
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return &InvalidArgumentsError{Tool: toolName, Reason: fmt.Sprintf("arguments must be an object: %v", err)}
		}
	}

	for _, req := range schema.Required {
		if _, ok := fields[req]; !ok {
			return &InvalidArgumentsError{Tool: toolName, Reason: fmt.Sprintf("missing required field %q", req)}
		}
	}

	if !schema.AdditionalProperties {
		for name := range fields {
			if _, ok := schema.Properties[name]; !ok {
				return &InvalidArgumentsError{Tool: toolName, Reason: fmt.Sprintf("unknown field %q", name)}
			}
		}
	}
	return nil
}
