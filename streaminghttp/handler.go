package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/go-vikunja/vikunja-mcp/auth"
	"github.com/go-vikunja/vikunja-mcp/internal/jsonrpc"
	"github.com/go-vikunja/vikunja-mcp/internal/logctx"
	"github.com/go-vikunja/vikunja-mcp/mcp"
	"github.com/go-vikunja/vikunja-mcp/ratelimit"
	"github.com/go-vikunja/vikunja-mcp/sessions"
	"github.com/go-vikunja/vikunja-mcp/tools"
	"github.com/google/uuid"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Canonical header names; Go matches headers case-insensitively.
	mcpSessionIDHeader    = "Mcp-Session-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	retryAfterHeader      = "Retry-After"

	maxBodyBytes = 4 << 20
)

// TokenValidator resolves bearer tokens to user contexts.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.UserContext, error)
}

// RateLimiter enforces the per-identity request budget.
type RateLimiter interface {
	Check(ctx context.Context, identifier string) error
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithServerInfo sets the implementation info advertised on initialize.
func WithServerInfo(name, version string) Option {
	return func(h *Handler) { h.serverInfo = mcp.ImplementationInfo{Name: name, Version: version} }
}

// WithInstructions sets the instructions string returned on initialize.
func WithInstructions(s string) Option {
	return func(h *Handler) { h.instructions = s }
}

// WithForceJSON disables SSE rendering: every response is a plain JSON
// body regardless of the Accept header.
func WithForceJSON() Option {
	return func(h *Handler) { h.forceJSON = true }
}

// Handler serves the MCP endpoint.
type Handler struct {
	log          *slog.Logger
	validator    TokenValidator
	limiter      RateLimiter
	sessions     *sessions.Manager
	dispatcher   tools.Dispatcher
	serverInfo   mcp.ImplementationInfo
	instructions string
	forceJSON    bool
	mux          *http.ServeMux
}

// New constructs the handler serving the MCP endpoint at path.
func New(path string, validator TokenValidator, limiter RateLimiter, mgr *sessions.Manager, dispatcher tools.Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		log:        slog.Default(),
		validator:  validator,
		limiter:    limiter,
		sessions:   mgr,
		dispatcher: dispatcher,
		serverInfo: mcp.ImplementationInfo{Name: "vikunja-mcp", Version: "dev"},
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+path, h.handlePost)
	mux.HandleFunc("DELETE "+path, h.handleDelete)
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "POST, DELETE")
		writeRPCError(w, http.StatusMethodNotAllowed, nil, jsonrpc.ErrorCodeInvalidRequest, fmt.Sprintf("method %s not allowed", r.Method), nil)
	})
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handlePost runs the full request pipeline: authenticate, rate limit,
// resolve the session, dispatch, render.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.DebugContext(ctx, "http.post.start")

	user, token, ok := h.checkAuthentication(ctx, w, r)
	if !ok {
		return
	}

	if !h.checkRateLimit(ctx, w, user) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeParseError, "failed to read request body", nil)
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		if !json.Valid(body) {
			writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeParseError, "Parse error", nil)
			return
		}
		// Well-formed JSON, malformed envelope. Salvage the request ID
		// when possible so the client can correlate the rejection.
		var probe struct {
			ID *jsonrpc.RequestID `json:"id"`
		}
		_ = json.Unmarshal(body, &probe)
		writeRPCError(w, http.StatusOK, probe.ID, jsonrpc.ErrorCodeInvalidRequest, fmt.Sprintf("Invalid Request: %v", err), nil)
		return
	}

	sess := h.resolveSession(r, token, user, &msg)
	w.Header().Set(mcpSessionIDHeader, sess.ID)

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID,
		Username:  user.Username,
		Transport: sess.Transport,
		State:     string(sess.State),
	})
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	h.sessions.UpdateActivity(sess.ID)

	// Notifications and client-side responses are acknowledged without a
	// body once activity is recorded.
	if req := msg.AsRequest(); req == nil || req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.post.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	resp := h.dispatch(ctx, msg.AsRequest(), user)
	h.render(ctx, w, r, sess, resp)
	h.log.InfoContext(ctx, "http.post.done", slog.Duration("dur", time.Since(start)))
}

// handleDelete terminates the session named by the Mcp-Session-Id header.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, token, ok := h.checkAuthentication(ctx, w, r)
	if !ok {
		return
	}

	if !h.checkRateLimit(ctx, w, user) {
		return
	}

	id := r.Header.Get(mcpSessionIDHeader)
	if id == "" {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "missing Mcp-Session-Id header", nil)
		return
	}
	sess := h.sessions.GetSession(id)
	if sess == nil || sess.Token != token {
		writeRPCError(w, http.StatusNotFound, nil, jsonrpc.ErrorCodeInvalidRequest, "unknown session", nil)
		return
	}

	h.sessions.TerminateSession(id)
	h.log.InfoContext(ctx, "http.delete.done", slog.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// checkRateLimit enforces the per-identity budget. Only an explicit
// rate-limit rejection blocks the request; the limiter itself fails open
// on backend trouble.
func (h *Handler) checkRateLimit(ctx context.Context, w http.ResponseWriter, user *auth.UserContext) bool {
	err := h.limiter.Check(ctx, user.Username)
	if err == nil {
		return true
	}
	var rlErr *ratelimit.Error
	if !errors.As(err, &rlErr) {
		h.log.WarnContext(ctx, "ratelimit.check.failed", slog.String("err", err.Error()))
		return true
	}
	secs := retryAfterSeconds(rlErr.RetryAfter)
	w.Header().Set(retryAfterHeader, fmt.Sprintf("%d", secs))
	writeRPCError(w, http.StatusTooManyRequests, nil, jsonrpc.ErrorCodeRateLimited, "Rate limit exceeded", map[string]any{"retryAfter": secs})
	h.log.InfoContext(ctx, "http.ratelimited", slog.String("user", user.Username), slog.Int("retry_after", secs))
	return false
}

// checkAuthentication extracts and validates the bearer token. On failure
// it writes the 401 response and returns ok=false.
func (h *Handler) checkAuthentication(ctx context.Context, w http.ResponseWriter, r *http.Request) (*auth.UserContext, string, bool) {
	token := bearerToken(r.Header.Get(authorizationHeader))
	if token == "" {
		w.Header().Set(wwwAuthenticateHeader, "Bearer")
		writeRPCError(w, http.StatusUnauthorized, nil, jsonrpc.ErrorCodeAuthRequired, "Authentication required", nil)
		return nil, "", false
	}

	user, err := h.validator.ValidateToken(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			w.Header().Set(wwwAuthenticateHeader, "Bearer error=\"invalid_token\"")
			writeRPCError(w, http.StatusUnauthorized, nil, jsonrpc.ErrorCodeAuthRequired, "Authentication failed", nil)
			return nil, "", false
		}
		// The identity source could not be reached. That is not the
		// caller's fault, so it must not read as a credential rejection.
		h.log.ErrorContext(ctx, "auth.validate.failed", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusBadGateway, nil, jsonrpc.ErrorCodeInternalError, "identity service unavailable", nil)
		return nil, "", false
	}
	return user, token, true
}

// resolveSession returns the session named by the Mcp-Session-Id header
// when it exists and belongs to the presented token. Anything else gets a
// fresh session: stale or foreign IDs are silently replaced rather than
// rejected, so restarted servers do not strand clients.
func (h *Handler) resolveSession(r *http.Request, token string, user *auth.UserContext, msg *jsonrpc.AnyMessage) *sessions.Session {
	if id := r.Header.Get(mcpSessionIDHeader); id != "" {
		if sess := h.sessions.GetSession(id); sess != nil && sess.Token == token && sess.State != sessions.StateOrphaned {
			return sess
		}
	}

	client := sessions.ClientInfo{
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
	}
	if mcp.Method(msg.Method) == mcp.InitializeMethod {
		var init mcp.InitializeRequest
		if err := json.Unmarshal(msg.Params, &init); err == nil {
			client.ProtocolVersion = init.ProtocolVersion
		}
	}
	transport := sessions.TransportHTTPStreamable
	if h.wantsSSE(r) {
		transport = sessions.TransportSSE
	}
	return h.sessions.CreateSession(token, user, transport, client)
}

// dispatch routes a decoded request to its method handler and returns the
// JSON-RPC response to render.
func (h *Handler) dispatch(ctx context.Context, req *jsonrpc.Request, user *auth.UserContext) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return h.handleInitialize(ctx, req)

	case mcp.PingMethod:
		return mustResult(req.ID, struct{}{})

	case mcp.ToolsListMethod:
		return mustResult(req.ID, &mcp.ListToolsResult{Tools: h.dispatcher.ListTools(ctx)})

	case mcp.ToolsCallMethod:
		return h.handleToolsCall(ctx, req, user)

	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

func (h *Handler) handleInitialize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid initialize params: %v", err), nil)
		}
	}

	h.log.InfoContext(ctx, "mcp.initialize",
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("client_protocol", params.ProtocolVersion),
	)

	return mustResult(req.ID, &mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo:   h.serverInfo,
		Instructions: h.instructions,
	})
}

func (h *Handler) handleToolsCall(ctx context.Context, req *jsonrpc.Request, user *auth.UserContext) *jsonrpc.Response {
	var call mcp.CallToolRequest
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid tools/call params: %v", err), nil)
	}

	res, err := h.dispatcher.CallTool(ctx, &call, user)
	if err != nil {
		var invalid *tools.InvalidArgumentsError
		switch {
		case errors.Is(err, tools.ErrNotFound):
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, err.Error(), nil)
		case errors.As(err, &invalid):
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, invalid.Error(), nil)
		default:
			h.log.ErrorContext(ctx, "mcp.tools.call.failed", slog.String("tool", call.Name), slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
		}
	}
	return mustResult(req.ID, res)
}

// render writes the response in the negotiated representation. SSE
// rendering marks the session orphaned when the client is gone before the
// frame is fully written.
func (h *Handler) render(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *sessions.Session, resp *jsonrpc.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, resp.ID, jsonrpc.ErrorCodeInternalError, "failed to encode response", nil)
		return
	}

	if !h.wantsSSE(r) {
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSEEvent(ctx, w, payload); err != nil {
		h.sessions.MarkOrphaned(sess.ID)
		h.log.WarnContext(ctx, "sse.write.failed", slog.String("session_id", sess.ID), slog.String("err", err.Error()))
	}
}

// wantsSSE reports whether the response should be rendered as an SSE
// stream. Absent Accept headers default to plain JSON.
func (h *Handler) wantsSSE(r *http.Request) bool {
	if h.forceJSON {
		return false
	}
	if r.Header.Get("Accept") == "" {
		return false
	}
	_, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes)
	return err == nil
}

// writeSSEEvent writes a single message event frame and flushes it.
func writeSSEEvent(ctx context.Context, w http.ResponseWriter, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("client disconnected: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// writeRPCError writes a JSON-RPC error body with the given HTTP status.
func writeRPCError(w http.ResponseWriter, status int, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string, data any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(id, code, msg, data))
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// retryAfterSeconds rounds a retry hint up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func mustResult(id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return resp
}
