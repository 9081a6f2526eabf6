// Command vikunja-mcp serves Vikunja task-management tools to MCP
// clients over the streamable HTTP transport.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/go-vikunja/vikunja-mcp/auth"
	"github.com/go-vikunja/vikunja-mcp/internal/logctx"
	"github.com/go-vikunja/vikunja-mcp/ratelimit"
	"github.com/go-vikunja/vikunja-mcp/sessions"
	"github.com/go-vikunja/vikunja-mcp/storage"
	"github.com/go-vikunja/vikunja-mcp/storage/memory"
	storageredis "github.com/go-vikunja/vikunja-mcp/storage/redis"
	"github.com/go-vikunja/vikunja-mcp/streaminghttp"
	"github.com/go-vikunja/vikunja-mcp/tools"
	"github.com/go-vikunja/vikunja-mcp/vikunja"
)

const serverVersion = "0.1.0"

// Config is populated from the environment via envdecode.
type Config struct {
	// ListenAddr like ":8080". ENV: LISTEN_ADDR
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`
	// MCPPath is the MCP endpoint path. ENV: MCP_PATH
	MCPPath string `env:"MCP_PATH,default=/mcp"`
	// VikunjaURL is the upstream API base, e.g. "https://try.vikunja.io/api/v1".
	// ENV: VIKUNJA_URL
	VikunjaURL string `env:"VIKUNJA_URL,required"`
	// RedisAddr enables the Redis cache backend when set. ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default="`
	// AuthCacheTTL bounds how long validated credentials are reused.
	// ENV: AUTH_CACHE_TTL
	AuthCacheTTL time.Duration `env:"AUTH_CACHE_TTL,default=300s"`
	// RateLimitMax is the per-identity request budget per window.
	// ENV: RATE_LIMIT_MAX
	RateLimitMax int `env:"RATE_LIMIT_MAX,default=120"`
	// RateLimitWindow is the fixed-window size. ENV: RATE_LIMIT_WINDOW
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
	// ForceJSON disables SSE rendering. ENV: FORCE_JSON
	ForceJSON bool `env:"FORCE_JSON,default=false"`
	// LogLevel is debug, info, warn, or error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	store, err := newStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	client := vikunja.NewClient(cfg.VikunjaURL)

	validator, err := auth.NewValidator(client, store,
		auth.WithCacheTTL(cfg.AuthCacheTTL),
		auth.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("failed to build token validator: %w", err)
	}
	defer validator.Close()

	limiter := ratelimit.New(store, ratelimit.Config{
		MaxRequests: int64(cfg.RateLimitMax),
		Window:      cfg.RateLimitWindow,
	}, ratelimit.WithLogger(log))

	manager := sessions.NewManager(sessions.WithLogger(log))
	manager.Start()
	defer manager.Shutdown()

	registry := tools.NewRegistry(vikunja.Toolset(client)...)

	opts := []streaminghttp.Option{
		streaminghttp.WithLogger(log),
		streaminghttp.WithServerInfo("vikunja-mcp", serverVersion),
		streaminghttp.WithInstructions("Tools for managing Vikunja tasks and projects on behalf of the authenticated user."),
	}
	if cfg.ForceJSON {
		opts = append(opts, streaminghttp.WithForceJSON())
	}
	handler := streaminghttp.New(cfg.MCPPath, validator, limiter, manager, registry, opts...)

	mux := http.NewServeMux()
	mux.Handle(cfg.MCPPath, handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "cache": "ok"}
		code := http.StatusOK
		if err := store.Ping(r.Context()); err != nil {
			// Cache trouble degrades to fallback behavior, it does not
			// take the service down.
			status["cache"] = "unavailable"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.start", slog.String("addr", cfg.ListenAddr), slog.String("path", cfg.MCPPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// newStore selects the cache backend: Redis when configured, otherwise
// the bounded in-process store.
func newStore(cfg Config, log *slog.Logger) (storage.Store, error) {
	if cfg.RedisAddr == "" {
		log.Info("storage.memory", slog.String("reason", "no REDIS_ADDR configured"))
		store, err := memory.New(memory.DefaultMaxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to build memory store: %w", err)
		}
		return store, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	store, err := storageredis.New(storageredis.Config{Client: client})
	if err != nil {
		return nil, fmt.Errorf("failed to build redis store: %w", err)
	}

	// A dead Redis at boot is worth a warning, not a refusal: the
	// validator falls back to its in-process cache and the limiter
	// fails open.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		log.Warn("storage.redis.unreachable", slog.String("addr", cfg.RedisAddr), slog.String("err", err.Error()))
	} else {
		log.Info("storage.redis", slog.String("addr", cfg.RedisAddr))
	}
	return store, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})})
}
