// Package server provides HTTP server construction for workspace-sync.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/auth"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Users           auth.UserCredentials
	MCPHandler      http.Handler
	ProgressHandler http.Handler
	Logger          *slog.Logger
}

// NewMux builds the HTTP mux with the MCP and progress stream endpoints,
// both behind basic auth, and an unauthenticated health check.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	authMiddleware := auth.Middleware(cfg.Users, cfg.Logger)
	mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))
	mux.Handle("/progress", authMiddleware(cfg.ProgressHandler))

	return mux
}

// New wraps a handler in an http.Server with the timeouts used for every
// listener. WriteTimeout is left at zero so progress streams stay open.
func New(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
