package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/autosync"
	"github.com/alexjbarnes/workspace-sync/internal/mcpserver"
	"github.com/alexjbarnes/workspace-sync/internal/progress"
	"github.com/alexjbarnes/workspace-sync/internal/server"
	"github.com/alexjbarnes/workspace-sync/internal/syncer"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// runServe exposes the engine over MCP, streams progress over a websocket
// and runs the auto-sync scheduler until the context is cancelled.
func runServe(ctx context.Context, a *app, args []string) error {
	fs := newFlags("serve")
	noWatch := fs.Bool("no-watch", false, "do not trigger auto-sync on local file changes")
	if err := parse(fs, args, 0); err != nil {
		return err
	}

	users, err := a.cfg.ParseAuthUsers()
	if err != nil {
		return err
	}

	// The watcher needs the root before the first sync creates it.
	if err := a.store.EnsureRoot(); err != nil {
		return err
	}

	logger := a.logger
	org := a.cfg.OrganizationID

	hub := progress.NewHub(logger, progressLogger(logger))
	a.engine.SetObserver(hub)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "workspace-sync", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, &mcpserver.Workspace{
		Engine:  a.engine,
		Store:   a.store,
		Configs: a.state,
		OrgID:   org,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	srv := server.New(a.cfg.ListenAddr, server.NewMux(server.MuxConfig{
		Users:           users,
		MCPHandler:      mcpHandler,
		ProgressHandler: hub.Handler(),
		Logger:          logger,
	}))

	sched := autosync.New(a.engine, a.state, a.store, org, logger, autosync.Options{
		Watch: !*noWatch,
		OnResult: func(res *syncer.Result, _ error) {
			if res != nil {
				a.record(res)
			}
		},
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("auto-sync: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("listen", a.cfg.ListenAddr),
			slog.String("workspace", a.store.RootPath()),
			slog.Int("users", len(users)),
			slog.Bool("watch", !*noWatch),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	return g.Wait()
}
