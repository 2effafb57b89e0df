package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/hpungsan/kaia/internal/backend"
	"github.com/hpungsan/kaia/internal/cache"
	"github.com/hpungsan/kaia/internal/config"
	"github.com/hpungsan/kaia/internal/feeds"
	"github.com/hpungsan/kaia/internal/history"
	"github.com/hpungsan/kaia/internal/mcp"
	"github.com/hpungsan/kaia/internal/present"
	"github.com/hpungsan/kaia/internal/session"
	"github.com/hpungsan/kaia/internal/web"
	"github.com/hpungsan/kaia/internal/workspace"
)

// engine is the set of components shared by the CLI, the web surface and
// the MCP server.
type engine struct {
	cfg       *config.Config
	client    *backend.Client
	session   *session.Store
	workspace *workspace.Workspace
	feeds     *feeds.Service
	history   *history.Log
}

// newEngine wires the components over database. The http client carries no
// timeout; every phase sets its own deadline.
func newEngine(database *sql.DB, cfg *config.Config, hc *http.Client) *engine {
	if hc == nil {
		hc = &http.Client{}
	}
	client := backend.New(cfg.BackendURL, hc)
	store := session.New(database, client, cfg.Language)
	log := history.New(database)

	ws := workspace.New(client, store, present.NewDispatcher(cfg.TierViews), log, workspace.Config{
		UploadTimeout:  cfg.UploadTimeout(),
		AnalyzeTimeout: cfg.AnalyzeTimeout(),
		MaxImageBytes:  cfg.MaxImageBytes,
	})

	feedCache := cache.New(cache.NewSQLBacking(database), cache.WithTimeout(cfg.FeedTimeout()))
	feedClient := feeds.NewClient(hc, cfg.NewsURLs, cfg.HolidayURL)
	svc := feeds.NewService(feedClient, feedCache, cfg.NewsTTL(), cfg.HolidayTTL(), cfg.HolidayCountry)

	// A language switch re-renders with the new copy; warm its ticker.
	store.OnLanguageChange(func(lang string) {
		svc.Prefetch(context.Background(), lang)
	})

	return &engine{
		cfg:       cfg,
		client:    client,
		session:   store,
		workspace: ws,
		feeds:     svc,
		history:   log,
	}
}

// start restores the persisted session. An expired token is dropped; an
// unreachable backend keeps it for later.
func (e *engine) start(ctx context.Context) {
	if err := e.session.Init(ctx); err != nil {
		slog.Warn("session restore failed", "error", err)
	}
}

// close joins background feed refreshes.
func (e *engine) close() {
	e.feeds.Wait()
}

func (e *engine) webDeps() web.Deps {
	return web.Deps{
		Config:    e.cfg,
		Client:    e.client,
		Session:   e.session,
		Workspace: e.workspace,
		Feeds:     e.feeds,
		History:   e.history,
	}
}

func (e *engine) mcpEngine() mcp.Engine {
	return mcp.Engine{
		Config:    e.cfg,
		Client:    e.client,
		Session:   e.session,
		Workspace: e.workspace,
		Feeds:     e.feeds,
		History:   e.history,
	}
}
