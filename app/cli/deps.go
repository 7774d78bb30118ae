package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"docrag/app/agent"
	"docrag/app/server"
	"docrag/chunker"
	"docrag/loader"
	"docrag/model"
	"docrag/service"
	"docrag/store"
	"docrag/types"
)

// deps holds everything built once at startup.
type deps struct {
	config   *types.Config
	store    store.DBStorer
	ingestor *service.Ingestor
	querier  *service.Querier
}

func (d *deps) Close() error {
	return d.store.Close()
}

func (d *deps) server() server.Deps {
	return server.Deps{
		Config:   d.config,
		Store:    d.store,
		Ingestor: d.ingestor,
		Querier:  d.querier,
	}
}

func openStore(ctx context.Context, cfg *types.Config) (store.DBStorer, error) {
	var db store.DBStorer
	switch cfg.Store.Driver {
	case "memory":
		slog.Warn("using in-memory store, data is lost on exit")
		db = store.NewMemoryStore(cfg.Embedding.Dimension)
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.Store.PostgresURL(), cfg.Embedding.Dimension)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		db = pg
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if err := db.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func buildDeps(ctx context.Context, cfg *types.Config) (*deps, error) {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := model.NewEmbedder(cfg.Embedding)
	if err != nil {
		db.Close()
		return nil, err
	}
	chat, err := model.NewChatModel(cfg.LLM)
	if err != nil {
		db.Close()
		return nil, err
	}

	generator := agent.New(chat, agent.NewTokenCounter(), cfg.LLM)
	splitter := chunker.New(
		chunker.WithChunkSize(cfg.Chunking.Size),
		chunker.WithOverlap(cfg.Chunking.Overlap),
	)

	return &deps{
		config:   cfg,
		store:    db,
		ingestor: service.NewIngestor(db, db, loader.NewRouter(cfg.Loader), splitter, embedder, generator),
		querier: service.NewQuerier(
			service.NewRetriever(db, embedder, cfg.Retrieval),
			generator,
			db,
		),
	}, nil
}

func setupLogger(cfg *types.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
