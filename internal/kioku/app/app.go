// Package app wires the Kioku service together: storage, character packs,
// knowledge index, topic cache, compression, generation and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/Kioku/internal/kioku/api"
	"github.com/bdobrica/Kioku/internal/kioku/character"
	"github.com/bdobrica/Kioku/internal/kioku/generate"
	"github.com/bdobrica/Kioku/internal/kioku/knowledge"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/orchestrator"
	"github.com/bdobrica/Kioku/internal/kioku/redisstore"
	"github.com/bdobrica/Kioku/internal/kioku/session"
	"github.com/bdobrica/Kioku/internal/kioku/store"
	"github.com/bdobrica/Kioku/internal/kioku/topiccache"
)

// App is the assembled service.
type App struct {
	config *Config
	logger *slog.Logger

	store *store.Store        // sqlite backend only
	redis *redisstore.Backend // redis backend only

	characters   *character.Registry
	index        *knowledge.Index
	cache        *topiccache.Cache
	orchestrator *orchestrator.Orchestrator
	server       *api.Server
}

// New builds the application from config. Nothing listens until Run.
func New(config *Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{config: config, logger: logger}

	backend, archive, err := a.openStorage()
	if err != nil {
		return nil, err
	}

	// Characters and their knowledge.
	a.characters = character.NewRegistry()
	if err := a.loadCharacters(); err != nil {
		a.Stop()
		return nil, err
	}
	a.index = knowledge.NewIndex(logger)
	if err := a.index.LoadPacks(a.characters.Packs()); err != nil {
		a.Stop()
		return nil, err
	}
	if a.store != nil {
		n, err := a.index.LoadFrom(context.Background(), a.store)
		if err != nil {
			a.Stop()
			return nil, err
		}
		logger.Info("stored knowledge items loaded", "count", n)
	}
	logger.Info("knowledge index ready",
		"characters", len(a.characters.IDs()),
		"items", a.index.Len(),
	)

	// Topic cache.
	lexicon := topiccache.DefaultLexicon()
	if config.LexiconFile != "" {
		lexicon, err = topiccache.LoadLexicon(config.LexiconFile)
		if err != nil {
			a.Stop()
			return nil, fmt.Errorf("failed to load lexicon: %w", err)
		}
		logger.Info("topic lexicon loaded", "path", config.LexiconFile)
	}
	a.cache = topiccache.New(a.index, lexicon, config.TopicCache, logger)

	// Sessions and compression.
	sessions := session.NewManager(backend, logger)
	compressor := memory.NewCompressor(memory.NewEngine(config.Compression.Engine()), sessions, archive, logger)

	a.orchestrator = orchestrator.New(orchestrator.Deps{
		Sessions:   sessions,
		Compressor: compressor,
		Cache:      a.cache,
		Characters: a.characters,
		Generator:  a.newGenerator(),
		Logger:     logger,
	})

	var ks api.KnowledgeStore
	if a.store != nil {
		ks = a.store
	}
	a.server = api.NewServer(api.Config{
		Addr:           config.HTTPAddr,
		AllowedOrigins: config.AllowedOrigins,
		RateLimit:      config.RateLimit,
		StorageBackend: config.Storage.Backend,
	}, api.Deps{
		Conversations: a.orchestrator,
		Characters:    a.characters,
		Index:         a.index,
		Cache:         a.cache,
		Knowledge:     ks,
		Logger:        logger,
	})

	return a, nil
}

func (a *App) openStorage() (session.Backend, memory.Archive, error) {
	cfg := a.config.Storage
	switch cfg.Backend {
	case BackendSQLite:
		a.logger.Info("opening database", "path", cfg.DatabasePath)
		st, err := store.New(cfg.DatabasePath, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.store = st
		return st.Sessions(), memory.NewSQLiteArchive(st.DB(), a.logger), nil

	case BackendRedis:
		a.logger.Info("connecting to redis", "addr", cfg.Redis.Addr, "namespace", cfg.Redis.Namespace)
		rb, err := redisstore.New(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = rb
		return rb, nil, nil

	case BackendMemory:
		a.logger.Warn("using in-memory session storage; sessions are lost on restart")
		return session.NewMemoryBackend(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func (a *App) loadCharacters() error {
	dir := a.config.CharactersDir
	if dir == "" {
		a.logger.Warn("no characters_dir configured; no characters available")
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		a.logger.Warn("characters directory not found; no characters available", "path", dir)
		return nil
	}
	if err := a.characters.LoadFS(os.DirFS(dir)); err != nil {
		return fmt.Errorf("failed to load characters from %s: %w", dir, err)
	}
	a.logger.Info("characters loaded", "path", dir, "ids", a.characters.IDs())
	return nil
}

// newGenerator builds the OpenAI-compatible generator when an API key is
// present. Without one, every turn gets the fallback reply.
func (a *App) newGenerator() generate.Generator {
	gc := a.config.Generator
	key := gc.APIKey()
	if key == "" {
		a.logger.Warn("no generator API key in environment; replies will be fallback placeholders",
			"env", gc.APIKeyEnv,
		)
		return generate.Unavailable{}
	}
	g := generate.NewOpenAI(generate.Config{
		APIKey:      key,
		BaseURL:     gc.BaseURL,
		Model:       gc.Model,
		Timeout:     gc.Timeout,
		MaxTokens:   gc.MaxTokens,
		Temperature: gc.Temperature,
	})
	a.logger.Info("generator ready", "model", g.Model())
	return g
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.server }

// Orchestrator returns the conversation orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Run serves the API until ctx is cancelled or the process receives
// SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.server.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("kioku is running; press Ctrl+C to stop")

	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

// Stop releases the HTTP server and storage connections.
func (a *App) Stop() {
	if a.server != nil {
		a.logger.Info("stopping http server")
		a.server.Stop()
	}
	if a.store != nil {
		a.logger.Info("closing database")
		if err := a.store.Close(); err != nil {
			a.logger.Warn("database close error", "err", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close error", "err", err)
		}
	}
}
