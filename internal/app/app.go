package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AlPairo/temis-backend/internal/db"
	httpx "github.com/AlPairo/temis-backend/internal/http"
	httpH "github.com/AlPairo/temis-backend/internal/http/handlers"
	chatmod "github.com/AlPairo/temis-backend/internal/modules/chat"
	"github.com/AlPairo/temis-backend/internal/modules/chat/steps"
	"github.com/AlPairo/temis-backend/internal/observability"
	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

// App owns every long-lived collaborator: clients, repos, services and the
// HTTP server. Everything is resolved once here and never mutated.
type App struct {
	log          *logger.Logger
	cfg          Config
	clients      *Clients
	server       *httpx.Server
	traceFlusher func(context.Context) error
}

func New(log *logger.Logger) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	observability.Init()
	traceFlusher := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "temis-backend",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	clients, err := NewClients(log, cfg)
	if err != nil {
		return nil, err
	}

	repos := NewRepos(pg.DB(), log)

	chatSvc, err := chatmod.NewService(chatmod.ServiceDeps{
		Log:           log,
		AI:            clients.AI,
		Conversations: repos.Conversations,
		Messages:      repos.Messages,
		Retrievals:    repos.Retrievals,
		Audit:         repos.Audit,
		Retrieval: steps.RetrieveDeps{
			Log:           log,
			AI:            clients.AI,
			Vector:        clients.Vector,
			Collection:    cfg.QdrantCollection,
			EmbedModel:    cfg.EmbedModel,
			CredentialSet: EmbedCredentialSet(),
			Cache:         clients.Cache,
		},
		Model: cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("chat service: %w", err)
	}

	server := httpx.NewServer(httpx.RouterConfig{
		Log:         log,
		ChatHandler: httpH.NewChatHandler(log, chatSvc),
		GinMode:     cfg.GinMode,
	})

	return &App{log: log, cfg: cfg, clients: clients, server: server, traceFlusher: traceFlusher}, nil
}

// Run blocks until SIGINT/SIGTERM, then drains the HTTP server.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("Server listening", "port", a.cfg.Port)
		return a.server.Run(":" + a.cfg.Port)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.log.Info("Shutting down...")
		a.clients.Close()
		if a.traceFlusher != nil {
			if err := a.traceFlusher(shutdownCtx); err != nil {
				a.log.Warn("trace flush on shutdown failed", "error", err)
			}
		}
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
