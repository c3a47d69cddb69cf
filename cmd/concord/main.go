package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/oauth2"

	"github.com/concordhq/concord/internal/assistant"
	"github.com/concordhq/concord/internal/collab"
	"github.com/concordhq/concord/internal/config"
	"github.com/concordhq/concord/internal/dialog"
	"github.com/concordhq/concord/internal/directory"
	"github.com/concordhq/concord/internal/handlers"
	"github.com/concordhq/concord/internal/logger"
	"github.com/concordhq/concord/internal/search"
	"github.com/concordhq/concord/internal/server"
	"github.com/concordhq/concord/internal/session"
	"github.com/concordhq/concord/internal/version"
)

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,

			provideDirectoryStore,
			provideDirectoryCache,
			provideSessionManager,
			provideResolver,

			provideVerifier,
			provideDispatcher,
			provideAssistant,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewWebhookHandler),

			provideServer,
		),
		fx.Invoke(
			registerIntents,
			startDirectoryRefresh,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDirectoryStore(lc fx.Lifecycle, cfg config.Config) (*directory.Store, error) {
	store, err := directory.OpenStore(cfg.Directory.Path)
	if err != nil {
		return nil, fmt.Errorf("open directory store: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

func provideDirectoryCache(log *slog.Logger, cfg config.Config, store *directory.Store) (*directory.Cache, error) {
	return directory.NewCache(log, cfg.Directory.Capacity, store)
}

func provideSessionManager(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) *session.Manager {
	dial := func(_, accessToken string) collab.Client {
		tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
		return collab.NewWSClient(cfg.Collab.Domain, cfg.Collab.ClientID, tokens, log)
	}
	manager := session.NewManager(log, dial, cfg.Session.Timeout())
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return manager.Shutdown(ctx)
		},
	})
	return manager
}

func provideResolver(log *slog.Logger, cfg config.Config, cache *directory.Cache) *search.Resolver {
	return search.NewResolver(log, cache, cfg.Search.Timeout(), cfg.Search.Threshold())
}

func provideVerifier(cfg config.Config) *dialog.Verifier {
	return dialog.NewVerifier(cfg.Dialog.WebhookSecret, cfg.Dialog.ClientID)
}

func provideDispatcher(log *slog.Logger) *dialog.Dispatcher {
	return dialog.NewDispatcher(log)
}

func provideAssistant(log *slog.Logger, cfg config.Config, sessions *session.Manager, resolver *search.Resolver) *assistant.Service {
	return assistant.NewService(log, sessions, resolver, cfg.Search.Threshold())
}

func registerIntents(svc *assistant.Service, dispatcher *dialog.Dispatcher) {
	svc.Register(dispatcher)
}

func startDirectoryRefresh(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, cache *directory.Cache) error {
	refresher, err := directory.NewRefresher(log, cache, cfg.Directory.RefreshCron)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			refresher.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			refresher.Stop()
			return nil
		},
	})
	return nil
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Server.RateLimit, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting Concord %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
