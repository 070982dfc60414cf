package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"bookline/internal/config"
	"bookline/internal/db"
	"bookline/internal/engine"
	"bookline/internal/logging"
	"bookline/internal/migrate"
	"bookline/internal/notify"
	"bookline/internal/server"
)

// App holds the long-lived pieces of a bookline process.
type App struct {
	Config *config.Config
	Log    *logrus.Entry
	DB     *sql.DB
	Engine engine.Engine
}

// Open loads the workspace config, opens and migrates the database and builds
// the engine.
func Open(ctx context.Context, workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return OpenWithConfig(ctx, cfg)
}

func OpenWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	log := logrus.NewEntry(logger)
	conn, err := db.Open(db.Config{Workspace: cfg.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Log = log.WithField("component", "engine")
	return &App{Config: cfg, Log: log, DB: conn, Engine: e}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// Runner is a component that runs until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Handler builds the HTTP API together with the websocket hub it pushes to.
func (a *App) Handler() (http.Handler, *notify.Hub, error) {
	hub := notify.NewHub(a.Config.HTTP.AllowedOrigins, a.Log.WithField("component", "ws"))
	h, err := server.New(server.Config{
		Engine:   a.Engine,
		BasePath: a.Config.HTTP.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:              a.Config.Auth.JWTSecret,
			AllowLegacyActorHeader: a.Config.Auth.AllowLegacyActorHeader,
			DevLogin:               a.Config.Auth.DevLogin,
		},
		Hub:            hub,
		AllowedOrigins: a.Config.HTTP.AllowedOrigins,
		RateLimit:      a.Config.HTTP.RateLimit,
		RateBurst:      a.Config.HTTP.RateBurst,
		Logger:         a.Log.WithField("component", "http"),
	})
	if err != nil {
		return nil, nil, err
	}
	return h, hub, nil
}

// Relay builds the outbox relay. Notifications go to the hub, when given, and
// to every enabled webhook.
func (a *App) Relay(hub *notify.Hub) (*notify.Relay, error) {
	log := a.Log.WithField("component", "relay")
	var sinks []notify.Dispatcher
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if hooks := notify.NewWebhookDispatcher(a.Config.Notify.Webhooks, nil, log); hooks.Len() > 0 {
		sinks = append(sinks, hooks)
	}
	fanout := notify.NewFanout(sinks...)
	opts := notify.OptionsFromConfig(a.Config)
	opts.Logger = log
	opts.Now = a.Engine.Now
	return notify.NewRelay(a.Engine.Repo, fanout, opts)
}

// Serve runs the HTTP server, the notification relay and the completion
// sweeper until ctx is cancelled or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	if a.Config.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (BOOKLINE_AUTH_JWT_SECRET) is required")
	}
	handler, hub, err := a.Handler()
	if err != nil {
		return err
	}
	relay, err := a.Relay(hub)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	runners := []Runner{
		RunnerFunc(func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			a.Log.WithFields(logrus.Fields{"addr": srv.Addr, "base_path": a.Config.HTTP.BasePath}).Info("serving bookline api")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}),
		relay,
		RunnerFunc(func(ctx context.Context) error {
			a.Engine.RunSweeper(ctx, a.Config.Sweep.Interval, a.Config.Sweep.Batch)
			return nil
		}),
	}
	return a.Run(ctx, runners...)
}

// Run starts every runner and waits for all of them. The first failure
// cancels the rest; cancellation of ctx itself is a clean stop.
func (a *App) Run(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Log.WithError(err).Error("bookline stopped with error")
		return err
	}
	a.Log.Info("bookline shut down")
	return nil
}
