package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pricealertbot/internal/server"
	"github.com/alanyoungcy/pricealertbot/internal/server/handler"
	"github.com/alanyoungcy/pricealertbot/internal/server/ws"
)

// MonitorMode runs the evaluator loop and, when enabled, the archive cron.
// No HTTP surface is started.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Int("subscriptions", deps.Subscriptions.Count()),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startEvaluator(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// ServerMode starts only the HTTP API. Cycles run on demand through
// POST /api/evaluator/trigger.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode starts the evaluator, the archive cron and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Int("subscriptions", deps.Subscriptions.Count()),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startEvaluator(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// startEvaluator runs the polling loop and announces start and stop on the
// lifecycle channel.
func (a *App) startEvaluator(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		a.announce(ctx, deps, fmt.Sprintf("alert bot started: tracking %d subscriptions, polling every %s",
			deps.Subscriptions.Count(), a.cfg.Evaluator.PollInterval.Duration))

		err := deps.Evaluator.Run(ctx)

		a.announce(context.WithoutCancel(ctx), deps, "alert bot stopped")
		return err
	})
}

func (a *App) announce(ctx context.Context, deps *Dependencies, msg string) {
	sendCtx, cancel := context.WithTimeout(ctx, a.cfg.Evaluator.SendTimeout.Duration)
	defer cancel()
	if err := deps.Notifier.Broadcast(sendCtx, msg); err != nil {
		a.logger.WarnContext(ctx, "lifecycle notification failed", slog.String("error", err.Error()))
	}
}

// startArchiver runs the archive cron when archival is configured.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		err := deps.Archiver.RunCron(ctx, a.cfg.Archive.Cron)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// startHTTPServer adds the HTTP server, and the WebSocket hub when a signal
// bus is available, to the errgroup. The server is shut down gracefully when
// the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(a.cfg.Mode, deps.Checks, deps.Subscriptions.Count, a.logger),
		Subscriptions: handler.NewSubscriptionHandler(deps.Subscriptions, a.logger),
		Alerts:        handler.NewAlertHandler(deps.Alerts, a.logger),
		Evaluator:     handler.NewEvaluatorHandler(deps.Evaluator, a.logger),
	}
	if deps.PriceCache != nil {
		handlers.Prices = handler.NewPriceHandler(deps.PriceCache, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
			Tracked:   deps.Subscriptions.Count,
		})
		g.Go(func() error {
			if err := hub.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
