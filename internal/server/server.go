package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fabulabot/fabula/config"
	"github.com/fabulabot/fabula/internal/author"
	"github.com/fabulabot/fabula/internal/cache"
	"github.com/fabulabot/fabula/internal/engine"
	"github.com/fabulabot/fabula/internal/pacing"
	"github.com/fabulabot/fabula/internal/prewarm"
	"github.com/fabulabot/fabula/internal/store"
	"github.com/fabulabot/fabula/internal/token"
)

// Run wires the whole bot together and serves until the listener fails:
// migrations, store, author chain, chapter cache, prewarm queue and
// workers, token sweeper, Telegram webhook registration, HTTP surface.
func Run(cfg *config.Config) error {
	ring := newLogRing(100)
	log.SetOutput(io.MultiWriter(os.Stderr, ring))

	e := echo.New()
	e.HideBanner = true
	e.Debug = cfg.General.Debug
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return err
	}

	chain := author.FromConfig(cfg.AI)
	chapters := cache.New(st, chain, cfg.AI.Timeout)

	rdb, err := prewarm.Conn(ctx, cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
	if err != nil {
		return err
	}
	queue := prewarm.NewQueue(rdb, cfg.Maintenance.PrewarmQueue)

	eng := engine.New(st, chapters, cfg.Game.PioneerBonusXP, queue)
	gate := pacing.NewGate(st, cfg.Game.Cooldown, map[string]int{
		store.ActionChoices:  cfg.Game.DailyChoices,
		store.ActionPrewarms: cfg.Game.DailyPrewarms,
	})
	broker := token.NewBroker(st, cfg.Game.TokenTTL)
	tg := NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.APIBaseURL)
	share := NewShareSigner(cfg.Server.ShareSecret)

	NewBotHandler(cfg, tg, eng, gate, broker, st, queue, share).Register(e)
	(&DebugHandler{Cfg: cfg, TG: tg, Store: st, Ring: ring}).Register(e)

	workers := cfg.Maintenance.PrewarmWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go prewarm.NewWorker(rdb, cfg.Maintenance.PrewarmQueue, chapters).Run(ctx)
	}

	sweeper, err := prewarm.NewSweeper(st, cfg.Maintenance.SweepCron)
	if err != nil {
		return fmt.Errorf("sweep schedule: %w", err)
	}
	go sweeper.Run(ctx)

	if cfg.Server.PublicBaseURL != "" && cfg.Server.WebhookPathSecret != "" {
		url := cfg.Server.PublicBaseURL + "/telegram/" + cfg.Server.WebhookPathSecret
		if err := tg.SetWebhook(ctx, url, cfg.Telegram.SecretToken); err != nil {
			baseLogger.Printf("setWebhook failed: %v", err)
		} else {
			baseLogger.Printf("webhook registered at %s", url)
		}
	} else {
		baseLogger.Printf("webhook not registered: public_base_url or webhook_path_secret missing")
	}

	return e.Start(cfg.Server.Address)
}
