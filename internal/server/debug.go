package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/fabulabot/fabula/config"
	"github.com/fabulabot/fabula/internal/store"
)

// logRing is an io.Writer keeping the most recent log lines for the debug
// endpoint. Lines arrive already formatted by the stdlib logger.
type logRing struct {
	mu    sync.Mutex
	lines []string
	size  int
}

func newLogRing(size int) *logRing {
	return &logRing{size: size}
}

func (r *logRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		r.lines = append(r.lines, line)
	}
	if over := len(r.lines) - r.size; over > 0 {
		r.lines = r.lines[over:]
	}
	return len(p), nil
}

func (r *logRing) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

// DebugHandler serves the operator dashboard behind basic auth with the
// admin key.
type DebugHandler struct {
	Cfg   *config.Config
	TG    *Telegram
	Store *store.Store
	Ring  *logRing
}

func (d *DebugHandler) Register(e *echo.Echo) {
	g := e.Group("/debug")
	g.Use(middleware.BasicAuth(func(user, pass string, c echo.Context) (bool, error) {
		return user == "admin" && pass == d.Cfg.Server.AdminKey, nil
	}))
	g.GET("", d.debug)
}

func (d *DebugHandler) debug(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var webhookURL string
	if d.Cfg.Server.PublicBaseURL != "" && d.Cfg.Server.WebhookPathSecret != "" {
		webhookURL = d.Cfg.Server.PublicBaseURL + "/telegram/" + d.Cfg.Server.WebhookPathSecret
	}

	var webhookInfo interface{}
	if info, err := d.TG.GetWebhookInfo(ctx); err != nil {
		webhookInfo = map[string]string{"error": err.Error()}
	} else {
		webhookInfo = info
	}

	leaderboard, err := d.Store.LeaderboardByXP(ctx, 10)
	if err != nil {
		leaderboard = nil
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"webhook_url":  webhookURL,
		"webhook_info": webhookInfo,
		"config": map[string]string{
			"public_base_url":     config.Mask(d.Cfg.Server.PublicBaseURL),
			"webhook_path_secret": config.Mask(d.Cfg.Server.WebhookPathSecret),
			"bot_token":           config.Mask(d.Cfg.Telegram.BotToken),
			"secret_token":        config.Mask(d.Cfg.Telegram.SecretToken),
			"admin_key":           config.Mask(d.Cfg.Server.AdminKey),
		},
		"leaderboard": leaderboard,
		"logs":        d.Ring.Tail(20),
	})
}
