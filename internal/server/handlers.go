package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fabulabot/fabula/config"
	"github.com/fabulabot/fabula/internal/engine"
	"github.com/fabulabot/fabula/internal/pacing"
	"github.com/fabulabot/fabula/internal/store"
	"github.com/fabulabot/fabula/internal/story"
	"github.com/fabulabot/fabula/internal/telemetry"
	"github.com/fabulabot/fabula/internal/token"
)

// finaleScene is the continue-token sentinel for the chapter's finale view.
const finaleScene = 0

// BotHandler processes Telegram webhook updates: text commands through the
// reply keyboard and one-time choice tokens through callback queries.
type BotHandler struct {
	Cfg    *config.Config
	TG     *Telegram
	Engine *engine.Engine
	Gate   *pacing.Gate
	Broker *token.Broker
	Store  *store.Store
	Queue  engine.Prewarmer
	Share  *ShareSigner

	logger *log.Logger
}

func NewBotHandler(cfg *config.Config, tg *Telegram, eng *engine.Engine, gate *pacing.Gate, broker *token.Broker, st *store.Store, queue engine.Prewarmer, share *ShareSigner) *BotHandler {
	return &BotHandler{
		Cfg:    cfg,
		TG:     tg,
		Engine: eng,
		Gate:   gate,
		Broker: broker,
		Store:  st,
		Queue:  queue,
		Share:  share,
		logger: log.New(log.Writer(), "[BOT] ", log.LstdFlags),
	}
}

func (h *BotHandler) Register(e *echo.Echo) {
	e.POST("/telegram/:secret", h.webhook)
}

// webhook is the single Telegram entry point. The path segment and the
// X-Telegram-Bot-Api-Secret-Token header must both match; Telegram only
// sees 200 responses for processed updates so it never redelivers them.
func (h *BotHandler) webhook(c echo.Context) error {
	if c.Param("secret") != h.Cfg.Server.WebhookPathSecret {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	if c.Request().Header.Get("X-Telegram-Bot-Api-Secret-Token") != h.Cfg.Telegram.SecretToken {
		h.logger.Printf("rejected update with bad secret header from %s", c.RealIP())
		return echo.NewHTTPError(http.StatusForbidden)
	}

	var update Update
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	switch {
	case update.Message != nil:
		if err := h.handleMessage(ctx, update.Message); err != nil {
			h.logger.Printf("message update %d: %v", update.UpdateID, err)
		}
	case update.CallbackQuery != nil:
		if err := h.handleCallback(ctx, update.CallbackQuery); err != nil {
			h.logger.Printf("callback update %d: %v", update.UpdateID, err)
		}
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (h *BotHandler) handleMessage(ctx context.Context, msg *Message) error {
	if msg.From == nil {
		return nil
	}
	chatID := msg.Chat.ID
	playerID := msg.From.ID
	name := displayName(msg.From)

	banned, err := h.Store.IsBanned(ctx, playerID)
	if err != nil {
		return err
	}
	if banned {
		h.logger.Printf("dropped message from banned player %d", playerID)
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		if payload := strings.TrimSpace(strings.TrimPrefix(text, "/start")); payload != "" {
			if inviter, err := h.Share.Verify(payload); err == nil && inviter != playerID {
				h.logger.Printf("player %d joined via invite from %d", playerID, inviter)
			}
		}
		if _, err := h.Store.GetOrCreatePlayer(ctx, playerID, name); err != nil {
			return err
		}
		welcome := renderText(msgWelcome, h.Cfg.Game.MentorName, name)
		return h.TG.SendMessage(ctx, chatID, welcome, mainKeyboard())

	case text == btnStart:
		player, branchKey, err := h.Engine.CurrentRun(ctx, playerID, name)
		if err != nil {
			return err
		}
		return h.renderPosition(ctx, chatID, player, branchKey, 1)

	case text == btnStats:
		player, err := h.Store.GetOrCreatePlayer(ctx, playerID, name)
		if err != nil {
			return err
		}
		pioneer, err := h.Store.GetPioneerCount(ctx, playerID)
		if err != nil {
			return err
		}
		return h.TG.SendMessage(ctx, chatID, statsMessage(name, player.XP, player.PP, pioneer), nil)

	case text == btnShare:
		payload, err := h.Share.Sign(playerID)
		if err != nil {
			return err
		}
		link := fmt.Sprintf("https://t.me/%s?start=%s", h.Cfg.Telegram.BotUsername, payload)
		return h.TG.SendMessage(ctx, chatID, fmt.Sprintf(msgShare, escapeHTML(link)), nil)
	}
	return nil
}

func (h *BotHandler) handleCallback(ctx context.Context, cb *CallbackQuery) error {
	playerID := cb.From.ID
	name := displayName(&cb.From)
	chatID := playerID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}

	banned, err := h.Store.IsBanned(ctx, playerID)
	if err != nil {
		return err
	}
	if banned {
		h.logger.Printf("dropped callback from banned player %d", playerID)
		return nil
	}

	pending, ok, err := h.Broker.Consume(ctx, cb.Data)
	if err != nil {
		return err
	}
	if !ok || pending.PlayerID != playerID {
		telemetry.TokensRejected.Inc()
		return h.TG.AnswerCallbackQuery(ctx, cb.ID, msgTokenExpired)
	}

	// Continue tokens page through scenes; no state is committed.
	if pending.OptionID == "" {
		if err := h.TG.AnswerCallbackQuery(ctx, cb.ID, ""); err != nil {
			h.logger.Printf("answer callback: %v", err)
		}
		player, err := h.Store.GetOrCreatePlayer(ctx, playerID, name)
		if err != nil {
			return err
		}
		return h.renderPosition(ctx, chatID, player, pending.BranchKey, pending.Scene)
	}

	allowed, err := h.Gate.CheckCooldown(ctx, playerID)
	if err != nil {
		return err
	}
	if !allowed {
		telemetry.PacingRejections.WithLabelValues("cooldown").Inc()
		return h.TG.AnswerCallbackQuery(ctx, cb.ID, msgCooldown)
	}
	allowed, err = h.Gate.CheckDailyLimit(ctx, playerID, store.ActionChoices)
	if err != nil {
		return err
	}
	if !allowed {
		telemetry.PacingRejections.WithLabelValues("quota").Inc()
		return h.TG.AnswerCallbackQuery(ctx, cb.ID, msgDailyLimit)
	}

	outcome, err := h.Engine.ApplyChoice(ctx, playerID, name, pending.OptionID, pending.BranchKey)
	if err != nil {
		h.logger.Printf("apply choice for player %d on %s: %v", playerID, pending.BranchKey, err)
		return h.TG.AnswerCallbackQuery(ctx, cb.ID, msgUnavailable)
	}
	if err := h.Gate.RecordUsage(ctx, playerID, store.ActionChoices); err != nil {
		h.logger.Printf("record usage for player %d: %v", playerID, err)
	}
	if err := h.TG.AnswerCallbackQuery(ctx, cb.ID, ""); err != nil {
		h.logger.Printf("answer callback: %v", err)
	}
	return h.renderPosition(ctx, chatID, outcome.Player, outcome.NextBranchKey, 1)
}

// renderPosition delivers one scene (or the finale) of the chapter at
// branchKey, minting fresh one-time tokens for every interaction it offers
// and submitting the option children for pre-generation.
func (h *BotHandler) renderPosition(ctx context.Context, chatID int64, player store.Player, branchKey string, scene int) error {
	chapterIndex, _, err := story.ParseKey(branchKey)
	if err != nil {
		return err
	}
	ch, err := h.Engine.Cache().Ensure(ctx, branchKey, story.BuildPrompt(branchKey, chapterIndex, ""))
	if err != nil {
		h.logger.Printf("chapter for %s: %v", branchKey, err)
		return h.TG.SendMessage(ctx, chatID, msgUnavailable, nil)
	}

	mentor := h.Cfg.Game.MentorName
	name := player.Username

	if scene == finaleScene {
		var row []InlineKeyboardButton
		var children []string
		for _, opt := range ch.Finale.Options {
			tok, err := h.Broker.Issue(ctx, player.ID, opt.ID, branchKey, finaleScene)
			if err != nil {
				return err
			}
			row = append(row, InlineKeyboardButton{Text: opt.Label, CallbackData: tok})
			children = append(children, story.NextKey(branchKey, chapterIndex+1, opt.ID))
		}
		h.prewarmChildren(ctx, player.ID, children)
		kb := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{row}}
		return h.TG.SendMessage(ctx, chatID, finaleMessage(ch, mentor, name), kb)
	}

	sc, ok := ch.Scene(scene)
	if !ok {
		return fmt.Errorf("chapter %s has no scene %d", branchKey, scene)
	}

	if len(sc.Options) > 0 {
		var row []InlineKeyboardButton
		var children []string
		for _, opt := range sc.Options {
			tok, err := h.Broker.Issue(ctx, player.ID, opt.ID, branchKey, sc.ID)
			if err != nil {
				return err
			}
			row = append(row, InlineKeyboardButton{Text: opt.Label, CallbackData: tok})
			children = append(children, story.NextKey(branchKey, chapterIndex+1, opt.ID))
		}
		h.prewarmChildren(ctx, player.ID, children)
		kb := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{row}}
		return h.TG.SendMessage(ctx, chatID, sceneMessage(ch, sc, mentor, name), kb)
	}

	next := scene + 1
	if next > story.SceneCount {
		next = finaleScene
	}
	tok, err := h.Broker.Issue(ctx, player.ID, "", branchKey, next)
	if err != nil {
		return err
	}
	kb := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: btnPress, CallbackData: tok},
	}}}
	return h.TG.SendMessage(ctx, chatID, sceneMessage(ch, sc, mentor, name), kb)
}

// prewarmChildren submits the branch keys a shown choice could lead to,
// bounded by the player's daily prewarm quota. Best effort all the way
// down: a failure here never reaches the player.
func (h *BotHandler) prewarmChildren(ctx context.Context, playerID int64, keys []string) {
	if h.Queue == nil || len(keys) == 0 {
		return
	}
	allowed, err := h.Gate.CheckDailyLimit(ctx, playerID, store.ActionPrewarms)
	if err != nil || !allowed {
		return
	}
	h.Queue.Submit(ctx, keys...)
	for range keys {
		if err := h.Gate.RecordUsage(ctx, playerID, store.ActionPrewarms); err != nil {
			return
		}
	}
}

func displayName(u *User) string {
	if u == nil {
		return defaultPlayerName
	}
	if u.Username != "" {
		return u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return defaultPlayerName
}
