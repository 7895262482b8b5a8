package server

import (
	"fmt"
	"strings"

	"github.com/fabulabot/fabula/internal/story"
)

// User-facing strings. The bot speaks Italian; the mentor figure is
// addressed through the {{KING}} placeholder.
const (
	msgWelcome      = "Benvenuto {{PLAYER}}! Io sono {{KING}}. Tocca ▶️ Inizia per entrare nella storia."
	msgTokenExpired = "Questa scelta è scaduta. Tocca ▶️ Inizia per riprendere."
	msgCooldown     = "Con calma, avventuriero. Riprova tra qualche istante."
	msgDailyLimit   = "Hai esaurito le scelte di oggi. Torna domani!"
	msgShare        = "Invita un amico nella storia:\n%s"
	msgUnavailable  = "La storia è momentaneamente indisponibile. Riprova tra poco."

	btnStart = "▶️ Inizia"
	btnStats = "\U0001F4CA Statistiche"
	btnShare = "\U0001F4E3 Condividi"
	btnPress = "Continua ▶️"

	defaultPlayerName = "avventuriero"
)

// escapeHTML covers the three characters Telegram's HTML parse mode treats
// specially.
func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

// renderText substitutes the {{KING}} and {{PLAYER}} placeholders and
// escapes the result for HTML delivery.
func renderText(text, mentor, player string) string {
	text = strings.ReplaceAll(text, "{{KING}}", mentor)
	text = strings.ReplaceAll(text, "{{PLAYER}}", player)
	return escapeHTML(text)
}

func mainKeyboard() *ReplyKeyboardMarkup {
	return &ReplyKeyboardMarkup{
		Keyboard: [][]KeyboardButton{{
			{Text: btnStart}, {Text: btnStats}, {Text: btnShare},
		}},
		ResizeKeyboard: true,
	}
}

// sceneMessage formats one scene of a chapter. Scene 1 is prefixed with the
// chapter title.
func sceneMessage(ch *story.Chapter, scene story.Scene, mentor, player string) string {
	body := renderText(scene.Text, mentor, player)
	if scene.ID == 1 {
		return fmt.Sprintf("<b>%s</b>\n\n%s", renderText(ch.Title, mentor, player), body)
	}
	return body
}

func finaleMessage(ch *story.Chapter, mentor, player string) string {
	return renderText(ch.Finale.Text, mentor, player)
}

func statsMessage(username string, xp, pp int64, pioneer int) string {
	name := escapeHTML(username)
	if name == "" {
		name = defaultPlayerName
	}
	return fmt.Sprintf("<b>%s</b>\nXP: %d\nPP: %d\nSentieri inaugurati: %d", name, xp, pp, pioneer)
}
