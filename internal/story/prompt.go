package story

import (
	"fmt"
	"strings"
)

// SystemPrompt frames every chapter generation call. Placeholders
// {{KING}}/{{PLAYER}} survive generation and are substituted at render time.
const SystemPrompt = "Sei autore per un bot Telegram a bottoni. Stile psichedelico/ironico, maturo ma sicuro (no illegalità/sesso esplicito/violenza grafica). Mentore = {{KING}}, eroe = {{PLAYER}}. Genera 8 scene brevi (≤80 parole) + Finale. Scelte solo in scene 1/3/5/7 (A/B con pp_delta −2..+2 e goto), Finale con 3 opzioni A/B/C (solo pp_delta). Mantieni i placeholder {{KING}}/{{PLAYER}}. Output SOLO JSON {title, theme, scenes[], finale}."

// themes rotate by chapter index so that the same branch key always yields
// the same thematic seed.
var themes = []string{
	"il mercato dei carrelli parlanti",
	"la foresta al neon",
	"il deserto degli specchi",
	"la metropolitana infinita",
	"il luna park abbandonato",
	"l'oceano capovolto",
	"la biblioteca dei sogni smarriti",
	"il monte delle eco",
}

// ThemeFor returns the deterministic theme for a chapter index.
func ThemeFor(chapterIndex int) string {
	if chapterIndex < 0 {
		chapterIndex = 0
	}
	return themes[chapterIndex%len(themes)]
}

// BuildPrompt constructs the deterministic user prompt for a branch key.
// The same key always produces the same prompt, so a regenerated prompt
// addresses the same content.
func BuildPrompt(branchKey string, chapterIndex int, parentSummary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Capitolo %d della storia. Tema: %s.\n", chapterIndex+1, ThemeFor(chapterIndex))
	fmt.Fprintf(&b, "Ramo narrativo: %s.\n", branchKey)
	if parentSummary != "" {
		fmt.Fprintf(&b, "Riassunto del capitolo precedente: %s\n", parentSummary)
	}
	b.WriteString("Genera il capitolo completo in JSON.")
	return b.String()
}
