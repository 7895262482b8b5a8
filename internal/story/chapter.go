package story

import (
	"errors"
	"fmt"
)

// ErrInvalidChapter marks author output that violates the chapter shape.
// Invalid chapters are treated as provider failures and never persisted.
var ErrInvalidChapter = errors.New("invalid chapter")

const (
	// SceneCount is the fixed number of scenes per chapter.
	SceneCount = 8

	maxSceneTextLen   = 400
	maxFinaleTextLen  = 120
	maxTitleLen       = 120
	maxSceneLabelLen  = 50
	maxFinaleLabelLen = 60
)

// SceneOption is one of the two choices offered at an odd scene.
type SceneOption struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	PPDelta int    `json:"pp_delta"`
	Goto    int    `json:"goto"`
}

// Scene is a single narrative beat. Odd scenes may carry exactly two
// options; even scenes are pass-through.
type Scene struct {
	ID      int           `json:"id"`
	Text    string        `json:"text"`
	Options []SceneOption `json:"options,omitempty"`
}

// FinaleOption is one of the three chapter-closing choices.
type FinaleOption struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	PPDelta int    `json:"pp_delta"`
}

// Finale closes a chapter with three options.
type Finale struct {
	Text    string         `json:"text"`
	Options []FinaleOption `json:"options"`
}

// Chapter is an immutable generated narrative unit, addressed 1:1 by a
// branch key. Regeneration is forbidden once persisted.
type Chapter struct {
	Title  string  `json:"title"`
	Theme  string  `json:"theme"`
	Scenes []Scene `json:"scenes"`
	Finale Finale  `json:"finale"`
}

// Validate enforces the chapter shape invariants: exactly 8 scenes indexed
// 1..8 in order, options only at odd scenes (exactly {A,B} when present),
// pp_delta and goto in range, and a finale with exactly {A,B,C}.
func (c *Chapter) Validate() error {
	if c.Title == "" || len(c.Title) > maxTitleLen {
		return fmt.Errorf("%w: bad title", ErrInvalidChapter)
	}
	if len(c.Scenes) != SceneCount {
		return fmt.Errorf("%w: expected %d scenes, got %d", ErrInvalidChapter, SceneCount, len(c.Scenes))
	}
	for i, sc := range c.Scenes {
		want := i + 1
		if sc.ID != want {
			return fmt.Errorf("%w: scene %d has id %d", ErrInvalidChapter, want, sc.ID)
		}
		if len(sc.Text) > maxSceneTextLen {
			return fmt.Errorf("%w: scene %d text too long", ErrInvalidChapter, sc.ID)
		}
		if len(sc.Options) == 0 {
			continue
		}
		if sc.ID%2 == 0 {
			return fmt.Errorf("%w: scene %d is even but carries options", ErrInvalidChapter, sc.ID)
		}
		if len(sc.Options) != 2 || sc.Options[0].ID != "A" || sc.Options[1].ID != "B" {
			return fmt.Errorf("%w: scene %d options must be exactly {A,B}", ErrInvalidChapter, sc.ID)
		}
		for _, opt := range sc.Options {
			if opt.Label == "" || len(opt.Label) > maxSceneLabelLen {
				return fmt.Errorf("%w: scene %d option %s has bad label", ErrInvalidChapter, sc.ID, opt.ID)
			}
			if opt.PPDelta < -2 || opt.PPDelta > 2 {
				return fmt.Errorf("%w: scene %d option %s pp_delta out of range", ErrInvalidChapter, sc.ID, opt.ID)
			}
			if opt.Goto < 1 || opt.Goto > SceneCount {
				return fmt.Errorf("%w: scene %d option %s goto out of range", ErrInvalidChapter, sc.ID, opt.ID)
			}
		}
	}
	if len(c.Finale.Text) > maxFinaleTextLen {
		return fmt.Errorf("%w: finale text too long", ErrInvalidChapter)
	}
	if len(c.Finale.Options) != 3 ||
		c.Finale.Options[0].ID != "A" || c.Finale.Options[1].ID != "B" || c.Finale.Options[2].ID != "C" {
		return fmt.Errorf("%w: finale options must be exactly {A,B,C}", ErrInvalidChapter)
	}
	for _, opt := range c.Finale.Options {
		if opt.Label == "" || len(opt.Label) > maxFinaleLabelLen {
			return fmt.Errorf("%w: finale option %s has bad label", ErrInvalidChapter, opt.ID)
		}
		if opt.PPDelta < -3 || opt.PPDelta > 3 {
			return fmt.Errorf("%w: finale option %s pp_delta out of range", ErrInvalidChapter, opt.ID)
		}
	}
	return nil
}

// Scene returns the scene with the given 1-based index.
func (c *Chapter) Scene(id int) (Scene, bool) {
	if id < 1 || id > len(c.Scenes) {
		return Scene{}, false
	}
	return c.Scenes[id-1], true
}

// FindDelta resolves the pp delta for an option id: finale options first,
// then every scene's option list in order, first match wins. An unknown id
// yields (0, false); callers degrade to a zero delta rather than failing.
func (c *Chapter) FindDelta(optionID string) (int, bool) {
	for _, opt := range c.Finale.Options {
		if opt.ID == optionID {
			return opt.PPDelta, true
		}
	}
	for _, sc := range c.Scenes {
		for _, opt := range sc.Options {
			if opt.ID == optionID {
				return opt.PPDelta, true
			}
		}
	}
	return 0, false
}
