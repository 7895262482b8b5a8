// Package author is the boundary to the AI text-completion providers that
// write chapters. The core consumes it as a single GenerateChapter call.
package author

import (
	"context"
	"errors"
	"log"

	"github.com/fabulabot/fabula/config"
	"github.com/fabulabot/fabula/internal/story"
)

// ErrNoProvider is returned when no completion provider is configured.
// It is a configuration error: fatal at the call site, no store mutation.
var ErrNoProvider = errors.New("no chapter author configured")

// Author generates a validated chapter document from a prompt, or fails.
type Author interface {
	GenerateChapter(ctx context.Context, prompt string) (*story.Chapter, error)
}

// Chain tries an ordered list of providers and returns the first success.
// Exactly one provider result is returned per call; there is no merging
// and no retry beyond moving to the next provider in the list.
type Chain struct {
	providers []Author
	logger    *log.Logger
}

// NewChain builds a chain over the given providers, in priority order.
func NewChain(providers ...Author) *Chain {
	return &Chain{
		providers: providers,
		logger:    log.New(log.Writer(), "[AUTHOR] ", log.LstdFlags),
	}
}

// FromConfig assembles the provider chain: the primary endpoint first if
// configured, then the OpenAI fallback if configured.
func FromConfig(cfg config.AIConfig) *Chain {
	var providers []Author
	if cfg.Primary.Configured() && cfg.Primary.BaseURL != "" {
		providers = append(providers, newOpenAIClient(cfg.Primary, cfg.Temperature, cfg.Timeout))
	}
	if cfg.OpenAI.Configured() {
		providers = append(providers, newOpenAIClient(cfg.OpenAI, cfg.Temperature, cfg.Timeout))
	}
	return NewChain(providers...)
}

// GenerateChapter implements Author over the provider list.
func (c *Chain) GenerateChapter(ctx context.Context, prompt string) (*story.Chapter, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProvider
	}
	var lastErr error
	for i, p := range c.providers {
		ch, err := p.GenerateChapter(ctx, prompt)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if i < len(c.providers)-1 {
			c.logger.Printf("provider %d failed, trying next: %v", i, err)
		}
	}
	return nil, lastErr
}
