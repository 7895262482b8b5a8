// Package cache is the content-addressed chapter cache: one chapter per
// branch key, generated on first access, with at most one generation in
// flight per key.
package cache

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fabulabot/fabula/internal/author"
	"github.com/fabulabot/fabula/internal/store"
	"github.com/fabulabot/fabula/internal/story"
	"github.com/fabulabot/fabula/internal/telemetry"
)

// ChapterStore is the slice of the durable store the cache needs.
type ChapterStore interface {
	GetChapter(ctx context.Context, branchKey string) (*story.Chapter, bool, error)
	PutChapter(ctx context.Context, branchKey string, ch *story.Chapter) error
}

// Cache resolves chapters by branch key. Concurrent Ensure calls for the
// same key collapse into a single author invocation; distinct keys proceed
// independently.
type Cache struct {
	store   ChapterStore
	author  author.Author
	timeout time.Duration
	group   singleflight.Group
	logger  *log.Logger
}

func New(st ChapterStore, au author.Author, timeout time.Duration) *Cache {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Cache{
		store:   st,
		author:  au,
		timeout: timeout,
		logger:  log.New(log.Writer(), "[CACHE] ", log.LstdFlags),
	}
}

// Get is a pure read: the cached chapter or absent.
func (c *Cache) Get(ctx context.Context, branchKey string) (*story.Chapter, bool, error) {
	return c.store.GetChapter(ctx, branchKey)
}

// Ensure returns the chapter for the branch key, generating it on first
// access. Callers arriving while a generation for the same key is in
// flight await the shared result. An author failure is propagated to all
// waiters and nothing is persisted.
func (c *Cache) Ensure(ctx context.Context, branchKey, prompt string) (*story.Chapter, error) {
	if ch, ok, err := c.store.GetChapter(ctx, branchKey); err != nil {
		return nil, err
	} else if ok {
		return ch, nil
	}

	v, err, _ := c.group.Do(branchKey, func() (interface{}, error) {
		// Losers of an earlier flight may already have stored the chapter.
		if ch, ok, err := c.store.GetChapter(ctx, branchKey); err != nil {
			return nil, err
		} else if ok {
			return ch, nil
		}
		return c.generate(ctx, branchKey, prompt)
	})
	if err != nil {
		return nil, err
	}
	return v.(*story.Chapter), nil
}

func (c *Cache) generate(ctx context.Context, branchKey, prompt string) (*story.Chapter, error) {
	// The flight outlives the request that started it: waiters from other
	// requests share the result, so only the generation timeout applies.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	ch, err := c.author.GenerateChapter(genCtx, prompt)
	if err != nil {
		telemetry.ChapterGenerations.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := ch.Validate(); err != nil {
		telemetry.ChapterGenerations.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := c.store.PutChapter(genCtx, branchKey, ch); err != nil {
		if errors.Is(err, store.ErrChapterExists) {
			// A concurrent writer won; discard our result and surface the
			// stored value so every invocation sees the same chapter.
			telemetry.ChapterGenerations.WithLabelValues("conflict").Inc()
			stored, ok, gerr := c.store.GetChapter(genCtx, branchKey)
			if gerr != nil {
				return nil, gerr
			}
			if !ok {
				return nil, err
			}
			return stored, nil
		}
		return nil, err
	}
	telemetry.ChapterGenerations.WithLabelValues("ok").Inc()
	c.logger.Printf("generated chapter for %s", branchKey)
	return ch, nil
}
