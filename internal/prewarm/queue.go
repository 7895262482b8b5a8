// Package prewarm generates chapters ahead of demand. Branch keys are
// pushed onto a redis list by the webhook path and drained by background
// workers that run the same cache/author pipeline as live requests, so a
// prewarmed chapter and a live-generated one are indistinguishable.
package prewarm

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fabulabot/fabula/internal/cache"
	"github.com/fabulabot/fabula/internal/story"
)

// Queue submits branch keys for background generation. Submission is best
// effort: a redis failure is logged and swallowed, never surfaced to a
// player interaction.
type Queue struct {
	rdb    *redis.Client
	key    string
	logger *log.Logger
}

func NewQueue(rdb *redis.Client, key string) *Queue {
	return &Queue{
		rdb:    rdb,
		key:    key,
		logger: log.New(log.Writer(), "[PREWARM] ", log.LstdFlags),
	}
}

func (q *Queue) Submit(ctx context.Context, branchKeys ...string) {
	if q == nil || q.rdb == nil || len(branchKeys) == 0 {
		return
	}
	args := make([]interface{}, 0, len(branchKeys))
	for _, k := range branchKeys {
		args = append(args, k)
	}
	if err := q.rdb.LPush(ctx, q.key, args...).Err(); err != nil {
		q.logger.Printf("submit failed: %v", err)
	}
}

// Worker drains the queue and materializes chapters through the shared
// cache, so concurrent live requests for the same branch key coalesce
// with the prewarm flight instead of racing it.
type Worker struct {
	rdb    *redis.Client
	key    string
	cache  *cache.Cache
	logger *log.Logger
}

func NewWorker(rdb *redis.Client, key string, ch *cache.Cache) *Worker {
	return &Worker{
		rdb:    rdb,
		key:    key,
		cache:  ch,
		logger: log.New(log.Writer(), "[PREWARM] ", log.LstdFlags),
	}
}

// Run blocks until ctx is done, popping one branch key at a time.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := w.rdb.BRPop(ctx, 5*time.Second, w.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Printf("pop failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		// BRPOP returns [key, value].
		if len(res) != 2 {
			continue
		}
		w.generate(ctx, res[1])
	}
}

func (w *Worker) generate(ctx context.Context, branchKey string) {
	chapterIndex, _, err := story.ParseKey(branchKey)
	if err != nil {
		w.logger.Printf("discarding malformed key %q: %v", branchKey, err)
		return
	}
	if _, err := w.cache.Ensure(ctx, branchKey, story.BuildPrompt(branchKey, chapterIndex, "")); err != nil {
		w.logger.Printf("generation for %s failed: %v", branchKey, err)
	}
}
