// Package engine is the transactional choice-application state machine.
// It orchestrates the chapter cache, the pioneer rule and the store commit
// so that an accepted choice is applied atomically.
package engine

import (
	"context"
	"log"

	"github.com/fabulabot/fabula/internal/cache"
	"github.com/fabulabot/fabula/internal/store"
	"github.com/fabulabot/fabula/internal/story"
	"github.com/fabulabot/fabula/internal/telemetry"
)

// Prewarmer accepts fire-and-forget pre-generation submissions.
type Prewarmer interface {
	Submit(ctx context.Context, branchKeys ...string)
}

// noopPrewarmer is used when no queue is wired (tests, CLI tools).
type noopPrewarmer struct{}

func (noopPrewarmer) Submit(context.Context, ...string) {}

// Outcome is the updated in-memory player/run view after a choice.
type Outcome struct {
	Player        store.Player
	BranchKey     string
	NextBranchKey string
	ChapterIndex  int
	PPDelta       int
	Pioneer       bool
}

// Engine applies validated choices. It is the only writer of players, runs
// and events, and every write happens inside one store transaction.
type Engine struct {
	store   *store.Store
	cache   *cache.Cache
	bonusXP int
	prewarm Prewarmer
	logger  *log.Logger
}

func New(st *store.Store, ch *cache.Cache, pioneerBonusXP int, prewarm Prewarmer) *Engine {
	if prewarm == nil {
		prewarm = noopPrewarmer{}
	}
	return &Engine{
		store:   st,
		cache:   ch,
		bonusXP: pioneerBonusXP,
		prewarm: prewarm,
		logger:  log.New(log.Writer(), "[ENGINE] ", log.LstdFlags),
	}
}

// Cache exposes the chapter cache for rendering callers.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// ApplyChoice records a validated choice: it resolves the pp delta from
// the chapter addressed by branchKey, computes the next branch key, and
// commits event, run pointer, player totals and the pioneer claim in one
// transaction. The grant decision is made by the commit itself, so the
// first event on a branch key grants exactly once even under concurrent
// choices. A cache or author failure aborts the whole operation with no
// partial writes; an unknown option id never aborts and degrades to a
// zero delta.
func (e *Engine) ApplyChoice(ctx context.Context, playerID int64, username, optionID, branchKey string) (*Outcome, error) {
	if _, err := e.store.GetOrCreatePlayer(ctx, playerID, username); err != nil {
		return nil, err
	}

	chapterIndex, _, err := story.ParseKey(branchKey)
	if err != nil {
		return nil, err
	}

	chapter, err := e.cache.Ensure(ctx, branchKey, story.BuildPrompt(branchKey, chapterIndex, ""))
	if err != nil {
		return nil, err
	}

	delta, found := chapter.FindDelta(optionID)
	if !found {
		// Content drift must not break gameplay; a missing option id is a
		// consistency warning, not a player-facing error.
		e.logger.Printf("option %q not found in chapter %s, applying zero delta", optionID, branchKey)
	}

	nextKey := story.NextKey(branchKey, chapterIndex+1, optionID)

	updated, pioneer, err := e.store.CommitChoice(ctx, store.CommitChoiceParams{
		PlayerID:       playerID,
		OptionID:       optionID,
		BranchKey:      branchKey,
		NextBranchKey:  nextKey,
		PPDelta:        delta,
		PioneerBonusXP: e.bonusXP,
	})
	if err != nil {
		return nil, err
	}

	telemetry.ChoicesAccepted.Inc()
	if pioneer {
		telemetry.PioneerGrants.Inc()
	}

	// Best effort: start generating the next chapter before the player asks
	// for it. Failure has no effect on correctness.
	e.prewarm.Submit(ctx, nextKey)

	return &Outcome{
		Player:        updated,
		BranchKey:     branchKey,
		NextBranchKey: nextKey,
		ChapterIndex:  chapterIndex,
		PPDelta:       delta,
		Pioneer:       pioneer,
	}, nil
}

// CurrentRun resolves the player record and the branch key of their active
// run, defaulting to root for players who have not chosen yet.
func (e *Engine) CurrentRun(ctx context.Context, playerID int64, username string) (store.Player, string, error) {
	player, err := e.store.GetOrCreatePlayer(ctx, playerID, username)
	if err != nil {
		return store.Player{}, "", err
	}
	key, ok, err := e.store.GetRun(ctx, playerID)
	if err != nil {
		return store.Player{}, "", err
	}
	if !ok {
		key = story.RootKey
	}
	return player, key, nil
}
