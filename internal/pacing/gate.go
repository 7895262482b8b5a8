// Package pacing enforces the per-player cooldown and daily quota gates
// evaluated before a choice is applied. The checks are advisory
// read-then-decide gates: a racing burst may slip one extra choice through,
// which is acceptable rate-limiting slop, not a correctness violation.
package pacing

import (
	"context"
	"time"

	"github.com/fabulabot/fabula/internal/store"
)

// Gate combines the cooldown and daily-quota admission checks.
type Gate struct {
	store    *store.Store
	cooldown time.Duration
	limits   map[string]int
	now      func() time.Time
}

func NewGate(st *store.Store, cooldown time.Duration, limits map[string]int) *Gate {
	return &Gate{store: st, cooldown: cooldown, limits: limits, now: time.Now}
}

// CheckCooldown is true unless the player's most recent accepted event is
// younger than the cooldown interval. The cooldown is recomputed from the
// durable event trail, so it survives restarts.
func (g *Gate) CheckCooldown(ctx context.Context, playerID int64) (bool, error) {
	last, ok, err := g.store.LastEventTime(ctx, playerID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return g.now().Sub(last) >= g.cooldown, nil
}

// CheckDailyLimit is true unless today's counter for the action class has
// reached the configured cap. A row left over from a previous day passes
// regardless of the cap; the rollover happens lazily in RecordUsage.
func (g *Gate) CheckDailyLimit(ctx context.Context, playerID int64, action string) (bool, error) {
	cap, hasCap := g.limits[action]
	if !hasCap {
		return true, nil
	}
	day, count, ok, err := g.store.GetQuota(ctx, playerID, action)
	if err != nil {
		return false, err
	}
	if !ok || day != g.today() {
		return true, nil
	}
	return count < cap, nil
}

// RecordUsage increments today's counter, resetting it to 1 first when the
// stored day differs from today. Call it only after the choice is accepted.
func (g *Gate) RecordUsage(ctx context.Context, playerID int64, action string) error {
	return g.store.BumpQuota(ctx, playerID, action, g.today())
}

func (g *Gate) today() string {
	return g.now().UTC().Format(store.DayFormat)
}
