package prewarm

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/fabulabot/fabula/internal/store"
)

// Sweeper deletes expired pending tokens on a cron schedule. Consumption
// already filters on expiry, so the sweep only reclaims rows and cannot
// change observable behavior.
type Sweeper struct {
	store  *store.Store
	expr   *cronexpr.Expression
	logger *log.Logger
}

func NewSweeper(st *store.Store, cronSpec string) (*Sweeper, error) {
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		store:  st,
		expr:   expr,
		logger: log.New(log.Writer(), "[SWEEP] ", log.LstdFlags),
	}, nil
}

// Run blocks until ctx is done, sweeping at each scheduled instant.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		next := s.expr.Next(time.Now())
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		n, err := s.store.SweepExpiredTokens(ctx)
		if err != nil {
			s.logger.Printf("sweep failed: %v", err)
			continue
		}
		if n > 0 {
			s.logger.Printf("swept %d expired tokens", n)
		}
	}
}
