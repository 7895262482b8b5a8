// Package token implements the one-time choice-token protocol: opaque,
// time-limited credentials that bind an offered choice to its issuing
// context and can be consumed exactly once.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fabulabot/fabula/internal/store"
)

// Broker issues and consumes pending tokens. It is the sole owner of the
// pending-token lifecycle.
type Broker struct {
	store *store.Store
	ttl   time.Duration
}

func NewBroker(st *store.Store, ttl time.Duration) *Broker {
	return &Broker{store: st, ttl: ttl}
}

// Issue mints an unguessable opaque token (128 bits of entropy) bound to
// the (player, option, branch key, scene) tuple, valid for the configured
// TTL. Expired tokens are swept opportunistically before the insert.
func (b *Broker) Issue(ctx context.Context, playerID int64, optionID, branchKey string, scene int) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	tok := hex.EncodeToString(buf)
	err := b.store.InsertPendingToken(ctx, store.PendingToken{
		Token:     tok,
		PlayerID:  playerID,
		OptionID:  optionID,
		BranchKey: branchKey,
		Scene:     scene,
		ExpiresAt: time.Now().Add(b.ttl),
	})
	if err != nil {
		return "", err
	}
	return tok, nil
}

// Consume atomically resolves and destroys a token. Unknown, already
// consumed or expired tokens yield ok=false and never an error on the
// player path.
func (b *Broker) Consume(ctx context.Context, tok string) (store.PendingToken, bool, error) {
	return b.store.ConsumePendingToken(ctx, tok)
}
