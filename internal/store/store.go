// Package store owns all durable game state: players, runs, chapters,
// events, pending choice tokens, daily quotas and pioneer rewards.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fabulabot/fabula/config"
	"github.com/fabulabot/fabula/internal/story"
)

// ErrChapterExists indicates a concurrent writer already stored a chapter
// for the branch key. The caller must discard its own result and read back
// the stored winner.
var ErrChapterExists = errors.New("chapter already exists")

// Action classes for daily quotas.
const (
	ActionChoices  = "choices"
	ActionPrewarms = "prewarms"
)

// DayFormat is the quota day key layout (UTC).
const DayFormat = "2006-01-02"

type Store struct {
	DB *sql.DB
}

// Player is the durable identity of a user: cumulative xp and pp totals.
type Player struct {
	ID       int64
	Username string
	XP       int64
	PP       int64
}

// PendingToken is a single-use, time-limited credential binding an offered
// choice to its issuing context. Scene rides in the payload because it is
// not recoverable from the branch key.
type PendingToken struct {
	Token     string
	PlayerID  int64
	OptionID  string
	BranchKey string
	Scene     int
	ExpiresAt time.Time
}

// LeaderboardEntry is one row of the xp ranking.
type LeaderboardEntry struct {
	PlayerID int64
	Username string
	XP       int64
	PP       int64
}

// CommitChoiceParams groups everything applied in the single choice
// transaction.
type CommitChoiceParams struct {
	PlayerID       int64
	OptionID       string
	BranchKey      string
	NextBranchKey  string
	PPDelta        int
	PioneerBonusXP int
}

// New connects to Postgres using the configured DSN and verifies the
// connection before handing out the store.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Player operations

// GetOrCreatePlayer resolves a player record, creating it with zero totals
// on first contact. The display name is refreshed on every call.
func (s *Store) GetOrCreatePlayer(ctx context.Context, id int64, username string) (Player, error) {
	var p Player
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO players (id, username, xp, pp) VALUES ($1,$2,0,0)
ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
RETURNING id, username, xp, pp
`, id, username).Scan(&p.ID, &p.Username, &p.XP, &p.PP)
	return p, err
}

func (s *Store) GetPlayer(ctx context.Context, id int64) (Player, bool, error) {
	var p Player
	err := s.DB.QueryRowContext(ctx, `SELECT id, username, xp, pp FROM players WHERE id=$1`, id).
		Scan(&p.ID, &p.Username, &p.XP, &p.PP)
	if errors.Is(err, sql.ErrNoRows) {
		return Player{}, false, nil
	}
	if err != nil {
		return Player{}, false, err
	}
	return p, true, nil
}

// SetBanned flips the moderation flag on a player record.
func (s *Store) SetBanned(ctx context.Context, id int64, banned bool) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE players SET banned=$2 WHERE id=$1`, id, banned)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("player %d not found", id)
	}
	return nil
}

// IsBanned reports whether a player is banned. Unknown players are not.
func (s *Store) IsBanned(ctx context.Context, id int64) (bool, error) {
	var banned bool
	err := s.DB.QueryRowContext(ctx, `SELECT banned FROM players WHERE id=$1`, id).Scan(&banned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return banned, nil
}

func (s *Store) LeaderboardByXP(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, username, xp, pp FROM players ORDER BY xp DESC, id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.Username, &e.XP, &e.PP); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Run operations

// GetRun returns the player's current branch key, if a run exists.
func (s *Store) GetRun(ctx context.Context, playerID int64) (string, bool, error) {
	var key string
	err := s.DB.QueryRowContext(ctx, `SELECT branch_key FROM runs WHERE player_id=$1`, playerID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}

// Chapter operations

func (s *Store) GetChapter(ctx context.Context, branchKey string) (*story.Chapter, bool, error) {
	var content []byte
	err := s.DB.QueryRowContext(ctx, `SELECT content FROM chapters WHERE branch_key=$1`, branchKey).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var ch story.Chapter
	if err := json.Unmarshal(content, &ch); err != nil {
		return nil, false, fmt.Errorf("unmarshal chapter %s: %w", branchKey, err)
	}
	return &ch, true, nil
}

// PutChapter persists a generated chapter. Chapters are immutable: a
// conflicting insert returns ErrChapterExists and leaves the stored row
// untouched.
func (s *Store) PutChapter(ctx context.Context, branchKey string, ch *story.Chapter) error {
	content, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal chapter: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO chapters (branch_key, content, created_at) VALUES ($1,$2,NOW())`, branchKey, content)
	if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
		return ErrChapterExists
	}
	return err
}

// Pending token operations

// InsertPendingToken stores a freshly issued token, opportunistically
// sweeping all expired tokens first.
func (s *Store) InsertPendingToken(ctx context.Context, t PendingToken) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM pending_tokens WHERE expires_at < NOW()`); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO pending_tokens (token, player_id, option_id, branch_key, scene, expires_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, t.Token, t.PlayerID, t.OptionID, t.BranchKey, t.Scene, t.ExpiresAt)
	return err
}

// ConsumePendingToken atomically locates a non-expired token and deletes it
// in the same statement. A token satisfies consumption at most once;
// unknown, reused or expired tokens yield ok=false.
func (s *Store) ConsumePendingToken(ctx context.Context, token string) (PendingToken, bool, error) {
	var t PendingToken
	err := s.DB.QueryRowContext(ctx, `
DELETE FROM pending_tokens WHERE token=$1 AND expires_at > NOW()
RETURNING token, player_id, option_id, branch_key, scene, expires_at
`, token).Scan(&t.Token, &t.PlayerID, &t.OptionID, &t.BranchKey, &t.Scene, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingToken{}, false, nil
	}
	if err != nil {
		return PendingToken{}, false, err
	}
	return t, true, nil
}

// SweepExpiredTokens removes every expired token and reports how many.
func (s *Store) SweepExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM pending_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Event operations

// LastEventTime returns the timestamp of the player's most recent accepted
// choice. Cooldowns are recomputed from this durable record.
func (s *Store) LastEventTime(ctx context.Context, playerID int64) (time.Time, bool, error) {
	var ts time.Time
	err := s.DB.QueryRowContext(ctx, `SELECT created_at FROM events WHERE player_id=$1 ORDER BY created_at DESC LIMIT 1`, playerID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// Quota operations

// GetQuota returns the stored (day, count) pair for a player/action class.
func (s *Store) GetQuota(ctx context.Context, playerID int64, action string) (string, int, bool, error) {
	var day string
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT day, count FROM quotas WHERE player_id=$1 AND action=$2`, playerID, action).
		Scan(&day, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return day, count, true, nil
}

// BumpQuota increments today's counter, resetting it to 1 when the stored
// day differs. Day rollover is lazy, not a scheduled job.
func (s *Store) BumpQuota(ctx context.Context, playerID int64, action, day string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO quotas (player_id, action, day, count) VALUES ($1,$2,$3,1)
ON CONFLICT (player_id, action) DO UPDATE SET
  count = CASE WHEN quotas.day = EXCLUDED.day THEN quotas.count + 1 ELSE 1 END,
  day = EXCLUDED.day
`, playerID, action, day)
	return err
}

// Reward operations

func (s *Store) GetPioneerCount(ctx context.Context, playerID int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT pioneer FROM rewards WHERE player_id=$1`, playerID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// Choice transaction

// CommitChoice applies one accepted choice atomically: claim the pioneer
// slot for the branch key, append the audit event, overwrite the run
// pointer, update the player totals, and grant the pioneer reward when the
// claim succeeded. The pioneers table has one row per branch key, so the
// claim insert decides the grant under concurrency: exactly one committing
// transaction ever sees its row land. Partial application is never visible.
func (s *Store) CommitChoice(ctx context.Context, p CommitChoiceParams) (Player, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Player{}, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT INTO pioneers (branch_key, player_id) VALUES ($1,$2)
ON CONFLICT (branch_key) DO NOTHING
`, p.BranchKey, p.PlayerID)
	if err != nil {
		return Player{}, false, fmt.Errorf("claim pioneer: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return Player{}, false, fmt.Errorf("claim pioneer: %w", err)
	}
	pioneer := claimed == 1

	if _, err := tx.ExecContext(ctx, `
INSERT INTO events (player_id, option_id, branch_key, created_at) VALUES ($1,$2,$3,NOW())
`, p.PlayerID, p.OptionID, p.BranchKey); err != nil {
		return Player{}, false, fmt.Errorf("append event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs (player_id, branch_key, updated_at) VALUES ($1,$2,NOW())
ON CONFLICT (player_id) DO UPDATE SET branch_key = EXCLUDED.branch_key, updated_at = NOW()
`, p.PlayerID, p.NextBranchKey); err != nil {
		return Player{}, false, fmt.Errorf("advance run: %w", err)
	}

	xpGain := 1
	if pioneer {
		xpGain += p.PioneerBonusXP
	}
	var out Player
	if err := tx.QueryRowContext(ctx, `
UPDATE players SET pp = pp + $2, xp = xp + $3 WHERE id=$1
RETURNING id, username, xp, pp
`, p.PlayerID, p.PPDelta, xpGain).Scan(&out.ID, &out.Username, &out.XP, &out.PP); err != nil {
		return Player{}, false, fmt.Errorf("update totals: %w", err)
	}

	if pioneer {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO rewards (player_id, pioneer) VALUES ($1,1)
ON CONFLICT (player_id) DO UPDATE SET pioneer = rewards.pioneer + 1
`, p.PlayerID); err != nil {
			return Player{}, false, fmt.Errorf("grant pioneer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Player{}, false, err
	}
	return out, pioneer, nil
}
