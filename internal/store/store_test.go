package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/fabulabot/fabula/internal/story"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func expectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetOrCreatePlayer(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO players`).
		WithArgs(int64(7), "ada").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "xp", "pp"}).AddRow(7, "ada", 0, 0))

	p, err := st.GetOrCreatePlayer(context.Background(), 7, "ada")
	if err != nil {
		t.Fatalf("GetOrCreatePlayer: %v", err)
	}
	if p.ID != 7 || p.XP != 0 || p.PP != 0 {
		t.Fatalf("player = %+v", p)
	}
	expectations(t, mock)
}

func TestSetBanned(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE players SET banned=\$2 WHERE id=\$1`).
		WithArgs(int64(7), true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SetBanned(context.Background(), 7, true); err != nil {
		t.Fatalf("SetBanned: %v", err)
	}
	expectations(t, mock)
}

func TestSetBannedUnknownPlayer(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE players SET banned=\$2 WHERE id=\$1`).
		WithArgs(int64(404), false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.SetBanned(context.Background(), 404, false); err == nil {
		t.Fatal("banning a missing player must report an error")
	}
	expectations(t, mock)
}

func TestIsBannedUnknownPlayer(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT banned FROM players`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"banned"}))

	banned, err := st.IsBanned(context.Background(), 404)
	if err != nil {
		t.Fatalf("IsBanned: %v", err)
	}
	if banned {
		t.Fatal("a player we have never seen is not banned")
	}
	expectations(t, mock)
}

func TestConsumePendingToken(t *testing.T) {
	st, mock := newMockStore(t)
	exp := time.Now().Add(5 * time.Minute)
	mock.ExpectQuery(`DELETE FROM pending_tokens WHERE token=\$1 AND expires_at > NOW\(\)`).
		WithArgs("tok1").
		WillReturnRows(sqlmock.NewRows([]string{"token", "player_id", "option_id", "branch_key", "scene", "expires_at"}).
			AddRow("tok1", 7, "A", "root", 1, exp))

	got, ok, err := st.ConsumePendingToken(context.Background(), "tok1")
	if err != nil || !ok {
		t.Fatalf("ConsumePendingToken: (%v,%v)", ok, err)
	}
	if got.PlayerID != 7 || got.OptionID != "A" || got.BranchKey != "root" || got.Scene != 1 {
		t.Fatalf("token = %+v", got)
	}
	expectations(t, mock)
}

func TestConsumePendingTokenAbsent(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`DELETE FROM pending_tokens`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"token", "player_id", "option_id", "branch_key", "scene", "expires_at"}))

	_, ok, err := st.ConsumePendingToken(context.Background(), "gone")
	if err != nil {
		t.Fatalf("ConsumePendingToken: %v", err)
	}
	if ok {
		t.Fatal("unknown token must yield absent, not a row")
	}
	expectations(t, mock)
}

func TestInsertPendingTokenSweepsFirst(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM pending_tokens WHERE expires_at < NOW\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`INSERT INTO pending_tokens`).
		WithArgs("tok2", int64(7), "B", "S1:A", 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.InsertPendingToken(context.Background(), PendingToken{
		Token: "tok2", PlayerID: 7, OptionID: "B", BranchKey: "S1:A", Scene: 3,
		ExpiresAt: time.Now().Add(8 * time.Minute),
	})
	if err != nil {
		t.Fatalf("InsertPendingToken: %v", err)
	}
	expectations(t, mock)
}

func TestPutChapterConflict(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO chapters`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := st.PutChapter(context.Background(), "S1:A", &story.Chapter{Title: "x"})
	if !errors.Is(err, ErrChapterExists) {
		t.Fatalf("err = %v, want ErrChapterExists", err)
	}
	expectations(t, mock)
}

func TestBumpQuota(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO quotas`).
		WithArgs(int64(7), ActionChoices, "2024-01-02").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.BumpQuota(context.Background(), 7, ActionChoices, "2024-01-02"); err != nil {
		t.Fatalf("BumpQuota: %v", err)
	}
	expectations(t, mock)
}

func TestCommitChoiceTransaction(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pioneers`).
		WithArgs("root", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(int64(7), "A", "root").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(int64(7), "S1:A").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE players SET pp = pp \+ \$2, xp = xp \+ \$3`).
		WithArgs(int64(7), 2, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "xp", "pp"}).AddRow(7, "ada", 1, 2))
	mock.ExpectCommit()

	p, pioneer, err := st.CommitChoice(context.Background(), CommitChoiceParams{
		PlayerID: 7, OptionID: "A", BranchKey: "root", NextBranchKey: "S1:A", PPDelta: 2,
		PioneerBonusXP: 5,
	})
	if err != nil {
		t.Fatalf("CommitChoice: %v", err)
	}
	if pioneer {
		t.Fatal("an already claimed branch key must not grant again")
	}
	if p.XP != 1 || p.PP != 2 {
		t.Fatalf("player = %+v, want xp=1 pp=2", p)
	}
	expectations(t, mock)
}

func TestCommitChoicePioneerGrant(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pioneers`).
		WithArgs("S1:A", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(int64(7), "B", "S1:A").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(int64(7), "S1:A|S2:B").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE players`).
		WithArgs(int64(7), -1, 6).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "xp", "pp"}).AddRow(7, "ada", 7, 1))
	mock.ExpectExec(`INSERT INTO rewards`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, pioneer, err := st.CommitChoice(context.Background(), CommitChoiceParams{
		PlayerID: 7, OptionID: "B", BranchKey: "S1:A", NextBranchKey: "S1:A|S2:B",
		PPDelta: -1, PioneerBonusXP: 5,
	})
	if err != nil {
		t.Fatalf("CommitChoice: %v", err)
	}
	if !pioneer {
		t.Fatal("a landed claim row must grant the pioneer bonus")
	}
	expectations(t, mock)
}

// Two players commit against the same branch key: only the first claim row
// lands, so the second commit applies the plain xp gain and never touches
// rewards.
func TestCommitChoicePioneerGrantedOncePerBranch(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pioneers`).
		WithArgs("S1:A", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(int64(7), "A", "S1:A").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(int64(7), "S1:A|S2:A").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE players`).
		WithArgs(int64(7), 1, 6).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "xp", "pp"}).AddRow(7, "ada", 6, 1))
	mock.ExpectExec(`INSERT INTO rewards`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pioneers`).
		WithArgs("S1:A", int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(int64(8), "A", "S1:A").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(int64(8), "S1:A|S2:A").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE players`).
		WithArgs(int64(8), 1, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "xp", "pp"}).AddRow(8, "bea", 1, 1))
	mock.ExpectCommit()

	_, first, err := st.CommitChoice(context.Background(), CommitChoiceParams{
		PlayerID: 7, OptionID: "A", BranchKey: "S1:A", NextBranchKey: "S1:A|S2:A",
		PPDelta: 1, PioneerBonusXP: 5,
	})
	if err != nil {
		t.Fatalf("first CommitChoice: %v", err)
	}
	_, second, err := st.CommitChoice(context.Background(), CommitChoiceParams{
		PlayerID: 8, OptionID: "A", BranchKey: "S1:A", NextBranchKey: "S1:A|S2:A",
		PPDelta: 1, PioneerBonusXP: 5,
	})
	if err != nil {
		t.Fatalf("second CommitChoice: %v", err)
	}
	if !first || second {
		t.Fatalf("grants = (%v,%v), want exactly the first commit to grant", first, second)
	}
	expectations(t, mock)
}

func TestCommitChoiceRollsBackOnFailure(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pioneers`).
		WithArgs("root", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(int64(7), "A", "root").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO runs`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, _, err := st.CommitChoice(context.Background(), CommitChoiceParams{
		PlayerID: 7, OptionID: "A", BranchKey: "root", NextBranchKey: "S1:A",
	})
	if err == nil {
		t.Fatal("expected commit failure")
	}
	expectations(t, mock)
}

func TestGetQuotaAbsent(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT day, count FROM quotas`).
		WithArgs(int64(7), ActionPrewarms).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}))

	_, _, ok, err := st.GetQuota(context.Background(), 7, ActionPrewarms)
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if ok {
		t.Fatal("absent quota row should report ok=false")
	}
	expectations(t, mock)
}

func TestGetChapterRoundTrip(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT content FROM chapters`).
		WithArgs("root").
		WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow([]byte(`{"title":"Radice","theme":"neon","scenes":[],"finale":{"text":"","options":[]}}`)))

	ch, ok, err := st.GetChapter(context.Background(), "root")
	if err != nil || !ok {
		t.Fatalf("GetChapter: (%v,%v)", ok, err)
	}
	if ch.Title != "Radice" {
		t.Fatalf("title = %q", ch.Title)
	}
	expectations(t, mock)
}
