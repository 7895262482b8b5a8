package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fabulabot/fabula/internal/store"
)

func newGate(t *testing.T, cooldown time.Duration, limits map[string]int) (*Gate, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewGate(&store.Store{DB: db}, cooldown, limits), mock
}

func TestCheckCooldownFirstChoicePasses(t *testing.T) {
	g, mock := newGate(t, 2500*time.Millisecond, nil)
	mock.ExpectQuery(`SELECT created_at FROM events`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

	ok, err := g.CheckCooldown(context.Background(), 7)
	if err != nil || !ok {
		t.Fatalf("CheckCooldown = (%v,%v), want pass with no prior events", ok, err)
	}
}

func TestCheckCooldownBlocksRecentEvent(t *testing.T) {
	g, mock := newGate(t, 2500*time.Millisecond, nil)
	now := time.Now()
	g.now = func() time.Time { return now }

	mock.ExpectQuery(`SELECT created_at FROM events`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now.Add(-time.Second)))

	ok, err := g.CheckCooldown(context.Background(), 7)
	if err != nil {
		t.Fatalf("CheckCooldown: %v", err)
	}
	if ok {
		t.Fatal("a one-second-old event must block a 2.5s cooldown")
	}
}

func TestCheckCooldownPassesAfterInterval(t *testing.T) {
	g, mock := newGate(t, 2500*time.Millisecond, nil)
	now := time.Now()
	g.now = func() time.Time { return now }

	mock.ExpectQuery(`SELECT created_at FROM events`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now.Add(-3 * time.Second)))

	ok, err := g.CheckCooldown(context.Background(), 7)
	if err != nil || !ok {
		t.Fatalf("CheckCooldown = (%v,%v), want pass after the interval", ok, err)
	}
}

func TestCheckDailyLimitCapReached(t *testing.T) {
	g, mock := newGate(t, 0, map[string]int{store.ActionChoices: 5})
	g.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

	mock.ExpectQuery(`SELECT day, count FROM quotas`).
		WithArgs(int64(7), store.ActionChoices).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}).AddRow("2024-01-01", 5))

	ok, err := g.CheckDailyLimit(context.Background(), 7, store.ActionChoices)
	if err != nil {
		t.Fatalf("CheckDailyLimit: %v", err)
	}
	if ok {
		t.Fatal("count at cap must fail the check")
	}
}

func TestCheckDailyLimitStaleDayPassesRegardlessOfCap(t *testing.T) {
	g, mock := newGate(t, 0, map[string]int{store.ActionChoices: 5})
	g.now = func() time.Time { return time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC) }

	mock.ExpectQuery(`SELECT day, count FROM quotas`).
		WithArgs(int64(7), store.ActionChoices).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count"}).AddRow("2024-01-01", 5))

	ok, err := g.CheckDailyLimit(context.Background(), 7, store.ActionChoices)
	if err != nil || !ok {
		t.Fatalf("CheckDailyLimit = (%v,%v), want pass on day rollover", ok, err)
	}
}

func TestCheckDailyLimitUnknownActionPasses(t *testing.T) {
	g, _ := newGate(t, 0, map[string]int{store.ActionChoices: 5})
	ok, err := g.CheckDailyLimit(context.Background(), 7, "unlimited")
	if err != nil || !ok {
		t.Fatalf("CheckDailyLimit = (%v,%v), want pass for uncapped action", ok, err)
	}
}

func TestRecordUsageUsesUTCDay(t *testing.T) {
	g, mock := newGate(t, 0, nil)
	g.now = func() time.Time {
		loc := time.FixedZone("UTC+5", 5*3600)
		return time.Date(2024, 1, 2, 2, 0, 0, 0, loc) // 2024-01-01 in UTC
	}

	mock.ExpectExec(`INSERT INTO quotas`).
		WithArgs(int64(7), store.ActionChoices, "2024-01-01").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := g.RecordUsage(context.Background(), 7, store.ActionChoices); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
