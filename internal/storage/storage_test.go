package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "sleepd/pkg/logx"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "sleepd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "none"}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if _, err := Open(Config{Driver: "mysql", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestMessageDedup(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	m := Message{ID: "m1", UserID: "u1", Kind: KindSystem, Content: "a", DayKey: "2026-01-01", DedupKey: "system:2026-01-01"}
	if err := st.InsertMessage(ctx, m); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	m.ID = "m2"
	if err := st.InsertMessage(ctx, m); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second insert err = %v, want ErrDuplicate", err)
	}
	// Messages without a dedup key never collide.
	for _, id := range []string{"t1", "t2"} {
		if err := st.InsertMessage(ctx, Message{ID: id, UserID: "u1", Kind: KindText, Content: "x", DayKey: "2026-01-01"}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	n, err := st.CountMessages(ctx, "u1", KindSystem, "2026-01-01")
	if err != nil || n != 1 {
		t.Fatalf("CountMessages = %d, %v; want 1", n, err)
	}
}

func TestListMessagesAndMarkRead(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	kinds := []string{KindText, KindMessage, KindReply, KindText}
	for i, k := range kinds {
		m := Message{ID: string(rune('a' + i)), UserID: "u1", Kind: k, Content: k, DayKey: "2026-01-01", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := st.InsertMessage(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, total, err := st.ListMessages(ctx, MessageQuery{UserID: "u1", Kinds: []string{KindText}, NewestFirst: true, Limit: 1})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if total != 2 || len(got) != 1 || got[0].ID != "d" {
		t.Fatalf("got %d/%d first=%v", len(got), total, got)
	}

	chat, _, err := st.ListMessages(ctx, MessageQuery{UserID: "u1", Kinds: []string{KindMessage, KindReply}})
	if err != nil || len(chat) != 2 || chat[0].ID != "b" || chat[1].ID != "c" {
		t.Fatalf("chat = %v, %v", chat, err)
	}

	since, _, err := st.ListMessages(ctx, MessageQuery{UserID: "u1", Since: base.Add(time.Minute)})
	if err != nil || len(since) != 2 {
		t.Fatalf("since = %d, %v", len(since), err)
	}

	if n, err := st.CountUnread(ctx, "u1"); err != nil || n != 4 {
		t.Fatalf("CountUnread = %d, %v", n, err)
	}
	changed, err := st.MarkRead(ctx, "u1", []string{"a", "d", "zz"}, base)
	if err != nil || changed != 2 {
		t.Fatalf("MarkRead = %d, %v", changed, err)
	}
	if n, _ := st.CountUnread(ctx, "u1", KindText); n != 0 {
		t.Fatalf("unread text = %d", n)
	}
	if changed, _ := st.MarkRead(ctx, "u1", []string{"a"}, base); changed != 0 {
		t.Fatalf("re-mark changed %d rows", changed)
	}
	m, err := st.GetMessage(ctx, "a")
	if err != nil || !m.IsRead || m.ReadAt == nil {
		t.Fatalf("GetMessage = %+v, %v", m, err)
	}

	if err := st.DeleteMessage(ctx, "other", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete by other user err = %v", err)
	}
	if err := st.DeleteMessage(ctx, "u1", "a"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
}

func TestTriggersRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	tr := Trigger{ID: "t1", UserID: "u1", Name: "Bed", Kind: TriggerFixed, Hour: 22, Minute: 30, Days: []int{5, 1}, Enabled: true}
	if err := st.SaveTrigger(ctx, tr); err != nil {
		t.Fatalf("SaveTrigger: %v", err)
	}
	if err := st.SaveTrigger(ctx, Trigger{ID: "t2", UserID: "u1", Kind: TriggerCustom, Expr: "0 7 * * *"}); err != nil {
		t.Fatalf("SaveTrigger: %v", err)
	}

	got, err := st.GetTrigger(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.Action != ActionBedtime || len(got.Days) != 2 || got.Days[0] != 1 || got.Days[1] != 5 || !got.Enabled {
		t.Fatalf("trigger = %+v", got)
	}

	enabled, err := st.ListEnabledTriggers(ctx)
	if err != nil || len(enabled) != 1 || enabled[0].ID != "t1" {
		t.Fatalf("enabled = %v, %v", enabled, err)
	}
	all, _ := st.ListTriggers(ctx, "u1")
	if len(all) != 2 {
		t.Fatalf("ListTriggers = %d", len(all))
	}

	at := time.UnixMilli(1_700_000_000_000)
	if err := st.TouchTrigger(ctx, "t1", at); err != nil {
		t.Fatalf("TouchTrigger: %v", err)
	}
	got, _ = st.GetTrigger(ctx, "t1")
	if got.LastRunAt == nil || !got.LastRunAt.Equal(at) {
		t.Fatalf("LastRunAt = %v", got.LastRunAt)
	}

	if err := st.DeleteTrigger(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTrigger: %v", err)
	}
	if _, err := st.GetTrigger(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTrigger after delete err = %v", err)
	}
	if err := st.DeleteTrigger(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestGoalsAndRecords(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	for _, g := range []Goal{{UserID: "u1", Day: "2026-01-01", Value: 420}, {UserID: "u1", Day: "2026-01-10", Value: 480}} {
		if err := st.UpsertGoal(ctx, g); err != nil {
			t.Fatalf("UpsertGoal: %v", err)
		}
	}
	if _, err := st.GoalOnOrBefore(ctx, "u1", "2025-12-31"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	g, err := st.GoalOnOrBefore(ctx, "u1", "2026-01-09")
	if err != nil || g.Value != 420 {
		t.Fatalf("goal = %+v, %v", g, err)
	}
	goals, _ := st.ListGoalsUpTo(ctx, "u1", "2026-02-01")
	if len(goals) != 2 || goals[0].Value != 480 {
		t.Fatalf("goals = %v", goals)
	}

	rating := 7
	for i, d := range []string{"2026-01-01", "2026-01-02", "2026-01-03"} {
		if err := st.UpsertRecord(ctx, SleepRecord{UserID: "u1", Day: d, Duration: 400 + i*10, Rating: &rating}); err != nil {
			t.Fatalf("UpsertRecord: %v", err)
		}
	}
	if err := st.UpsertRecord(ctx, SleepRecord{UserID: "u1", Day: "2026-01-02", Duration: 500}); err != nil {
		t.Fatalf("UpsertRecord replace: %v", err)
	}
	recs, _ := st.ListRecords(ctx, "u1", "2026-01-02", "2026-01-03")
	if len(recs) != 2 || recs[0].Duration != 500 || recs[0].Rating != nil {
		t.Fatalf("records = %+v", recs)
	}
	latest, _ := st.LatestRecords(ctx, "u1", 2)
	if len(latest) != 2 || latest[0].Day != "2026-01-03" {
		t.Fatalf("latest = %+v", latest)
	}
	if ok, err := st.HasRecordOn(ctx, "u1", "2026-01-04"); err != nil || ok {
		t.Fatalf("HasRecordOn = %v, %v", ok, err)
	}
	if ok, _ := st.HasRecordOn(ctx, "u1", "2026-01-01"); !ok {
		t.Fatal("expected record")
	}
}

func TestInsightUpsert(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()

	if _, err := st.GetInsight(ctx, "u1", "weekly", "2026-01-01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	e := InsightEntry{UserID: "u1", PeriodType: "weekly", DayKey: "2026-01-01", GoalValue: 480, Score: 70, Insight: "a"}
	if err := st.UpsertInsight(ctx, e); err != nil {
		t.Fatalf("UpsertInsight: %v", err)
	}
	e.Score = 80
	if err := st.UpsertInsight(ctx, e); err != nil {
		t.Fatalf("UpsertInsight: %v", err)
	}
	got, err := st.GetInsight(ctx, "u1", "weekly", "2026-01-01")
	if err != nil || got.Score != 80 {
		t.Fatalf("insight = %+v, %v", got, err)
	}
}

func TestUsers(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	for _, u := range []User{{ID: "b", Name: "Bo"}, {ID: "a", Name: "Al"}} {
		if err := st.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
	}
	if err := st.UpsertUser(ctx, User{ID: "a", Name: "Alice"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	users, _ := st.ListUsers(ctx)
	if len(users) != 2 || users[0].Name != "Alice" {
		t.Fatalf("users = %+v", users)
	}
	if err := st.DeleteUser(ctx, "a"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := st.GetUser(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
