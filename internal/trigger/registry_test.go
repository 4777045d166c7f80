package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sleepd/internal/delivery"
	"sleepd/internal/storage"
	"sleepd/pkg/clock"
	logx "sleepd/pkg/logx"
)

type fakeStore struct {
	mu       sync.Mutex
	triggers []storage.Trigger
	touched  map[string]int
}

func (s *fakeStore) ListEnabledTriggers(context.Context) ([]storage.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Trigger(nil), s.triggers...), nil
}

func (s *fakeStore) TouchTrigger(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touched == nil {
		s.touched = map[string]int{}
	}
	s.touched[id]++
	return nil
}

func (s *fakeStore) touches(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched[id]
}

type fired struct {
	id  string
	err error
}

// 2026-01-12 21:00 UTC, one hour before the test triggers fire.
var t0 = time.Date(2026, 1, 12, 21, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, store Store, action Action) (*Registry, *clock.FakeClock, chan fired) {
	t.Helper()
	clk := clock.Fake(t0)
	ch := make(chan fired, 16)
	r := New(store, action, logx.Nop(), Options{
		Clock:    clk,
		Location: time.UTC,
		OnFired:  func(id string, err error) { ch <- fired{id: id, err: err} },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r, clk, ch
}

func waitFired(t *testing.T, ch <-chan fired) fired {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for firing")
		return fired{}
	}
}

func bedtimeTrigger(id string) storage.Trigger {
	return storage.Trigger{ID: id, UserID: "u1", Name: "lights out", Kind: storage.TriggerFixed, Hour: 22, Enabled: true}
}

func TestRecoverSkipsDisabled(t *testing.T) {
	t.Parallel()
	off := bedtimeTrigger("off")
	off.Enabled = false
	bad := bedtimeTrigger("bad")
	bad.Kind = storage.TriggerCustom
	bad.Expr = "whenever"
	store := &fakeStore{triggers: []storage.Trigger{bedtimeTrigger("on"), off, bad}}
	r, _, _ := newTestRegistry(t, store, nil)

	n, err := r.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 || r.Len() != 1 {
		t.Fatalf("registered %d, Len %d, want 1", n, r.Len())
	}
	if !r.Has("on") || r.Has("off") || r.Has("bad") {
		t.Fatalf("unexpected runners: %+v", r.Snapshot())
	}
}

func TestRegisterThenUnregister(t *testing.T) {
	t.Parallel()
	r, clk, ch := newTestRegistry(t, &fakeStore{}, nil)
	if err := r.Register(context.Background(), bedtimeTrigger("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	clk.WaitForTimers(1)
	r.Unregister("a")
	r.Unregister("missing")
	if r.Has("a") || r.Len() != 0 {
		t.Fatalf("runner survived unregister")
	}
	if n := clk.PendingCount(); n != 0 {
		t.Fatalf("pending timers = %d, want 0", n)
	}
	clk.Advance(48 * time.Hour)
	select {
	case f := <-ch:
		t.Fatalf("unexpected firing %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterTwiceFiresOnce(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	var calls atomic.Int32
	r, clk, ch := newTestRegistry(t, store, func(context.Context, storage.Trigger) error {
		calls.Add(1)
		return nil
	})
	tr := bedtimeTrigger("a")
	if err := r.Register(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	clk.WaitForTimers(1)
	tr.Name = "renamed"
	if err := r.Register(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	clk.WaitForTimers(1)
	if n := clk.PendingCount(); n != 1 {
		t.Fatalf("pending timers = %d, want 1", n)
	}

	clk.Set(time.Date(2026, 1, 12, 22, 0, 0, 0, time.UTC))
	if f := waitFired(t, ch); f.id != "a" || f.err != nil {
		t.Fatalf("fired = %+v", f)
	}
	// The runner re-arms for tomorrow once the firing is done.
	clk.WaitForTimers(1)
	if got := calls.Load(); got != 1 {
		t.Fatalf("action calls = %d, want 1", got)
	}
	if got := store.touches("a"); got != 1 {
		t.Fatalf("touches = %d, want 1", got)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Firings != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if want := time.Date(2026, 1, 13, 22, 0, 0, 0, time.UTC); !snap[0].Next.Equal(want) {
		t.Fatalf("next = %v, want %v", snap[0].Next, want)
	}
}

func TestReplaceSurvivesCallerDeadline(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32
	r, clk, ch := newTestRegistry(t, &fakeStore{}, func(context.Context, storage.Trigger) error {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
		return nil
	})
	if err := r.Register(context.Background(), bedtimeTrigger("a")); err != nil {
		t.Fatal(err)
	}
	clk.WaitForTimers(1)
	clk.Set(time.Date(2026, 1, 12, 22, 0, 0, 0, time.UTC))
	<-started

	// Replace while the first firing is still running, with a deadline
	// that expires before the firing finishes.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- r.Register(ctx, bedtimeTrigger("a")) }()
	<-ctx.Done()
	close(release)

	if err := <-errCh; err != nil {
		t.Fatalf("Register = %v", err)
	}
	waitFired(t, ch)
	if !r.Has("a") || r.Len() != 1 {
		t.Fatalf("has=%v len=%d after replace", r.Has("a"), r.Len())
	}

	clk.WaitForTimers(1)
	clk.Set(time.Date(2026, 1, 13, 22, 0, 0, 0, time.UTC))
	if f := waitFired(t, ch); f.id != "a" || f.err != nil {
		t.Fatalf("fired = %+v", f)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("action calls = %d, want 2", got)
	}
}

func TestFiringFailureKeepsRunner(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	r, clk, ch := newTestRegistry(t, &fakeStore{}, func(context.Context, storage.Trigger) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return errors.New("still broken")
	})
	if err := r.Register(context.Background(), bedtimeTrigger("a")); err != nil {
		t.Fatal(err)
	}
	for day := 0; day < 2; day++ {
		clk.WaitForTimers(1)
		clk.Set(time.Date(2026, 1, 12+day, 22, 0, 0, 0, time.UTC))
		if f := waitFired(t, ch); f.err == nil {
			t.Fatalf("day %d: expected firing error", day)
		}
	}
	if !r.Has("a") || calls.Load() != 2 {
		t.Fatalf("has=%v calls=%d", r.Has("a"), calls.Load())
	}
}

func TestRegisterRejectsInvalidRule(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, &fakeStore{}, nil)
	tr := bedtimeTrigger("a")
	tr.Kind = storage.TriggerCustom
	tr.Expr = "sometimes"
	if err := r.Register(context.Background(), tr); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("err = %v, want ErrInvalidRule", err)
	}
	if err := r.Register(context.Background(), storage.Trigger{}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("empty id err = %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d", r.Len())
	}
}

func TestRegisterJob(t *testing.T) {
	t.Parallel()
	r, clk, ch := newTestRegistry(t, &fakeStore{}, nil)
	var runs atomic.Int32
	if err := r.RegisterJob("sweep.test", Daily(21, 30), func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	clk.WaitForTimers(1)
	clk.Advance(30 * time.Minute)
	if f := waitFired(t, ch); f.id != "sweep.test" {
		t.Fatalf("fired = %+v", f)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d", runs.Load())
	}
	if snap := r.Snapshot(); len(snap) != 1 || !snap[0].Job {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStopRejectsRegister(t *testing.T) {
	t.Parallel()
	r, clk, _ := newTestRegistry(t, &fakeStore{}, nil)
	if err := r.Register(context.Background(), bedtimeTrigger("a")); err != nil {
		t.Fatal(err)
	}
	clk.WaitForTimers(1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Register(ctx, bedtimeTrigger("b")); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if clk.PendingCount() != 0 {
		t.Fatalf("runner timer still armed")
	}
}

func TestHooks(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, &fakeStore{}, nil)
	h := NewHooks(r)
	ctx := context.Background()
	tr := bedtimeTrigger("a")

	if err := h.OnScheduleCreated(ctx, tr); err != nil || !r.Has("a") {
		t.Fatalf("created: err=%v has=%v", err, r.Has("a"))
	}
	tr.Enabled = false
	if err := h.OnScheduleToggled(ctx, tr); err != nil || r.Has("a") {
		t.Fatalf("toggled off: err=%v has=%v", err, r.Has("a"))
	}
	tr.Enabled = true
	if err := h.OnScheduleUpdated(ctx, tr); err != nil || !r.Has("a") {
		t.Fatalf("updated: err=%v has=%v", err, r.Has("a"))
	}
	h.OnScheduleDeleted(ctx, "a")
	if r.Has("a") {
		t.Fatal("deleted schedule still registered")
	}
}

type recordDeliverer struct {
	mu     sync.Mutex
	users  []string
	frames []delivery.Payload
	events []string
}

func (d *recordDeliverer) Deliver(userID string, p delivery.Payload, event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, userID)
	d.frames = append(d.frames, p)
	d.events = append(d.events, event)
	return 0
}

func TestBedtimeAction(t *testing.T) {
	t.Parallel()
	d := &recordDeliverer{}
	clk := clock.Fake(t0)
	act := Actions(map[string]Action{storage.ActionBedtime: BedtimeAction(d, clk)})

	if err := act(context.Background(), bedtimeTrigger("a")); err != nil {
		t.Fatalf("bedtime: %v", err)
	}
	if len(d.frames) != 1 || d.users[0] != "u1" || d.events[0] != delivery.EventSchedule {
		t.Fatalf("delivered %+v to %v via %v", d.frames, d.users, d.events)
	}
	p := d.frames[0]
	if p.Kind != BedtimeKind || p.Title != BedtimeTitle || p.Message != "It's time for bed! lights out" || !p.Timestamp.Equal(t0) {
		t.Fatalf("payload = %+v", p)
	}

	tr := bedtimeTrigger("b")
	tr.Action = "alarm"
	if err := act(context.Background(), tr); err == nil {
		t.Fatal("expected unknown action error")
	}
}
