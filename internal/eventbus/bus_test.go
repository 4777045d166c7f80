package eventbus

import "testing"

func TestPublishFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	sweeps, unsubSweeps := b.Subscribe(4, "sweep.")
	defer unsubSweeps()

	b.Publish(Event{Type: TriggerFired, Data: TriggerEvent{ID: "t1"}})
	b.Publish(Event{Type: SweepFinished, Data: SweepEvent{Name: "missing_log"}})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(sweeps); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-sweeps
	if e.Type != SweepFinished || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: DeliveryPushed})
	}
	if len(ch) != 1 {
		t.Fatalf("len = %d, want 1 (excess dropped)", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: DeliveryPushed})
}
