package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Engine event types. Data is the small payload documented per type.
const (
	TriggerRegistered   = "trigger.registered"   // Data: TriggerEvent
	TriggerUnregistered = "trigger.unregistered" // Data: TriggerEvent
	TriggerFired        = "trigger.fired"        // Data: TriggerEvent
	TriggerFailed       = "trigger.failed"       // Data: TriggerEvent

	SweepStarted  = "sweep.started"  // Data: SweepEvent
	SweepFinished = "sweep.finished" // Data: SweepEvent

	DeliveryPushed    = "delivery.pushed"    // Data: DeliveryEvent
	DeliveryConnected = "delivery.connected" // Data: DeliveryEvent
	DeliveryClosed    = "delivery.closed"    // Data: DeliveryEvent

	InsightCached      = "insight.cached"      // Data: InsightEvent
	InsightRegenerated = "insight.regenerated" // Data: InsightEvent
)

// Event is an in-memory signal used to decouple components.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type TriggerEvent struct {
	ID     string
	UserID string
	Err    string
}

type SweepEvent struct {
	Name     string
	Users    int
	Notified int
	Failed   int
}

type DeliveryEvent struct {
	UserID string
	Event  string
	Conns  int
}

type InsightEvent struct {
	UserID string
	Period string
	DayKey string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

// Nop is a Bus that drops everything.
func Nop() Bus { return nopBus{} }

type subscriber struct {
	ch       chan Event
	prefixes []string
}

func (s *subscriber) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// An unsubscribe racing with this send closes ch; swallow that panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

// Subscribe registers a listener. With prefixes, only events whose Type
// starts with one of them are delivered (e.g. "sweep.").
func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer), prefixes: prefixes}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}
