// Package trigger runs per-user recurring reminders. Each registered
// trigger owns one runner goroutine that sleeps on the injected clock
// until its rule's next instant.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"sleepd/internal/eventbus"
	rtsup "sleepd/internal/runtime/supervisor"
	"sleepd/internal/storage"
	"sleepd/pkg/clock"
	logx "sleepd/pkg/logx"
)

var ErrStopped = errors.New("trigger registry stopped")

const DefaultFiringTimeout = 30 * time.Second

// Store is the schedule persistence the registry reads and stamps.
type Store interface {
	ListEnabledTriggers(ctx context.Context) ([]storage.Trigger, error)
	TouchTrigger(ctx context.Context, id string, at time.Time) error
}

// Action runs when a user trigger fires.
type Action func(ctx context.Context, tr storage.Trigger) error

type Options struct {
	Clock         clock.Clock
	Location      *time.Location
	Bus           eventbus.Bus
	FiringTimeout time.Duration
	// OnFired is called after every firing, including failed ones.
	OnFired func(id string, err error)
}

type Registry struct {
	store  Store
	action Action
	log    logx.Logger
	opts   Options
	sup    *rtsup.Supervisor

	// opMu serializes register/unregister so a replacement never starts
	// before the previous runner for the id has exited.
	opMu    sync.Mutex
	mu      sync.Mutex
	runners map[string]*runner
	stopped bool
}

type runner struct {
	id     string
	userID string
	spec   string
	job    bool
	sched  cron.Schedule
	fn     func(ctx context.Context) error

	cancel  context.CancelFunc
	done    chan struct{}
	firings atomic.Uint64
	next    atomic.Int64 // unix millis
}

func New(store Store, action Action, log logx.Logger, opts Options) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if opts.FiringTimeout <= 0 {
		opts.FiringTimeout = DefaultFiringTimeout
	}
	return &Registry{
		store:   store,
		action:  action,
		log:     log,
		opts:    opts,
		sup:     rtsup.New(context.Background(), rtsup.WithLogger(log), rtsup.WithCancelOnError(false)),
		runners: map[string]*runner{},
	}
}

// Register starts a runner for tr, replacing any runner with the same id.
// An unparsable rule returns ErrInvalidRule and leaves the registry as it
// was. A replacement always completes, even if the caller's context ends
// while the old runner is still firing.
func (r *Registry) Register(_ context.Context, tr storage.Trigger) error {
	if strings.TrimSpace(tr.ID) == "" {
		return fmt.Errorf("%w: trigger id required", ErrInvalidRule)
	}
	rule := RuleFromTrigger(tr)
	sched, err := rule.Schedule(r.opts.Location)
	if err != nil {
		return err
	}
	snapshot := tr
	rn := &runner{
		id:     tr.ID,
		userID: tr.UserID,
		spec:   rule.Spec(),
		sched:  sched,
		fn: func(fctx context.Context) error {
			if err := r.store.TouchTrigger(fctx, snapshot.ID, r.opts.Clock.Now()); err != nil {
				r.log.Warn("touch trigger failed", logx.TriggerID(snapshot.ID), logx.Err(err))
			}
			if r.action == nil {
				return nil
			}
			return r.action(fctx, snapshot)
		},
	}
	return r.install(rn)
}

// RegisterJob schedules an internal job that is not backed by a stored
// trigger.
func (r *Registry) RegisterJob(id string, rule Rule, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(id) == "" || fn == nil {
		return fmt.Errorf("%w: job id and func required", ErrInvalidRule)
	}
	sched, err := rule.Schedule(r.opts.Location)
	if err != nil {
		return err
	}
	return r.install(&runner{id: id, spec: rule.Spec(), job: true, sched: sched, fn: fn})
}

func (r *Registry) install(rn *runner) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	old := r.runners[rn.id]
	delete(r.runners, rn.id)
	r.mu.Unlock()

	if old != nil {
		// The caller's deadline must not abort the swap halfway: the old
		// runner is already out of the table. Its in-flight firing is
		// bounded by FiringTimeout.
		r.halt(old)
	}

	rctx, cancel := context.WithCancel(r.sup.Context())
	rn.cancel = cancel
	rn.done = make(chan struct{})

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		cancel()
		return ErrStopped
	}
	r.runners[rn.id] = rn
	r.mu.Unlock()

	name := "trigger.runner"
	if rn.job {
		name = "trigger.job"
	}
	r.sup.Go0(name, func(context.Context) { r.loop(rctx, rn) })

	r.log.Info("trigger registered", logx.TriggerID(rn.id), logx.UserID(rn.userID), logx.String("rule", rn.spec))
	r.opts.Bus.Publish(eventbus.Event{Type: eventbus.TriggerRegistered, Data: eventbus.TriggerEvent{ID: rn.id, UserID: rn.userID}})
	return nil
}

// halt cancels rn and waits for its loop to exit. An in-flight firing
// runs to completion first.
func (r *Registry) halt(rn *runner) {
	rn.cancel()
	<-rn.done
	r.log.Info("trigger unregistered", logx.TriggerID(rn.id), logx.UserID(rn.userID))
	r.opts.Bus.Publish(eventbus.Event{Type: eventbus.TriggerUnregistered, Data: eventbus.TriggerEvent{ID: rn.id, UserID: rn.userID}})
}

// Unregister stops and removes the runner for id. Unknown ids are a
// no-op.
func (r *Registry) Unregister(id string) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	rn := r.runners[id]
	delete(r.runners, id)
	r.mu.Unlock()
	if rn != nil {
		r.halt(rn)
	}
}

// Recover registers every enabled stored trigger. Per-trigger failures
// are logged and skipped.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	list, err := r.store.ListEnabledTriggers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load triggers: %w", err)
	}
	n := 0
	for _, tr := range list {
		if !tr.Enabled {
			continue
		}
		if err := r.Register(ctx, tr); err != nil {
			r.log.Warn("recover trigger failed", logx.TriggerID(tr.ID), logx.UserID(tr.UserID), logx.Err(err))
			continue
		}
		n++
	}
	r.log.Info("triggers recovered", logx.Int("registered", n), logx.Int("stored", len(list)))
	return n, nil
}

func (r *Registry) loop(ctx context.Context, rn *runner) {
	defer close(rn.done)
	clk := r.opts.Clock
	for {
		now := clk.Now().In(r.opts.Location)
		next := rn.sched.Next(now)
		if next.IsZero() {
			r.log.Warn("trigger has no next fire time", logx.TriggerID(rn.id))
			return
		}
		rn.next.Store(next.UnixMilli())

		t := clk.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if ctx.Err() != nil {
			return
		}
		r.fire(ctx, rn)
	}
}

func (r *Registry) fire(ctx context.Context, rn *runner) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.FiringTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("trigger panicked", logx.TriggerID(rn.id), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return rn.fn(fctx)
	}()
	rn.firings.Add(1)

	ev := eventbus.TriggerEvent{ID: rn.id, UserID: rn.userID}
	if err != nil {
		ev.Err = err.Error()
		r.log.Warn("trigger firing failed", logx.TriggerID(rn.id), logx.UserID(rn.userID), logx.Err(err))
		r.opts.Bus.Publish(eventbus.Event{Type: eventbus.TriggerFailed, Data: ev})
	} else {
		r.log.Debug("trigger fired", logx.TriggerID(rn.id), logx.UserID(rn.userID))
		r.opts.Bus.Publish(eventbus.Event{Type: eventbus.TriggerFired, Data: ev})
	}
	if r.opts.OnFired != nil {
		r.opts.OnFired(rn.id, err)
	}
}

// Has reports whether a runner exists for id.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runners[id]
	return ok
}

// Len returns the number of live runners, internal jobs included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runners)
}

type RunnerInfo struct {
	ID      string    `json:"id"`
	UserID  string    `json:"userId,omitempty"`
	Rule    string    `json:"rule"`
	Job     bool      `json:"job"`
	Next    time.Time `json:"next"`
	Firings uint64    `json:"firings"`
}

// Snapshot lists the live runners sorted by id.
func (r *Registry) Snapshot() []RunnerInfo {
	r.mu.Lock()
	out := make([]RunnerInfo, 0, len(r.runners))
	for _, rn := range r.runners {
		info := RunnerInfo{ID: rn.id, UserID: rn.userID, Rule: rn.spec, Job: rn.job, Firings: rn.firings.Load()}
		if ms := rn.next.Load(); ms > 0 {
			info.Next = time.UnixMilli(ms).In(r.opts.Location)
		}
		out = append(out, info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop halts every runner and refuses further registrations.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.runners = map[string]*runner{}
	r.mu.Unlock()
	return r.sup.Stop(ctx)
}
