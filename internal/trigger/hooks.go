package trigger

import (
	"context"

	"sleepd/internal/storage"
)

// Hooks adapts schedule CRUD to the registry. Callers invoke them after
// the store write succeeded.
type Hooks struct {
	r *Registry
}

func NewHooks(r *Registry) Hooks { return Hooks{r: r} }

func (h Hooks) OnScheduleCreated(ctx context.Context, tr storage.Trigger) error {
	return h.sync(ctx, tr)
}

func (h Hooks) OnScheduleUpdated(ctx context.Context, tr storage.Trigger) error {
	return h.sync(ctx, tr)
}

func (h Hooks) OnScheduleToggled(ctx context.Context, tr storage.Trigger) error {
	return h.sync(ctx, tr)
}

func (h Hooks) OnScheduleDeleted(_ context.Context, id string) {
	if h.r != nil {
		h.r.Unregister(id)
	}
}

func (h Hooks) sync(ctx context.Context, tr storage.Trigger) error {
	if h.r == nil {
		return nil
	}
	if !tr.Enabled {
		h.r.Unregister(tr.ID)
		return nil
	}
	return h.r.Register(ctx, tr)
}
