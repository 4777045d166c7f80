package trigger

import (
	"context"
	"fmt"
	"strings"

	"sleepd/internal/delivery"
	"sleepd/internal/storage"
	"sleepd/pkg/clock"
)

const (
	BedtimeKind  = "bedtime"
	BedtimeTitle = "Bedtime Reminder"
)

// BedtimeMessage is the reminder text for a trigger.
func BedtimeMessage(tr storage.Trigger) string {
	return strings.TrimSpace("It's time for bed! " + tr.Name)
}

// BedtimeAction pushes the bedtime reminder. Nothing is persisted; a user
// without live connections simply misses it.
func BedtimeAction(d delivery.Deliverer, clk clock.Clock) Action {
	if clk == nil {
		clk = clock.Real()
	}
	return func(ctx context.Context, tr storage.Trigger) error {
		if d == nil {
			return nil
		}
		d.Deliver(tr.UserID, delivery.Payload{
			Kind:      BedtimeKind,
			Title:     BedtimeTitle,
			Message:   BedtimeMessage(tr),
			Timestamp: clk.Now(),
		}, delivery.EventSchedule)
		return nil
	}
}

// Actions dispatches on Trigger.Action. Unknown actions fail the firing.
func Actions(byName map[string]Action) Action {
	return func(ctx context.Context, tr storage.Trigger) error {
		name := tr.Action
		if name == "" {
			name = storage.ActionBedtime
		}
		fn := byName[name]
		if fn == nil {
			return fmt.Errorf("unknown trigger action %q", name)
		}
		return fn(ctx, tr)
	}
}
