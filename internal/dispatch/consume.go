package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/wsgraph/internal/bus"
)

// Consume handles messages from sub until ctx is done or sub is closed.
// Every message is committed after it has been handled, whether or not
// handling succeeded; a crash before the commit leaves it for redelivery.
//
// A fetch or commit failure ends the loop with that error so a supervisor
// can restart the worker.
func (d *Dispatcher) Consume(ctx context.Context, sub bus.Subscriber) error {
	for {
		msg, err := sub.Fetch(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch event: %w", err)
		}

		res, herr := d.HandleMessage(ctx, msg.Value)
		if herr != nil {
			d.logger.Debug("event not applied",
				"message", msg.String(),
				"event", describe(eventOf(res)),
				"error", herr,
			)
		}

		// Interrupted handling is left uncommitted for redelivery.
		if ctx.Err() != nil {
			return nil
		}
		if err := sub.Commit(ctx, msg); err != nil {
			return fmt.Errorf("commit %s: %w", msg, err)
		}
	}
}

func eventOf(res Result) bus.Event {
	return bus.Event{Type: res.Type, WorkspaceID: res.WorkspaceID, ObjectID: res.ObjectID}
}
