package history

import (
	"context"

	"github.com/rathix/dynamic-proxy/internal/routes"
)

// EventSource is the route table's event feed.
type EventSource interface {
	Subscribe() <-chan routes.Event
	Unsubscribe(<-chan routes.Event)
}

// Follow records every install and retarget published by source until ctx
// is cancelled or the feed closes.
func Follow(ctx context.Context, source EventSource, w Writer) {
	events := source.Subscribe()
	defer source.Unsubscribe(events)

	prev := ""
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			next := evt.ActiveTarget()
			kind := KindRetarget
			if evt.Type == routes.EventInstalled {
				kind = KindInstall
			}
			_ = w.Record(Record{Kind: kind, Target: next, Prev: prev, Next: next})
			prev = next
		}
	}
}
