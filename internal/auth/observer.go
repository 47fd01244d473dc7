package auth

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/EdwinCycling/MaaltijdPlus/internal/access"
	"github.com/EdwinCycling/MaaltijdPlus/internal/services"
)

// Observer holds the single subscription on the session registry and
// re-checks access on every identity-state transition. The gate runs
// exactly once per transition, repeated identical outcomes for the
// same identity are not reported again.
type Observer struct {
	gate   *access.Gate
	events <-chan services.Transition
	cancel func()
	olgr   *log.Logger

	mu       sync.Mutex
	pending  int
	outcomes map[string]string
}

func NewObserver(gate *access.Gate, registry *services.Registry, olgr *log.Logger) *Observer {

	ch, cancel := registry.Subscribe()

	return &Observer{
		gate:     gate,
		events:   ch,
		cancel:   cancel,
		olgr:     olgr,
		outcomes: make(map[string]string),
	}
}

// Run consumes the transition stream until ctx is canceled or the
// registry closes. It releases the subscription on return.
func (o *Observer) Run(ctx context.Context) {

	defer o.cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.events:
			if !ok {
				return
			}
			o.handle(ctx, ev)
		}
	}
}

// Loading reports whether an access check is still in flight, so the
// boundary can tell "unauthorized" apart from "not decided yet".
func (o *Observer) Loading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending > 0
}

func (o *Observer) handle(ctx context.Context, ev services.Transition) {

	o.mu.Lock()
	o.pending++
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.pending--
		o.mu.Unlock()
	}()

	d := o.gate.Authorize(ctx, ev.Identity)

	fp := fmt.Sprintf("%t|%s", d.Granted, d.Reason)

	o.mu.Lock()
	prev, seen := o.outcomes[ev.UID]
	if ev.Kind == services.TransitionLogout {
		delete(o.outcomes, ev.UID)
	} else {
		o.outcomes[ev.UID] = fp
	}
	o.mu.Unlock()

	if seen && prev == fp {
		return
	}

	if d.Granted {
		o.olgr.Printf("[observer] %s authorized on %s (%s)", ev.UID, ev.Kind, d.Source)
	} else if ev.Kind != services.TransitionLogout {
		o.olgr.Warnf("[observer] %s unauthorized on %s: %s", ev.UID, ev.Kind, d.Reason)
	}
}
