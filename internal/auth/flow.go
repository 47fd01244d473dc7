package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/EdwinCycling/MaaltijdPlus/internal/access"
	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	"github.com/EdwinCycling/MaaltijdPlus/internal/services"
	"github.com/EdwinCycling/MaaltijdPlus/tools/metrics"
)

// State of a sign-in flow.
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingInteractive State = "awaiting-interactive"
	StateAwaitingRedirect    State = "awaiting-redirect-result"
	StateAuthorized          State = "authorized"
	StateDenied              State = "denied"
)

// Flow is one sign-in attempt. Orchestrator methods hand out value
// copies, the live record stays behind the orchestrator mutex.
type Flow struct {
	ID          string
	State       State
	Method      Method
	Persistence services.Persistence
	Email       string
	AuthURL     string
	Reason      string
	Identity    *maaltijd.Identity
	StartedAt   time.Time

	sessionID string
	done      chan struct{}
	completed bool
}

func (f *Flow) terminal() bool {
	return f.State == StateAuthorized || f.State == StateDenied
}

// PendingMarkers remembers which flows left for a full-page redirect,
// so that a returning page can tell "result still under way" apart
// from "nothing was ever pending".
type PendingMarkers struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func NewPendingMarkers() *PendingMarkers {
	return &PendingMarkers{ids: make(map[string]time.Time)}
}

func (pm *PendingMarkers) Set(id string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.ids[id] = time.Now()
}

func (pm *PendingMarkers) Clear(id string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.ids, id)
}

func (pm *PendingMarkers) Has(id string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	_, ok := pm.ids[id]
	return ok
}

const (
	// flows older than these are swept from the table
	staleTerminalAge = 1 * time.Hour
	stalePendingAge  = 4 * time.Hour
	flowSweepLimit   = 128
)

// Orchestrator drives sign-in flows from start to a terminal state
// and runs every completed identity through the access gate.
type Orchestrator struct {
	mu      sync.Mutex
	flows   map[string]*Flow
	markers *PendingMarkers

	provider    Provider
	gate        *access.Gate
	policy      PolicyTable
	timeout     time.Duration
	continueURL string
	flgr        *log.Logger
	now         func() time.Time
}

func NewOrchestrator(provider Provider, gate *access.Gate, policy PolicyTable, timeout time.Duration, continueURL string, flgr *log.Logger) *Orchestrator {

	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Orchestrator{
		flows:       make(map[string]*Flow),
		markers:     NewPendingMarkers(),
		provider:    provider,
		gate:        gate,
		policy:      policy,
		timeout:     timeout,
		continueURL: continueURL,
		flgr:        flgr,
		now:         time.Now,
	}
}

func (o *Orchestrator) callbackURL(flowID string) string {
	return fmt.Sprintf("%s?flow=%s", strings.TrimRight(o.continueURL, "/"), flowID)
}

// Begin starts an interactive flow. The policy table picks popup or
// redirect from the environment signals.
func (o *Orchestrator) Begin(ctx context.Context, sig EnvSignals) (Flow, error) {

	method, persistence := o.policy.Select(sig)
	if method == MethodMagicLink {
		// a magic-link rule still needs the address first, the
		// interactive entry point treats it as redirect
		method = MethodRedirect
	}

	f := &Flow{
		ID:          uuid.NewString(),
		State:       StateIdle,
		Method:      method,
		Persistence: persistence,
		StartedAt:   o.now(),
		done:        make(chan struct{}),
	}

	start, err := o.provider.StartInteractive(ctx, o.callbackURL(f.ID))
	if err != nil {
		return Flow{}, fmt.Errorf("unable to start the sign-in. error: %v", err)
	}
	f.AuthURL = start.AuthURL
	f.sessionID = start.SessionID

	if method == MethodRedirect {
		f.State = StateAwaitingRedirect
		o.markers.Set(f.ID)
	} else {
		f.State = StateAwaitingInteractive
	}

	o.mu.Lock()
	if len(o.flows) > flowSweepLimit {
		o.evictStale()
	}
	o.flows[f.ID] = f
	snap := *f
	o.mu.Unlock()

	metrics.ChSigninStarted <- 1
	o.flgr.Debugf("[flow] %s started, method %s", f.ID, method)

	return snap, nil
}

// ReportInteractiveError records a popup failure the client observed.
// Benign failures silently restart the flow as a redirect, anything
// else ends it as denied.
func (o *Orchestrator) ReportInteractiveError(ctx context.Context, flowID, code string) (Flow, error) {

	o.mu.Lock()
	f, ok := o.flows[flowID]
	if !ok {
		o.mu.Unlock()
		return Flow{}, ErrUnknownFlow
	}
	if f.State != StateAwaitingInteractive {
		snap := *f
		o.mu.Unlock()
		return snap, nil
	}
	o.mu.Unlock()

	if !BenignPopupFailure(code) {
		o.flgr.Warnf("[flow] %s interactive sign-in failed: %s", flowID, code)
		return o.fail(flowID, "sign-in failed: "+code), nil
	}

	// fresh provider session, the aborted popup one is unusable
	start, err := o.provider.StartInteractive(ctx, o.callbackURL(flowID))
	if err != nil {
		return o.fail(flowID, "sign-in provider unavailable"), nil
	}

	o.mu.Lock()
	if f.terminal() {
		// the popup callback won the race after all
		snap := *f
		o.mu.Unlock()
		return snap, nil
	}
	f.Method = MethodRedirect
	f.State = StateAwaitingRedirect
	f.AuthURL = start.AuthURL
	f.sessionID = start.SessionID
	snap := *f
	o.mu.Unlock()

	o.markers.Set(flowID)
	o.flgr.Debugf("[flow] %s fell back to redirect after %s", flowID, code)

	return snap, nil
}

// FinishRedirect handles the provider callback of a popup or redirect
// flow. requestURI is the full callback URI including its query.
func (o *Orchestrator) FinishRedirect(ctx context.Context, flowID, requestURI string) (Flow, error) {

	o.mu.Lock()
	f, ok := o.flows[flowID]
	if !ok {
		o.mu.Unlock()
		return Flow{}, ErrUnknownFlow
	}
	if f.terminal() {
		snap := *f
		o.mu.Unlock()
		return snap, nil
	}
	sessionID := f.sessionID
	o.mu.Unlock()

	ident, err := o.provider.FinishInteractive(ctx, sessionID, requestURI)
	if err != nil {
		o.flgr.Warnf("[flow] %s could not be verified: %v", flowID, err)
		return o.fail(flowID, "could not verify the sign-in"), nil
	}

	return o.complete(ctx, flowID, ident), nil
}

// AwaitRedirectResult blocks until the flow reaches a terminal state
// or the redirect timeout passes, in which case the flow is denied.
// ErrNoPendingRedirect means no result will ever arrive.
func (o *Orchestrator) AwaitRedirectResult(ctx context.Context, flowID string) (Flow, error) {

	o.mu.Lock()
	f, ok := o.flows[flowID]
	if !ok {
		o.mu.Unlock()
		return Flow{}, ErrUnknownFlow
	}
	if f.terminal() {
		snap := *f
		o.mu.Unlock()
		return snap, nil
	}
	if f.State != StateAwaitingRedirect || !o.markers.Has(flowID) {
		snap := *f
		o.mu.Unlock()
		return snap, ErrNoPendingRedirect
	}
	done := f.done
	waited := o.now().Sub(f.StartedAt)
	o.mu.Unlock()

	remaining := o.timeout - waited
	if remaining <= 0 {
		return o.fail(flowID, "no sign-in result arrived in time"), nil
	}

	t := time.NewTimer(remaining)
	defer t.Stop()

	select {
	case <-done:
		return o.snapshot(flowID)
	case <-ctx.Done():
		snap, _ := o.snapshot(flowID)
		return snap, ctx.Err()
	case <-t.C:
		return o.fail(flowID, "no sign-in result arrived in time"), nil
	}
}

// BeginEmailLink requests a sign-in link for the address. The gate is
// consulted first so no email quota is spent on strangers.
func (o *Orchestrator) BeginEmailLink(ctx context.Context, email string, sig EnvSignals) (Flow, error) {

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Flow{}, ErrEmailRequired
	}

	_, persistence := o.policy.Select(sig)

	f := &Flow{
		ID:          uuid.NewString(),
		State:       StateIdle,
		Method:      MethodMagicLink,
		Persistence: persistence,
		Email:       email,
		StartedAt:   o.now(),
		done:        make(chan struct{}),
	}

	allowed, err := o.gate.Preauthorize(ctx, email)
	if err != nil {
		f.State = StateDenied
		f.Reason = access.ReasonLookupFailed
	} else if !allowed {
		f.State = StateDenied
		f.Reason = access.ReasonNotListed
	}

	if f.State == StateDenied {
		close(f.done)
		f.completed = true
		o.mu.Lock()
		o.flows[f.ID] = f
		snap := *f
		o.mu.Unlock()
		o.flgr.Warnf("[flow] sign-in link for %s refused: %s", email, f.Reason)
		return snap, nil
	}

	if err := o.provider.SendSignInLink(ctx, email, o.callbackURL(f.ID)); err != nil {
		return Flow{}, fmt.Errorf("unable to send the sign-in link. error: %v", err)
	}

	f.State = StateAwaitingInteractive

	o.mu.Lock()
	if len(o.flows) > flowSweepLimit {
		o.evictStale()
	}
	o.flows[f.ID] = f
	snap := *f
	o.mu.Unlock()

	metrics.ChSigninStarted <- 1
	o.flgr.Debugf("[flow] %s sign-in link sent to %s", f.ID, email)

	return snap, nil
}

// FinishEmailLink completes a link sign-in. When the flow is unknown,
// like on a device other than the one that requested the link, the
// email must be supplied again or ErrEmailRequired is returned.
func (o *Orchestrator) FinishEmailLink(ctx context.Context, flowID, email, oobCode string, sig EnvSignals) (Flow, error) {

	if oobCode == "" {
		return Flow{}, fmt.Errorf("unable to finish the sign-in without a code")
	}

	email = strings.ToLower(strings.TrimSpace(email))

	o.mu.Lock()
	f := o.flows[flowID]
	if f != nil && f.Email != "" {
		email = f.Email
	}
	o.mu.Unlock()

	if email == "" {
		return Flow{}, ErrEmailRequired
	}

	if f == nil {
		// the link was opened on another device, record a fresh flow
		_, persistence := o.policy.Select(sig)
		f = &Flow{
			ID:          uuid.NewString(),
			State:       StateAwaitingInteractive,
			Method:      MethodMagicLink,
			Persistence: persistence,
			Email:       email,
			StartedAt:   o.now(),
			done:        make(chan struct{}),
		}
		o.mu.Lock()
		o.flows[f.ID] = f
		o.mu.Unlock()
	}

	ident, err := o.provider.FinishSignInLink(ctx, email, oobCode)
	if err != nil {
		o.flgr.Warnf("[flow] %s link sign-in failed: %v", f.ID, err)
		return o.fail(f.ID, "could not verify the sign-in link"), nil
	}

	return o.complete(ctx, f.ID, ident), nil
}

// Flow returns the current snapshot of a flow.
func (o *Orchestrator) Flow(flowID string) (Flow, error) {
	return o.snapshot(flowID)
}

// Len reports how many flows the table currently tracks.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.flows)
}

// complete runs the identity through the gate and settles the flow.
func (o *Orchestrator) complete(ctx context.Context, flowID string, ident *maaltijd.Identity) Flow {

	d := o.gate.Authorize(ctx, ident)

	o.mu.Lock()
	f, ok := o.flows[flowID]
	if !ok {
		o.mu.Unlock()
		return Flow{ID: flowID, State: StateDenied, Reason: "unknown sign-in flow"}
	}
	if d.Granted {
		f.State = StateAuthorized
		f.Identity = ident
		f.Reason = ""
	} else {
		f.State = StateDenied
		f.Reason = d.Reason
	}
	if !f.completed {
		close(f.done)
		f.completed = true
	}
	snap := *f
	o.mu.Unlock()

	o.markers.Clear(flowID)
	return snap
}

// fail settles the flow as denied for reasons outside the gate.
func (o *Orchestrator) fail(flowID, reason string) Flow {

	o.mu.Lock()
	f, ok := o.flows[flowID]
	if !ok {
		o.mu.Unlock()
		return Flow{ID: flowID, State: StateDenied, Reason: reason}
	}
	if !f.terminal() {
		f.State = StateDenied
		f.Reason = reason
	}
	if !f.completed {
		close(f.done)
		f.completed = true
	}
	snap := *f
	o.mu.Unlock()

	o.markers.Clear(flowID)
	return snap
}

func (o *Orchestrator) snapshot(flowID string) (Flow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.flows[flowID]
	if !ok {
		return Flow{}, ErrUnknownFlow
	}
	return *f, nil
}

// evictStale drops old flows. Callers hold the mutex.
func (o *Orchestrator) evictStale() {
	now := o.now()
	for id, f := range o.flows {
		age := now.Sub(f.StartedAt)
		if f.terminal() && age > staleTerminalAge {
			delete(o.flows, id)
			continue
		}
		if !f.terminal() && age > stalePendingAge {
			delete(o.flows, id)
			o.markers.Clear(id)
		}
	}
}
