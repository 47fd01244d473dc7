package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/EdwinCycling/MaaltijdPlus/internal/access"
	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
)

var (
	desktopSig    = EnvSignals{DisplayMode: "browser", Device: "desktop", Browser: "chrome"}
	standaloneSig = EnvSignals{DisplayMode: "standalone", Device: "mobile", Browser: "safari"}
)

type fakeProvider struct {
	mu       sync.Mutex
	starts   int
	finishes int
	sent     []string
	signOuts []string

	startErr  error
	finishErr error
	ident     *maaltijd.Identity
}

func (p *fakeProvider) StartInteractive(ctx context.Context, continueURL string) (*InteractiveStart, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return nil, p.startErr
	}
	p.starts++
	return &InteractiveStart{
		AuthURL:   fmt.Sprintf("https://id.example/auth/%d", p.starts),
		SessionID: fmt.Sprintf("sess-%d", p.starts),
	}, nil
}

func (p *fakeProvider) FinishInteractive(ctx context.Context, sessionID, requestURI string) (*maaltijd.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finishErr != nil {
		return nil, p.finishErr
	}
	p.finishes++
	return p.ident, nil
}

func (p *fakeProvider) SendSignInLink(ctx context.Context, email, continueURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, email)
	return nil
}

func (p *fakeProvider) FinishSignInLink(ctx context.Context, email, oobCode string) (*maaltijd.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finishErr != nil {
		return nil, p.finishErr
	}
	return &maaltijd.Identity{UID: "uid-" + email, Email: email}, nil
}

func (p *fakeProvider) SignOut(ctx context.Context, uid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts = append(p.signOuts, uid)
	return nil
}

type fakeList struct {
	emails map[string]bool
	err    error
}

func (f *fakeList) QueryEmail(ctx context.Context, email string) (*maaltijd.WhitelistEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.emails[email] {
		return &maaltijd.WhitelistEntry{Email: email}, nil
	}
	return nil, maaltijd.ErrNotFound
}

func (f *fakeList) GetEmailDoc(ctx context.Context, email string) (*maaltijd.WhitelistEntry, error) {
	return f.QueryEmail(ctx, email)
}

func (f *fakeList) StoreEntry(ctx context.Context, e *maaltijd.WhitelistEntry) error {
	f.emails[e.Email] = true
	return nil
}

type fakeRevoker struct {
	mu   sync.Mutex
	uids []string
}

func (r *fakeRevoker) Revoke(ctx context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uids = append(r.uids, uid)
	return nil
}

func (r *fakeRevoker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.uids)
}

func quietLogger() *log.Logger {
	lgr := log.New()
	lgr.SetOutput(io.Discard)
	return lgr
}

func newTestOrchestrator(p Provider, list *fakeList, timeout time.Duration) (*Orchestrator, *fakeRevoker) {

	rev := &fakeRevoker{}
	gate := access.New(
		access.NewCache(30*24*time.Hour),
		nil,
		access.RepoStrategies("whitelist", list),
		rev,
		access.NewLog(16, nil),
		quietLogger(),
	)

	o := NewOrchestrator(p, gate, DefaultPolicy(), timeout, "https://maaltijdplus.app/auth/callback", quietLogger())
	return o, rev
}

func listWith(emails ...string) *fakeList {
	m := make(map[string]bool)
	for _, e := range emails {
		m[e] = true
	}
	return &fakeList{emails: m}
}

func TestBeginPicksMethodFromPolicy(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{}
	o, _ := newTestOrchestrator(p, listWith(), time.Minute)

	popup, err := o.Begin(ctx, desktopSig)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if popup.Method != MethodPopup || popup.State != StateAwaitingInteractive {
		t.Errorf("desktop flow: got %s/%s, expected popup awaiting-interactive", popup.Method, popup.State)
	}
	if popup.AuthURL == "" {
		t.Error("popup flow has no auth url")
	}
	if o.markers.Has(popup.ID) {
		t.Error("popup flow must not set the redirect marker")
	}

	redir, err := o.Begin(ctx, standaloneSig)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if redir.Method != MethodRedirect || redir.State != StateAwaitingRedirect {
		t.Errorf("standalone flow: got %s/%s, expected redirect awaiting-redirect-result", redir.Method, redir.State)
	}
	if !o.markers.Has(redir.ID) {
		t.Error("redirect flow did not set the pending marker")
	}
}

func TestBenignPopupErrorFallsBackToRedirect(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{}
	o, _ := newTestOrchestrator(p, listWith(), time.Minute)

	f, _ := o.Begin(ctx, desktopSig)
	firstURL := f.AuthURL

	for _, code := range []string{CodePopupBlocked, CodePopupClosed, CodeCancelledPopup} {
		t.Run(code, func(t *testing.T) {

			f, _ := o.Begin(ctx, desktopSig)

			after, err := o.ReportInteractiveError(ctx, f.ID, code)
			if err != nil {
				t.Fatalf("report: %v", err)
			}
			if after.Method != MethodRedirect || after.State != StateAwaitingRedirect {
				t.Errorf("got %s/%s, expected redirect awaiting-redirect-result", after.Method, after.State)
			}
			if after.Reason != "" {
				t.Errorf("benign failure surfaced a reason: %q", after.Reason)
			}
			if after.AuthURL == "" || after.AuthURL == firstURL {
				t.Error("fallback did not get a fresh auth url")
			}
			if !o.markers.Has(f.ID) {
				t.Error("fallback did not set the pending marker")
			}
		})
	}
}

func TestNonBenignPopupErrorDeniesFlow(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{}
	o, _ := newTestOrchestrator(p, listWith(), time.Minute)

	f, _ := o.Begin(ctx, desktopSig)
	startsBefore := p.starts

	after, err := o.ReportInteractiveError(ctx, f.ID, "network-request-failed")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if after.State != StateDenied {
		t.Errorf("got state %s, expected denied", after.State)
	}
	if !strings.Contains(after.Reason, "network-request-failed") {
		t.Errorf("reason %q does not carry the code", after.Reason)
	}
	if p.starts != startsBefore {
		t.Error("non-benign failure must not restart the provider flow")
	}

	if _, err := o.ReportInteractiveError(ctx, "no-such-flow", CodePopupBlocked); !errors.Is(err, ErrUnknownFlow) {
		t.Errorf("got %v, expected ErrUnknownFlow", err)
	}
}

func TestFinishRedirectAuthorized(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{ident: &maaltijd.Identity{UID: "u1", Email: "anna@example.com", DisplayName: "Anna"}}
	o, rev := newTestOrchestrator(p, listWith("anna@example.com"), time.Minute)

	f, _ := o.Begin(ctx, standaloneSig)

	done, err := o.FinishRedirect(ctx, f.ID, "https://maaltijdplus.app/auth/callback?flow="+f.ID+"&code=abc")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.State != StateAuthorized {
		t.Fatalf("got state %s (%s), expected authorized", done.State, done.Reason)
	}
	if done.Identity == nil || done.Identity.UID != "u1" {
		t.Error("authorized flow carries no identity")
	}
	if o.markers.Has(f.ID) {
		t.Error("pending marker survived completion")
	}
	if rev.count() != 0 {
		t.Errorf("revoker fired %d times on a grant", rev.count())
	}

	// a duplicate callback settles on the recorded outcome
	again, err := o.FinishRedirect(ctx, f.ID, "https://maaltijdplus.app/auth/callback?flow="+f.ID+"&code=abc")
	if err != nil {
		t.Fatalf("finish again: %v", err)
	}
	if again.State != StateAuthorized || p.finishes != 1 {
		t.Errorf("duplicate callback: state %s, %d provider finishes, expected authorized and 1", again.State, p.finishes)
	}
}

func TestFinishRedirectDeniedRevokes(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{ident: &maaltijd.Identity{UID: "u2", Email: "stranger@example.com"}}
	o, rev := newTestOrchestrator(p, listWith("anna@example.com"), time.Minute)

	f, _ := o.Begin(ctx, standaloneSig)

	done, err := o.FinishRedirect(ctx, f.ID, "https://maaltijdplus.app/auth/callback?flow="+f.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.State != StateDenied || done.Reason != access.ReasonNotListed {
		t.Errorf("got %s/%q, expected denied/%q", done.State, done.Reason, access.ReasonNotListed)
	}
	if rev.count() != 1 || rev.uids[0] != "u2" {
		t.Errorf("revoker calls %v, expected exactly [u2]", rev.uids)
	}
}

func TestFinishRedirectVerifyFailure(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{finishErr: errors.New("invalid assertion")}
	o, _ := newTestOrchestrator(p, listWith(), time.Minute)

	f, _ := o.Begin(ctx, standaloneSig)

	done, err := o.FinishRedirect(ctx, f.ID, "https://maaltijdplus.app/auth/callback?flow="+f.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if done.State != StateDenied || done.Reason != "could not verify the sign-in" {
		t.Errorf("got %s/%q", done.State, done.Reason)
	}
}

func TestAwaitRedirectResult(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{ident: &maaltijd.Identity{UID: "u3", Email: "anna@example.com"}}
	o, _ := newTestOrchestrator(p, listWith("anna@example.com"), time.Minute)

	f, _ := o.Begin(ctx, standaloneSig)

	go func() {
		time.Sleep(20 * time.Millisecond)
		o.FinishRedirect(ctx, f.ID, "https://maaltijdplus.app/auth/callback?flow="+f.ID)
	}()

	done, err := o.AwaitRedirectResult(ctx, f.ID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if done.State != StateAuthorized {
		t.Errorf("got state %s (%s), expected authorized", done.State, done.Reason)
	}
}

func TestAwaitRedirectResultTimeout(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{}
	o, _ := newTestOrchestrator(p, listWith(), 50*time.Millisecond)

	f, _ := o.Begin(ctx, standaloneSig)

	done, err := o.AwaitRedirectResult(ctx, f.ID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if done.State != StateDenied || done.Reason != "no sign-in result arrived in time" {
		t.Errorf("got %s/%q, expected the timeout denial", done.State, done.Reason)
	}
	if o.markers.Has(f.ID) {
		t.Error("pending marker survived the timeout")
	}
}

func TestAwaitRedirectResultNoPending(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{}
	o, _ := newTestOrchestrator(p, listWith(), time.Minute)

	if _, err := o.AwaitRedirectResult(ctx, "no-such-flow"); !errors.Is(err, ErrUnknownFlow) {
		t.Errorf("unknown flow: got %v, expected ErrUnknownFlow", err)
	}

	popup, _ := o.Begin(ctx, desktopSig)
	if _, err := o.AwaitRedirectResult(ctx, popup.ID); !errors.Is(err, ErrNoPendingRedirect) {
		t.Errorf("popup flow: got %v, expected ErrNoPendingRedirect", err)
	}
}

func TestBeginEmailLink(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{}
	o, _ := newTestOrchestrator(p, listWith("anna@example.com"), time.Minute)

	f, err := o.BeginEmailLink(ctx, " Anna@Example.com ", desktopSig)
	if err != nil {
		t.Fatalf("begin link: %v", err)
	}
	if f.State != StateAwaitingInteractive || f.Method != MethodMagicLink {
		t.Errorf("got %s/%s", f.State, f.Method)
	}
	if len(p.sent) != 1 || p.sent[0] != "anna@example.com" {
		t.Errorf("links sent: %v, expected the normalized address once", p.sent)
	}
}

func TestBeginEmailLinkRefusesStrangers(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{}
	o, _ := newTestOrchestrator(p, listWith("anna@example.com"), time.Minute)

	f, err := o.BeginEmailLink(ctx, "stranger@example.com", desktopSig)
	if err != nil {
		t.Fatalf("begin link: %v", err)
	}
	if f.State != StateDenied || f.Reason != access.ReasonNotListed {
		t.Errorf("got %s/%q", f.State, f.Reason)
	}
	if len(p.sent) != 0 {
		t.Errorf("a link was sent to a refused address: %v", p.sent)
	}

	if _, err := o.BeginEmailLink(ctx, "  ", desktopSig); !errors.Is(err, ErrEmailRequired) {
		t.Errorf("empty address: got %v, expected ErrEmailRequired", err)
	}
}

func TestBeginEmailLinkFailsClosedOnLookupError(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{}
	list := listWith("anna@example.com")
	list.err = errors.New("deadline exceeded")
	o, _ := newTestOrchestrator(p, list, time.Minute)

	f, err := o.BeginEmailLink(ctx, "anna@example.com", desktopSig)
	if err != nil {
		t.Fatalf("begin link: %v", err)
	}
	if f.State != StateDenied || f.Reason != access.ReasonLookupFailed {
		t.Errorf("got %s/%q, expected the fail-closed denial", f.State, f.Reason)
	}
	if len(p.sent) != 0 {
		t.Error("a link was sent despite the failed lookup")
	}
}

func TestFinishEmailLinkSameDevice(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{}
	o, _ := newTestOrchestrator(p, listWith("anna@example.com"), time.Minute)

	f, _ := o.BeginEmailLink(ctx, "anna@example.com", desktopSig)

	done, err := o.FinishEmailLink(ctx, f.ID, "", "oob-123", desktopSig)
	if err != nil {
		t.Fatalf("finish link: %v", err)
	}
	if done.State != StateAuthorized {
		t.Errorf("got state %s (%s), expected authorized", done.State, done.Reason)
	}
	if done.Identity == nil || done.Identity.Email != "anna@example.com" {
		t.Error("link flow lost the identity")
	}
}

func TestFinishEmailLinkCrossDevice(t *testing.T) {

	ctx := context.Background()
	p := &fakeProvider{}
	o, _ := newTestOrchestrator(p, listWith("anna@example.com"), time.Minute)

	// without a local flow the address must be supplied again
	if _, err := o.FinishEmailLink(ctx, "", "", "oob-123", desktopSig); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("got %v, expected ErrEmailRequired", err)
	}

	done, err := o.FinishEmailLink(ctx, "", "anna@example.com", "oob-123", desktopSig)
	if err != nil {
		t.Fatalf("finish link: %v", err)
	}
	if done.State != StateAuthorized {
		t.Errorf("got state %s (%s), expected authorized", done.State, done.Reason)
	}
}
