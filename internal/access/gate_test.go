package access

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	log "github.com/sirupsen/logrus"
)

type fakeRepo struct {
	queryHits int
	docHits   int
	queryErr  error
	docErr    error
	emails    map[string]bool
	docEmails map[string]bool
}

func (f *fakeRepo) QueryEmail(_ context.Context, email string) (*maaltijd.WhitelistEntry, error) {
	f.queryHits++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.emails[email] {
		return &maaltijd.WhitelistEntry{Email: email}, nil
	}
	return nil, maaltijd.ErrNotFound
}

func (f *fakeRepo) GetEmailDoc(_ context.Context, email string) (*maaltijd.WhitelistEntry, error) {
	f.docHits++
	if f.docErr != nil {
		return nil, f.docErr
	}
	if f.docEmails[email] {
		return &maaltijd.WhitelistEntry{Email: email}, nil
	}
	return nil, maaltijd.ErrNotFound
}

func (f *fakeRepo) StoreEntry(_ context.Context, e *maaltijd.WhitelistEntry) error {
	return nil
}

type fakeRevoker struct {
	calls []string
}

func (f *fakeRevoker) Revoke(_ context.Context, uid string) error {
	f.calls = append(f.calls, uid)
	return nil
}

func quietLogger() *log.Logger {
	lgr := log.New()
	lgr.SetOutput(io.Discard)
	return lgr
}

func newTestGate(repo *fakeRepo, rv *fakeRevoker, allow []string) (*Gate, *Cache) {
	cache := NewCache(30 * 24 * time.Hour)
	gate := New(cache, allow, RepoStrategies("whitelist", repo), rv, NewLog(16, nil), quietLogger())
	return gate, cache
}

func TestAuthorizeNoEmail(t *testing.T) {

	repo := &fakeRepo{}
	rv := &fakeRevoker{}
	gate, _ := newTestGate(repo, rv, nil)

	d := gate.Authorize(context.Background(), nil)
	if d.Granted {
		t.Error("nil identity must be denied")
	}

	d = gate.Authorize(context.Background(), &maaltijd.Identity{UID: "u1", Email: "  "})
	if d.Granted || d.Reason != ReasonNoEmail {
		t.Errorf("identity without email must be denied, got %+v", d)
	}
	if repo.queryHits != 0 || repo.docHits != 0 {
		t.Error("no remote lookup expected for an empty email")
	}
	if len(rv.calls) != 1 || rv.calls[0] != "u1" {
		t.Errorf("expected one revocation for u1, got %v", rv.calls)
	}
}

func TestAuthorizeViaQueryThenCached(t *testing.T) {

	repo := &fakeRepo{emails: map[string]bool{"anna@example.com": true}}
	rv := &fakeRevoker{}
	gate, _ := newTestGate(repo, rv, nil)

	id := &maaltijd.Identity{UID: "u2", Email: "Anna@Example.com"}

	d := gate.Authorize(context.Background(), id)
	if !d.Granted || d.Source != "whitelist-query" {
		t.Fatalf("expected grant via query strategy, got %+v", d)
	}
	if repo.queryHits != 1 || repo.docHits != 0 {
		t.Fatalf("unexpected lookup counts: query=%d doc=%d", repo.queryHits, repo.docHits)
	}

	// second check comes from the cache, no further remote calls
	d = gate.Authorize(context.Background(), id)
	if !d.Granted || d.Source != "cache" {
		t.Errorf("expected cached grant, got %+v", d)
	}
	if repo.queryHits != 1 || repo.docHits != 0 {
		t.Errorf("cached grant must not consult the whitelist again: query=%d doc=%d", repo.queryHits, repo.docHits)
	}
}

func TestAuthorizeDocFallback(t *testing.T) {

	repo := &fakeRepo{docEmails: map[string]bool{"bob@example.com": true}}
	gate, _ := newTestGate(repo, &fakeRevoker{}, nil)

	d := gate.Authorize(context.Background(), &maaltijd.Identity{UID: "u3", Email: "bob@example.com"})
	if !d.Granted || d.Source != "whitelist-doc" {
		t.Fatalf("expected grant via doc fallback, got %+v", d)
	}
	if repo.queryHits != 1 || repo.docHits != 1 {
		t.Errorf("expected query first then doc, got query=%d doc=%d", repo.queryHits, repo.docHits)
	}
}

func TestAuthorizeNotListed(t *testing.T) {

	repo := &fakeRepo{}
	rv := &fakeRevoker{}
	gate, cache := newTestGate(repo, rv, nil)

	id := &maaltijd.Identity{UID: "u4", Email: "mallory@example.com"}

	d := gate.Authorize(context.Background(), id)
	if d.Granted || d.Reason != ReasonNotListed {
		t.Fatalf("expected denial, got %+v", d)
	}
	if len(rv.calls) != 1 {
		t.Fatalf("expected one revocation, got %v", rv.calls)
	}
	if cache.Len() != 0 {
		t.Error("denials must not be cached")
	}

	// a repeated denial converges without another sign-out
	gate.Authorize(context.Background(), id)
	if len(rv.calls) != 1 {
		t.Errorf("repeated denial must not re-fire the revocation, got %v", rv.calls)
	}
}

func TestAuthorizeFailsClosedOnLookupError(t *testing.T) {

	repo := &fakeRepo{queryErr: errors.New("permission denied")}
	rv := &fakeRevoker{}
	gate, _ := newTestGate(repo, rv, nil)

	d := gate.Authorize(context.Background(), &maaltijd.Identity{UID: "u5", Email: "carol@example.com"})
	if d.Granted {
		t.Error("lookup failure must deny access")
	}
	if d.Reason != ReasonLookupFailed {
		t.Errorf("unexpected reason %q", d.Reason)
	}
	if repo.docHits != 0 {
		t.Error("a failed lookup must not fall through to the next strategy")
	}
	if len(rv.calls) != 1 {
		t.Errorf("expected revocation on fail-closed denial, got %v", rv.calls)
	}
}

func TestAuthorizeAllowList(t *testing.T) {

	repo := &fakeRepo{}
	gate, _ := newTestGate(repo, &fakeRevoker{}, []string{"Owner@MaaltijdPlus.app"})

	d := gate.Authorize(context.Background(), &maaltijd.Identity{UID: "u6", Email: "owner@maaltijdplus.app"})
	if !d.Granted || d.Source != "allow-list" {
		t.Fatalf("expected allow-list grant, got %+v", d)
	}
	if repo.queryHits != 0 {
		t.Error("allow-list grant must not consult the whitelist")
	}
}

func TestAuthorizeCacheExpiry(t *testing.T) {

	repo := &fakeRepo{emails: map[string]bool{"dave@example.com": true}}
	gate, cache := newTestGate(repo, &fakeRevoker{}, nil)

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	id := &maaltijd.Identity{UID: "u7", Email: "dave@example.com"}

	gate.Authorize(context.Background(), id)
	if repo.queryHits != 1 {
		t.Fatalf("expected one remote lookup, got %d", repo.queryHits)
	}

	// 31 days later the cached decision no longer counts
	now = now.Add(31 * 24 * time.Hour)

	d := gate.Authorize(context.Background(), id)
	if !d.Granted {
		t.Fatalf("expected re-validated grant, got %+v", d)
	}
	if repo.queryHits != 2 {
		t.Errorf("expired cache entry must trigger a fresh lookup, got %d", repo.queryHits)
	}
}

func TestPreauthorize(t *testing.T) {

	repo := &fakeRepo{emails: map[string]bool{"erik@example.com": true}}
	rv := &fakeRevoker{}
	gate, _ := newTestGate(repo, rv, []string{"owner@maaltijdplus.app"})

	ok, err := gate.Preauthorize(context.Background(), "erik@example.com")
	if err != nil || !ok {
		t.Errorf("expected preauthorization, got ok=%v err=%v", ok, err)
	}

	ok, err = gate.Preauthorize(context.Background(), "stranger@example.com")
	if err != nil || ok {
		t.Errorf("expected refusal, got ok=%v err=%v", ok, err)
	}
	if len(rv.calls) != 0 {
		t.Error("preauthorization must not revoke anything")
	}

	ok, _ = gate.Preauthorize(context.Background(), "owner@maaltijdplus.app")
	if !ok {
		t.Error("allow-list address must preauthorize")
	}

	if ok, _ = gate.Preauthorize(context.Background(), ""); ok {
		t.Error("empty email must not preauthorize")
	}
}

func TestOutcomeTracking(t *testing.T) {

	repo := &fakeRepo{emails: map[string]bool{"fred@example.com": true}}
	gate, _ := newTestGate(repo, &fakeRevoker{}, nil)

	if _, known := gate.Outcome("u8"); known {
		t.Error("no outcome expected before the first check")
	}

	gate.Authorize(context.Background(), &maaltijd.Identity{UID: "u8", Email: "fred@example.com"})

	granted, known := gate.Outcome("u8")
	if !known || !granted {
		t.Errorf("expected recorded grant, got granted=%v known=%v", granted, known)
	}
}
