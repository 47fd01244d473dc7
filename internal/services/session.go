package services

import (
	"sync"
	"time"

	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Persistence tells how long a created session should survive,
// matching what the sign-in policy selected for the environment.
type Persistence string

const (
	PersistenceLocal   Persistence = "local"
	PersistenceSession Persistence = "session"
	PersistenceNone    Persistence = "none"
)

// Transition kinds emitted on the registry's event stream.
const (
	TransitionLogin   = "login"
	TransitionLogout  = "logout"
	TransitionRestore = "restore"
)

// SessionCookieName is the cookie carrying the session id.
const SessionCookieName = "mp_sid"

// Transition is one identity-state change. Identity is nil for
// logouts, UID is always carried.
type Transition struct {
	Kind      string
	SessionID string
	UID       string
	Identity  *maaltijd.Identity
	At        time.Time
}

// Session is one signed-in browser session.
type Session struct {
	ID          string
	Identity    maaltijd.Identity
	Persistence Persistence
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (s *Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Registry is a global object living over the entire service
// life-cycle. It manages the active sessions and publishes every
// identity-state transition on a subscription stream.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	subs     map[int]chan Transition
	nextSub  int
	slgr     *log.Logger
	now      func() time.Time
	done     chan struct{}
}

func NewRegistry(slgr *log.Logger) *Registry {

	r := &Registry{
		sessions: make(map[string]*Session),
		subs:     make(map[int]chan Transition),
		slgr:     slgr,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	go r.janitor()

	return r
}

func ttlFor(p Persistence) time.Duration {
	switch p {
	case PersistenceLocal:
		return 30 * 24 * time.Hour
	case PersistenceSession:
		return 12 * time.Hour
	default:
		return 2 * time.Hour
	}
}

// Create opens a session for the identity and emits a login
// transition.
func (r *Registry) Create(id *maaltijd.Identity, p Persistence) *Session {

	now := r.now()
	s := &Session{
		ID:          uuid.NewString(),
		Identity:    *id,
		Persistence: p,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttlFor(p)),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.emit(Transition{Kind: TransitionLogin, SessionID: s.ID, UID: id.UID, Identity: id, At: now})
	r.mu.Unlock()

	r.slgr.Printf("[session] %s signed in (%s)", id.Email, p)
	return s
}

// Restore resolves a session id from a returning client. A hit emits
// a restore transition so the access check runs again, expired ids
// are dropped.
func (r *Registry) Restore(sessionID string) (*Session, bool) {

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if s.expired(r.now()) {
		delete(r.sessions, sessionID)
		r.emit(Transition{Kind: TransitionLogout, SessionID: s.ID, UID: s.Identity.UID, At: r.now()})
		return nil, false
	}

	id := s.Identity
	r.emit(Transition{Kind: TransitionRestore, SessionID: s.ID, UID: id.UID, Identity: &id, At: r.now()})
	return s, true
}

// Peek resolves a session id without emitting a transition.
func (r *Registry) Peek(sessionID string) (*Session, bool) {

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.expired(r.now()) {
		return nil, false
	}
	return s, true
}

// Destroy removes the session and emits a logout transition.
func (r *Registry) Destroy(sessionID string) {

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	r.emit(Transition{Kind: TransitionLogout, SessionID: s.ID, UID: s.Identity.UID, At: r.now()})
}

// DestroyByUID removes every session of the user. It backs the forced
// sign-out a denied access check triggers.
func (r *Registry) DestroyByUID(uid string) int {

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if s.Identity.UID == uid {
			delete(r.sessions, id)
			r.emit(Transition{Kind: TransitionLogout, SessionID: id, UID: uid, At: r.now()})
			n++
		}
	}
	return n
}

// Subscribe opens a transition stream. The returned cancel func must
// be called to release the subscription.
func (r *Registry) Subscribe() (<-chan Transition, func()) {

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan Transition, 32)
	r.subs[id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// emit publishes the transition to every subscriber. Callers must
// hold the mutex. Slow subscribers lose transitions instead of
// blocking the registry.
func (r *Registry) emit(t Transition) {
	for id, ch := range r.subs {
		select {
		case ch <- t:
		default:
			r.slgr.Warnf("[session] subscriber %d is lagging, transition %s dropped", id, t.Kind)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// janitor drops expired sessions in the background so idle ones do
// not linger until the next restore attempt.
func (r *Registry) janitor() {

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			now := r.now()
			for id, s := range r.sessions {
				if s.expired(now) {
					delete(r.sessions, id)
					r.emit(Transition{Kind: TransitionLogout, SessionID: id, UID: s.Identity.UID, At: now})
				}
			}
			r.mu.Unlock()
		}
	}
}

// Close stops the janitor and ends every subscription stream.
func (r *Registry) Close() {
	close(r.done)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}
