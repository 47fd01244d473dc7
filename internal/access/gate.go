package access

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	"github.com/EdwinCycling/MaaltijdPlus/tools"
	"github.com/EdwinCycling/MaaltijdPlus/tools/metrics"
	log "github.com/sirupsen/logrus"
)

// Decision reasons as they appear in the audit log.
const (
	ReasonNoEmail      = "no email address"
	ReasonCached       = "cached decision"
	ReasonAllowList    = "built-in allow-list"
	ReasonWhitelisted  = "whitelisted"
	ReasonNotListed    = "not whitelisted"
	ReasonLookupFailed = "whitelist lookup failed"
)

// DefaultAllowList holds the built-in owner addresses that are always
// authorized, independent of the whitelist collection.
var DefaultAllowList = []string{"owner@maaltijdplus.app"}

// Decision is the outcome of one access check.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
	Source  string `json:"source"`
}

// LookupStrategy is one way of finding an email in the remote
// whitelist. Find reports present/absent, any error means the lookup
// itself failed and the gate must fail closed.
type LookupStrategy struct {
	Name string
	Find func(ctx context.Context, email string) (bool, error)
}

// RepoStrategies builds the ordered lookup pair for one whitelist
// collection: the equality filter query first, the direct document
// key lookup as fallback.
func RepoStrategies(label string, repo maaltijd.ListRepo) []LookupStrategy {
	return []LookupStrategy{
		{
			Name: label + "-query",
			Find: func(ctx context.Context, email string) (bool, error) {
				_, err := repo.QueryEmail(ctx, email)
				if errors.Is(err, maaltijd.ErrNotFound) {
					return false, nil
				}
				if err != nil {
					return false, err
				}
				return true, nil
			},
		},
		{
			Name: label + "-doc",
			Find: func(ctx context.Context, email string) (bool, error) {
				_, err := repo.GetEmailDoc(ctx, email)
				if errors.Is(err, maaltijd.ErrNotFound) {
					return false, nil
				}
				if err != nil {
					return false, err
				}
				return true, nil
			},
		},
	}
}

// Revoker invalidates every active session of a user. The gate calls
// it when an authorization check denies a signed-in identity.
type Revoker interface {
	Revoke(ctx context.Context, uid string) error
}

// Gate decides whether a signed-in identity may use the application.
// Decisions are cached per email, the remote whitelist is only
// consulted on a cache miss, and any remote failure denies access.
type Gate struct {
	cache      *Cache
	allowList  []string
	strategies []LookupStrategy
	revoker    Revoker
	audit      *Log
	lgr        *log.Logger

	mu       sync.Mutex
	outcomes map[string]bool
}

func New(cache *Cache, allowList []string, strategies []LookupStrategy, revoker Revoker, audit *Log, lgr *log.Logger) *Gate {

	nl := make([]string, 0, len(allowList))
	for _, a := range allowList {
		if n := normalize(a); n != "" {
			nl = append(nl, n)
		}
	}

	return &Gate{
		cache:      cache,
		allowList:  nl,
		strategies: strategies,
		revoker:    revoker,
		audit:      audit,
		lgr:        lgr,
		outcomes:   make(map[string]bool),
	}
}

// Authorize runs the full access check for the identity and applies
// the side effects of the outcome: grants are cached, denials drop the
// cached decision and revoke the user's sessions.
func (g *Gate) Authorize(ctx context.Context, id *maaltijd.Identity) Decision {

	if id == nil || normalize(id.Email) == "" {
		d := Decision{Granted: false, Reason: ReasonNoEmail, Source: "gate"}
		uid := ""
		if id != nil {
			uid = id.UID
		}
		g.deny(ctx, uid, "", d)
		return d
	}

	email := normalize(id.Email)

	if g.cache.Get(email) {
		d := Decision{Granted: true, Reason: ReasonCached, Source: "cache"}
		g.grant(id, email, d)
		return d
	}

	if tools.Contains(g.allowList, email) {
		d := Decision{Granted: true, Reason: ReasonAllowList, Source: "allow-list"}
		g.grant(id, email, d)
		return d
	}

	for _, s := range g.strategies {
		found, err := s.Find(ctx, email)
		if err != nil {
			g.lgr.Errorf("[gate] %s lookup for %s failed: %v", s.Name, email, err)
			d := Decision{Granted: false, Reason: ReasonLookupFailed, Source: s.Name}
			g.deny(ctx, id.UID, email, d)
			return d
		}
		if found {
			d := Decision{Granted: true, Reason: ReasonWhitelisted, Source: s.Name}
			g.grant(id, email, d)
			return d
		}
	}

	d := Decision{Granted: false, Reason: ReasonNotListed, Source: "whitelist"}
	g.deny(ctx, id.UID, email, d)
	return d
}

// Preauthorize answers whether the email would be granted access,
// without any of the denial side effects. It is used before sending a
// sign-in link so the email quota is not spent on addresses that would
// be rejected afterwards anyway.
func (g *Gate) Preauthorize(ctx context.Context, email string) (bool, error) {

	email = normalize(email)
	if email == "" {
		return false, nil
	}

	if g.cache.Get(email) {
		return true, nil
	}
	if tools.Contains(g.allowList, email) {
		return true, nil
	}

	for _, s := range g.strategies {
		found, err := s.Find(ctx, email)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// Outcome returns the last recorded decision for the uid.
func (g *Gate) Outcome(uid string) (granted, known bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	granted, known = g.outcomes[uid]
	return granted, known
}

func (g *Gate) grant(id *maaltijd.Identity, email string, d Decision) {

	g.cache.Put(email)

	g.mu.Lock()
	g.outcomes[id.UID] = true
	g.mu.Unlock()

	g.audit.Append(Record{Email: email, Granted: true, Reason: d.Reason, Source: d.Source, At: time.Now()})
	metrics.ChAuthGranted <- 1
	g.lgr.Printf("[gate] access granted to %s (%s)", email, d.Source)
}

func (g *Gate) deny(ctx context.Context, uid, email string, d Decision) {

	if email != "" {
		g.cache.Delete(email)
	}

	repeated := false
	if uid != "" {
		g.mu.Lock()
		prev, known := g.outcomes[uid]
		repeated = known && !prev
		g.outcomes[uid] = false
		g.mu.Unlock()
	}

	g.audit.Append(Record{Email: email, Granted: false, Reason: d.Reason, Source: d.Source, At: time.Now()})
	metrics.ChAuthDenied <- 1
	g.lgr.Warnf("[gate] access denied for %q: %s", email, d.Reason)

	// converge on the outcome without re-firing the sign-out for
	// every repeated denial of the same identity
	if uid != "" && g.revoker != nil && !repeated {
		if err := g.revoker.Revoke(ctx, uid); err != nil {
			g.lgr.Errorf("[gate] unable to revoke sessions for %s: %v", uid, err)
		}
	}
}
