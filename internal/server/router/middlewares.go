package router

import (
	"net/http"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/EdwinCycling/MaaltijdPlus/internal/limiter"
	"github.com/EdwinCycling/MaaltijdPlus/tools"
	"github.com/EdwinCycling/MaaltijdPlus/tools/metrics"
)

// Handles the CORS part
func accessControl(origins []string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			org := r.Header.Get("Origin")
			allowed := "*"
			if len(origins) > 0 {
				allowed = origins[0]
				for _, v := range origins {
					if strings.EqualFold(v, org) {
						allowed = org
						break
					}
				}
			}

			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Display-Mode")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.ServeHTTP(w, r)
		})
	}
}

// Handles the load-balancer health checks before anything else runs
func healthcheck(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		if r.URL.Path == "/healthz" || r.URL.Path == "/hc" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
			return
		}

		h.ServeHTTP(w, r)
	})
}

// botFilter refuses requests from self-identified bots. Agents on the
// allowed list still pass outside the protected routes, so search
// crawlers can index the public pages.
func botFilter(blocklist, allowedAgents, protectedRoutes []string, blgr *log.Logger) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			ua := r.UserAgent()

			protected := false
			for _, p := range protectedRoutes {
				if strings.HasPrefix(r.URL.Path, p) {
					protected = true
					break
				}
			}

			if ua == "" {
				if protected {
					blgr.Warnf("[MW-bot] blocked request without user agent from %s to %s", tools.GetIP(r), r.URL.Path)
					metrics.ChBotDenied <- 1
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				h.ServeHTTP(w, r)
				return
			}

			if !tools.ContainsAny(ua, blocklist) {
				h.ServeHTTP(w, r)
				return
			}

			if !protected && tools.ContainsAny(ua, allowedAgents) {
				h.ServeHTTP(w, r)
				return
			}

			blgr.Warnf("[MW-bot] blocked agent %q from %s on %s", ua, tools.GetIP(r), r.URL.Path)
			metrics.ChBotDenied <- 1
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}

// rateLimiter applies the per-IP request budget. A failing limiter
// store lets the request pass.
func rateLimiter(lim *limiter.Limiter, rllgr *log.Logger) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			// the metrics scraper runs on its own schedule
			if r.URL.Path == "/metrics" {
				h.ServeHTTP(w, r)
				return
			}

			ip := tools.GetIP(r)

			d, err := lim.Check(r.Context(), ip)
			if err != nil {
				rllgr.Errorf("[MW-rl] limiter store failed for %s: %v", ip, err)
				h.ServeHTTP(w, r)
				return
			}

			if !d.Allowed {
				rllgr.Warnf("[MW-rl] request %d from %s denied", d.Count, ip)
				metrics.ChRequestDenied <- 1
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}

			h.ServeHTTP(w, r)
		})
	}
}

// controlIPConn caps the concurrent requests per IP. Used on the live
// feed route where every request holds a connection.
func controlIPConn(maxConns int, clgr *log.Logger) func(http.Handler) http.Handler {

	if maxConns < 1 {
		maxConns = 3
	}

	var (
		mu      sync.Mutex
		ipConns = make(map[string]int)
	)

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			ip := tools.GetIP(r)

			mu.Lock()
			if ipConns[ip] >= maxConns {
				mu.Unlock()
				clgr.Warnf("[MW-ipc] too many concurrent connections from %s", ip)
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			ipConns[ip]++
			mu.Unlock()

			defer func() {
				mu.Lock()
				ipConns[ip]--
				if ipConns[ip] < 1 {
					delete(ipConns, ip)
				}
				mu.Unlock()
			}()

			h.ServeHTTP(w, r)
		})
	}
}
