package router

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/EdwinCycling/MaaltijdPlus/api"
	"github.com/EdwinCycling/MaaltijdPlus/configs/config"
	"github.com/EdwinCycling/MaaltijdPlus/internal/access"
	"github.com/EdwinCycling/MaaltijdPlus/internal/auth"
	"github.com/EdwinCycling/MaaltijdPlus/internal/limiter"
	"github.com/EdwinCycling/MaaltijdPlus/internal/live"
	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	"github.com/EdwinCycling/MaaltijdPlus/internal/server/mpws"
	"github.com/EdwinCycling/MaaltijdPlus/internal/server/rest"
	"github.com/EdwinCycling/MaaltijdPlus/internal/services"
	"github.com/EdwinCycling/MaaltijdPlus/pkg/gopool"
)

var l = log.New()

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Cfg             *config.ServiceConfig
	Meals           maaltijd.MealRepo
	Gate            *access.Gate
	Audit           *access.Log
	Registry        *services.Registry
	Orchestrator    *auth.Orchestrator
	Observer        *auth.Observer
	Hub             *live.Hub
	Analyzer        rest.Analyzer
	Photos          rest.PhotoStore
	HTTPLimiter     *limiter.Limiter
	AnalysisLimiter *limiter.Limiter
	Pool            *gopool.Pool
}

// Constructing web application dependencies in the format of handler
type srvHandler struct {
	deps Deps
}

func (h *srvHandler) router() chi.Router {

	rtr := chi.NewRouter()

	cfg := h.deps.Cfg

	rllgr := log.New()
	rllgr.Level = log.DebugLevel

	// Building middleware chain
	rtr.Use(accessControl(cfg.GetTrustedOrigins()))
	rtr.Use(healthcheck)
	rtr.Use(botFilter(cfg.GetBotBlocklist(), cfg.GetAllowedAgents(), cfg.GetProtectedRoutes(), rllgr))
	rtr.Use(rateLimiter(h.deps.HTTPLimiter, rllgr))

	rtr.Route("/v1", func(r chi.Router) {

		ah := rest.NewAuthHandler(h.deps.Orchestrator, h.deps.Registry, h.deps.Observer, cfg.AppHost, log.New())
		r.Mount("/auth", ah.Router())

		mh := rest.NewMealsHandler(
			h.deps.Meals,
			h.deps.Photos,
			h.deps.Analyzer,
			h.deps.Hub,
			h.deps.Registry,
			h.deps.Gate,
			h.deps.AnalysisLimiter,
			h.deps.Pool,
			cfg.GetMonthlyUploadLimit(),
			cfg.GetMaxUploadBytes(),
			log.New(),
		)
		r.Mount("/meals", mh.Router())

		// the live feed holds a connection per client
		r.Route("/live", func(lr chi.Router) {
			lr.Use(controlIPConn(cfg.MaxConnsPerIP, rllgr))
			ws := mpws.NewWSHandler(h.deps.Hub, h.deps.Registry, cfg, log.New())
			lr.Mount("/", ws.Router())
		})

		apiH := api.NewApiHandler(h.deps.Meals, h.deps.Registry, h.deps.Hub, h.deps.Audit, h.deps.HTTPLimiter, h.deps.AnalysisLimiter)
		r.Mount("/api", apiH.Router())
	})

	// Handle Prometheus metrics
	rtr.Handle("/metrics", promhttp.Handler())

	return rtr
}

// Handler to manage endpoints
func NewHandler(d Deps) http.Handler {

	e := srvHandler{deps: d}
	l.Printf("...initializing router (http server Handler) ...")

	return e.router()
}
