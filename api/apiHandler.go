package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/EdwinCycling/MaaltijdPlus/internal/access"
	"github.com/EdwinCycling/MaaltijdPlus/internal/limiter"
	"github.com/EdwinCycling/MaaltijdPlus/internal/live"
	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	"github.com/EdwinCycling/MaaltijdPlus/internal/services"
	"github.com/EdwinCycling/MaaltijdPlus/tools"
)

type ApiHandler struct {
	meals    maaltijd.MealRepo
	registry *services.Registry
	hub      *live.Hub
	audit    *access.Log
	reqLim   *limiter.Limiter
	aiLim    *limiter.Limiter
}

func NewApiHandler(meals maaltijd.MealRepo, registry *services.Registry, hub *live.Hub, audit *access.Log, reqLim, aiLim *limiter.Limiter) *ApiHandler {
	return &ApiHandler{
		meals:    meals,
		registry: registry,
		hub:      hub,
		audit:    audit,
		reqLim:   reqLim,
		aiLim:    aiLim,
	}
}

func (ah *ApiHandler) Router() chi.Router {
	rtr := chi.NewRouter()

	rtr.Route("/", func(r chi.Router) {
		r.Get("/", ah.welcome)
		r.Get("/info", ah.info)
		r.Get("/ipcount", ah.ipcount)
		r.Get("/authlog", ah.authlog)
		r.Get("/limits", ah.limits)
	})

	return rtr
}

func (ah *ApiHandler) welcome(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("{\"success\":\"Welcome to maaltijdplus api\"}"))
}

func (ah *ApiHandler) info(w http.ResponseWriter, r *http.Request) {

	td, err := ah.meals.TotalMeals(r.Context())
	if err != nil {
		td = -1
	}

	_, _ = w.Write([]byte(fmt.Sprintf("{\"total_meals\": %d, \"active_sessions\": %d, \"live_clients\": %d}",
		td, ah.registry.Len(), ah.hub.Len())))
}

func (ah *ApiHandler) ipcount(w http.ResponseWriter, r *http.Request) {
	ipcount := tools.GetIPCount()
	ip, max := tools.IPCount.TopIP()
	_, _ = w.Write([]byte(fmt.Sprintf("{\"Active_IP_Connections\": %v,\"Distinct_IPs_since_start\": %v,\"Max_connections_from_[%s]\": %v}",
		ipcount, tools.IPCount.TotalConns(), ip, max)))
}

// authlog exposes the recent access decisions, newest first.
func (ah *ApiHandler) authlog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ah.audit.Recent())
}

// limits reports the configured rate limit rules.
func (ah *ApiHandler) limits(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(fmt.Sprintf("{\"requests\": {\"max\": %d, \"window\": \"%v\"}, \"analysis\": {\"max\": %d, \"window\": \"%v\"}}",
		ah.reqLim.Max(), ah.reqLim.Window(), ah.aiLim.Max(), ah.aiLim.Window())))
}
