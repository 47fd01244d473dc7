package mpws

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/EdwinCycling/MaaltijdPlus/configs/config"
	"github.com/EdwinCycling/MaaltijdPlus/internal/live"
	"github.com/EdwinCycling/MaaltijdPlus/internal/services"
	"github.com/EdwinCycling/MaaltijdPlus/tools"
)

// WSHandler upgrades live feed connections and hands them to the hub.
type WSHandler struct {
	hub      *live.Hub
	registry *services.Registry
	cfg      *config.ServiceConfig
	wlgr     *log.Logger
}

func NewWSHandler(hub *live.Hub, registry *services.Registry, cfg *config.ServiceConfig, wlgr *log.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		registry: registry,
		cfg:      cfg,
		wlgr:     wlgr,
	}
}

func (h *WSHandler) Router() chi.Router {
	rtr := chi.NewRouter()

	rtr.Route("/", func(r chi.Router) {
		r.Get("/", h.connman)
	})

	return rtr
}

// connman takes care of the connection upgrade (incl handshake) and
// registers the accepted client with the hub.
func (h *WSHandler) connman(w http.ResponseWriter, r *http.Request) {

	ip := tools.GetIP(r)

	c, err := r.Cookie(services.SessionCookieName)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if _, ok := h.registry.Peek(c.Value); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if max := h.cfg.MaxConnsPerIP; max > 0 && tools.IPCount.IPConns(ip) >= max {
		h.wlgr.Warnf("[mpws] refusing feed connection from %s, %d already active, %d since start", ip, tools.IPCount.IPConns(ip), tools.IPCount.IPConnsTotal(ip))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	org := r.Header.Get("Origin")
	hst := r.Host

	upgrader := websocket.Upgrader{
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if org == "" && hst == "" {
				return false
			}
			for _, v := range h.cfg.GetTrustedOrigins() {
				if strings.Contains(org, v) || strings.Contains(hst, v) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.wlgr.Errorf("[mpws] error upgrading the connection from %s: %v", ip, err)
		return
	}

	client := h.hub.Register(conn, ip)
	h.wlgr.Infof("[mpws] client %v connected from [%v], Origin: [%v]", client.Name(), ip, org)
}
