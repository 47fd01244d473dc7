package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/EdwinCycling/MaaltijdPlus/internal/auth"
	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	"github.com/EdwinCycling/MaaltijdPlus/internal/services"
	"github.com/EdwinCycling/MaaltijdPlus/tools"
)

const sessionCookie = services.SessionCookieName

// flowView is the sign-in flow shape handed to the client.
type flowView struct {
	FlowID  string `json:"flowId"`
	State   string `json:"state"`
	Method  string `json:"method,omitempty"`
	AuthURL string `json:"authUrl,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func viewOf(f auth.Flow) flowView {
	return flowView{
		FlowID:  f.ID,
		State:   string(f.State),
		Method:  string(f.Method),
		AuthURL: f.AuthURL,
		Reason:  f.Reason,
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func fullRequestURI(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func setSessionCookie(w http.ResponseWriter, s *services.Session) {

	c := &http.Cookie{
		Name:     sessionCookie,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
	// session and none persistence keep a browser-session cookie
	if s.Persistence == services.PersistenceLocal {
		c.Expires = s.ExpiresAt
	}
	http.SetCookie(w, c)
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// AuthHandler serves the sign-in endpoints.
type AuthHandler struct {
	orc      *auth.Orchestrator
	registry *services.Registry
	obs      *auth.Observer
	appHost  string
	algr     *log.Logger
}

func NewAuthHandler(orc *auth.Orchestrator, registry *services.Registry, obs *auth.Observer, appHost string, algr *log.Logger) *AuthHandler {
	return &AuthHandler{
		orc:      orc,
		registry: registry,
		obs:      obs,
		appHost:  appHost,
		algr:     algr,
	}
}

// appBase is the address browser redirects go back to. Without a
// configured app host the request's own host is used.
func (ah *AuthHandler) appBase(r *http.Request) string {
	if ah.appHost != "" {
		return ah.appHost
	}
	return "https://" + tools.DiscoverHost(r)
}

func (ah *AuthHandler) Router() chi.Router {
	rtr := chi.NewRouter()

	rtr.Route("/", func(r chi.Router) {
		r.Post("/signin", ah.signin)
		r.Post("/signin/error", ah.signinError)
		r.Get("/callback", ah.callback)
		r.Get("/redirect-result", ah.redirectResult)
		r.Post("/magiclink", ah.magiclink)
		r.Post("/signout", ah.signout)
		r.Get("/session", ah.session)
	})

	return rtr
}

// signin starts an interactive flow. The policy table picks the
// method from the client environment.
func (ah *AuthHandler) signin(w http.ResponseWriter, r *http.Request) {

	sig := auth.SignalsFromRequest(r)

	f, err := ah.orc.Begin(r.Context(), sig)
	if err != nil {
		ah.algr.Errorf("[auth-handler] unable to begin a sign-in: %v", err)
		respondError(w, http.StatusBadGateway, "sign-in unavailable")
		return
	}

	respondJSON(w, http.StatusOK, viewOf(f))
}

// signinError receives the popup failure the opener page observed.
func (ah *AuthHandler) signinError(w http.ResponseWriter, r *http.Request) {

	var body struct {
		FlowID string `json:"flowId"`
		Code   string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FlowID == "" {
		respondError(w, http.StatusBadRequest, "flowId and code are required")
		return
	}

	f, err := ah.orc.ReportInteractiveError(r.Context(), body.FlowID, body.Code)
	if errors.Is(err, auth.ErrUnknownFlow) {
		respondError(w, http.StatusNotFound, "unknown sign-in flow")
		return
	}

	respondJSON(w, http.StatusOK, viewOf(f))
}

// callback lands the browser coming back from the identity provider,
// for both the interactive and the sign-in link method.
func (ah *AuthHandler) callback(w http.ResponseWriter, r *http.Request) {

	q := r.URL.Query()
	flowID := q.Get("flow")
	oob := q.Get("oobCode")
	sig := auth.SignalsFromRequest(r)
	base := ah.appBase(r)

	var f auth.Flow
	var err error

	if oob != "" {
		f, err = ah.orc.FinishEmailLink(r.Context(), flowID, q.Get("email"), oob, sig)
	} else {
		f, err = ah.orc.FinishRedirect(r.Context(), flowID, fullRequestURI(r))
	}

	switch {
	case errors.Is(err, auth.ErrEmailRequired):
		// opened on another device, the page has to ask for the address
		http.Redirect(w, r, base+"/signin?finish=email&oobCode="+url.QueryEscape(oob), http.StatusSeeOther)
		return
	case errors.Is(err, auth.ErrUnknownFlow):
		http.Redirect(w, r, base+"/signin?error=expired", http.StatusSeeOther)
		return
	case err != nil:
		ah.algr.Errorf("[auth-handler] callback failed: %v", err)
		http.Redirect(w, r, base+"/signin?error=failed", http.StatusSeeOther)
		return
	}

	if f.State == auth.StateAuthorized {
		s := ah.registry.Create(f.Identity, f.Persistence)
		setSessionCookie(w, s)
		http.Redirect(w, r, base+"/", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, base+"/signin?denied="+url.QueryEscape(f.Reason), http.StatusSeeOther)
}

// redirectResult reports the outcome of a pending redirect flow. It
// blocks until the result arrives or the flow times out. 204 tells
// the client definitively that nothing is pending.
func (ah *AuthHandler) redirectResult(w http.ResponseWriter, r *http.Request) {

	flowID := r.URL.Query().Get("flow")

	f, err := ah.orc.AwaitRedirectResult(r.Context(), flowID)
	switch {
	case errors.Is(err, auth.ErrUnknownFlow):
		respondError(w, http.StatusNotFound, "unknown sign-in flow")
		return
	case errors.Is(err, auth.ErrNoPendingRedirect):
		w.WriteHeader(http.StatusNoContent)
		return
	case err != nil:
		// the client went away while waiting
		return
	}

	respondJSON(w, http.StatusOK, viewOf(f))
}

// magiclink requests a sign-in link for the address.
func (ah *AuthHandler) magiclink(w http.ResponseWriter, r *http.Request) {

	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	sig := auth.SignalsFromRequest(r)

	f, err := ah.orc.BeginEmailLink(r.Context(), body.Email, sig)
	switch {
	case errors.Is(err, auth.ErrEmailRequired):
		respondError(w, http.StatusBadRequest, "email is required")
		return
	case err != nil:
		ah.algr.Errorf("[auth-handler] unable to send a sign-in link: %v", err)
		respondError(w, http.StatusBadGateway, "unable to send the sign-in link")
		return
	}

	respondJSON(w, http.StatusAccepted, viewOf(f))
}

// signout destroys the caller's session.
func (ah *AuthHandler) signout(w http.ResponseWriter, r *http.Request) {

	if c, err := r.Cookie(sessionCookie); err == nil {
		ah.registry.Destroy(c.Value)
		clearSessionCookie(w)
	}

	w.WriteHeader(http.StatusNoContent)
}

// sessionView is the identity state handed to the page on load.
type sessionView struct {
	Authenticated bool               `json:"authenticated"`
	Loading       bool               `json:"loading"`
	Identity      *maaltijd.Identity `json:"identity,omitempty"`
}

// session restores the session of the cookie, re-running the access
// check through the registry's transition stream.
func (ah *AuthHandler) session(w http.ResponseWriter, r *http.Request) {

	view := sessionView{Loading: ah.obs.Loading()}

	c, err := r.Cookie(sessionCookie)
	if err != nil {
		respondJSON(w, http.StatusOK, view)
		return
	}

	s, ok := ah.registry.Restore(c.Value)
	if !ok {
		clearSessionCookie(w)
		respondJSON(w, http.StatusOK, view)
		return
	}

	view.Authenticated = true
	view.Identity = &s.Identity
	respondJSON(w, http.StatusOK, view)
}
