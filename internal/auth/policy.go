package auth

import (
	"net/http"
	"strings"

	"github.com/EdwinCycling/MaaltijdPlus/configs/config"
	"github.com/EdwinCycling/MaaltijdPlus/internal/services"
)

// Method is the way the browser performs the interactive sign-in.
type Method string

const (
	MethodPopup     Method = "popup"
	MethodRedirect  Method = "redirect"
	MethodMagicLink Method = "magic-link"
)

// EnvSignals describes the client environment a sign-in starts from.
// Empty rule fields match any value.
type EnvSignals struct {
	DisplayMode string
	Device      string
	Browser     string
}

// Rule binds one environment pattern to a method and a session
// persistence. The first matching rule wins.
type Rule struct {
	DisplayMode string
	Device      string
	Browser     string
	Method      Method
	Persistence services.Persistence
}

type PolicyTable []Rule

func (r Rule) matches(sig EnvSignals) bool {
	if r.DisplayMode != "" && !strings.EqualFold(r.DisplayMode, sig.DisplayMode) {
		return false
	}
	if r.Device != "" && !strings.EqualFold(r.Device, sig.Device) {
		return false
	}
	if r.Browser != "" && !strings.EqualFold(r.Browser, sig.Browser) {
		return false
	}
	return true
}

// Select returns the method and persistence for the environment. When
// no configured rule applies, installed apps and mobile devices sign
// in via redirect and everything else uses the popup.
func (t PolicyTable) Select(sig EnvSignals) (Method, services.Persistence) {

	for _, r := range t {
		if r.matches(sig) {
			return r.Method, r.Persistence
		}
	}

	if strings.EqualFold(sig.DisplayMode, "standalone") || strings.EqualFold(sig.Device, "mobile") {
		return MethodRedirect, services.PersistenceLocal
	}
	return MethodPopup, services.PersistenceLocal
}

// NewPolicyTable converts the configured rules, dropping entries with
// an unknown method or persistence.
func NewPolicyTable(rules []config.PolicyRule) PolicyTable {

	var t PolicyTable

	for _, cr := range rules {

		var m Method
		switch strings.ToLower(cr.Method) {
		case "popup":
			m = MethodPopup
		case "redirect":
			m = MethodRedirect
		case "magic-link", "magiclink":
			m = MethodMagicLink
		default:
			continue
		}

		var p services.Persistence
		switch strings.ToLower(cr.Persistence) {
		case "", "local":
			p = services.PersistenceLocal
		case "session":
			p = services.PersistenceSession
		case "none":
			p = services.PersistenceNone
		default:
			continue
		}

		t = append(t, Rule{
			DisplayMode: cr.Match.DisplayMode,
			Device:      cr.Match.Device,
			Browser:     cr.Match.Browser,
			Method:      m,
			Persistence: p,
		})
	}

	return t
}

// DefaultPolicy reproduces the behavior the app shipped with before
// the table became configurable.
func DefaultPolicy() PolicyTable {
	return PolicyTable{
		{DisplayMode: "standalone", Method: MethodRedirect, Persistence: services.PersistenceLocal},
		{Device: "mobile", Browser: "safari", Method: MethodRedirect, Persistence: services.PersistenceSession},
		{Device: "mobile", Method: MethodRedirect, Persistence: services.PersistenceLocal},
	}
}

// SignalsFromRequest derives the environment from the request. The
// display mode comes from the X-Display-Mode header the client sets,
// device and browser from the user agent.
func SignalsFromRequest(r *http.Request) EnvSignals {

	sig := EnvSignals{DisplayMode: "browser", Device: "desktop"}

	if dm := r.Header.Get("X-Display-Mode"); dm != "" {
		sig.DisplayMode = strings.ToLower(strings.TrimSpace(dm))
	}

	ua := strings.ToLower(r.UserAgent())

	if strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") ||
		strings.Contains(ua, "android") || strings.Contains(ua, "mobi") {
		sig.Device = "mobile"
	}

	switch {
	case strings.Contains(ua, "edg/"):
		sig.Browser = "edge"
	case strings.Contains(ua, "chrome"), strings.Contains(ua, "crios"):
		sig.Browser = "chrome"
	case strings.Contains(ua, "firefox"), strings.Contains(ua, "fxios"):
		sig.Browser = "firefox"
	case strings.Contains(ua, "safari"):
		sig.Browser = "safari"
	default:
		sig.Browser = "other"
	}

	return sig
}
