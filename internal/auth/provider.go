package auth

import (
	"context"
	"errors"

	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	"github.com/EdwinCycling/MaaltijdPlus/internal/services"
	log "github.com/sirupsen/logrus"
)

// Error codes the opener page reports when an interactive popup
// attempt dies for a harmless reason. All of them fall back to the
// redirect method without surfacing an error to the user.
const (
	CodePopupBlocked   = "popup-blocked"
	CodePopupClosed    = "popup-closed-by-user"
	CodeCancelledPopup = "cancelled-popup-request"
)

var (
	// ErrEmailRequired is returned when a sign-in link is completed on
	// a device that has no pending flow, so the address must be
	// supplied again.
	ErrEmailRequired = errors.New("email required to finish the sign-in")
	// ErrUnknownFlow is returned for flow ids the orchestrator does
	// not know.
	ErrUnknownFlow = errors.New("unknown sign-in flow")
	// ErrNoPendingRedirect is the definitive answer that no redirect
	// outcome will ever arrive for the flow.
	ErrNoPendingRedirect = errors.New("no redirect sign-in pending")
)

// BenignPopupFailure reports whether the error code is one of the
// harmless popup conditions.
func BenignPopupFailure(code string) bool {
	switch code {
	case CodePopupBlocked, CodePopupClosed, CodeCancelledPopup:
		return true
	}
	return false
}

// InteractiveStart pairs the URL the browser has to open with the
// provider session that the later assertion must reference.
type InteractiveStart struct {
	AuthURL   string
	SessionID string
}

// Provider abstracts the hosted identity service the orchestrator
// signs users in against.
type Provider interface {
	StartInteractive(ctx context.Context, continueURL string) (*InteractiveStart, error)
	FinishInteractive(ctx context.Context, sessionID, requestURI string) (*maaltijd.Identity, error)
	SendSignInLink(ctx context.Context, email, continueURL string) error
	FinishSignInLink(ctx context.Context, email, oobCode string) (*maaltijd.Identity, error)
	SignOut(ctx context.Context, uid string) error
}

// SessionRevoker invalidates both the server-side sessions and the
// provider's tokens of a user. The access gate fires it when a check
// denies a signed-in identity.
type SessionRevoker struct {
	Registry *services.Registry
	Provider Provider
	Rlgr     *log.Logger
}

func (sr *SessionRevoker) Revoke(ctx context.Context, uid string) error {

	if n := sr.Registry.DestroyByUID(uid); n > 0 {
		sr.Rlgr.Printf("[auth] destroyed %d session(s) of %s", n, uid)
	}

	if err := sr.Provider.SignOut(ctx, uid); err != nil {
		return err
	}
	return nil
}
