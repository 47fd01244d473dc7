package auth

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
)

// GIPClient implements Provider on top of the Google Identity
// Platform relying-party API.
type GIPClient struct {
	svc         *identitytoolkit.Service
	provider_id string
	link_quota  *rate.Limiter
	glgr        *log.Logger
}

// NewGIPClient builds the identity client. linksPerHour caps how many
// sign-in link emails the instance may request from the provider.
func NewGIPClient(ctx context.Context, apiKey, providerID string, linksPerHour int, glgr *log.Logger) (*GIPClient, error) {

	if apiKey == "" {
		return nil, fmt.Errorf("missing identity platform api key")
	}

	svc, err := identitytoolkit.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("unable to init the identity service. error: %v", err)
	}

	if providerID == "" {
		providerID = "google.com"
	}
	if linksPerHour < 1 {
		linksPerHour = 30
	}

	return &GIPClient{
		svc:         svc,
		provider_id: providerID,
		link_quota:  rate.NewLimiter(rate.Every(time.Hour/time.Duration(linksPerHour)), 5),
		glgr:        glgr,
	}, nil
}

func (g *GIPClient) StartInteractive(ctx context.Context, continueURL string) (*InteractiveStart, error) {

	req := &identitytoolkit.IdentitytoolkitRelyingpartyCreateAuthUriRequest{
		ProviderId:  g.provider_id,
		ContinueUri: continueURL,
	}

	resp, err := g.svc.Relyingparty.CreateAuthUri(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to create the auth uri. error: %v", err)
	}

	return &InteractiveStart{AuthURL: resp.AuthUri, SessionID: resp.SessionId}, nil
}

func (g *GIPClient) FinishInteractive(ctx context.Context, sessionID, requestURI string) (*maaltijd.Identity, error) {

	req := &identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		RequestUri:        requestURI,
		SessionId:         sessionID,
		ReturnSecureToken: true,
	}

	resp, err := g.svc.Relyingparty.VerifyAssertion(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to verify the sign-in assertion. error: %v", err)
	}

	return &maaltijd.Identity{
		UID:         resp.LocalId,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
	}, nil
}

func (g *GIPClient) SendSignInLink(ctx context.Context, email, continueURL string) error {

	if !g.link_quota.Allow() {
		return fmt.Errorf("sign-in link quota exhausted, try again later")
	}

	req := &identitytoolkit.Relyingparty{
		RequestType:        "EMAIL_SIGNIN",
		Email:              email,
		ContinueUrl:        continueURL,
		CanHandleCodeInApp: true,
	}

	if _, err := g.svc.Relyingparty.GetOobConfirmationCode(req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to send the sign-in link. error: %v", err)
	}

	g.glgr.Printf("[gip] sign-in link sent to %s", email)
	return nil
}

func (g *GIPClient) FinishSignInLink(ctx context.Context, email, oobCode string) (*maaltijd.Identity, error) {

	req := &identitytoolkit.IdentitytoolkitRelyingpartyEmailLinkSigninRequest{
		Email:   email,
		OobCode: oobCode,
	}

	resp, err := g.svc.Relyingparty.EmailLinkSignin(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to finish the sign-in link. error: %v", err)
	}

	ident := &maaltijd.Identity{UID: resp.LocalId, Email: resp.Email}

	// The link sign-in response carries no profile, so look the
	// display name up best effort.
	info, err := g.svc.Relyingparty.GetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartyGetAccountInfoRequest{
		IdToken: resp.IdToken,
	}).Context(ctx).Do()
	if err == nil && len(info.Users) > 0 {
		ident.DisplayName = info.Users[0].DisplayName
	}

	return ident, nil
}

func (g *GIPClient) SignOut(ctx context.Context, uid string) error {

	req := &identitytoolkit.IdentitytoolkitRelyingpartySignOutUserRequest{LocalId: uid}

	if _, err := g.svc.Relyingparty.SignOutUser(req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to sign out user %s. error: %v", uid, err)
	}
	return nil
}
