package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ErrInvalidCredential is returned when a credential fails verification.
// The middleware maps it to 401; it never reveals which verifier refused.
var ErrInvalidCredential = errors.New("invalid credential")

// Method identifies how a principal was authenticated.
type Method string

const (
	MethodOIDC         Method = "oidc"
	MethodServiceToken Method = "service_token"
)

// Identity is what the boundary asserts about a caller: a principal id and
// the mechanism that vouched for it. Authorisation is someone else's job.
type Identity struct {
	UserID string
	Method Method
}

// Verifier turns one bearer credential into an Identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// OIDCVerifier verifies bearer credentials against an external OIDC
// issuer. It accepts ID tokens signed for our client id, falling back to
// the issuer's UserInfo endpoint for plain OAuth2 access tokens.
type OIDCVerifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and prepares the token verifier.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	if issuer == "" {
		return nil, fmt.Errorf("OIDC issuer is required")
	}
	if clientID == "" {
		return nil, fmt.Errorf("OIDC client id is required")
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCVerifier{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// Verify checks the credential and returns the subject it names.
func (v *OIDCVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}

	if idToken, err := v.verifier.Verify(ctx, credential); err == nil {
		if idToken.Subject == "" {
			return nil, fmt.Errorf("ID token carries no subject: %w", ErrInvalidCredential)
		}
		return &Identity{UserID: idToken.Subject, Method: MethodOIDC}, nil
	}

	// Not an ID token; ask the issuer who the access token belongs to.
	info, err := v.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: credential,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, fmt.Errorf("token rejected by issuer: %w", ErrInvalidCredential)
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("userinfo carries no subject: %w", ErrInvalidCredential)
	}

	return &Identity{UserID: info.Subject, Method: MethodOIDC}, nil
}

// Chain tries each verifier in order and returns the first identity. All
// refusals collapse into ErrInvalidCredential.
type Chain []Verifier

// Verify implements Verifier.
func (c Chain) Verify(ctx context.Context, credential string) (*Identity, error) {
	for _, v := range c {
		if id, err := v.Verify(ctx, credential); err == nil {
			return id, nil
		}
	}
	return nil, ErrInvalidCredential
}
