package authadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"

	"github.com/aelexs/authcore/internal/authreducer"
	"github.com/aelexs/authcore/internal/config"
)

var _ authreducer.OAuthProvider = (*OIDCExchanger)(nil)

// providerClient is one registered provider's discovered OIDC configuration:
// the authorization-code config and the verifier for the ID token that
// comes back from its token endpoint.
type providerClient struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// OIDCExchanger implements authreducer.OAuthProvider against a fixed
// registry of OIDC providers discovered at construction time. The provider
// tag the reducer carries through the token store (never a debug string,
// see oauth.go) selects which registered client handles a given callback.
type OIDCExchanger struct {
	mu      sync.RWMutex
	clients map[string]*providerClient
}

// NewOIDCExchanger discovers each configured provider's OIDC metadata
// (authorization/token endpoints, JWKS) and builds its oauth2.Config. If any
// provider lacks an issuer URL or fails discovery, construction as a whole
// returns an error and no exchanger is built; callers should treat that as
// fatal startup configuration, not a per-request condition.
func NewOIDCExchanger(ctx context.Context, providers map[string]config.OAuthProviderConfig) (*OIDCExchanger, error) {
	clients := make(map[string]*providerClient, len(providers))

	for name, cfg := range providers {
		if cfg.IssuerURL == "" {
			return nil, fmt.Errorf("oauth provider %q: issuer_url is required", name)
		}

		provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("oauth provider %q: discover issuer %s: %w", name, cfg.IssuerURL, err)
		}

		oauth2Config := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		}

		clients[name] = &providerClient{
			oauth2Config: oauth2Config,
			verifier:     provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		}
	}

	return &OIDCExchanger{clients: clients}, nil
}

func (e *OIDCExchanger) client(provider string) (*providerClient, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.clients[provider]
	return c, ok
}

// AuthorizationURL builds the redirect target for provider, embedding state
// as the CSRF token the callback must echo back.
func (e *OIDCExchanger) AuthorizationURL(provider, state string) (string, error) {
	c, ok := e.client(provider)
	if !ok {
		return "", fmt.Errorf("oauth provider %q is not registered", provider)
	}
	return c.oauth2Config.AuthCodeURL(state), nil
}

// Exchange trades code for tokens at provider's token endpoint, verifies
// the returned ID token's signature against the provider's published keys,
// and extracts the caller's email/display name from its claims. Any step
// failing — unknown provider, rejected code, missing or unverifiable ID
// token, absent email claim — returns an error naming the provider and the
// failed step; the reducer collapses it to the generic authentication_failed
// outcome.
func (e *OIDCExchanger) Exchange(ctx context.Context, provider, code string) (authreducer.ProviderTokens, error) {
	ctx, span := tracer.Start(ctx, "oauth.exchange")
	defer span.End()
	span.SetAttributes(attribute.String("oauth.provider", provider))

	c, ok := e.client(provider)
	if !ok {
		err := fmt.Errorf("oauth provider %q is not registered", provider)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return authreducer.ProviderTokens{}, err
	}

	oauth2Token, err := c.oauth2Config.Exchange(ctx, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return authreducer.ProviderTokens{}, fmt.Errorf("oauth provider %q: exchange code: %w", provider, err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		err := fmt.Errorf("oauth provider %q: token response has no id_token", provider)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return authreducer.ProviderTokens{}, err
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return authreducer.ProviderTokens{}, fmt.Errorf("oauth provider %q: verify id_token: %w", provider, err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return authreducer.ProviderTokens{}, fmt.Errorf("oauth provider %q: parse id_token claims: %w", provider, err)
	}
	if claims.Email == "" {
		err := fmt.Errorf("oauth provider %q: id_token has no email claim", provider)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return authreducer.ProviderTokens{}, err
	}

	return authreducer.ProviderTokens{
		AccessToken:  oauth2Token.AccessToken,
		RefreshToken: oauth2Token.RefreshToken,
		Email:        claims.Email,
		Name:         claims.Name,
	}, nil
}
