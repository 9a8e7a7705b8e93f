package authadapter_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	josejwt "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/authcore/internal/authadapter"
	"github.com/aelexs/authcore/internal/config"
)

// fakeOIDCProvider is an in-process stand-in for a real identity provider:
// it serves the OIDC discovery document, a JWKS, and a token endpoint that
// always returns a freshly minted, correctly signed ID token for whatever
// email/name the test configured. Modeled after the discovery + ID-token
// verification flow of the example plugin this adapter is grounded on.
type fakeOIDCProvider struct {
	srv      *httptest.Server
	key      *rsa.PrivateKey
	clientID string
	email    string
	name     string
	subject  string
}

func newFakeOIDCProvider(t *testing.T) *fakeOIDCProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &fakeOIDCProvider{
		key:      key,
		clientID: "test-client-id",
		email:    "user@example.com",
		name:     "Test User",
		subject:  "subject-123",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.discoveryHandler)
	mux.HandleFunc("/jwks", p.jwksHandler)
	mux.HandleFunc("/token", p.tokenHandler)
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeOIDCProvider) discoveryHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                 p.srv.URL,
		"authorization_endpoint": p.srv.URL + "/authorize",
		"token_endpoint":         p.srv.URL + "/token",
		"jwks_uri":               p.srv.URL + "/jwks",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *fakeOIDCProvider) jwksHandler(w http.ResponseWriter, r *http.Request) {
	jwk := josejwt.JSONWebKey{Key: &p.key.PublicKey, Algorithm: "RS256", Use: "sig", KeyID: "test-key"}
	set := josejwt.JSONWebKeySet{Keys: []josejwt.JSONWebKey{jwk}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (p *fakeOIDCProvider) tokenHandler(w http.ResponseWriter, r *http.Request) {
	idToken := p.signIDToken()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "access-token-value",
		"refresh_token": "refresh-token-value",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"id_token":      idToken,
	})
}

// signIDToken mints an RS256 ID token for this provider's fixed test
// identity, signed with the same key published at /jwks.
func (p *fakeOIDCProvider) signIDToken() string {
	signer, err := josejwt.NewSigner(josejwt.SigningKey{
		Algorithm: josejwt.RS256,
		Key:       p.key,
	}, (&josejwt.SignerOptions{}).WithHeader("kid", "test-key").WithType("JWT"))
	if err != nil {
		panic(err)
	}

	now := time.Now()
	token, err := jwt.Signed(signer).Claims(map[string]any{
		"iss":            p.srv.URL,
		"sub":            p.subject,
		"aud":            p.clientID,
		"email":          p.email,
		"email_verified": true,
		"name":           p.name,
		"exp":            now.Add(time.Hour).Unix(),
		"iat":            now.Unix(),
	}).Serialize()
	if err != nil {
		panic(err)
	}
	return token
}

func TestOIDCExchanger_Exchange_Success(t *testing.T) {
	provider := newFakeOIDCProvider(t)
	ctx := context.Background()

	exchanger, err := authadapter.NewOIDCExchanger(ctx, map[string]config.OAuthProviderConfig{
		"testidp": {
			ClientID:     provider.clientID,
			ClientSecret: "test-secret",
			RedirectURL:  "https://app.example.com/callback",
			IssuerURL:    provider.srv.URL,
		},
	})
	require.NoError(t, err)

	tokens, err := exchanger.Exchange(ctx, "testidp", "auth-code-irrelevant-to-fake")
	require.NoError(t, err)
	assert.Equal(t, provider.email, tokens.Email)
	assert.Equal(t, provider.name, tokens.Name)
	assert.Equal(t, "access-token-value", tokens.AccessToken)
	assert.Equal(t, "refresh-token-value", tokens.RefreshToken)
}

func TestOIDCExchanger_Exchange_UnknownProvider(t *testing.T) {
	exchanger, err := authadapter.NewOIDCExchanger(context.Background(), map[string]config.OAuthProviderConfig{})
	require.NoError(t, err)

	_, err = exchanger.Exchange(context.Background(), "nonexistent", "code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestOIDCExchanger_AuthorizationURL(t *testing.T) {
	provider := newFakeOIDCProvider(t)
	ctx := context.Background()

	exchanger, err := authadapter.NewOIDCExchanger(ctx, map[string]config.OAuthProviderConfig{
		"testidp": {
			ClientID:     provider.clientID,
			ClientSecret: "test-secret",
			RedirectURL:  "https://app.example.com/callback",
			IssuerURL:    provider.srv.URL,
		},
	})
	require.NoError(t, err)

	url, err := exchanger.AuthorizationURL("testidp", "csrf-state-value")
	require.NoError(t, err)
	assert.Contains(t, url, "csrf-state-value")
	assert.Contains(t, url, "client_id="+provider.clientID)

	_, err = exchanger.AuthorizationURL("nonexistent", "state")
	require.Error(t, err)
}

func TestOIDCExchanger_NewOIDCExchanger_RequiresIssuerURL(t *testing.T) {
	_, err := authadapter.NewOIDCExchanger(context.Background(), map[string]config.OAuthProviderConfig{
		"broken": {ClientID: "id", ClientSecret: "secret"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer_url is required")
}
