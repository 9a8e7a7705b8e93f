package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/postgres"
)

// OAuthToken is a cached provider token set for one (user, provider) pair.
// Kept separate from oauth_link_projections: the link projection is a
// derived read model rebuilt from events, while the token cache holds
// live secrets an OAuth reducer needs to refresh or call the provider
// API with, and must survive a projection rebuild untouched.
type OAuthToken struct {
	UserID       domain.UserID
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// OAuthTokenStore is the capability an OAuth reducer's effects depend on
// to persist and retrieve provider tokens, independent of the event log.
type OAuthTokenStore interface {
	SaveToken(ctx context.Context, token OAuthToken) error
	LoadToken(ctx context.Context, userID domain.UserID, provider string) (OAuthToken, bool, error)
	DeleteToken(ctx context.Context, userID domain.UserID, provider string) error
}

// TokenCache is the Postgres-backed OAuthTokenStore.
type TokenCache struct {
	pool postgres.Pool
}

var _ OAuthTokenStore = (*TokenCache)(nil)

// NewTokenCache creates a TokenCache backed by pool.
func NewTokenCache(pool postgres.Pool) *TokenCache {
	return &TokenCache{pool: pool}
}

// SaveToken upserts the token set for (token.UserID, token.Provider).
func (c *TokenCache) SaveToken(ctx context.Context, token OAuthToken) error {
	ctx, span := tracer.Start(ctx, "eventstore.oauth_tokens.save")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("oauth.provider", token.Provider))

	_, err := c.pool.Exec(ctx, `
		INSERT INTO oauth_token_cache (user_id, provider, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, token.UserID.String(), token.Provider, token.AccessToken, token.RefreshToken, token.ExpiresAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: save oauth token: %v", domain.ErrStorageError, err)
	}
	return nil
}

// LoadToken returns the cached token set for (userID, provider), if any.
func (c *TokenCache) LoadToken(ctx context.Context, userID domain.UserID, provider string) (OAuthToken, bool, error) {
	ctx, span := tracer.Start(ctx, "eventstore.oauth_tokens.load")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("oauth.provider", provider))

	var token OAuthToken
	token.UserID = userID
	token.Provider = provider
	var refreshToken *string
	err := c.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, expires_at FROM oauth_token_cache WHERE user_id = $1 AND provider = $2
	`, userID.String(), provider).Scan(&token.AccessToken, &refreshToken, &token.ExpiresAt)
	if err != nil {
		if errors.Is(err, postgres.ErrNoRows) {
			return OAuthToken{}, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return OAuthToken{}, false, fmt.Errorf("%w: load oauth token: %v", domain.ErrStorageError, err)
	}
	if refreshToken != nil {
		token.RefreshToken = *refreshToken
	}
	return token, true, nil
}

// DeleteToken removes the cached token set for (userID, provider), e.g.
// when the user unlinks the provider. A no-op if none exists.
func (c *TokenCache) DeleteToken(ctx context.Context, userID domain.UserID, provider string) error {
	ctx, span := tracer.Start(ctx, "eventstore.oauth_tokens.delete")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("oauth.provider", provider))

	_, err := c.pool.Exec(ctx, `DELETE FROM oauth_token_cache WHERE user_id = $1 AND provider = $2`, userID.String(), provider)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: delete oauth token: %v", domain.ErrStorageError, err)
	}
	return nil
}
