package authreducer

import (
	"context"
	"time"

	"github.com/aelexs/authcore/internal/auth"
	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/effect"
	"github.com/aelexs/authcore/internal/eventstore"
)

// reduceOAuth handles the OAuth2/OIDC login family: an
// InitiateOAuth/OAuthCallback/OAuthSuccess/OAuthFailed/SessionCreated
// sequence. The provider is never recovered by substring-matching a debug
// string: it travels as a canonical tag through the token-store blob from
// InitiateOAuth to OAuthCallback.
func reduceOAuth(state State, action effect.Action, env *Environment) (State, effect.Effect, bool) {
	switch a := action.(type) {
	case InitiateOAuth:
		return handleInitiateOAuth(state, a, env)
	case OAuthCallback:
		return handleOAuthCallback(state, a, env)
	case OAuthSuccess:
		return handleOAuthSuccess(state, a, env)
	case OAuthRedirectReady:
		return state, effect.None{}, true
	case OAuthFailed:
		state.OAuthState = nil
		state.LastError = a.Message
		return state, effect.None{}, true
	case SessionCreated:
		session := a.Session
		state.Session = &session
		return state, effect.None{}, true
	default:
		return state, effect.None{}, false
	}
}

// OAuthRedirectReady carries the authorization URL back to the caller once
// built; it never mutates state, it only lets the port layer learn what
// URL to send the client to.
type OAuthRedirectReady struct {
	URL string
}

func handleInitiateOAuth(state State, a InitiateOAuth, env *Environment) (State, effect.Effect, bool) {
	stateParam, err := auth.GenerateSecureToken()
	if err != nil {
		return state, immediate(OAuthFailed{Reason: "state_generation_failed", Message: "authentication_failed"}), true
	}
	now := env.Clock.Now()

	state.OAuthState = &OAuthStateFragment{
		StateParam:  stateParam,
		Provider:    a.Provider,
		InitiatedAt: now,
	}

	ttl := env.Policy.OAuthStateTTL
	if ttl <= 0 {
		ttl = domain.OAuthStateTTL
	}

	tokenID, err := domain.NewTokenID(stateParam)
	if err != nil {
		return state, immediate(OAuthFailed{Reason: "state_encode_failed", Message: "authentication_failed"}), true
	}

	token := domain.Token{
		TokenID:   tokenID,
		Type:      domain.TokenTypeOAuthState,
		Secret:    stateParam,
		Data:      map[string]any{"provider": a.Provider},
		ExpiresAt: now.Add(ttl),
		StoredAt:  now,
	}

	storeEffect := effect.Future{Run: func(ctx context.Context) (effect.Action, bool) {
		if err := env.Tokens.Store(ctx, token); err != nil {
			return OAuthFailed{Reason: "store_state_failed", Message: "authentication_failed"}, true
		}
		return nil, false
	}}

	urlEffect := effect.Future{Run: func(ctx context.Context) (effect.Action, bool) {
		url, err := env.OAuth.AuthorizationURL(a.Provider, stateParam)
		if err != nil {
			return OAuthFailed{Reason: "build_auth_url_failed", Message: "authentication_failed"}, true
		}
		return OAuthRedirectReady{URL: url}, true
	}}

	return state, effect.Merge(storeEffect, urlEffect), true
}

func handleOAuthCallback(state State, a OAuthCallback, env *Environment) (State, effect.Effect, bool) {
	// Clear synchronously, before the consume even runs.
	state.OAuthState = nil

	stateTokenID, err := domain.NewTokenID(a.State)
	if err != nil {
		return state, immediate(OAuthFailed{Reason: "invalid_state", Message: "authentication_failed"}), true
	}

	eff := effect.Future{Run: func(ctx context.Context) (effect.Action, bool) {
		tok, err := env.Tokens.Consume(ctx, stateTokenID, a.State)
		if err != nil {
			return OAuthFailed{Reason: "state_consume_failed", Message: "authentication_failed"}, true
		}

		provider, _ := tok.Data["provider"].(string)
		if provider == "" {
			return OAuthFailed{Reason: "missing_provider_tag", Message: "authentication_failed"}, true
		}

		providerTokens, err := env.OAuth.Exchange(ctx, provider, a.Code)
		if err != nil {
			return OAuthFailed{Reason: "exchange_failed", Message: "authentication_failed"}, true
		}
		if !isValidEmail(providerTokens.Email) {
			return OAuthFailed{Reason: "invalid_email_shape", Message: "authentication_failed"}, true
		}

		return OAuthSuccess{
			Email:        providerTokens.Email,
			Name:         providerTokens.Name,
			Provider:     provider,
			AccessToken:  providerTokens.AccessToken,
			RefreshToken: providerTokens.RefreshToken,
			IP:           a.IP,
			UserAgent:    a.UserAgent,
		}, true
	}}

	return state, eff, true
}

func handleOAuthSuccess(state State, a OAuthSuccess, env *Environment) (State, effect.Effect, bool) {
	if !isValidEmail(a.Email) {
		return state, immediate(OAuthFailed{Reason: "invalid_email_shape", Message: "authentication_failed"}), true
	}

	generatedUserID := domain.GenerateUserID()
	deviceID := domain.GenerateDeviceID()
	sessionID := domain.GenerateSessionID()
	now := env.Clock.Now()

	// Placeholder session installed synchronously so the caller's state
	// reflects "a login is in flight" before risk scoring and the event
	// append complete; it is replaced by SessionCreated's real record.
	placeholder := domain.Session{
		SessionID:      sessionID,
		UserID:         generatedUserID,
		DeviceID:       deviceID,
		Email:          a.Email,
		CreatedAt:      now,
		LastActive:     now,
		ExpiresAt:      now.Add(sessionTTL(env)),
		IdleTimeout:    idleTimeout(env),
		IPAddress:      a.IP,
		UserAgent:      a.UserAgent,
		OAuthProvider:  a.Provider,
		LoginRiskScore: domain.DefaultLoginRiskScore,
	}
	state.Session = &placeholder

	eff := effect.Future{Run: func(ctx context.Context) (effect.Action, bool) {
		finalUserID := generatedUserID
		isNewUser := true
		if existing, found, err := env.Users.FindUserByEmail(ctx, a.Email); err == nil && found {
			finalUserID = existing.UserID
			isNewUser = false
		}

		riskScore, err := env.Risk.Score(ctx, finalUserID, a.IP, a.UserAgent)
		if err != nil {
			riskScore = domain.DefaultLoginRiskScore
		}

		streamID := "user-" + finalUserID.String()
		events, err := buildOAuthEventBatch(streamID, finalUserID, deviceID, a, now, isNewUser)
		if err != nil {
			return OAuthFailed{Reason: "event_encode_failed", Message: "authentication_failed"}, true
		}

		if _, err := env.EventLog.AppendEvents(ctx, streamID, nil, events); err != nil {
			return OAuthFailed{Reason: "append_failed", Message: "authentication_failed"}, true
		}

		session := domain.Session{
			SessionID:      sessionID,
			UserID:         finalUserID,
			DeviceID:       deviceID,
			Email:          a.Email,
			CreatedAt:      now,
			LastActive:     now,
			ExpiresAt:      now.Add(sessionTTL(env)),
			IdleTimeout:    idleTimeout(env),
			IPAddress:      a.IP,
			UserAgent:      a.UserAgent,
			OAuthProvider:  a.Provider,
			LoginRiskScore: riskScore,
		}

		// Fatal: a user cannot be considered logged in without a durable
		// session record.
		if err := env.Sessions.Create(ctx, session, sessionTTL(env), maxConcurrent(env)); err != nil {
			return OAuthFailed{Reason: "session_create_failed", Message: "authentication_failed"}, true
		}

		// Non-fatal: losing the cached provider tokens only costs a future
		// silent-refresh; it does not undo a login that already succeeded.
		if env.OAuthTokens != nil {
			_ = env.OAuthTokens.SaveToken(ctx, eventstore.OAuthToken{
				UserID:       finalUserID,
				Provider:     a.Provider,
				AccessToken:  a.AccessToken,
				RefreshToken: a.RefreshToken,
				ExpiresAt:    now.Add(sessionTTL(env)),
			})
		}

		return SessionCreated{Session: session}, true
	}}

	return state, eff, true
}

func buildOAuthEventBatch(streamID string, userID domain.UserID, deviceID domain.DeviceID, a OAuthSuccess, now time.Time, isNewUser bool) ([]domain.Event, error) {
	var events []domain.Event

	if isNewUser {
		ev, err := marshalEvent(streamID, eventstore.EventUserRegistered, userRegisteredPayload{
			UserID:        userID.String(),
			Email:         a.Email,
			DisplayName:   a.Name,
			EmailVerified: true,
		}, now)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	linkEvent, err := marshalEvent(streamID, eventstore.EventOAuthAccountLinked, oauthAccountLinkedPayload{
		UserID:         userID.String(),
		Provider:       a.Provider,
		ProviderUserID: a.Email,
	}, now)
	if err != nil {
		return nil, err
	}
	events = append(events, linkEvent)

	deviceEvent, err := marshalEvent(streamID, eventstore.EventDeviceRegistered, deviceRegisteredPayload{
		DeviceID:   deviceID.String(),
		UserID:     userID.String(),
		DeviceType: string(domain.DeviceTypeOther),
		Platform:   a.UserAgent,
	}, now)
	if err != nil {
		return nil, err
	}
	events = append(events, deviceEvent)

	loginEvent, err := marshalEvent(streamID, eventUserLoggedIn, userLoggedInPayload{
		UserID:    userID.String(),
		Method:    "oauth",
		DeviceID:  deviceID.String(),
		IPAddress: a.IP,
	}, now)
	if err != nil {
		return nil, err
	}
	events = append(events, loginEvent)

	return events, nil
}
