package authreducer

import (
	"context"

	"github.com/aelexs/authcore/internal/auth"
	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/effect"
	"github.com/aelexs/authcore/internal/eventstore"
)

// reduceMagicLink handles the magic-link login family: a single-use,
// emailed token that plays the same role OAuth's state param
// plays for the OAuth family — routed and validated entirely through the
// token store's uniform consume path, so replay, concurrent clicks, and
// expiry are indistinguishable to the caller.
func reduceMagicLink(state State, action effect.Action, env *Environment) (State, effect.Effect, bool) {
	switch a := action.(type) {
	case SendMagicLinkRequested:
		return handleSendMagicLink(state, a, env)
	case MagicLinkSent:
		return state, effect.None{}, true
	case VerifyMagicLink:
		return handleVerifyMagicLink(state, a, env)
	case MagicLinkFailed:
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

func handleSendMagicLink(state State, a SendMagicLinkRequested, env *Environment) (State, effect.Effect, bool) {
	if !isValidEmail(a.Email) {
		return state, immediate(MagicLinkFailed{Reason: "invalid_email_shape", Message: "authentication_failed"}), true
	}

	rawToken, err := auth.GenerateSecureToken()
	if err != nil {
		return state, immediate(MagicLinkFailed{Reason: "token_generation_failed", Message: "authentication_failed"}), true
	}
	hash := auth.HashToken(rawToken)
	now := env.Clock.Now()

	ttl := env.Policy.MagicLinkTTL
	if ttl <= 0 {
		ttl = domain.MagicLinkTokenTTL
	}

	tokenID, err := domain.NewTokenID(hash)
	if err != nil {
		return state, immediate(MagicLinkFailed{Reason: "token_encode_failed", Message: "authentication_failed"}), true
	}

	token := domain.Token{
		TokenID:   tokenID,
		Type:      domain.TokenTypeMagicLink,
		Secret:    rawToken,
		Data:      map[string]any{"email": a.Email},
		ExpiresAt: now.Add(ttl),
		StoredAt:  now,
	}

	verifyURL := env.BaseURL + env.VerifyPath + "?token=" + rawToken

	eff := effect.Future{Run: func(ctx context.Context) (effect.Action, bool) {
		if err := env.Tokens.Store(ctx, token); err != nil {
			return MagicLinkFailed{Reason: "store_failed", Message: "authentication_failed"}, true
		}
		if err := env.Email.SendMagicLink(ctx, a.Email, verifyURL); err != nil {
			return MagicLinkFailed{Reason: "delivery_failed", Message: "authentication_failed"}, true
		}
		return MagicLinkSent{Email: a.Email}, true
	}}

	return state, eff, true
}

func handleVerifyMagicLink(state State, a VerifyMagicLink, env *Environment) (State, effect.Effect, bool) {
	hash := auth.HashToken(a.Token)
	tokenID, err := domain.NewTokenID(hash)
	if err != nil {
		return state, immediate(MagicLinkFailed{Reason: "invalid_token_shape", Message: "authentication_failed"}), true
	}

	eff := effect.Future{Run: func(ctx context.Context) (effect.Action, bool) {
		tok, err := env.Tokens.Consume(ctx, tokenID, a.Token)
		if err != nil {
			return MagicLinkFailed{Reason: "consume_failed", Message: "authentication_failed"}, true
		}

		email, _ := tok.Data["email"].(string)
		if email == "" {
			return MagicLinkFailed{Reason: "missing_email", Message: "authentication_failed"}, true
		}

		now := env.Clock.Now()
		userID := domain.GenerateUserID()
		isNewUser := true
		if existing, found, err := env.Users.FindUserByEmail(ctx, email); err == nil && found {
			userID = existing.UserID
			isNewUser = false
		}
		deviceID := domain.GenerateDeviceID()

		riskScore, err := env.Risk.Score(ctx, userID, a.IP, a.UserAgent)
		if err != nil {
			riskScore = domain.DefaultLoginRiskScore
		}

		streamID := "user-" + userID.String()
		var events []domain.Event

		if isNewUser {
			ev, err := marshalEvent(streamID, eventstore.EventUserRegistered, userRegisteredPayload{
				UserID:        userID.String(),
				Email:         email,
				EmailVerified: true,
			}, now)
			if err != nil {
				return MagicLinkFailed{Reason: "event_encode_failed", Message: "authentication_failed"}, true
			}
			events = append(events, ev)
		}

		deviceEvent, err := marshalEvent(streamID, eventstore.EventDeviceRegistered, deviceRegisteredPayload{
			DeviceID:   deviceID.String(),
			UserID:     userID.String(),
			DeviceType: string(domain.DeviceTypeOther),
			Platform:   a.UserAgent,
		}, now)
		if err != nil {
			return MagicLinkFailed{Reason: "event_encode_failed", Message: "authentication_failed"}, true
		}
		events = append(events, deviceEvent)

		loginEvent, err := marshalEvent(streamID, eventUserLoggedIn, userLoggedInPayload{
			UserID:    userID.String(),
			Method:    "magic_link",
			DeviceID:  deviceID.String(),
			IPAddress: a.IP,
		}, now)
		if err != nil {
			return MagicLinkFailed{Reason: "event_encode_failed", Message: "authentication_failed"}, true
		}
		events = append(events, loginEvent)

		if _, err := env.EventLog.AppendEvents(ctx, streamID, nil, events); err != nil {
			return MagicLinkFailed{Reason: "append_failed", Message: "authentication_failed"}, true
		}

		session := domain.Session{
			SessionID:      domain.GenerateSessionID(),
			UserID:         userID,
			DeviceID:       deviceID,
			Email:          email,
			CreatedAt:      now,
			LastActive:     now,
			ExpiresAt:      now.Add(sessionTTL(env)),
			IdleTimeout:    idleTimeout(env),
			IPAddress:      a.IP,
			UserAgent:      a.UserAgent,
			LoginRiskScore: riskScore,
		}

		if err := env.Sessions.Create(ctx, session, sessionTTL(env), maxConcurrent(env)); err != nil {
			return MagicLinkFailed{Reason: "session_create_failed", Message: "authentication_failed"}, true
		}

		return SessionCreated{Session: session}, true
	}}

	return state, eff, true
}
