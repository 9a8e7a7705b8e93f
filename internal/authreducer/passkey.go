package authreducer

import (
	"context"

	"github.com/aelexs/authcore/internal/auth"
	"github.com/aelexs/authcore/internal/domain"
	"github.com/aelexs/authcore/internal/effect"
	"github.com/aelexs/authcore/internal/eventstore"
)

// reducePasskey handles the WebAuthn passkey login family: registration
// issues and verifies an attestation, login issues and verifies an
// assertion, and every successful assertion is subject to the counter CAS
// decision before a session is ever created.
func reducePasskey(state State, action effect.Action, env *Environment) (State, effect.Effect, bool) {
	switch a := action.(type) {
	case BeginPasskeyRegistration:
		return handleBeginPasskeyRegistration(state, a, env)
	case PasskeyRegistrationChallengeIssued:
		challengeID, err := domain.NewTokenID(a.ChallengeID)
		if err != nil {
			return state, effect.None{}, true
		}
		state.PendingChallenge = &PendingChallengeFragment{ChallengeID: challengeID}
		return state, effect.None{}, true
	case FinishPasskeyRegistration:
		return handleFinishPasskeyRegistration(state, a, env)
	case PasskeyRegistered:
		return state, effect.None{}, true
	case PasskeyRegistrationFailed:
		state.LastError = a.Message
		return state, effect.None{}, true
	case BeginPasskeyLogin:
		return handleBeginPasskeyLogin(state, a, env)
	case PasskeyLoginChallengeIssued:
		challengeID, err := domain.NewTokenID(a.ChallengeID)
		if err != nil {
			return state, effect.None{}, true
		}
		state.PendingChallenge = &PendingChallengeFragment{ChallengeID: challengeID}
		return state, effect.None{}, true
	case FinishPasskeyLogin:
		return handleFinishPasskeyLogin(state, a, env)
	case PasskeyLoginFailed:
		state.LastError = a.Message
		return state, effect.None{}, true
	case CounterRollbackDetected:
		// The CAS layer already refused to advance the stored counter; this
		// only chains the user-facing failure through the dispatch path so
		// the audit/security layer can also observe CounterRollbackDetected
		// as a distinct, durable signal rather than losing it inside a
		// single PasskeyLoginFailed.
		return state, immediate(PasskeyLoginFailed{
			Reason:  "counter_rollback",
			Message: "authentication_failed",
		}), true
	case SessionCreated:
		session := a.Session
		state.Session = &session
		return state, effect.None{}, true
	default:
		return state, effect.None{}, false
	}
}

func handleBeginPasskeyRegistration(state State, a BeginPasskeyRegistration, env *Environment) (State, effect.Effect, bool) {
	userID, err := domain.NewUserID(a.UserID)
	if err != nil {
		return state, immediate(PasskeyRegistrationFailed{Reason: "invalid_user_id", Message: "authentication_failed"}), true
	}
	deviceID, err := domain.NewDeviceID(a.DeviceID)
	if err != nil {
		return state, immediate(PasskeyRegistrationFailed{Reason: "invalid_device_id", Message: "authentication_failed"}), true
	}

	challenge, err := auth.GenerateSecureToken()
	if err != nil {
		return state, immediate(PasskeyRegistrationFailed{Reason: "challenge_generation_failed", Message: "authentication_failed"}), true
	}
	now := env.Clock.Now()

	ttl := env.Policy.PasskeyChallengeTTL
	if ttl <= 0 {
		ttl = domain.PasskeyRegistrationChallengeTTL
	}

	tokenID, err := domain.NewTokenID(challenge)
	if err != nil {
		return state, immediate(PasskeyRegistrationFailed{Reason: "challenge_encode_failed", Message: "authentication_failed"}), true
	}

	token := domain.Token{
		TokenID: tokenID,
		Type:    domain.TokenTypePasskeyRegistrationChallenge,
		Secret:  challenge,
		Data: map[string]any{
			"user_id":   userID.String(),
			"device_id": deviceID.String(),
		},
		ExpiresAt: now.Add(ttl),
		StoredAt:  now,
	}

	eff := effect.Future{Run: func(ctx context.Context) (effect.Action, bool) {
		if err := env.Tokens.Store(ctx, token); err != nil {
			return PasskeyRegistrationFailed{Reason: "store_challenge_failed", Message: "authentication_failed"}, true
		}
		return PasskeyRegistrationChallengeIssued{ChallengeID: challenge, Challenge: challenge}, true
	}}

	return state, eff, true
}

func handleFinishPasskeyRegistration(state State, a FinishPasskeyRegistration, env *Environment) (State, effect.Effect, bool) {
	tokenID, err := domain.NewTokenID(a.ChallengeID)
	if err != nil {
		return state, immediate(PasskeyRegistrationFailed{Reason: "invalid_challenge", Message: "authentication_failed"}), true
	}

	eff := effect.Future{Run: func(ctx context.Context) (effect.Action, bool) {
		tok, err := env.Tokens.Consume(ctx, tokenID, a.ChallengeID)
		if err != nil {
			return PasskeyRegistrationFailed{Reason: "consume_failed", Message: "authentication_failed"}, true
		}

		userIDRaw, _ := tok.Data["user_id"].(string)
		deviceIDRaw, _ := tok.Data["device_id"].(string)
		userID, err := domain.NewUserID(userIDRaw)
		if err != nil {
			return PasskeyRegistrationFailed{Reason: "missing_user_id", Message: "authentication_failed"}, true
		}
		deviceID, err := domain.NewDeviceID(deviceIDRaw)
		if err != nil {
			return PasskeyRegistrationFailed{Reason: "missing_device_id", Message: "authentication_failed"}, true
		}

		result, err := env.WebAuthn.VerifyAttestation(ctx, a.ChallengeID, a.Attestation, a.ExpectedOrigin, a.ExpectedRPID)
		if err != nil {
			return PasskeyRegistrationFailed{Reason: "attestation_verification_failed", Message: "authentication_failed"}, true
		}

		credentialID, err := domain.NewCredentialID(result.CredentialID)
		if err != nil {
			return PasskeyRegistrationFailed{Reason: "invalid_credential_id", Message: "authentication_failed"}, true
		}

		now := env.Clock.Now()
		cred := domain.PasskeyCredential{
			CredentialID: credentialID,
			UserID:       userID,
			DeviceID:     deviceID,
			PublicKey:    result.PublicKey,
			Counter:      result.Counter,
			CreatedAt:    now,
			LastUsed:     now,
		}

		if err := env.Passkeys.RegisterCredential(ctx, cred); err != nil {
			return PasskeyRegistrationFailed{Reason: "persist_failed", Message: "authentication_failed"}, true
		}

		streamID := "user-" + userID.String()
		ev, err := marshalEvent(streamID, eventstore.EventPasskeyRegistered, passkeyRegisteredPayload{
			CredentialID: credentialID.String(),
			UserID:       userID.String(),
			DeviceID:     deviceID.String(),
			PublicKey:    result.PublicKey,
			Counter:      result.Counter,
		}, now)
		if err != nil {
			return PasskeyRegistrationFailed{Reason: "event_encode_failed", Message: "authentication_failed"}, true
		}

		if _, err := env.EventLog.AppendEvents(ctx, streamID, nil, []domain.Event{ev}); err != nil {
			return PasskeyRegistrationFailed{Reason: "append_failed", Message: "authentication_failed"}, true
		}

		return PasskeyRegistered{CredentialID: credentialID.String()}, true
	}}

	return state, eff, true
}

func handleBeginPasskeyLogin(state State, _ BeginPasskeyLogin, env *Environment) (State, effect.Effect, bool) {
	challenge, err := auth.GenerateSecureToken()
	if err != nil {
		return state, immediate(PasskeyLoginFailed{Reason: "challenge_generation_failed", Message: "authentication_failed"}), true
	}
	now := env.Clock.Now()

	ttl := env.Policy.PasskeyChallengeTTL
	if ttl <= 0 {
		ttl = domain.PasskeyChallengeTTL
	}

	tokenID, err := domain.NewTokenID(challenge)
	if err != nil {
		return state, immediate(PasskeyLoginFailed{Reason: "challenge_encode_failed", Message: "authentication_failed"}), true
	}

	token := domain.Token{
		TokenID:   tokenID,
		Type:      domain.TokenTypePasskeyAuthenticationChallenge,
		Secret:    challenge,
		ExpiresAt: now.Add(ttl),
		StoredAt:  now,
	}

	eff := effect.Future{Run: func(ctx context.Context) (effect.Action, bool) {
		if err := env.Tokens.Store(ctx, token); err != nil {
			return PasskeyLoginFailed{Reason: "store_challenge_failed", Message: "authentication_failed"}, true
		}
		return PasskeyLoginChallengeIssued{ChallengeID: challenge, Challenge: challenge}, true
	}}

	return state, eff, true
}

func handleFinishPasskeyLogin(state State, a FinishPasskeyLogin, env *Environment) (State, effect.Effect, bool) {
	tokenID, err := domain.NewTokenID(a.ChallengeID)
	if err != nil {
		return state, immediate(PasskeyLoginFailed{Reason: "invalid_challenge", Message: "authentication_failed"}), true
	}
	credentialID, err := domain.NewCredentialID(a.CredentialID)
	if err != nil {
		return state, immediate(PasskeyLoginFailed{Reason: "invalid_credential_id", Message: "authentication_failed"}), true
	}

	eff := effect.Future{Run: func(ctx context.Context) (effect.Action, bool) {
		if _, err := env.Tokens.Consume(ctx, tokenID, a.ChallengeID); err != nil {
			return PasskeyLoginFailed{Reason: "consume_failed", Message: "authentication_failed"}, true
		}

		cred, err := env.Passkeys.GetCredential(ctx, credentialID)
		if err != nil {
			return PasskeyLoginFailed{Reason: "unknown_credential", Message: "authentication_failed"}, true
		}

		result, err := env.WebAuthn.VerifyAssertion(ctx, a.ChallengeID, a.Assertion, cred.PublicKey, env.RPOrigin, env.RPID)
		if err != nil {
			return PasskeyLoginFailed{Reason: "assertion_verification_failed", Message: "authentication_failed"}, true
		}

		outcome, err := env.Passkeys.CompareAndSwapCounter(ctx, credentialID, result.Counter)
		if err != nil {
			return PasskeyLoginFailed{Reason: "counter_cas_failed", Message: "authentication_failed"}, true
		}

		switch outcome {
		case domain.CounterRollback:
			return CounterRollbackDetected{
				CredentialID:  credentialID.String(),
				StoredCounter: cred.Counter,
				NewCounter:    result.Counter,
			}, true
		case domain.CounterReplay:
			return PasskeyLoginFailed{Reason: "counter_replay", Message: "authentication_failed"}, true
		}

		now := env.Clock.Now()
		streamID := "user-" + cred.UserID.String()

		riskScore, err := env.Risk.Score(ctx, cred.UserID, a.IP, a.UserAgent)
		if err != nil {
			riskScore = domain.DefaultLoginRiskScore
		}

		usedEvent, err := marshalEvent(streamID, eventstore.EventPasskeyUsed, passkeyUsedPayload{
			CredentialID: credentialID.String(),
			Counter:      result.Counter,
		}, now)
		if err != nil {
			return PasskeyLoginFailed{Reason: "event_encode_failed", Message: "authentication_failed"}, true
		}

		loginEvent, err := marshalEvent(streamID, eventUserLoggedIn, userLoggedInPayload{
			UserID:    cred.UserID.String(),
			Method:    "passkey",
			DeviceID:  cred.DeviceID.String(),
			IPAddress: a.IP,
		}, now)
		if err != nil {
			return PasskeyLoginFailed{Reason: "event_encode_failed", Message: "authentication_failed"}, true
		}

		if _, err := env.EventLog.AppendEvents(ctx, streamID, nil, []domain.Event{usedEvent, loginEvent}); err != nil {
			return PasskeyLoginFailed{Reason: "append_failed", Message: "authentication_failed"}, true
		}

		session := domain.Session{
			SessionID:      domain.GenerateSessionID(),
			UserID:         cred.UserID,
			DeviceID:       cred.DeviceID,
			CreatedAt:      now,
			LastActive:     now,
			ExpiresAt:      now.Add(sessionTTL(env)),
			IdleTimeout:    idleTimeout(env),
			IPAddress:      a.IP,
			UserAgent:      a.UserAgent,
			LoginRiskScore: riskScore,
		}

		if err := env.Sessions.Create(ctx, session, sessionTTL(env), maxConcurrent(env)); err != nil {
			return PasskeyLoginFailed{Reason: "session_create_failed", Message: "authentication_failed"}, true
		}

		return SessionCreated{Session: session}, true
	}}

	return state, eff, true
}
