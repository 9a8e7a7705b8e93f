package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aelexs/authcore/internal/audit"
	"github.com/aelexs/authcore/internal/auth"
	"github.com/aelexs/authcore/internal/authreducer"
	"github.com/aelexs/authcore/internal/errmap"
)

// handlers bundles the reducer environment and the ambient auth
// capabilities (token minting/validation, revocation, security monitoring)
// that sit outside the reducer's own closure. Every request builds a fresh
// authreducer.Store: nothing about the auth guarantees depends on two
// requests sharing one store instance (see authreducer.Store's doc comment).
type handlers struct {
	env         *authreducer.Environment
	minter      *auth.Minter
	validator   *auth.Validator
	revocations authadapterRevoker
	monitor     *audit.SecurityMonitor
	logger      *slog.Logger
}

// authadapterRevoker is the narrow revocation-store capability handlers
// needs: check and revoke by JWT id. Satisfied by *authadapter.RevocationStore.
type authadapterRevoker interface {
	Revoke(ctx context.Context, jti string) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/oauth/{provider}/start", h.handleOAuthStart)
	mux.HandleFunc("GET /v1/oauth/{provider}/callback", h.handleOAuthCallback)
	mux.HandleFunc("POST /v1/magic-link/send", h.handleSendMagicLink)
	mux.HandleFunc("POST /v1/magic-link/verify", h.handleVerifyMagicLink)
	mux.HandleFunc("POST /v1/passkeys/login/begin", h.handleBeginPasskeyLogin)
	mux.HandleFunc("POST /v1/passkeys/login/finish", h.handleFinishPasskeyLogin)
	mux.HandleFunc("POST /v1/passkeys/register/begin", h.handleBeginPasskeyRegistration)
	mux.HandleFunc("POST /v1/passkeys/register/finish", h.handleFinishPasskeyRegistration)
	mux.HandleFunc("GET /v1/whoami", h.handleWhoAmI)
	mux.HandleFunc("GET /v1/security/incidents", h.handleSecurityIncidents)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeHTTPError(w http.ResponseWriter, err error) {
	httpErr := errmap.ToHTTPError(err)
	writeJSON(w, httpErr.StatusCode, httpErr)
}

// sessionResponse is the JSON shape every login-completing endpoint
// returns once a session lands: a minted access token plus the session
// record's public fields.
type sessionResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
}

func (h *handlers) mintSessionResponse(state authreducer.State) (sessionResponse, error) {
	sess := state.Session
	mint, err := h.minter.MintAccessToken(sess.UserID.String(), sess.SessionID.String())
	if err != nil {
		return sessionResponse{}, err
	}
	return sessionResponse{
		AccessToken: mint.Token,
		ExpiresAt:   mint.ExpiresAt,
		SessionID:   sess.SessionID.String(),
		UserID:      sess.UserID.String(),
	}, nil
}

// handleOAuthStart dispatches InitiateOAuth and redirects to the resulting
// authorization URL. InitiateOAuth's OAuthRedirectReady effect does not
// mutate reducer state (the URL is a pure function of provider and state
// param, not a durable fact worth tracking), so the handler re-derives it
// from the CSRF state param the reducer did persist.
func (h *handlers) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	store := authreducer.NewStore(h.env)
	state := store.DispatchAndWait(r.Context(), authreducer.InitiateOAuth{
		Provider:  provider,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})

	if state.OAuthState == nil {
		writeJSON(w, http.StatusBadRequest, errmap.HTTPError{Code: "INVALID_ARGUMENT", Message: "unknown provider"})
		return
	}

	url, err := h.env.OAuth.AuthorizationURL(provider, state.OAuthState.StateParam)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *handlers) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	stateParam := r.URL.Query().Get("state")

	store := authreducer.NewStore(h.env)
	state := store.DispatchAndWait(r.Context(), authreducer.OAuthCallback{
		Code:      code,
		State:     stateParam,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})

	if state.Session == nil {
		writeJSON(w, http.StatusUnauthorized, errmap.HTTPError{Code: "AUTHENTICATION_FAILED", Message: "authentication_failed"})
		return
	}
	resp, err := h.mintSessionResponse(state)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleSendMagicLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errmap.HTTPError{Code: "INVALID_ARGUMENT", Message: "malformed request body"})
		return
	}

	store := authreducer.NewStore(h.env)
	state := store.DispatchAndWait(r.Context(), authreducer.SendMagicLinkRequested{Email: req.Email})
	if state.LastError != "" {
		writeJSON(w, http.StatusBadRequest, errmap.HTTPError{Code: "INVALID_ARGUMENT", Message: state.LastError})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *handlers) handleVerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errmap.HTTPError{Code: "INVALID_ARGUMENT", Message: "malformed request body"})
		return
	}

	store := authreducer.NewStore(h.env)
	state := store.DispatchAndWait(r.Context(), authreducer.VerifyMagicLink{
		Token:     req.Token,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})

	if state.Session == nil {
		writeJSON(w, http.StatusUnauthorized, errmap.HTTPError{Code: "AUTHENTICATION_FAILED", Message: "authentication_failed"})
		return
	}
	resp, err := h.mintSessionResponse(state)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleBeginPasskeyLogin(w http.ResponseWriter, r *http.Request) {
	store := authreducer.NewStore(h.env)
	state := store.DispatchAndWait(r.Context(), authreducer.BeginPasskeyLogin{})

	if state.PendingChallenge == nil {
		writeJSON(w, http.StatusInternalServerError, errmap.HTTPError{Code: "INTERNAL", Message: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"challenge_id": state.PendingChallenge.ChallengeID.String(),
		"challenge":    state.PendingChallenge.ChallengeID.String(),
	})
}

// handleBeginPasskeyRegistration issues a registration challenge for an
// already-authenticated user adding a new passkey. Session authentication
// on this route is left to an edge proxy/API gateway in this demonstration
// surface; the handler takes the user and device ids directly.
func (h *handlers) handleBeginPasskeyRegistration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errmap.HTTPError{Code: "INVALID_ARGUMENT", Message: "malformed request body"})
		return
	}

	store := authreducer.NewStore(h.env)
	state := store.DispatchAndWait(r.Context(), authreducer.BeginPasskeyRegistration{
		UserID:   req.UserID,
		DeviceID: req.DeviceID,
	})

	if state.PendingChallenge == nil {
		writeJSON(w, http.StatusBadRequest, errmap.HTTPError{Code: "INVALID_ARGUMENT", Message: state.LastError})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"challenge_id": state.PendingChallenge.ChallengeID.String(),
		"challenge":    state.PendingChallenge.ChallengeID.String(),
	})
}

func (h *handlers) handleFinishPasskeyRegistration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeID    string `json:"challenge_id"`
		Attestation    []byte `json:"attestation"`
		ExpectedOrigin string `json:"expected_origin"`
		ExpectedRPID   string `json:"expected_rp_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errmap.HTTPError{Code: "INVALID_ARGUMENT", Message: "malformed request body"})
		return
	}

	store := authreducer.NewStore(h.env)
	state := store.DispatchAndWait(r.Context(), authreducer.FinishPasskeyRegistration{
		ChallengeID:    req.ChallengeID,
		Attestation:    req.Attestation,
		ExpectedOrigin: req.ExpectedOrigin,
		ExpectedRPID:   req.ExpectedRPID,
	})

	if state.LastError != "" {
		writeJSON(w, http.StatusBadRequest, errmap.HTTPError{Code: "INVALID_ARGUMENT", Message: state.LastError})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (h *handlers) handleFinishPasskeyLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeID  string `json:"challenge_id"`
		CredentialID string `json:"credential_id"`
		Assertion    []byte `json:"assertion"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errmap.HTTPError{Code: "INVALID_ARGUMENT", Message: "malformed request body"})
		return
	}

	store := authreducer.NewStore(h.env)
	state := store.DispatchAndWait(r.Context(), authreducer.FinishPasskeyLogin{
		ChallengeID:  req.ChallengeID,
		CredentialID: req.CredentialID,
		Assertion:    req.Assertion,
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	})

	if state.Session == nil {
		writeJSON(w, http.StatusUnauthorized, errmap.HTTPError{Code: "AUTHENTICATION_FAILED", Message: "authentication_failed"})
		return
	}
	resp, err := h.mintSessionResponse(state)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWhoAmI is the one Bearer-token-validating route in this demonstration
// surface: it exercises auth.Validator and the revocation store directly,
// independent of the reducer's session flows.
func (h *handlers) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	authz := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, errmap.HTTPError{Code: "AUTHENTICATION_FAILED", Message: "authentication_failed"})
		return
	}

	claims, err := h.validator.ValidateAccessToken(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errmap.HTTPError{Code: "AUTHENTICATION_FAILED", Message: "authentication_failed"})
		return
	}

	revoked, err := h.revocations.IsRevoked(r.Context(), claims.ID)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	if revoked {
		writeJSON(w, http.StatusUnauthorized, errmap.HTTPError{Code: "AUTHENTICATION_FAILED", Message: "authentication_failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":    claims.Subject,
		"session_id": claims.SessionID,
	})
}

// handleSecurityIncidents surfaces the security monitor's brute-force
// detection over a fixed one-hour window. Intended for operator/admin
// tooling, not end-user traffic.
func (h *handlers) handleSecurityIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.monitor.DeriveIncidents(r.Context(), time.Hour)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}
