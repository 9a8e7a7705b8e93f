package authreducer

import (
	"time"

	"github.com/aelexs/authcore/internal/domain"
)

// OAuthStateFragment is the in-memory copy of the CSRF state the OAuth
// reducer holds between InitiateOAuth and OAuthCallback, mirrored (not
// replacing) the durable copy written to the token store.
type OAuthStateFragment struct {
	StateParam  string
	Provider    string
	InitiatedAt time.Time
}

// PendingChallengeFragment is the in-memory copy of an outstanding WebAuthn
// challenge, mirroring the durable token-store copy the same way
// OAuthStateFragment does for OAuth.
type PendingChallengeFragment struct {
	ChallengeID domain.TokenID
	UserID      domain.UserID
	DeviceID    domain.DeviceID
}

// State is the reducer-owned state fragment for one login attempt. A store
// holds exactly one State value per in-flight attempt; completed attempts
// leave Session populated. OAuthCallback clears OAuthState; PendingChallenge
// is left as set when a passkey ceremony finishes.
type State struct {
	OAuthState       *OAuthStateFragment
	PendingChallenge *PendingChallengeFragment
	Session          *domain.Session
	LastError        string
}
