package authadapter

import (
	"context"

	"github.com/aelexs/authcore/internal/authreducer"
	"github.com/aelexs/authcore/internal/domain"
)

// Compile-time interface satisfaction check against the reducer's capability port.
var _ authreducer.RiskCalculator = (*HeuristicRiskCalculator)(nil)

// Risk scoring weights. A brand-new account with no session history scores
// highest since there is nothing yet to compare the login against; a
// returning device on a seen network scores lowest. These are heuristic
// constants, not a calibrated model — there is no fraud-signal or geoip
// dataset available to this adapter (see DESIGN.md on why
// oschwald/maxminddb-golang was considered and dropped).
const (
	riskNewAccount    = 0.6
	riskUnseenIP      = 0.3
	riskUnseenAgent   = 0.15
	riskKnownBaseline = 0.05
)

// sessionHistory is the narrow slice of sessionstore.Store this calculator
// needs: enough to tell whether an IP or user agent has shown up on any of
// the user's other live sessions.
type sessionHistory interface {
	GetUserSessions(ctx context.Context, userID domain.UserID) ([]domain.SessionID, error)
	Get(ctx context.Context, id domain.SessionID) (domain.Session, error)
}

// HeuristicRiskCalculator scores a login attempt by comparing its IP
// address and user agent against the requesting user's other live
// sessions. It never blocks a login on its own — callers that can't score
// in time fall back to domain.DefaultLoginRiskScore per the
// RiskCalculator contract.
type HeuristicRiskCalculator struct {
	sessions sessionHistory
}

// NewHeuristicRiskCalculator creates a HeuristicRiskCalculator backed by a
// session store.
func NewHeuristicRiskCalculator(sessions sessionHistory) *HeuristicRiskCalculator {
	return &HeuristicRiskCalculator{sessions: sessions}
}

// Score returns a risk value in [0, 1]. Higher means riskier.
func (c *HeuristicRiskCalculator) Score(ctx context.Context, userID domain.UserID, ip, userAgent string) (float64, error) {
	ids, err := c.sessions.GetUserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return riskNewAccount, nil
	}

	seenIP, seenAgent := false, false
	for _, id := range ids {
		sess, err := c.sessions.Get(ctx, id)
		if err != nil {
			continue
		}
		if ip != "" && sess.IPAddress == ip {
			seenIP = true
		}
		if userAgent != "" && sess.UserAgent == userAgent {
			seenAgent = true
		}
	}

	score := riskKnownBaseline
	if !seenIP {
		score += riskUnseenIP
	}
	if !seenAgent {
		score += riskUnseenAgent
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}
