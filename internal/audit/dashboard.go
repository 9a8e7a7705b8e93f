package audit

import (
	"sort"

	"github.com/aelexs/authcore/internal/domain"
)

// Attacker summarizes one source IP's contribution to the incident set.
type Attacker struct {
	SourceIP string
	Count    int
}

// Dashboard is the pure projection over a set of incidents: the busiest
// attackers and the most severe recent incidents, each capped so the
// view stays bounded regardless of how many incidents were derived.
type Dashboard struct {
	TopAttackers    []Attacker
	RecentIncidents []Incident
}

// BuildDashboard computes a Dashboard from incidents. It performs no I/O —
// DeriveIncidents is the only place that touches the store.
func BuildDashboard(incidents []Incident) Dashboard {
	attackers := make([]Attacker, 0, len(incidents))
	for _, inc := range incidents {
		attackers = append(attackers, Attacker{SourceIP: inc.SourceIP, Count: inc.Count})
	}
	sort.Slice(attackers, func(i, j int) bool {
		return attackers[i].Count > attackers[j].Count
	})
	if len(attackers) > domain.TopAttackersLimit {
		attackers = attackers[:domain.TopAttackersLimit]
	}

	critical := make([]Incident, 0, len(incidents))
	for _, inc := range incidents {
		if inc.Threat == domain.ThreatHigh || inc.Threat == domain.ThreatCritical {
			critical = append(critical, inc)
		}
	}
	sort.Slice(critical, func(i, j int) bool {
		return critical[i].LastSeen.After(critical[j].LastSeen)
	})
	if len(critical) > domain.RecentIncidentsLimit {
		critical = critical[:domain.RecentIncidentsLimit]
	}

	return Dashboard{
		TopAttackers:    attackers,
		RecentIncidents: critical,
	}
}
