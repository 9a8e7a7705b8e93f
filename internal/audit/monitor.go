package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aelexs/authcore/internal/domain"
)

// IncidentType classifies a derived security incident.
type IncidentType string

const (
	IncidentBruteForceAttack IncidentType = "brute_force_attack"
)

// Incident is a pattern the monitor derived from a window of failed-auth
// audit events — never a single event.
type Incident struct {
	Type      IncidentType
	Threat    domain.ThreatLevel
	SourceIP  string
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// FailedAuthLister is the audit store's read side the monitor depends on.
type FailedAuthLister interface {
	ListFailedAuthSince(ctx context.Context, since time.Time) ([]domain.AuditEvent, error)
}

// SecurityMonitor derives incidents from recent failed-auth audit events.
type SecurityMonitor struct {
	store FailedAuthLister
}

// NewSecurityMonitor creates a SecurityMonitor backed by store.
func NewSecurityMonitor(store FailedAuthLister) *SecurityMonitor {
	return &SecurityMonitor{store: store}
}

// DeriveIncidents groups the failed-auth events recorded in the last window
// by source IP and emits a BruteForceAttack incident for every IP whose
// failure count meets domain.BruteForceIPThreshold.
func (m *SecurityMonitor) DeriveIncidents(ctx context.Context, window time.Duration) ([]Incident, error) {
	ctx, span := tracer.Start(ctx, "audit.derive_incidents")
	defer span.End()

	since := time.Now().Add(-window)
	events, err := m.store.ListFailedAuthSince(ctx, since)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("derive incidents: %w", err)
	}

	type bucket struct {
		count     int
		firstSeen time.Time
		lastSeen  time.Time
	}
	byIP := make(map[string]*bucket)
	for _, ev := range events {
		if ev.SourceIP == "" {
			continue
		}
		b, ok := byIP[ev.SourceIP]
		if !ok {
			b = &bucket{firstSeen: ev.Timestamp, lastSeen: ev.Timestamp}
			byIP[ev.SourceIP] = b
		}
		b.count++
		if ev.Timestamp.Before(b.firstSeen) {
			b.firstSeen = ev.Timestamp
		}
		if ev.Timestamp.After(b.lastSeen) {
			b.lastSeen = ev.Timestamp
		}
	}

	var incidents []Incident
	for ip, b := range byIP {
		if b.count < domain.BruteForceIPThreshold {
			continue
		}
		incidents = append(incidents, Incident{
			Type:      IncidentBruteForceAttack,
			Threat:    threatFor(b.count),
			SourceIP:  ip,
			Count:     b.count,
			FirstSeen: b.firstSeen,
			LastSeen:  b.lastSeen,
		})
	}

	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].Count > incidents[j].Count
	})

	return incidents, nil
}

// threatFor scales an incident's threat level with how far past the
// brute-force threshold its failure count sits.
func threatFor(count int) domain.ThreatLevel {
	switch {
	case count >= domain.BruteForceIPThreshold*4:
		return domain.ThreatCritical
	case count >= domain.BruteForceIPThreshold*2:
		return domain.ThreatHigh
	default:
		return domain.ThreatMedium
	}
}
