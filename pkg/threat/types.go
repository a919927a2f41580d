// Package threat analyzes security events with independent detectors and
// aggregates their findings into a weighted risk score.
package threat

import (
	"context"
	"time"
)

// Kind is the closed set of threat categories the detectors can emit.
type Kind string

const (
	BehavioralAnomaly   Kind = "behavioral_anomaly"
	BruteForceAttack    Kind = "brute_force_attack"
	PrivilegeEscalation Kind = "privilege_escalation"
	DataBreach          Kind = "data_breach"
	MaliciousNetwork    Kind = "malicious_network"
	AutomatedAttack     Kind = "automated_attack"
	AnonymousNetwork    Kind = "anonymous_network"
	SystemFailure       Kind = "system_failure"
)

// Severity grades an individual threat.
type Severity string

const (
	SeverityInformational Severity = "informational"
	SeverityLow           Severity = "low"
	SeverityMedium        Severity = "medium"
	SeverityHigh          Severity = "high"
	SeverityCritical      Severity = "critical"
)

// RiskLevel buckets the aggregate risk score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskMinimal:  0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// AtLeast reports whether l is at or above bound.
func (l RiskLevel) AtLeast(bound RiskLevel) bool {
	return riskRank[l] >= riskRank[bound]
}

// SecurityEvent is one observed event under analysis.
type SecurityEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Resource  string    `json:"resource"`
	Location  string    `json:"location"`
}

// SecurityThreat is one detector finding.
type SecurityThreat struct {
	Kind        Kind     `json:"kind"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Indicators  []string `json:"indicators,omitempty"`
}

// Assessment is the aggregate result of analyzing one event.
type Assessment struct {
	SubjectID  string           `json:"subject_id"`
	EventID    string           `json:"event_id"`
	Threats    []SecurityThreat `json:"threats"`
	RiskScore  float64          `json:"risk_score"`
	RiskLevel  RiskLevel        `json:"risk_level"`
	AssessedAt time.Time        `json:"assessed_at"`
}

// Incident is opened for assessments at or above high risk.
type Incident struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subject_id"`
	EventID     string    `json:"event_id"`
	Severity    RiskLevel `json:"severity"`
	Description string    `json:"description"`
	RiskScore   float64   `json:"risk_score"`
	ThreatCount int       `json:"threat_count"`
	OpenedAt    time.Time `json:"opened_at"`
}

// IncidentRepository persists incidents and assessments. Writes are
// fire-and-forget from the engine's perspective: failures are surfaced as a
// degraded result, never as an evaluation failure.
type IncidentRepository interface {
	SaveIncident(ctx context.Context, incident Incident) error
	SaveAssessment(ctx context.Context, assessment Assessment) error
}

// EventHistory supplies trailing-window event counts for the velocity
// detector and records each analyzed event.
type EventHistory interface {
	Record(ctx context.Context, subjectID string, ev SecurityEvent) error
	CountSince(ctx context.Context, subjectID string, since time.Time) (int, error)
	CountTypesSince(ctx context.Context, subjectID string, types []string, since time.Time) (int, error)
}

// Feed is the external threat-intelligence lookup. Findings are surfaced as
// threats verbatim.
type Feed interface {
	CheckIPReputation(ctx context.Context, ip string) ([]SecurityThreat, error)
	CheckUserAgent(ctx context.Context, userAgent string) ([]SecurityThreat, error)
}

// NetworkIndicators answers range-level questions about an address.
type NetworkIndicators interface {
	IsMaliciousNetwork(ip string) bool
	IsTorExit(ip string) bool
}
