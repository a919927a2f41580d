package main

import (
	"time"

	"github.com/trustplane/trustplane/pkg/threat"
)

// IncidentRecord is the persisted form of an opened incident.
type IncidentRecord struct {
	ID          uint   `gorm:"primaryKey"`
	IncidentID  string `gorm:"uniqueIndex"`
	SubjectID   string `gorm:"index"`
	EventID     string
	Severity    string
	Description string
	RiskScore   float64
	ThreatCount int
	OpenedAt    time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// AssessmentRecord is the persisted form of a high-risk assessment. The
// individual threats are stored as a JSON blob.
type AssessmentRecord struct {
	ID         uint   `gorm:"primaryKey"`
	SubjectID  string `gorm:"index"`
	EventID    string `gorm:"index"`
	RiskScore  float64
	RiskLevel  string
	Threats    string `gorm:"type:text"`
	AssessedAt time.Time
	CreatedAt  time.Time
}

func (r IncidentRecord) toIncident() threat.Incident {
	return threat.Incident{
		ID:          r.IncidentID,
		SubjectID:   r.SubjectID,
		EventID:     r.EventID,
		Severity:    threat.RiskLevel(r.Severity),
		Description: r.Description,
		RiskScore:   r.RiskScore,
		ThreatCount: r.ThreatCount,
		OpenedAt:    r.OpenedAt,
	}
}
