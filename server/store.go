package main

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/trustplane/trustplane/pkg/threat"
)

var errIncidentNotFound = errors.New("incident not found")

// incidentStore persists incidents and assessments to the relational store.
type incidentStore struct {
	db *gorm.DB
}

func newIncidentStore(db *gorm.DB) *incidentStore {
	return &incidentStore{db: db}
}

func (s *incidentStore) SaveIncident(ctx context.Context, incident threat.Incident) error {
	record := IncidentRecord{
		IncidentID:  incident.ID,
		SubjectID:   incident.SubjectID,
		EventID:     incident.EventID,
		Severity:    string(incident.Severity),
		Description: incident.Description,
		RiskScore:   incident.RiskScore,
		ThreatCount: incident.ThreatCount,
		OpenedAt:    incident.OpenedAt,
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

func (s *incidentStore) SaveAssessment(ctx context.Context, assessment threat.Assessment) error {
	threats, err := json.Marshal(assessment.Threats)
	if err != nil {
		return err
	}
	record := AssessmentRecord{
		SubjectID:  assessment.SubjectID,
		EventID:    assessment.EventID,
		RiskScore:  assessment.RiskScore,
		RiskLevel:  string(assessment.RiskLevel),
		Threats:    string(threats),
		AssessedAt: assessment.AssessedAt,
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// ListIncidents returns the most recently opened incidents, newest first.
func (s *incidentStore) ListIncidents(ctx context.Context, limit int) ([]threat.Incident, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []IncidentRecord
	err := s.db.WithContext(ctx).Order("opened_at desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}
	incidents := make([]threat.Incident, 0, len(records))
	for _, r := range records {
		incidents = append(incidents, r.toIncident())
	}
	return incidents, nil
}

// GetIncident returns one incident with the assessments recorded for its
// triggering event.
func (s *incidentStore) GetIncident(ctx context.Context, id string) (threat.Incident, []threat.Assessment, error) {
	var record IncidentRecord
	err := s.db.WithContext(ctx).Where("incident_id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return threat.Incident{}, nil, errIncidentNotFound
	}
	if err != nil {
		return threat.Incident{}, nil, err
	}

	var assessmentRecords []AssessmentRecord
	err = s.db.WithContext(ctx).
		Where("subject_id = ? AND event_id = ?", record.SubjectID, record.EventID).
		Order("assessed_at desc").
		Find(&assessmentRecords).Error
	if err != nil {
		return threat.Incident{}, nil, err
	}

	assessments := make([]threat.Assessment, 0, len(assessmentRecords))
	for _, r := range assessmentRecords {
		assessment := threat.Assessment{
			SubjectID:  r.SubjectID,
			EventID:    r.EventID,
			RiskScore:  r.RiskScore,
			RiskLevel:  threat.RiskLevel(r.RiskLevel),
			AssessedAt: r.AssessedAt,
		}
		if r.Threats != "" {
			if err := json.Unmarshal([]byte(r.Threats), &assessment.Threats); err != nil {
				return threat.Incident{}, nil, err
			}
		}
		assessments = append(assessments, assessment)
	}
	return record.toIncident(), assessments, nil
}

var _ threat.IncidentRepository = (*incidentStore)(nil)
