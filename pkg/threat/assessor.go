package threat

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RiskWeights are the severity weights and type multipliers used when
// aggregating threats into one risk score.
type RiskWeights struct {
	Severity map[Severity]float64 `yaml:"severity"`
	Type     map[Kind]float64     `yaml:"type"`
}

// DefaultRiskWeights returns the production weighting tables.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		Severity: map[Severity]float64{
			SeverityCritical:      1.0,
			SeverityHigh:          0.8,
			SeverityMedium:        0.5,
			SeverityLow:           0.2,
			SeverityInformational: 0.1,
		},
		Type: map[Kind]float64{
			DataBreach:          1.5,
			PrivilegeEscalation: 1.3,
			BruteForceAttack:    1.2,
			MaliciousNetwork:    1.1,
			AutomatedAttack:     1.1,
		},
	}
}

func (w RiskWeights) severityWeight(s Severity) float64 {
	if v, ok := w.Severity[s]; ok {
		return v
	}
	return w.Severity[SeverityLow]
}

func (w RiskWeights) typeMultiplier(k Kind) float64 {
	if v, ok := w.Type[k]; ok {
		return v
	}
	return 1.0
}

// Assessor runs the detectors concurrently and aggregates their findings.
// It is stateless and safe for concurrent use.
type Assessor struct {
	detectors []Detector
	weights   RiskWeights
	history   EventHistory
	logger    zerolog.Logger
}

// NewAssessor builds an assessor over the given detectors. The history, when
// non-nil, records every analyzed event so the velocity detector sees it on
// subsequent calls.
func NewAssessor(detectors []Detector, weights RiskWeights, history EventHistory, logger zerolog.Logger) *Assessor {
	return &Assessor{detectors: detectors, weights: weights, history: history, logger: logger}
}

// Assess analyzes one event. Detector failures never surface as errors: each
// failing detector contributes a synthetic high-severity system-failure
// threat and forces the risk level to critical.
func (a *Assessor) Assess(ctx context.Context, subjectID string, ev SecurityEvent) Assessment {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if a.history != nil {
		if err := a.history.Record(ctx, subjectID, ev); err != nil {
			a.logger.Warn().Err(err).Str("subject", subjectID).Msg("event history write failed")
		}
	}

	results := make([][]SecurityThreat, len(a.detectors))
	failures := make([]error, len(a.detectors))

	var wg sync.WaitGroup
	for i, d := range a.detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					failures[i] = fmt.Errorf("detector %s panicked: %v", d.Name(), r)
				}
			}()
			threats, err := d.Detect(ctx, subjectID, ev)
			if err != nil {
				failures[i] = fmt.Errorf("detector %s: %w", d.Name(), err)
				return
			}
			results[i] = threats
		}(i, d)
	}
	wg.Wait()

	var threats []SecurityThreat
	for _, r := range results {
		threats = append(threats, r...)
	}

	degraded := false
	for _, err := range failures {
		if err == nil {
			continue
		}
		degraded = true
		a.logger.Error().Err(err).Str("subject", subjectID).Str("event", ev.ID).Msg("detector failed")
		threats = append(threats, SecurityThreat{
			Kind:        SystemFailure,
			Severity:    SeverityHigh,
			Description: err.Error(),
		})
	}

	score := a.riskScore(threats)
	level := riskLevelFor(score)
	if degraded {
		level = RiskCritical
	}

	return Assessment{
		SubjectID:  subjectID,
		EventID:    ev.ID,
		Threats:    threats,
		RiskScore:  score,
		RiskLevel:  level,
		AssessedAt: time.Now(),
	}
}

// riskScore is the mean threat weight amplified by threat count, capped at
// 1.5x and clamped to [0,1].
func (a *Assessor) riskScore(threats []SecurityThreat) float64 {
	if len(threats) == 0 {
		return 0
	}
	var sum float64
	for _, t := range threats {
		sum += a.weights.severityWeight(t.Severity) * a.weights.typeMultiplier(t.Kind)
	}
	mean := sum / float64(len(threats))
	amplifier := math.Min(1.5, 1+0.1*float64(len(threats)-1))
	score := mean * amplifier
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

func riskLevelFor(score float64) RiskLevel {
	switch {
	case score >= 0.9:
		return RiskCritical
	case score >= 0.7:
		return RiskHigh
	case score >= 0.5:
		return RiskMedium
	case score >= 0.2:
		return RiskLow
	default:
		return RiskMinimal
	}
}
