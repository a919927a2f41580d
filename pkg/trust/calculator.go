// Package trust computes a continuous trust score from device, location,
// behavior, and credential signals.
package trust

import (
	"context"
	"math"

	"github.com/trustplane/trustplane/pkg/signals"
)

// Level is the discrete bucket a trust score falls into.
type Level string

const (
	LevelUntrusted Level = "untrusted"
	LevelVeryLow   Level = "very_low"
	LevelLow       Level = "low"
	LevelMedium    Level = "medium"
	LevelHigh      Level = "high"
	LevelVeryHigh  Level = "very_high"
)

// Weights holds the contribution of each sub-score to the overall score.
// They must sum to 1.0.
type Weights struct {
	Device     float64 `yaml:"device"`
	Location   float64 `yaml:"location"`
	Behavior   float64 `yaml:"behavior"`
	Credential float64 `yaml:"credential"`
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{Device: 0.25, Location: 0.20, Behavior: 0.30, Credential: 0.25}
}

// Sum returns the total of all four weights.
func (w Weights) Sum() float64 {
	return w.Device + w.Location + w.Behavior + w.Credential
}

// Factor records one named contribution to the score, kept for auditing.
type Factor struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// Score is the result of one trust computation.
type Score struct {
	Device     float64  `json:"device"`
	Location   float64  `json:"location"`
	Behavior   float64  `json:"behavior"`
	Credential float64  `json:"credential"`
	Overall    float64  `json:"overall"`
	Level      Level    `json:"level"`
	Factors    []Factor `json:"factors"`
}

// CredentialScorer is the external credential-strength/MFA lookup.
// Implementations return a value in [0,1].
type CredentialScorer interface {
	Score(ctx context.Context, subjectID string) (float64, error)
}

// BehaviorBaseline supplies behavior signals for subjects whose requests do
// not carry them. Implementations are external stores.
type BehaviorBaseline interface {
	CurrentBehavior(ctx context.Context, subjectID string) (signals.BehaviorSignals, error)
}

// Calculator combines signal sub-scores into an overall trust score.
type Calculator struct {
	weights     Weights
	credentials CredentialScorer
}

// NewCalculator builds a calculator with the given weights and credential
// collaborator. A nil scorer is treated as a scorer that always fails, which
// resolves to the worst-case credential sub-score.
func NewCalculator(weights Weights, credentials CredentialScorer) *Calculator {
	return &Calculator{weights: weights, credentials: credentials}
}

// Calculate never fails: unavailable or degenerate signals produce the
// worst-case sub-score, so the floor is an untrusted result, not an error.
func (c *Calculator) Calculate(ctx context.Context, ec *signals.EvaluationContext) Score {
	device := deviceScore(ec.Device)
	location := locationScore(ec.Location)
	behavior := behaviorScore(ec.Behavior)
	credential := c.credentialScore(ctx, ec.SubjectID)

	overall := clamp(device*c.weights.Device +
		location*c.weights.Location +
		behavior*c.weights.Behavior +
		credential*c.weights.Credential)

	return Score{
		Device:     device,
		Location:   location,
		Behavior:   behavior,
		Credential: credential,
		Overall:    overall,
		Level:      levelFor(overall),
		Factors: []Factor{
			{Name: "device", Value: device, Weight: c.weights.Device},
			{Name: "location", Value: location, Weight: c.weights.Location},
			{Name: "behavior", Value: behavior, Weight: c.weights.Behavior},
			{Name: "credential", Value: credential, Weight: c.weights.Credential},
		},
	}
}

func (c *Calculator) credentialScore(ctx context.Context, subjectID string) float64 {
	if c.credentials == nil {
		return 0
	}
	score, err := c.credentials.Score(ctx, subjectID)
	if err != nil {
		return 0
	}
	return clamp(score)
}

func deviceScore(d signals.DeviceSignals) float64 {
	var base float64
	switch d.Tier {
	case signals.DeviceTrusted:
		base = 1.0
	case signals.DeviceManaged:
		base = 0.8
	case signals.DeviceUnmanaged:
		base = 0.4
	default: // compromised, blocked, or unknown
		base = 0.0
	}

	if d.DiskEncrypted {
		base += 0.1
	}
	if d.AntiMalware {
		base += 0.1
	}
	if d.Managed {
		base += 0.1
	}
	base -= 0.1 * float64(len(d.Vulnerabilities))

	return clamp(base)
}

func locationScore(l signals.LocationSignals) float64 {
	var base float64
	switch l.Risk {
	case signals.LocationVeryLow:
		base = 1.0
	case signals.LocationLow:
		base = 0.8
	case signals.LocationMedium:
		base = 0.5
	case signals.LocationHigh:
		base = 0.3
	case signals.LocationVeryHigh:
		base = 0.1
	default: // blocked or unknown
		base = 0.0
	}

	if l.VPN {
		base *= 0.9
	}
	if l.Anonymizer {
		base *= 0.5
	}
	if l.KnownLocation {
		base += 0.1
	}
	base -= 0.1 * float64(len(l.IntelFlags))

	return clamp(base)
}

func behaviorScore(b signals.BehaviorSignals) float64 {
	score := clamp(b.Score)
	if b.AnomalousActivity {
		score *= 0.5
	}
	score -= math.Min(float64(b.FailedLogins)*0.1, 0.5)
	for _, a := range b.Anomalies {
		score -= 0.1 * clamp(a.Severity)
	}
	return clamp(score)
}

func levelFor(overall float64) Level {
	switch {
	case overall >= 0.9:
		return LevelVeryHigh
	case overall >= 0.7:
		return LevelHigh
	case overall >= 0.5:
		return LevelMedium
	case overall >= 0.3:
		return LevelLow
	case overall >= 0.1:
		return LevelVeryLow
	default:
		return LevelUntrusted
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
