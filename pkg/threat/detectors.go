package threat

import (
	"context"
	"fmt"
	"time"

	"github.com/trustplane/trustplane/pkg/trust"
)

// Detector produces zero or more threats for one event. Detectors are
// mutually independent and safe to run concurrently.
type Detector interface {
	Name() string
	Detect(ctx context.Context, subjectID string, ev SecurityEvent) ([]SecurityThreat, error)
}

// Limits holds the tunable detector thresholds.
type Limits struct {
	FailedLoginsPerHour int      `yaml:"failed_logins_per_hour"`
	VelocityWindowSec   int      `yaml:"velocity_window_s"`
	VelocityThreshold   int      `yaml:"velocity_threshold"`
	EscalationWindowSec int      `yaml:"escalation_window_s"`
	EscalationThreshold int      `yaml:"escalation_threshold"`
	EscalationTypes     []string `yaml:"escalation_types"`
}

// DefaultLimits returns the production thresholds.
func DefaultLimits() Limits {
	return Limits{
		FailedLoginsPerHour: 10,
		VelocityWindowSec:   300,
		VelocityThreshold:   50,
		EscalationWindowSec: 3600,
		EscalationThreshold: 3,
		EscalationTypes:     []string{"privilege_escalation", "unauthorized_access"},
	}
}

// BehavioralDetector flags anomalous activity and brute-force login patterns
// from the subject's current behavior profile.
type BehavioralDetector struct {
	baseline trust.BehaviorBaseline
	limits   Limits
}

func NewBehavioralDetector(baseline trust.BehaviorBaseline, limits Limits) *BehavioralDetector {
	return &BehavioralDetector{baseline: baseline, limits: limits}
}

func (d *BehavioralDetector) Name() string { return "behavioral" }

func (d *BehavioralDetector) Detect(ctx context.Context, subjectID string, _ SecurityEvent) ([]SecurityThreat, error) {
	if d.baseline == nil {
		return nil, nil
	}
	behavior, err := d.baseline.CurrentBehavior(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("behavior baseline: %w", err)
	}

	var threats []SecurityThreat
	if behavior.AnomalousActivity {
		threats = append(threats, SecurityThreat{
			Kind:        BehavioralAnomaly,
			Severity:    SeverityMedium,
			Description: "activity deviates from the subject's behavioral baseline",
		})
	}
	if behavior.FailedLogins > d.limits.FailedLoginsPerHour {
		threats = append(threats, SecurityThreat{
			Kind:     BruteForceAttack,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("%d failed logins in the last hour (limit %d)",
				behavior.FailedLogins, d.limits.FailedLoginsPerHour),
		})
	}
	return threats, nil
}

// VelocityDetector flags burst activity and repeated escalation attempts
// from trailing-window event counts.
type VelocityDetector struct {
	history EventHistory
	limits  Limits
}

func NewVelocityDetector(history EventHistory, limits Limits) *VelocityDetector {
	return &VelocityDetector{history: history, limits: limits}
}

func (d *VelocityDetector) Name() string { return "velocity" }

func (d *VelocityDetector) Detect(ctx context.Context, subjectID string, ev SecurityEvent) ([]SecurityThreat, error) {
	if d.history == nil {
		return nil, nil
	}

	var threats []SecurityThreat

	velocityWindow := ev.Timestamp.Add(-secondsDuration(d.limits.VelocityWindowSec))
	recent, err := d.history.CountSince(ctx, subjectID, velocityWindow)
	if err != nil {
		return nil, fmt.Errorf("event history: %w", err)
	}
	if recent > d.limits.VelocityThreshold {
		threats = append(threats, SecurityThreat{
			Kind:     AutomatedAttack,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("%d events in the trailing %ds window (limit %d)",
				recent, d.limits.VelocityWindowSec, d.limits.VelocityThreshold),
		})
	}

	escalationWindow := ev.Timestamp.Add(-secondsDuration(d.limits.EscalationWindowSec))
	escalations, err := d.history.CountTypesSince(ctx, subjectID, d.limits.EscalationTypes, escalationWindow)
	if err != nil {
		return nil, fmt.Errorf("event history: %w", err)
	}
	if escalations > d.limits.EscalationThreshold {
		threats = append(threats, SecurityThreat{
			Kind:     PrivilegeEscalation,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("%d escalation attempts in the trailing hour (limit %d)",
				escalations, d.limits.EscalationThreshold),
		})
	}
	return threats, nil
}

// IntelDetector surfaces feed findings for the event's IP and user agent.
type IntelDetector struct {
	feed Feed
}

func NewIntelDetector(feed Feed) *IntelDetector {
	return &IntelDetector{feed: feed}
}

func (d *IntelDetector) Name() string { return "intel" }

func (d *IntelDetector) Detect(ctx context.Context, _ string, ev SecurityEvent) ([]SecurityThreat, error) {
	if d.feed == nil {
		return nil, nil
	}

	var threats []SecurityThreat
	if ev.IP != "" {
		found, err := d.feed.CheckIPReputation(ctx, ev.IP)
		if err != nil {
			return nil, fmt.Errorf("ip reputation: %w", err)
		}
		threats = append(threats, found...)
	}
	if ev.UserAgent != "" {
		found, err := d.feed.CheckUserAgent(ctx, ev.UserAgent)
		if err != nil {
			return nil, fmt.Errorf("user agent lookup: %w", err)
		}
		threats = append(threats, found...)
	}
	return threats, nil
}

// NetworkDetector flags traffic from known-malicious ranges and Tor exits.
type NetworkDetector struct {
	indicators NetworkIndicators
}

func NewNetworkDetector(indicators NetworkIndicators) *NetworkDetector {
	return &NetworkDetector{indicators: indicators}
}

func (d *NetworkDetector) Name() string { return "network" }

func (d *NetworkDetector) Detect(_ context.Context, _ string, ev SecurityEvent) ([]SecurityThreat, error) {
	if d.indicators == nil || ev.IP == "" {
		return nil, nil
	}

	var threats []SecurityThreat
	if d.indicators.IsMaliciousNetwork(ev.IP) {
		threats = append(threats, SecurityThreat{
			Kind:        MaliciousNetwork,
			Severity:    SeverityHigh,
			Description: "source address belongs to a known-malicious network range",
			Indicators:  []string{ev.IP},
		})
	}
	if d.indicators.IsTorExit(ev.IP) {
		threats = append(threats, SecurityThreat{
			Kind:        AnonymousNetwork,
			Severity:    SeverityMedium,
			Description: "source address is a Tor exit node",
			Indicators:  []string{ev.IP},
		})
	}
	return threats, nil
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
