// Package response maps detected threats and the overall risk level to a
// prioritized list of remediation actions.
package response

import (
	"fmt"
	"sort"
	"time"

	"github.com/trustplane/trustplane/pkg/threat"
)

// Kind is the closed set of remediation action categories.
type Kind string

const (
	UserSuspension      Kind = "user_suspension"
	IPBlocking          Kind = "ip_blocking"
	NetworkIsolation    Kind = "network_isolation"
	PrivilegeRevocation Kind = "privilege_revocation"
	EnhancedMonitoring  Kind = "enhanced_monitoring"
	AlertGeneration     Kind = "alert_generation"
)

// Priority orders responses; higher executes first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// AutomatedResponse is one remediation action. AutoExecute marks actions the
// platform runs itself; the rest are advisory.
type AutomatedResponse struct {
	Kind        Kind      `json:"kind"`
	Action      string    `json:"action"`
	Priority    Priority  `json:"priority"`
	AutoExecute bool      `json:"auto_execute"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Generator renders responses from an assessment. Stateless.
type Generator struct{}

// NewGenerator returns a response generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate emits at most one targeted response per threat, ordered by
// descending threat severity, then appends blanket responses gated on the
// overall risk level. Duplicate kinds are preserved: each carries a distinct
// triggering threat. The final list is sorted by descending priority.
func (g *Generator) Generate(threats []threat.SecurityThreat, risk threat.RiskLevel, now time.Time) []AutomatedResponse {
	ordered := make([]threat.SecurityThreat, len(threats))
	copy(ordered, threats)
	sort.SliceStable(ordered, func(i, j int) bool {
		return severityRank(ordered[i].Severity) > severityRank(ordered[j].Severity)
	})

	var responses []AutomatedResponse
	for _, t := range ordered {
		if r, ok := targeted(t, now); ok {
			responses = append(responses, r)
		}
	}

	if risk.AtLeast(threat.RiskHigh) {
		responses = append(responses, AutomatedResponse{
			Kind:        UserSuspension,
			Action:      "suspend the subject's account pending review",
			Priority:    PriorityHigh,
			AutoExecute: true,
			ScheduledAt: now,
		})
	}
	if risk.AtLeast(threat.RiskMedium) {
		responses = append(responses, AutomatedResponse{
			Kind:        EnhancedMonitoring,
			Action:      "raise audit verbosity for the subject for 24 hours",
			Priority:    PriorityMedium,
			AutoExecute: true,
			ScheduledAt: now,
		})
	}
	if len(threats) > 0 {
		responses = append(responses, AutomatedResponse{
			Kind:        AlertGeneration,
			Action:      "notify the security operations channel",
			Priority:    PriorityLow,
			ScheduledAt: now,
		})
	}

	sort.SliceStable(responses, func(i, j int) bool {
		return responses[i].Priority > responses[j].Priority
	})
	return responses
}

func targeted(t threat.SecurityThreat, now time.Time) (AutomatedResponse, bool) {
	switch t.Kind {
	case threat.BruteForceAttack:
		return AutomatedResponse{
			Kind:        IPBlocking,
			Action:      fmt.Sprintf("block source addresses: %s", t.Description),
			Priority:    PriorityHigh,
			ScheduledAt: now,
		}, true
	case threat.MaliciousNetwork:
		return AutomatedResponse{
			Kind:        NetworkIsolation,
			Action:      "isolate traffic from the flagged network range",
			Priority:    PriorityHigh,
			ScheduledAt: now,
		}, true
	case threat.PrivilegeEscalation:
		return AutomatedResponse{
			Kind:        PrivilegeRevocation,
			Action:      "revoke elevated privileges granted in the trailing hour",
			Priority:    PriorityCritical,
			ScheduledAt: now,
		}, true
	default:
		return AutomatedResponse{}, false
	}
}

func severityRank(s threat.Severity) int {
	switch s {
	case threat.SeverityCritical:
		return 4
	case threat.SeverityHigh:
		return 3
	case threat.SeverityMedium:
		return 2
	case threat.SeverityLow:
		return 1
	default:
		return 0
	}
}
