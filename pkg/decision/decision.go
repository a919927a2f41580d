// Package decision merges a trust score and policy verdicts into a final
// access decision with its supplementary requirements and session lifetime.
package decision

import (
	"time"

	"github.com/trustplane/trustplane/pkg/policy"
	"github.com/trustplane/trustplane/pkg/signals"
	"github.com/trustplane/trustplane/pkg/trust"
)

// Access is the final categorical outcome of an evaluation.
type Access string

const (
	Allow               Access = "allow"
	AllowWithConditions Access = "allow_with_conditions"
	RequireStepUp       Access = "require_step_up"
	Deny                Access = "deny"
)

// Requirement is an obligation attached to a decision, such as step-up MFA.
type Requirement struct {
	Kind      string        `json:"kind"`
	Detail    string        `json:"detail"`
	Mandatory bool          `json:"mandatory"`
	Deadline  time.Duration `json:"deadline,omitempty"`
}

// SessionDurations maps trust levels to session lifetimes.
type SessionDurations struct {
	VeryHigh time.Duration
	High     time.Duration
	Medium   time.Duration
	Low      time.Duration
	Floor    time.Duration
}

// DefaultSessionDurations returns the production session lifetime table.
func DefaultSessionDurations() SessionDurations {
	return SessionDurations{
		VeryHigh: 8 * time.Hour,
		High:     4 * time.Hour,
		Medium:   2 * time.Hour,
		Low:      30 * time.Minute,
		Floor:    15 * time.Minute,
	}
}

// Outcome bundles the decision with its requirements and session lifetime.
type Outcome struct {
	Access       Access        `json:"access"`
	Reason       string        `json:"reason"`
	Requirements []Requirement `json:"requirements,omitempty"`
	Session      time.Duration `json:"session"`
}

// Engine renders access decisions. It holds no mutable state.
type Engine struct {
	sessions SessionDurations
}

// NewEngine builds a decision engine with the given session table.
func NewEngine(sessions SessionDurations) *Engine {
	return &Engine{sessions: sessions}
}

// Decide applies the fixed precedence: policy deny, then untrusted score,
// then step-up band, then conditional allow, then allow. First match wins.
func (e *Engine) Decide(score trust.Score, evals []policy.Evaluation, device signals.DeviceSignals) Outcome {
	out := Outcome{Session: e.sessionFor(score.Level)}
	out.Requirements = e.requirements(score.Level, device)

	for _, ev := range evals {
		if ev.Result == policy.EffectDeny {
			out.Access = Deny
			out.Reason = "policy " + ev.PolicyName + " denied"
			return out
		}
	}

	switch score.Level {
	case trust.LevelUntrusted, trust.LevelVeryLow:
		out.Access = Deny
		out.Reason = "trust level " + string(score.Level)
		return out
	case trust.LevelMedium:
		out.Access = RequireStepUp
		out.Reason = "medium trust requires step-up"
		return out
	}

	for _, ev := range evals {
		if len(ev.UnmetConditions) > 0 {
			out.Access = AllowWithConditions
			out.Reason = "unmet conditions on policy " + ev.PolicyName
			return out
		}
	}

	out.Access = Allow
	out.Reason = "trust level " + string(score.Level)
	return out
}

// FailSecure is the outcome forced by any internal evaluation failure.
func (e *Engine) FailSecure() Outcome {
	return Outcome{
		Access:  Deny,
		Reason:  "evaluation failure",
		Session: e.sessions.Floor,
	}
}

func (e *Engine) requirements(level trust.Level, device signals.DeviceSignals) []Requirement {
	var reqs []Requirement
	if levelAtMost(level, trust.LevelMedium) {
		reqs = append(reqs, Requirement{
			Kind:      "mfa",
			Detail:    "multi-factor authentication required",
			Mandatory: true,
			Deadline:  15 * time.Minute,
		})
	}
	if device.Tier == signals.DeviceUnmanaged {
		reqs = append(reqs, Requirement{
			Kind:   "device_registration",
			Detail: "register this device with the management platform",
		})
	}
	return reqs
}

func (e *Engine) sessionFor(level trust.Level) time.Duration {
	switch level {
	case trust.LevelVeryHigh:
		return e.sessions.VeryHigh
	case trust.LevelHigh:
		return e.sessions.High
	case trust.LevelMedium:
		return e.sessions.Medium
	case trust.LevelLow:
		return e.sessions.Low
	default:
		return e.sessions.Floor
	}
}

var levelRank = map[trust.Level]int{
	trust.LevelUntrusted: 0,
	trust.LevelVeryLow:   1,
	trust.LevelLow:       2,
	trust.LevelMedium:    3,
	trust.LevelHigh:      4,
	trust.LevelVeryHigh:  5,
}

func levelAtMost(level, bound trust.Level) bool {
	return levelRank[level] <= levelRank[bound]
}
