// Package engine exposes the three evaluation entry points: access
// evaluation, threat assessment, and communication validation. Every error
// path inside resolves to the most restrictive outcome for that call.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/trustplane/trustplane/pkg/decision"
	"github.com/trustplane/trustplane/pkg/policy"
	"github.com/trustplane/trustplane/pkg/response"
	"github.com/trustplane/trustplane/pkg/segmentation"
	"github.com/trustplane/trustplane/pkg/signals"
	"github.com/trustplane/trustplane/pkg/threat"
	"github.com/trustplane/trustplane/pkg/trust"
)

// Assessment is the result of one access evaluation.
type Assessment struct {
	RequestID  string              `json:"request_id"`
	SubjectID  string              `json:"subject_id"`
	ResourceID string              `json:"resource_id"`
	Timestamp  time.Time           `json:"timestamp"`
	Trust      trust.Score         `json:"trust"`
	Policies   []policy.Evaluation `json:"policies"`
	Decision   decision.Outcome    `json:"decision"`
}

// ThreatAssessment is the result of analyzing one security event, including
// the generated responses and the incident opened for high-risk outcomes.
type ThreatAssessment struct {
	threat.Assessment
	Responses         []response.AutomatedResponse `json:"responses"`
	IncidentID        string                       `json:"incident_id,omitempty"`
	PersistenceFailed bool                         `json:"persistence_failed,omitempty"`
}

// Params wires the engine's components and collaborators.
type Params struct {
	Trust     *trust.Calculator
	Policies  *policy.Engine
	Decisions *decision.Engine
	Assessor  *threat.Assessor
	Responses *response.Generator
	Enforcer  *segmentation.Enforcer
	Incidents threat.IncidentRepository
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// Engine is stateless across calls; one logical evaluation per invocation.
type Engine struct {
	trust     *trust.Calculator
	policies  *policy.Engine
	decisions *decision.Engine
	assessor  *threat.Assessor
	responses *response.Generator
	enforcer  *segmentation.Enforcer
	incidents threat.IncidentRepository
	timeout   time.Duration
	logger    zerolog.Logger
}

// New builds an engine from its parts.
func New(p Params) *Engine {
	return &Engine{
		trust:     p.Trust,
		policies:  p.Policies,
		decisions: p.Decisions,
		assessor:  p.Assessor,
		responses: p.Responses,
		enforcer:  p.Enforcer,
		incidents: p.Incidents,
		timeout:   p.Timeout,
		logger:    p.Logger,
	}
}

// EvaluateAccess scores trust and evaluates policies in parallel under one
// deadline, then renders the decision. Any internal failure, timeout, or
// panic forces a deny with reason "evaluation failure".
func (e *Engine) EvaluateAccess(ctx context.Context, ec *signals.EvaluationContext) (out Assessment) {
	reqID := xid.New().String()
	out = Assessment{
		RequestID:  reqID,
		SubjectID:  ec.SubjectID,
		ResourceID: ec.ResourceID,
		Timestamp:  time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("request_id", reqID).Interface("panic", r).Msg("access evaluation panicked")
			out.Decision = e.decisions.FailSecure()
		}
	}()

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	var (
		score trust.Score
		evals []policy.Evaluation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		score = e.trust.Calculate(gctx, ec)
		return gctx.Err()
	})
	g.Go(func() error {
		var err error
		evals, err = e.policies.EvaluateAll(gctx, ec)
		return err
	})
	if err := g.Wait(); err != nil {
		e.logger.Error().Err(err).Str("request_id", reqID).Str("subject", ec.SubjectID).Msg("access evaluation failed")
		out.Trust = score
		out.Decision = e.decisions.FailSecure()
		return out
	}

	out.Trust = score
	out.Policies = evals
	out.Decision = e.decisions.Decide(score, evals, ec.Device)

	e.logger.Info().
		Str("request_id", reqID).
		Str("subject", ec.SubjectID).
		Str("resource", ec.ResourceID).
		Float64("trust", score.Overall).
		Str("level", string(score.Level)).
		Str("decision", string(out.Decision.Access)).
		Msg("access evaluated")
	return out
}

// AssessThreat runs the detectors and generates responses. Risk at or above
// high opens an incident; persistence failures degrade the result instead of
// failing it.
func (e *Engine) AssessThreat(ctx context.Context, subjectID string, ev threat.SecurityEvent) (out ThreatAssessment) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("subject", subjectID).Interface("panic", r).Msg("threat assessment panicked")
			out.SubjectID = subjectID
			out.EventID = ev.ID
			out.RiskLevel = threat.RiskCritical
			out.Threats = append(out.Threats, threat.SecurityThreat{
				Kind:        threat.SystemFailure,
				Severity:    threat.SeverityHigh,
				Description: fmt.Sprintf("assessment panicked: %v", r),
			})
			out.Responses = e.responses.Generate(out.Threats, out.RiskLevel, time.Now())
		}
	}()

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	out.Assessment = e.assessor.Assess(ctx, subjectID, ev)
	out.Responses = e.responses.Generate(out.Threats, out.RiskLevel, time.Now())

	if out.RiskLevel.AtLeast(threat.RiskHigh) {
		e.openIncident(ctx, &out)
	}

	e.logger.Info().
		Str("subject", subjectID).
		Str("event", ev.ID).
		Float64("risk", out.RiskScore).
		Str("level", string(out.RiskLevel)).
		Int("threats", len(out.Threats)).
		Int("responses", len(out.Responses)).
		Msg("threat assessed")
	return out
}

// ValidateCommunication gates one service-to-service request. Any failure,
// including a panic inside enforcement, denies.
func (e *Engine) ValidateCommunication(ctx context.Context, source, target, operation string) (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("communication validation panicked")
			allowed = false
		}
	}()

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	return e.enforcer.Validate(ctx, source, target, operation)
}

func (e *Engine) openIncident(ctx context.Context, out *ThreatAssessment) {
	incident := threat.Incident{
		ID:          xid.New().String(),
		SubjectID:   out.SubjectID,
		EventID:     out.EventID,
		Severity:    out.RiskLevel,
		Description: incidentDescription(out.Threats),
		RiskScore:   out.RiskScore,
		ThreatCount: len(out.Threats),
		OpenedAt:    time.Now(),
	}
	out.IncidentID = incident.ID

	if e.incidents == nil {
		out.PersistenceFailed = true
		return
	}
	if err := e.incidents.SaveIncident(ctx, incident); err != nil {
		e.logger.Error().Err(err).Str("incident", incident.ID).Msg("incident persistence failed")
		out.PersistenceFailed = true
	}
	if err := e.incidents.SaveAssessment(ctx, out.Assessment); err != nil {
		e.logger.Error().Err(err).Str("incident", incident.ID).Msg("assessment persistence failed")
		out.PersistenceFailed = true
	}
}

func incidentDescription(threats []threat.SecurityThreat) string {
	if len(threats) == 0 {
		return "high-risk assessment with no classified threats"
	}
	desc := string(threats[0].Kind)
	for _, t := range threats[1:] {
		desc += ", " + string(t.Kind)
	}
	return "detected: " + desc
}

func (e *Engine) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// ServiceCheck adapts the policy engine to the segmentation enforcer's
// zero-trust stage: policies are evaluated against a synthetic context with
// the service identities as subject and resource.
type ServiceCheck struct {
	policies *policy.Engine
}

// NewServiceCheck builds the adapter.
func NewServiceCheck(policies *policy.Engine) *ServiceCheck {
	return &ServiceCheck{policies: policies}
}

// Check denies when any service-scoped policy renders a deny verdict.
func (s *ServiceCheck) Check(ctx context.Context, source, target, _ string) (bool, error) {
	evals, err := s.policies.EvaluateAll(ctx, &signals.EvaluationContext{
		SubjectID:  source,
		ResourceID: target,
	})
	if err != nil {
		return false, err
	}
	for _, ev := range evals {
		if ev.Result == policy.EffectDeny {
			return false, nil
		}
	}
	return true, nil
}

var _ segmentation.ZeroTrustChecker = (*ServiceCheck)(nil)
