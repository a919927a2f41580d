// Package segmentation validates service-to-service communication against
// zero-trust checks, micro-segmentation policies, and segment-level rules,
// in that fixed order, failing closed.
package segmentation

import (
	"context"

	"github.com/rs/zerolog"
)

// Zone classifies a network segment's sensitivity.
type Zone string

const (
	ZoneRestricted Zone = "restricted"
	ZoneInternal   Zone = "internal"
	ZoneDMZ        Zone = "dmz"
	ZonePublic     Zone = "public"
)

// Segment is the network segment a service belongs to.
type Segment struct {
	ServiceID string `yaml:"service_id" json:"service_id"`
	Name      string `yaml:"name" json:"name"`
	Zone      Zone   `yaml:"zone" json:"zone"`
}

// Condition constrains a micro-segmentation policy to requests matching a
// named request field (source, target, operation).
type Condition struct {
	Field string `yaml:"field" json:"field"`
	Value string `yaml:"value" json:"value"`
}

// MicroSegPolicy is a service-pair-level allow list.
type MicroSegPolicy struct {
	ID                string      `yaml:"id" json:"id"`
	Name              string      `yaml:"name" json:"name"`
	Source            string      `yaml:"source" json:"source"`
	Target            string      `yaml:"target" json:"target"`
	Enabled           bool        `yaml:"enabled" json:"enabled"`
	AllowedOperations []string    `yaml:"allowed_operations" json:"allowed_operations"`
	Conditions        []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Allows reports whether the policy permits the operation.
func (p MicroSegPolicy) Allows(operation string) bool {
	for _, op := range p.AllowedOperations {
		if op == "*" || op == operation {
			return true
		}
	}
	return false
}

// PolicyStore supplies segments and the micro-segmentation policies between
// a service pair. It is an external collaborator.
type PolicyStore interface {
	Segment(ctx context.Context, serviceID string) (Segment, error)
	MicroSegPolicies(ctx context.Context, source, target string) ([]MicroSegPolicy, error)
}

// ZeroTrustChecker runs the policy-evaluation stage scoped to service
// identities.
type ZeroTrustChecker interface {
	Check(ctx context.Context, source, target, operation string) (bool, error)
}

// Enforcer validates communication requests. Stateless; safe for concurrent
// use.
type Enforcer struct {
	store     PolicyStore
	zeroTrust ZeroTrustChecker
	logger    zerolog.Logger
}

// NewEnforcer builds an enforcer. A nil checker skips the zero-trust stage;
// a nil store denies everything.
func NewEnforcer(store PolicyStore, zeroTrust ZeroTrustChecker, logger zerolog.Logger) *Enforcer {
	return &Enforcer{store: store, zeroTrust: zeroTrust, logger: logger}
}

// Validate runs the three stages in order and short-circuits on the first
// failure. Any error denies: the enforcer never fails open.
func (e *Enforcer) Validate(ctx context.Context, source, target, operation string) bool {
	allowed, reason := e.validate(ctx, source, target, operation)
	if !allowed {
		e.logger.Warn().
			Str("source", source).
			Str("target", target).
			Str("operation", operation).
			Str("reason", reason).
			Msg("communication denied")
	}
	return allowed
}

func (e *Enforcer) validate(ctx context.Context, source, target, operation string) (bool, string) {
	if e.store == nil {
		return false, "no policy store configured"
	}

	if e.zeroTrust != nil {
		ok, err := e.zeroTrust.Check(ctx, source, target, operation)
		if err != nil {
			return false, "zero-trust check failed: " + err.Error()
		}
		if !ok {
			return false, "zero-trust check denied"
		}
	}

	policies, err := e.store.MicroSegPolicies(ctx, source, target)
	if err != nil {
		return false, "micro-segmentation lookup failed: " + err.Error()
	}
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if !p.Allows(operation) {
			return false, "operation not allowed by policy " + p.Name
		}
		if !conditionsHold(p.Conditions, source, target, operation) {
			return false, "conditions unmet on policy " + p.Name
		}
	}

	srcSeg, err := e.store.Segment(ctx, source)
	if err != nil {
		return false, "source segment lookup failed: " + err.Error()
	}
	dstSeg, err := e.store.Segment(ctx, target)
	if err != nil {
		return false, "target segment lookup failed: " + err.Error()
	}
	if srcSeg.Zone == ZoneRestricted && dstSeg.Zone != ZoneRestricted {
		return false, "restricted zone egress to " + string(dstSeg.Zone)
	}

	return true, ""
}

func conditionsHold(conds []Condition, source, target, operation string) bool {
	for _, c := range conds {
		var actual string
		switch c.Field {
		case "source":
			actual = source
		case "target":
			actual = target
		case "operation":
			actual = operation
		default:
			return false
		}
		if actual != c.Value {
			return false
		}
	}
	return true
}
