// Package policy evaluates security policies against an evaluation context
// and aggregates their verdicts. The policy store and the raw condition
// primitive are pluggable; this package owns ordering and aggregation.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/trustplane/trustplane/pkg/signals"
)

// Effect is the verdict a policy renders.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Kind determines how a policy's conditions are interpreted.
type Kind string

const (
	// KindDeny blocks when every condition matches the context.
	KindDeny Kind = "deny"
	// KindRequire lists every condition that does not hold as unmet;
	// the verdict stays allow.
	KindRequire Kind = "require"
)

// Condition is a single field comparison inside a policy.
type Condition struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value" json:"value"`
}

// SecurityPolicy is one rule owned by the external policy store.
type SecurityPolicy struct {
	ID         string      `yaml:"id" json:"id"`
	Name       string      `yaml:"name" json:"name"`
	Kind       Kind        `yaml:"kind" json:"kind"`
	Priority   int         `yaml:"priority" json:"priority"`
	Enabled    bool        `yaml:"enabled" json:"enabled"`
	Conditions []Condition `yaml:"conditions" json:"conditions"`
}

// Evaluation is the verdict of one policy against one context.
type Evaluation struct {
	PolicyID        string   `json:"policy_id"`
	PolicyName      string   `json:"policy_name"`
	Result          Effect   `json:"result"`
	UnmetConditions []string `json:"unmet_conditions,omitempty"`
}

// Store supplies the policies applicable to a subject/resource pair.
type Store interface {
	ApplicablePolicies(ctx context.Context, subjectID, resourceID string) ([]SecurityPolicy, error)
}

// RawEvaluator is the primitive that renders one policy's verdict.
type RawEvaluator func(p SecurityPolicy, ec *signals.EvaluationContext) Evaluation

// Engine aggregates per-policy verdicts in priority order.
type Engine struct {
	store Store
	raw   RawEvaluator
}

// NewEngine builds an engine over the given store. A nil raw evaluator uses
// the built-in condition matcher.
func NewEngine(store Store, raw RawEvaluator) *Engine {
	if raw == nil {
		raw = EvaluateRaw
	}
	return &Engine{store: store, raw: raw}
}

// EvaluateAll fetches the applicable policies and evaluates every enabled one
// in ascending priority order. It never short-circuits: the decision layer
// needs every unmet condition, not just the first deny.
func (e *Engine) EvaluateAll(ctx context.Context, ec *signals.EvaluationContext) ([]Evaluation, error) {
	policies, err := e.store.ApplicablePolicies(ctx, ec.SubjectID, ec.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("fetch applicable policies: %w", err)
	}

	enabled := make([]SecurityPolicy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})

	evals := make([]Evaluation, 0, len(enabled))
	for _, p := range enabled {
		evals = append(evals, e.raw(p, ec))
	}
	return evals, nil
}

// EvaluateRaw is the default condition matcher. Deny-kind policies block when
// all their conditions hold; require-kind policies report unmet conditions.
func EvaluateRaw(p SecurityPolicy, ec *signals.EvaluationContext) Evaluation {
	eval := Evaluation{PolicyID: p.ID, PolicyName: p.Name, Result: EffectAllow}

	switch p.Kind {
	case KindDeny:
		matched := len(p.Conditions) > 0
		for _, cond := range p.Conditions {
			if !matchCondition(ec, cond) {
				matched = false
				break
			}
		}
		if matched {
			eval.Result = EffectDeny
		}
	default: // require
		for _, cond := range p.Conditions {
			if !matchCondition(ec, cond) {
				eval.UnmetConditions = append(eval.UnmetConditions,
					fmt.Sprintf("%s %s %v", cond.Field, cond.Operator, cond.Value))
			}
		}
	}
	return eval
}

func matchCondition(ec *signals.EvaluationContext, cond Condition) bool {
	value := ec.Attribute(cond.Field)
	if value == nil {
		return false
	}

	switch cond.Operator {
	case "eq":
		return equal(value, cond.Value)
	case "ne":
		return !equal(value, cond.Value)
	case "gt":
		return numeric(value, cond.Value, func(a, b float64) bool { return a > b })
	case "lt":
		return numeric(value, cond.Value, func(a, b float64) bool { return a < b })
	case "gte":
		return numeric(value, cond.Value, func(a, b float64) bool { return a >= b })
	case "lte":
		return numeric(value, cond.Value, func(a, b float64) bool { return a <= b })
	case "in":
		return contains(cond.Value, value)
	case "contains":
		return contains(value, cond.Value)
	default:
		return false
	}
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func numeric(a, b any, cmp func(a, b float64) bool) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return false
	}
	return cmp(fa, fb)
}

func contains(haystack, needle any) bool {
	switch items := haystack.(type) {
	case []any:
		for _, item := range items {
			if equal(item, needle) {
				return true
			}
		}
	case []string:
		for _, s := range items {
			if equal(s, needle) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
