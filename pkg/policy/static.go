package policy

import (
	"context"
	"strings"
)

// StaticStore serves policies loaded from a seed file. Selectors restrict a
// policy to subjects/resources; empty or "*" matches everything. Immutable
// after construction.
type StaticStore struct {
	policies []StoredPolicy
}

// StoredPolicy pairs a policy with its applicability selectors.
type StoredPolicy struct {
	SecurityPolicy `yaml:",inline"`
	Subjects       []string `yaml:"subjects,omitempty"`
	Resources      []string `yaml:"resources,omitempty"`
}

// NewStaticStore builds a store over the given policies.
func NewStaticStore(policies []StoredPolicy) *StaticStore {
	return &StaticStore{policies: policies}
}

// ApplicablePolicies returns every policy whose selectors match.
func (s *StaticStore) ApplicablePolicies(_ context.Context, subjectID, resourceID string) ([]SecurityPolicy, error) {
	var out []SecurityPolicy
	for _, p := range s.policies {
		if selectorMatches(p.Subjects, subjectID) && selectorMatches(p.Resources, resourceID) {
			out = append(out, p.SecurityPolicy)
		}
	}
	return out, nil
}

func selectorMatches(selectors []string, value string) bool {
	if len(selectors) == 0 {
		return true
	}
	for _, s := range selectors {
		if s == "*" || strings.EqualFold(s, value) {
			return true
		}
	}
	return false
}

var _ Store = (*StaticStore)(nil)
