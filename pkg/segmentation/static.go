package segmentation

import (
	"context"
	"fmt"
)

// StaticStore serves segments and micro-segmentation policies loaded from a
// seed file. Immutable after construction.
type StaticStore struct {
	segments map[string]Segment
	policies []MicroSegPolicy
}

// NewStaticStore indexes the seed data by service id.
func NewStaticStore(segments []Segment, policies []MicroSegPolicy) *StaticStore {
	idx := make(map[string]Segment, len(segments))
	for _, s := range segments {
		idx[s.ServiceID] = s
	}
	return &StaticStore{segments: idx, policies: policies}
}

// Segment returns the segment a service belongs to. Unknown services are an
// error so the enforcer fails closed.
func (s *StaticStore) Segment(_ context.Context, serviceID string) (Segment, error) {
	seg, ok := s.segments[serviceID]
	if !ok {
		return Segment{}, fmt.Errorf("no segment registered for service %q", serviceID)
	}
	return seg, nil
}

// MicroSegPolicies returns the policies whose source/target selectors match
// the pair. A "*" selector matches any service.
func (s *StaticStore) MicroSegPolicies(_ context.Context, source, target string) ([]MicroSegPolicy, error) {
	var out []MicroSegPolicy
	for _, p := range s.policies {
		if serviceMatches(p.Source, source) && serviceMatches(p.Target, target) {
			out = append(out, p)
		}
	}
	return out, nil
}

func serviceMatches(selector, service string) bool {
	return selector == "*" || selector == service
}

var _ PolicyStore = (*StaticStore)(nil)
