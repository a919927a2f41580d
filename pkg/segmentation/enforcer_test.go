package segmentation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type staticStore struct {
	segments map[string]Segment
	policies []MicroSegPolicy
	segErr   error
	polErr   error
}

func (s staticStore) Segment(_ context.Context, serviceID string) (Segment, error) {
	if s.segErr != nil {
		return Segment{}, s.segErr
	}
	seg, ok := s.segments[serviceID]
	if !ok {
		return Segment{}, errors.New("unknown service " + serviceID)
	}
	return seg, nil
}

func (s staticStore) MicroSegPolicies(context.Context, string, string) ([]MicroSegPolicy, error) {
	return s.policies, s.polErr
}

type staticChecker struct {
	ok  bool
	err error
}

func (c staticChecker) Check(context.Context, string, string, string) (bool, error) {
	return c.ok, c.err
}

func defaultSegments() map[string]Segment {
	return map[string]Segment{
		"billing":   {ServiceID: "billing", Name: "billing", Zone: ZoneInternal},
		"ledger":    {ServiceID: "ledger", Name: "ledger", Zone: ZoneInternal},
		"vault":     {ServiceID: "vault", Name: "vault", Zone: ZoneRestricted},
		"vault-hsm": {ServiceID: "vault-hsm", Name: "vault-hsm", Zone: ZoneRestricted},
		"edge":      {ServiceID: "edge", Name: "edge", Zone: ZoneDMZ},
	}
}

func TestValidateAllStagesPass(t *testing.T) {
	e := NewEnforcer(staticStore{
		segments: defaultSegments(),
		policies: []MicroSegPolicy{
			{ID: "m1", Name: "billing-ledger", Source: "billing", Target: "ledger",
				Enabled: true, AllowedOperations: []string{"read", "write"}},
		},
	}, staticChecker{ok: true}, zerolog.Nop())

	if !e.Validate(context.Background(), "billing", "ledger", "read") {
		t.Fatal("expected allow when every stage passes")
	}
}

func TestValidateZeroTrustStage(t *testing.T) {
	store := staticStore{segments: defaultSegments()}

	e := NewEnforcer(store, staticChecker{ok: false}, zerolog.Nop())
	if e.Validate(context.Background(), "billing", "ledger", "read") {
		t.Error("zero-trust denial must deny")
	}

	e = NewEnforcer(store, staticChecker{err: errors.New("policy store down")}, zerolog.Nop())
	if e.Validate(context.Background(), "billing", "ledger", "read") {
		t.Error("zero-trust error must deny")
	}
}

func TestValidateMicroSegmentation(t *testing.T) {
	tests := []struct {
		name     string
		policies []MicroSegPolicy
		op       string
		want     bool
	}{
		{
			name: "operation outside allow list denies",
			policies: []MicroSegPolicy{
				{Name: "p", Enabled: true, AllowedOperations: []string{"read"}},
			},
			op:   "delete",
			want: false,
		},
		{
			name: "wildcard allows any operation",
			policies: []MicroSegPolicy{
				{Name: "p", Enabled: true, AllowedOperations: []string{"*"}},
			},
			op:   "delete",
			want: true,
		},
		{
			name: "disabled policies are skipped",
			policies: []MicroSegPolicy{
				{Name: "p", Enabled: false, AllowedOperations: []string{"read"}},
			},
			op:   "delete",
			want: true,
		},
		{
			name: "unmet condition denies",
			policies: []MicroSegPolicy{
				{Name: "p", Enabled: true, AllowedOperations: []string{"*"},
					Conditions: []Condition{{Field: "operation", Value: "read"}}},
			},
			op:   "write",
			want: false,
		},
		{
			name: "met condition allows",
			policies: []MicroSegPolicy{
				{Name: "p", Enabled: true, AllowedOperations: []string{"*"},
					Conditions: []Condition{{Field: "source", Value: "billing"}}},
			},
			op:   "read",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnforcer(staticStore{
				segments: defaultSegments(),
				policies: tt.policies,
			}, staticChecker{ok: true}, zerolog.Nop())
			if got := e.Validate(context.Background(), "billing", "ledger", tt.op); got != tt.want {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateRestrictedZoneEgress(t *testing.T) {
	e := NewEnforcer(staticStore{segments: defaultSegments()}, staticChecker{ok: true}, zerolog.Nop())

	// Restricted → internal is denied unconditionally.
	if e.Validate(context.Background(), "vault", "ledger", "read") {
		t.Error("restricted to internal must deny")
	}
	// Restricted → restricted is fine.
	if !e.Validate(context.Background(), "vault", "vault-hsm", "read") {
		t.Error("restricted to restricted should pass the zone rule")
	}
	// Internal → restricted passes the zone rule.
	if !e.Validate(context.Background(), "billing", "vault", "read") {
		t.Error("internal to restricted should pass the zone rule")
	}
}

func TestValidateFailsClosed(t *testing.T) {
	e := NewEnforcer(staticStore{segErr: errors.New("store offline"), segments: defaultSegments()},
		staticChecker{ok: true}, zerolog.Nop())
	if e.Validate(context.Background(), "billing", "ledger", "read") {
		t.Error("segment lookup failure must deny")
	}

	e = NewEnforcer(staticStore{polErr: errors.New("store offline"), segments: defaultSegments()},
		staticChecker{ok: true}, zerolog.Nop())
	if e.Validate(context.Background(), "billing", "ledger", "read") {
		t.Error("policy lookup failure must deny")
	}

	e = NewEnforcer(nil, staticChecker{ok: true}, zerolog.Nop())
	if e.Validate(context.Background(), "billing", "ledger", "read") {
		t.Error("missing store must deny")
	}

	e = NewEnforcer(staticStore{segments: map[string]Segment{}}, staticChecker{ok: true}, zerolog.Nop())
	if e.Validate(context.Background(), "billing", "ledger", "read") {
		t.Error("unknown services must deny")
	}
}
