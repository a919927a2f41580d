package threat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/trustplane/trustplane/pkg/signals"
)

type stubBaseline struct {
	behavior signals.BehaviorSignals
	err      error
}

func (s stubBaseline) CurrentBehavior(context.Context, string) (signals.BehaviorSignals, error) {
	return s.behavior, s.err
}

type stubFeed struct {
	ipThreats []SecurityThreat
	uaThreats []SecurityThreat
	err       error
}

func (s stubFeed) CheckIPReputation(context.Context, string) ([]SecurityThreat, error) {
	return s.ipThreats, s.err
}

func (s stubFeed) CheckUserAgent(context.Context, string) ([]SecurityThreat, error) {
	return s.uaThreats, s.err
}

type stubIndicators struct {
	malicious bool
	tor       bool
}

func (s stubIndicators) IsMaliciousNetwork(string) bool { return s.malicious }
func (s stubIndicators) IsTorExit(string) bool          { return s.tor }

func TestBehavioralDetector(t *testing.T) {
	tests := []struct {
		name      string
		behavior  signals.BehaviorSignals
		wantKinds []Kind
	}{
		{
			name:     "clean profile yields nothing",
			behavior: signals.BehaviorSignals{Score: 0.9},
		},
		{
			name:      "anomalous activity flags a medium anomaly",
			behavior:  signals.BehaviorSignals{AnomalousActivity: true},
			wantKinds: []Kind{BehavioralAnomaly},
		},
		{
			name:      "failed logins above limit flag brute force",
			behavior:  signals.BehaviorSignals{FailedLogins: 11},
			wantKinds: []Kind{BruteForceAttack},
		},
		{
			name:      "failed logins at the limit do not fire",
			behavior:  signals.BehaviorSignals{FailedLogins: 10},
			wantKinds: nil,
		},
		{
			name:      "both findings together",
			behavior:  signals.BehaviorSignals{AnomalousActivity: true, FailedLogins: 30},
			wantKinds: []Kind{BehavioralAnomaly, BruteForceAttack},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewBehavioralDetector(stubBaseline{behavior: tt.behavior}, DefaultLimits())
			threats, err := d.Detect(context.Background(), "user-1", SecurityEvent{})
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if len(threats) != len(tt.wantKinds) {
				t.Fatalf("got %d threats, want %d", len(threats), len(tt.wantKinds))
			}
			for i, kind := range tt.wantKinds {
				if threats[i].Kind != kind {
					t.Errorf("threat[%d].Kind = %v, want %v", i, threats[i].Kind, kind)
				}
			}
		})
	}
}

func TestBehavioralDetectorBaselineError(t *testing.T) {
	d := NewBehavioralDetector(stubBaseline{err: errors.New("store down")}, DefaultLimits())
	if _, err := d.Detect(context.Background(), "user-1", SecurityEvent{}); err == nil {
		t.Fatal("expected error from failing baseline")
	}
}

func TestVelocityDetectorBurst(t *testing.T) {
	history := NewMemoryHistory(2 * time.Hour)
	now := time.Now()
	for i := 0; i < 60; i++ {
		history.Record(context.Background(), "user-1", SecurityEvent{
			ID:        fmt.Sprintf("ev-%d", i),
			Type:      "login",
			Timestamp: now.Add(-time.Duration(i) * time.Second),
		})
	}

	d := NewVelocityDetector(history, DefaultLimits())
	threats, err := d.Detect(context.Background(), "user-1", SecurityEvent{Timestamp: now})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(threats) != 1 || threats[0].Kind != AutomatedAttack {
		t.Fatalf("expected automated-attack threat, got %+v", threats)
	}
	if threats[0].Severity != SeverityHigh {
		t.Errorf("severity = %v, want high", threats[0].Severity)
	}
}

func TestVelocityDetectorEscalations(t *testing.T) {
	history := NewMemoryHistory(2 * time.Hour)
	now := time.Now()
	for i := 0; i < 4; i++ {
		history.Record(context.Background(), "user-1", SecurityEvent{
			ID:        fmt.Sprintf("esc-%d", i),
			Type:      "privilege_escalation",
			Timestamp: now.Add(-time.Duration(i*10) * time.Minute),
		})
	}

	d := NewVelocityDetector(history, DefaultLimits())
	threats, err := d.Detect(context.Background(), "user-1", SecurityEvent{Timestamp: now})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(threats) != 1 || threats[0].Kind != PrivilegeEscalation {
		t.Fatalf("expected privilege-escalation threat, got %+v", threats)
	}
}

func TestVelocityDetectorQuietSubject(t *testing.T) {
	d := NewVelocityDetector(NewMemoryHistory(time.Hour), DefaultLimits())
	threats, err := d.Detect(context.Background(), "user-1", SecurityEvent{Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(threats) != 0 {
		t.Errorf("expected no threats, got %+v", threats)
	}
}

func TestIntelDetector(t *testing.T) {
	feed := stubFeed{
		ipThreats: []SecurityThreat{{Kind: MaliciousNetwork, Severity: SeverityHigh}},
		uaThreats: []SecurityThreat{{Kind: AutomatedAttack, Severity: SeverityMedium}},
	}
	d := NewIntelDetector(feed)
	threats, err := d.Detect(context.Background(), "user-1", SecurityEvent{
		IP: "203.0.113.9", UserAgent: "sqlmap/1.7",
	})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(threats) != 2 {
		t.Fatalf("expected findings surfaced verbatim, got %+v", threats)
	}

	// Empty fields skip the corresponding lookup.
	threats, err = d.Detect(context.Background(), "user-1", SecurityEvent{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(threats) != 0 {
		t.Errorf("expected no lookups for empty event, got %+v", threats)
	}
}

func TestIntelDetectorFeedError(t *testing.T) {
	d := NewIntelDetector(stubFeed{err: errors.New("feed timeout")})
	if _, err := d.Detect(context.Background(), "user-1", SecurityEvent{IP: "203.0.113.9"}); err == nil {
		t.Fatal("expected error from failing feed")
	}
}

func TestNetworkDetector(t *testing.T) {
	tests := []struct {
		name       string
		indicators stubIndicators
		wantKinds  []Kind
	}{
		{name: "clean address", indicators: stubIndicators{}},
		{name: "malicious range", indicators: stubIndicators{malicious: true}, wantKinds: []Kind{MaliciousNetwork}},
		{name: "tor exit", indicators: stubIndicators{tor: true}, wantKinds: []Kind{AnonymousNetwork}},
		{name: "both", indicators: stubIndicators{malicious: true, tor: true}, wantKinds: []Kind{MaliciousNetwork, AnonymousNetwork}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewNetworkDetector(tt.indicators)
			threats, err := d.Detect(context.Background(), "user-1", SecurityEvent{IP: "198.51.100.7"})
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if len(threats) != len(tt.wantKinds) {
				t.Fatalf("got %d threats, want %d", len(threats), len(tt.wantKinds))
			}
			for i, kind := range tt.wantKinds {
				if threats[i].Kind != kind {
					t.Errorf("threat[%d].Kind = %v, want %v", i, threats[i].Kind, kind)
				}
			}
		})
	}
}

func TestMemoryHistoryPrunes(t *testing.T) {
	history := NewMemoryHistory(10 * time.Minute)
	now := time.Now()
	history.Record(context.Background(), "user-1", SecurityEvent{ID: "old", Timestamp: now.Add(-time.Hour)})
	history.Record(context.Background(), "user-1", SecurityEvent{ID: "new", Timestamp: now})

	n, err := history.CountSince(context.Background(), "user-1", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("CountSince() error = %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 after pruning", n)
	}
}
