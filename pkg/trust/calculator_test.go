package trust

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/trustplane/trustplane/pkg/signals"
)

type fixedScorer struct {
	score float64
	err   error
}

func (f fixedScorer) Score(context.Context, string) (float64, error) {
	return f.score, f.err
}

func TestDeviceScore(t *testing.T) {
	tests := []struct {
		name   string
		device signals.DeviceSignals
		want   float64
	}{
		{
			name: "trusted with all posture flags clamps at 1",
			device: signals.DeviceSignals{
				Tier: signals.DeviceTrusted, DiskEncrypted: true, AntiMalware: true, Managed: true,
			},
			want: 1.0,
		},
		{
			name:   "managed baseline",
			device: signals.DeviceSignals{Tier: signals.DeviceManaged},
			want:   0.8,
		},
		{
			name: "unmanaged with one vulnerability",
			device: signals.DeviceSignals{
				Tier:            signals.DeviceUnmanaged,
				Vulnerabilities: []string{"CVE-2024-0001"},
			},
			want: 0.3,
		},
		{
			name:   "compromised base is zero, posture flags still add",
			device: signals.DeviceSignals{Tier: signals.DeviceCompromised, DiskEncrypted: true},
			want:   0.1,
		},
		{
			name: "blocked with many vulnerabilities never goes negative",
			device: signals.DeviceSignals{
				Tier:            signals.DeviceBlocked,
				Vulnerabilities: []string{"a", "b", "c"},
			},
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deviceScore(tt.device)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("deviceScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocationScore(t *testing.T) {
	tests := []struct {
		name string
		loc  signals.LocationSignals
		want float64
	}{
		{
			name: "very low risk known location clamps at 1",
			loc:  signals.LocationSignals{Risk: signals.LocationVeryLow, KnownLocation: true},
			want: 1.0,
		},
		{
			name: "vpn halves nothing but shaves ten percent",
			loc:  signals.LocationSignals{Risk: signals.LocationVeryLow, VPN: true},
			want: 0.9,
		},
		{
			name: "anonymizer halves the base",
			loc:  signals.LocationSignals{Risk: signals.LocationLow, Anonymizer: true},
			want: 0.4,
		},
		{
			name: "intel flags subtract after multipliers",
			loc: signals.LocationSignals{
				Risk: signals.LocationMedium, IntelFlags: []string{"botnet", "scanner"},
			},
			want: 0.3,
		},
		{
			name: "blocked base is zero, known location still adds",
			loc:  signals.LocationSignals{Risk: signals.LocationBlocked, KnownLocation: true},
			want: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := locationScore(tt.loc)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("locationScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBehaviorScore(t *testing.T) {
	tests := []struct {
		name     string
		behavior signals.BehaviorSignals
		want     float64
	}{
		{
			name:     "clean profile passes through",
			behavior: signals.BehaviorSignals{Score: 0.9},
			want:     0.9,
		},
		{
			name:     "anomalous activity halves the score",
			behavior: signals.BehaviorSignals{Score: 0.8, AnomalousActivity: true},
			want:     0.4,
		},
		{
			name:     "failed logins capped at half a point",
			behavior: signals.BehaviorSignals{Score: 1.0, FailedLogins: 20},
			want:     0.5,
		},
		{
			name: "anomalies weighted by severity",
			behavior: signals.BehaviorSignals{
				Score: 1.0,
				Anomalies: []signals.Anomaly{
					{Name: "odd-hours", Severity: 1.0},
					{Name: "new-geo", Severity: 0.5},
				},
			},
			want: 0.85,
		},
		{
			name:     "worst case clamps to zero",
			behavior: signals.BehaviorSignals{Score: 0.2, AnomalousActivity: true, FailedLogins: 8},
			want:     0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := behaviorScore(tt.behavior)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("behaviorScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateHighTrustScenario(t *testing.T) {
	// Trusted encrypted managed device, very-low-risk location, clean behavior,
	// strong credentials: overall lands in the very-high band.
	calc := NewCalculator(DefaultWeights(), fixedScorer{score: 0.9})
	score := calc.Calculate(context.Background(), &signals.EvaluationContext{
		SubjectID: "user-1",
		Device: signals.DeviceSignals{
			Tier: signals.DeviceTrusted, DiskEncrypted: true, Managed: true,
		},
		Location: signals.LocationSignals{Risk: signals.LocationVeryLow},
		Behavior: signals.BehaviorSignals{Score: 0.9},
	})

	want := 1.0*0.25 + 1.0*0.20 + 0.9*0.30 + 0.9*0.25
	if math.Abs(score.Overall-want) > 1e-9 {
		t.Errorf("Overall = %v, want %v", score.Overall, want)
	}
	if score.Level != LevelVeryHigh {
		t.Errorf("Level = %v, want %v", score.Level, LevelVeryHigh)
	}
	if len(score.Factors) != 4 {
		t.Errorf("expected 4 factors, got %d", len(score.Factors))
	}
}

func TestCalculateWeightedSumInvariant(t *testing.T) {
	calc := NewCalculator(DefaultWeights(), fixedScorer{score: 0.7})
	score := calc.Calculate(context.Background(), &signals.EvaluationContext{
		SubjectID: "user-2",
		Device:    signals.DeviceSignals{Tier: signals.DeviceUnmanaged},
		Location:  signals.LocationSignals{Risk: signals.LocationHigh, VPN: true},
		Behavior:  signals.BehaviorSignals{Score: 0.6, FailedLogins: 2},
	})

	w := DefaultWeights()
	want := score.Device*w.Device + score.Location*w.Location +
		score.Behavior*w.Behavior + score.Credential*w.Credential
	if math.Abs(score.Overall-want) > 1e-9 {
		t.Errorf("Overall = %v, want weighted sum %v", score.Overall, want)
	}
	for _, sub := range []float64{score.Device, score.Location, score.Behavior, score.Credential} {
		if sub < 0 || sub > 1 {
			t.Errorf("sub-score %v out of [0,1]", sub)
		}
	}
}

func TestCredentialScorerFailureIsWorstCase(t *testing.T) {
	calc := NewCalculator(DefaultWeights(), fixedScorer{err: errors.New("upstream down")})
	score := calc.Calculate(context.Background(), &signals.EvaluationContext{
		SubjectID: "user-3",
		Device:    signals.DeviceSignals{Tier: signals.DeviceTrusted},
		Location:  signals.LocationSignals{Risk: signals.LocationVeryLow},
		Behavior:  signals.BehaviorSignals{Score: 1.0},
	})
	if score.Credential != 0 {
		t.Errorf("Credential = %v, want 0 on scorer failure", score.Credential)
	}

	nilCalc := NewCalculator(DefaultWeights(), nil)
	score = nilCalc.Calculate(context.Background(), &signals.EvaluationContext{SubjectID: "user-3"})
	if score.Credential != 0 {
		t.Errorf("Credential = %v, want 0 with nil scorer", score.Credential)
	}
}

func TestLevelThresholds(t *testing.T) {
	tests := []struct {
		overall float64
		want    Level
	}{
		{0.95, LevelVeryHigh},
		{0.9, LevelVeryHigh},
		{0.7, LevelHigh},
		{0.5, LevelMedium},
		{0.3, LevelLow},
		{0.1, LevelVeryLow},
		{0.05, LevelUntrusted},
		{0, LevelUntrusted},
	}
	for _, tt := range tests {
		if got := levelFor(tt.overall); got != tt.want {
			t.Errorf("levelFor(%v) = %v, want %v", tt.overall, got, tt.want)
		}
	}
}

func TestMonotonicity(t *testing.T) {
	// Improving one signal never lowers the overall score.
	calc := NewCalculator(DefaultWeights(), fixedScorer{score: 0.5})
	base := &signals.EvaluationContext{
		SubjectID: "user-4",
		Device:    signals.DeviceSignals{Tier: signals.DeviceUnmanaged},
		Location:  signals.LocationSignals{Risk: signals.LocationMedium},
		Behavior:  signals.BehaviorSignals{Score: 0.5},
	}
	baseline := calc.Calculate(context.Background(), base).Overall

	improved := *base
	improved.Device.Tier = signals.DeviceTrusted
	if got := calc.Calculate(context.Background(), &improved).Overall; got < baseline {
		t.Errorf("improving device lowered overall: %v < %v", got, baseline)
	}

	improved = *base
	improved.Behavior.Score = 0.9
	if got := calc.Calculate(context.Background(), &improved).Overall; got < baseline {
		t.Errorf("improving behavior lowered overall: %v < %v", got, baseline)
	}
}
