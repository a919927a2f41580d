package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/trustplane/trustplane/pkg/trust"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
	if got := cfg.Engine.Sessions.Durations().VeryHigh; got != 8*time.Hour {
		t.Errorf("VeryHigh session = %v, want 8h", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Engine.TimeoutMs != 2000 {
		t.Errorf("TimeoutMs = %d, want default 2000", cfg.Engine.TimeoutMs)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  listen: ":9090"
engine:
  timeout_ms: 500
  credential_score: 0.6
  session_s:
    very_high: 3600
    floor: 600
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Server.Listen != ":9090" {
		t.Errorf("Listen = %q, want :9090", cfg.Server.Listen)
	}
	if cfg.Engine.TimeoutMs != 500 {
		t.Errorf("TimeoutMs = %d, want 500", cfg.Engine.TimeoutMs)
	}
	if got := cfg.Engine.Sessions.Durations().VeryHigh; got != time.Hour {
		t.Errorf("VeryHigh session = %v, want 1h", got)
	}
	// Untouched keys keep defaults.
	if cfg.Server.RateLimit != 120 {
		t.Errorf("RateLimit = %d, want default 120", cfg.Server.RateLimit)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRUSTPLANE_LISTEN", ":7000")
	t.Setenv("TRUSTPLANE_ADMIN_TOKEN", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Server.Listen != ":7000" {
		t.Errorf("Listen = %q, want :7000", cfg.Server.Listen)
	}
	if cfg.Server.AdminToken != "secret" {
		t.Errorf("AdminToken = %q", cfg.Server.AdminToken)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.TrustWeights = trust.Weights{Device: 0.5, Location: 0.5, Behavior: 0.5, Credential: 0.5}
	if err := cfg.Validate(); err != ErrBadTrustWeights {
		t.Fatalf("Validate() = %v, want ErrBadTrustWeights", err)
	}
}

func TestValidateNormalizesSoftFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.TimeoutMs = -1
	cfg.Engine.CredentialScore = 2
	cfg.Agent.RetryMaxMs = 1
	cfg.Tracing.SampleRatio = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.Engine.TimeoutMs != 2000 {
		t.Errorf("TimeoutMs = %d", cfg.Engine.TimeoutMs)
	}
	if cfg.Engine.CredentialScore != 0.8 {
		t.Errorf("CredentialScore = %v", cfg.Engine.CredentialScore)
	}
	if cfg.Agent.RetryMaxMs != cfg.Agent.RetryInitialMs {
		t.Errorf("RetryMaxMs = %d, want raised to initial", cfg.Agent.RetryMaxMs)
	}
	if cfg.Tracing.SampleRatio != 1 {
		t.Errorf("SampleRatio = %v", cfg.Tracing.SampleRatio)
	}
}

func TestLoadPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	data := `
policies:
  - id: p1
    name: block-compromised
    kind: deny
    enabled: true
    priority: 1
    conditions:
      - field: device.tier
        operator: eq
        value: compromised
    subjects: ["*"]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	policies, err := LoadPolicies(path)
	if err != nil {
		t.Fatalf("LoadPolicies() = %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("got %d policies, want 1", len(policies))
	}
	p := policies[0]
	if p.ID != "p1" || len(p.Conditions) != 1 || p.Conditions[0].Field != "device.tier" {
		t.Errorf("parsed policy = %+v", p)
	}
}

func TestLoadSegmentation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.yaml")
	data := `
segments:
  - service_id: vault
    zone: restricted
  - service_id: web
    zone: internal
policies:
  - id: seg-1
    source: web
    target: vault
    allowed_operations: [read]
    enabled: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	seed, err := LoadSegmentation(path)
	if err != nil {
		t.Fatalf("LoadSegmentation() = %v", err)
	}
	if len(seed.Segments) != 2 || len(seed.Policies) != 1 {
		t.Fatalf("seed = %+v", seed)
	}
	if seed.Segments[0].Zone != "restricted" {
		t.Errorf("zone = %q", seed.Segments[0].Zone)
	}
}
