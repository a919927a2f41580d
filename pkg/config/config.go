// Package config loads and validates the evaluator's configuration and the
// policy/segment/intel seed files.
package config

import (
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trustplane/trustplane/pkg/decision"
	"github.com/trustplane/trustplane/pkg/intel"
	"github.com/trustplane/trustplane/pkg/policy"
	"github.com/trustplane/trustplane/pkg/segmentation"
	"github.com/trustplane/trustplane/pkg/threat"
	"github.com/trustplane/trustplane/pkg/trust"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Listen          string `yaml:"listen"`
	DBPath          string `yaml:"db_path"`
	AdminToken      string `yaml:"admin_token"`
	AdminTokenFile  string `yaml:"admin_token_file"`
	RateLimit       int    `yaml:"rate_limit"`
	RateWindowS     int    `yaml:"rate_window_s"`
	RequestTimeoutS int    `yaml:"request_timeout_s"`
}

type EngineConfig struct {
	TimeoutMs         int                `yaml:"timeout_ms"`
	CredentialScore   float64            `yaml:"credential_score"`
	HistoryRetentionS int                `yaml:"history_retention_s"`
	TrustWeights      trust.Weights      `yaml:"trust_weights"`
	DetectorLimits    threat.Limits      `yaml:"detector_limits"`
	RiskWeights       threat.RiskWeights `yaml:"risk_weights"`
	Sessions          SessionConfig      `yaml:"session_s"`
}

// SessionConfig holds session lifetimes per trust level, in seconds.
type SessionConfig struct {
	VeryHigh int `yaml:"very_high"`
	High     int `yaml:"high"`
	Medium   int `yaml:"medium"`
	Low      int `yaml:"low"`
	Floor    int `yaml:"floor"`
}

// Durations converts the seconds table into the decision engine's form.
func (s SessionConfig) Durations() decision.SessionDurations {
	return decision.SessionDurations{
		VeryHigh: time.Duration(s.VeryHigh) * time.Second,
		High:     time.Duration(s.High) * time.Second,
		Medium:   time.Duration(s.Medium) * time.Second,
		Low:      time.Duration(s.Low) * time.Second,
		Floor:    time.Duration(s.Floor) * time.Second,
	}
}

type AgentConfig struct {
	ServerURL       string `yaml:"server_url"`
	EventsPath      string `yaml:"events_path"`
	SubjectID       string `yaml:"subject_id"`
	RequestTimeoutS int    `yaml:"request_timeout_s"`
	RetryInitialMs  int    `yaml:"retry_initial_ms"`
	RetryMaxMs      int    `yaml:"retry_max_ms"`
	RetryMaxRetries int    `yaml:"retry_max_attempts"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultConfig returns a config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			DBPath:          "trustplane.db",
			RateLimit:       120,
			RateWindowS:     60,
			RequestTimeoutS: 10,
		},
		Engine: EngineConfig{
			TimeoutMs:         2000,
			CredentialScore:   0.8,
			HistoryRetentionS: 7200,
			TrustWeights:      trust.DefaultWeights(),
			DetectorLimits:    threat.DefaultLimits(),
			RiskWeights:       threat.DefaultRiskWeights(),
			Sessions: SessionConfig{
				VeryHigh: 8 * 3600,
				High:     4 * 3600,
				Medium:   2 * 3600,
				Low:      30 * 60,
				Floor:    15 * 60,
			},
		},
		Agent: AgentConfig{
			ServerURL:       "http://localhost:8080",
			EventsPath:      "events.jsonl",
			RequestTimeoutS: 10,
			RetryInitialMs:  500,
			RetryMaxMs:      5000,
			RetryMaxRetries: 5,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Tracing: TracingConfig{SampleRatio: 1},
	}
}

// Load reads config from file with env var overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if listen := os.Getenv("TRUSTPLANE_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
	if db := os.Getenv("TRUSTPLANE_DB"); db != "" {
		cfg.Server.DBPath = db
	}
	if token := os.Getenv("TRUSTPLANE_ADMIN_TOKEN"); token != "" {
		cfg.Server.AdminToken = token
	}
	if url := os.Getenv("TRUSTPLANE_SERVER_URL"); url != "" {
		cfg.Agent.ServerURL = url
	}
	if level := os.Getenv("TRUSTPLANE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

// Validate checks hard requirements and normalizes soft ones.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return ErrMissingListen
	}
	if math.Abs(c.Engine.TrustWeights.Sum()-1.0) > 1e-6 {
		return ErrBadTrustWeights
	}
	if c.Engine.TimeoutMs <= 0 {
		c.Engine.TimeoutMs = 2000
	}
	if c.Engine.CredentialScore < 0 || c.Engine.CredentialScore > 1 {
		c.Engine.CredentialScore = 0.8
	}
	if c.Engine.HistoryRetentionS <= 0 {
		c.Engine.HistoryRetentionS = 7200
	}
	if c.Engine.DetectorLimits.VelocityThreshold <= 0 {
		c.Engine.DetectorLimits = threat.DefaultLimits()
	}
	if len(c.Engine.RiskWeights.Severity) == 0 {
		c.Engine.RiskWeights = threat.DefaultRiskWeights()
	}
	if c.Engine.Sessions.Floor <= 0 {
		c.Engine.Sessions.Floor = 15 * 60
	}
	if c.Server.RateWindowS <= 0 {
		c.Server.RateWindowS = 60
	}
	if c.Server.RequestTimeoutS <= 0 {
		c.Server.RequestTimeoutS = 10
	}
	if c.Agent.RetryInitialMs <= 0 {
		c.Agent.RetryInitialMs = 500
	}
	if c.Agent.RetryMaxMs < c.Agent.RetryInitialMs {
		c.Agent.RetryMaxMs = c.Agent.RetryInitialMs
	}
	if c.Agent.RetryMaxRetries < 0 {
		c.Agent.RetryMaxRetries = 0
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	return nil
}

var (
	ErrMissingListen   = &Error{"server listen address is required"}
	ErrBadTrustWeights = &Error{"trust weights must sum to 1.0"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// SegmentationSeed is the on-disk shape of the segment map and
// micro-segmentation policies.
type SegmentationSeed struct {
	Segments []segmentation.Segment        `yaml:"segments"`
	Policies []segmentation.MicroSegPolicy `yaml:"policies"`
}

// LoadPolicies reads the security-policy seed file.
func LoadPolicies(path string) ([]policy.StoredPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed struct {
		Policies []policy.StoredPolicy `yaml:"policies"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, err
	}
	return seed.Policies, nil
}

// LoadSegmentation reads the segment/micro-segmentation seed file.
func LoadSegmentation(path string) (*SegmentationSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed SegmentationSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, err
	}
	return &seed, nil
}

// LoadIntel reads the threat-intelligence seed file.
func LoadIntel(path string) (*intel.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed intel.Config
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, err
	}
	return &seed, nil
}
