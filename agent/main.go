// The agent forwards locally collected security events to the evaluation
// server, one JSON event per line, with retry and backoff on transient
// failures.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trustplane/trustplane/pkg/config"
	"github.com/trustplane/trustplane/pkg/threat"
)

var (
	configPath = flag.String("config", "/etc/trustplane/agent.yaml", "Config file path")
	serverURL  = flag.String("server", "", "Server URL (overrides config)")
	eventsPath = flag.String("events", "", "Events file path (overrides config)")
	subjectID  = flag.String("subject", "", "Default subject for events without one")
	Version    = "dev"
)

// eventRecord is one line of the events file. Events may carry their own
// subject; otherwise the configured default applies.
type eventRecord struct {
	SubjectID string               `json:"subject_id"`
	Event     threat.SecurityEvent `json:"event"`
}

type assessmentSummary struct {
	RiskScore  float64                 `json:"risk_score"`
	RiskLevel  threat.RiskLevel        `json:"risk_level"`
	Threats    []threat.SecurityThreat `json:"threats"`
	Responses  []map[string]any        `json:"responses"`
	IncidentID string                  `json:"incident_id"`
}

type Forwarder struct {
	cfg     config.AgentConfig
	client  *http.Client
	retrier *retrier
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if *serverURL != "" {
		cfg.Agent.ServerURL = *serverURL
	}
	if *eventsPath != "" {
		cfg.Agent.EventsPath = *eventsPath
	}
	if *subjectID != "" {
		cfg.Agent.SubjectID = *subjectID
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	configureLogger(cfg.Logging)

	log.Info().Str("version", Version).Str("server", cfg.Agent.ServerURL).Msg("trustplane agent starting")

	f := &Forwarder{
		cfg: cfg.Agent,
		client: &http.Client{
			Timeout: time.Duration(cfg.Agent.RequestTimeoutS) * time.Second,
		},
		retrier: newRetrier(cfg.Agent.RetryInitialMs, cfg.Agent.RetryMaxMs, cfg.Agent.RetryMaxRetries),
	}

	sent, failed, err := f.ForwardFile(cfg.Agent.EventsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Agent.EventsPath).Msg("event forwarding failed")
	}
	log.Info().Int("sent", sent).Int("failed", failed).Msg("event forwarding finished")
	if failed > 0 {
		os.Exit(1)
	}
}

// ForwardFile sends every event in the file, skipping malformed lines.
func (f *Forwarder) ForwardFile(path string) (sent, failed int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var record eventRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			log.Warn().Int("line", line).Err(err).Msg("skipping malformed event")
			failed++
			continue
		}
		if record.SubjectID == "" {
			record.SubjectID = f.cfg.SubjectID
		}
		if record.SubjectID == "" || record.Event.ID == "" {
			log.Warn().Int("line", line).Msg("skipping event without subject or id")
			failed++
			continue
		}

		if err := f.forward(record); err != nil {
			log.Error().Int("line", line).Str("event", record.Event.ID).Err(err).Msg("event not delivered")
			failed++
			continue
		}
		sent++
	}
	return sent, failed, scanner.Err()
}

// forward posts one event, retrying transient failures.
func (f *Forwarder) forward(record eventRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return f.retrier.run(func() error {
		resp, err := f.client.Post(f.endpoint("/v1/threats"), "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if isRetryableStatus(resp) {
			return retryableStatusError{status: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}

		var summary assessmentSummary
		if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
			return err
		}
		entry := log.Info()
		if summary.RiskLevel.AtLeast(threat.RiskHigh) {
			entry = log.Warn()
		}
		entry.Str("subject", record.SubjectID).
			Str("event", record.Event.ID).
			Float64("risk", summary.RiskScore).
			Str("level", string(summary.RiskLevel)).
			Int("threats", len(summary.Threats)).
			Int("responses", len(summary.Responses)).
			Str("incident", summary.IncidentID).
			Msg("event assessed")
		return nil
	}, isRetryableHTTP)
}

func (f *Forwarder) endpoint(path string) string {
	return strings.TrimRight(f.cfg.ServerURL, "/") + path
}

func configureLogger(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}

	if cfg.JSON {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	} else {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(writer).With().Timestamp().Logger().Level(level)
	}
	zerolog.SetGlobalLevel(level)
}
