package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/trustplane/trustplane/pkg/config"
	"github.com/trustplane/trustplane/pkg/decision"
	"github.com/trustplane/trustplane/pkg/engine"
	"github.com/trustplane/trustplane/pkg/intel"
	"github.com/trustplane/trustplane/pkg/policy"
	"github.com/trustplane/trustplane/pkg/response"
	"github.com/trustplane/trustplane/pkg/segmentation"
	"github.com/trustplane/trustplane/pkg/telemetry"
	"github.com/trustplane/trustplane/pkg/threat"
	"github.com/trustplane/trustplane/pkg/trust"
)

var (
	configPath  = flag.String("config", "", "Config file path")
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	dbPath      = flag.String("db", "", "Database path (overrides config)")
	policyFile  = flag.String("policies", "policies.yaml", "Security policy seed file")
	segmentFile = flag.String("segments", "segments.yaml", "Segmentation seed file")
	intelFile   = flag.String("intel", "intel.yaml", "Threat intelligence seed file")
	Version     = "dev"
)

// fixedCredentialScorer reports a configured credential strength for every
// subject. Deployments with a live credential service replace it.
type fixedCredentialScorer struct {
	score float64
}

func (s fixedCredentialScorer) Score(context.Context, string) (float64, error) {
	return s.score, nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load failed")
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
	logger := newLogger(cfg.Logging)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().Str("version", Version).Str("listen", cfg.Server.Listen).Msg("trustplane server starting")

	ctx := context.Background()
	provider, err := telemetry.Init(ctx, "trustplane-server", Version, telemetry.Options{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}
	defer provider.Shutdown(ctx)

	db, err := gorm.Open(sqlite.Open(cfg.Server.DBPath), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Server.DBPath).Msg("database open failed")
	}
	if err := db.AutoMigrate(&IncidentRecord{}, &AssessmentRecord{}); err != nil {
		logger.Fatal().Err(err).Msg("database migration failed")
	}

	eng, incidents := buildEngine(cfg, db, logger)

	srv := &Server{engine: eng, incidents: incidents, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	limiter := NewRateLimiter(cfg.Server.RateLimit, time.Duration(cfg.Server.RateWindowS)*time.Second)
	srv.routes(r, limiter, adminToken(cfg, logger))

	logger.Info().Str("listen", cfg.Server.Listen).Msg("listening")
	if err := r.Run(cfg.Server.Listen); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

// buildEngine wires the evaluation engine from the seed files and config.
func buildEngine(cfg *config.Config, db *gorm.DB, logger zerolog.Logger) (*engine.Engine, *incidentStore) {
	policies := loadPolicies(*policyFile, logger)
	policyEngine := policy.NewEngine(policy.NewStaticStore(policies), nil)

	seed := loadSegmentation(*segmentFile, logger)
	enforcer := segmentation.NewEnforcer(
		segmentation.NewStaticStore(seed.Segments, seed.Policies),
		engine.NewServiceCheck(policyEngine),
		logger,
	)

	history := threat.NewMemoryHistory(time.Duration(cfg.Engine.HistoryRetentionS) * time.Second)
	detectors := []threat.Detector{
		threat.NewVelocityDetector(history, cfg.Engine.DetectorLimits),
	}
	if feed := loadIntel(*intelFile, logger); feed != nil {
		detectors = append(detectors,
			threat.NewIntelDetector(feed),
			threat.NewNetworkDetector(feed),
		)
	}
	assessor := threat.NewAssessor(detectors, cfg.Engine.RiskWeights, history, logger)

	incidents := newIncidentStore(db)
	eng := engine.New(engine.Params{
		Trust:     trust.NewCalculator(cfg.Engine.TrustWeights, fixedCredentialScorer{score: cfg.Engine.CredentialScore}),
		Policies:  policyEngine,
		Decisions: decision.NewEngine(cfg.Engine.Sessions.Durations()),
		Assessor:  assessor,
		Responses: response.NewGenerator(),
		Enforcer:  enforcer,
		Incidents: incidents,
		Timeout:   time.Duration(cfg.Engine.TimeoutMs) * time.Millisecond,
		Logger:    logger,
	})
	return eng, incidents
}

func loadPolicies(path string, logger zerolog.Logger) []policy.StoredPolicy {
	policies, err := config.LoadPolicies(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("path", path).Msg("no policy seed file, starting with zero policies")
			return nil
		}
		logger.Fatal().Err(err).Str("path", path).Msg("policy seed parse failed")
	}
	logger.Info().Int("policies", len(policies)).Msg("policies loaded")
	return policies
}

func loadSegmentation(path string, logger zerolog.Logger) *config.SegmentationSeed {
	seed, err := config.LoadSegmentation(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("path", path).Msg("no segmentation seed file, communication checks will deny unknown services")
			return &config.SegmentationSeed{}
		}
		logger.Fatal().Err(err).Str("path", path).Msg("segmentation seed parse failed")
	}
	logger.Info().Int("segments", len(seed.Segments)).Int("policies", len(seed.Policies)).Msg("segmentation loaded")
	return seed
}

func loadIntel(path string, logger zerolog.Logger) *intel.StaticFeed {
	seed, err := config.LoadIntel(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("path", path).Msg("no intel seed file, intel detectors disabled")
			return nil
		}
		logger.Fatal().Err(err).Str("path", path).Msg("intel seed parse failed")
	}
	feed, err := intel.NewStaticFeed(*seed)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("intel seed invalid")
	}
	logger.Info().
		Int("ranges", len(seed.MaliciousRanges)).
		Int("reputation", len(seed.IPReputation)).
		Msg("threat intelligence loaded")
	return feed
}

func adminToken(cfg *config.Config, logger zerolog.Logger) string {
	if cfg.Server.AdminTokenFile != "" {
		data, err := os.ReadFile(cfg.Server.AdminTokenFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("admin token file read failed")
		}
		return strings.TrimSpace(string(data))
	}
	return cfg.Server.AdminToken
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.JSON {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
