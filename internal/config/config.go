// Package config loads process-wide configuration: store selection
// from environment variables, the structured logger, and the path to
// the ontology TOML directory consumed by internal/ontology. Nothing
// here is a package-global; Load returns a Runtime that callers thread
// through their own constructors, per the "explicit Runtime struct"
// design note.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StoreType selects the persistence backend.
type StoreType int

const (
	PostgreSQLStore StoreType = iota
	MockStore
)

func (s StoreType) String() string {
	if s == MockStore {
		return "mock"
	}
	return "postgresql"
}

// StoreConfig is the resolved persistence configuration.
type StoreConfig struct {
	Type             StoreType
	ConnectionString string
	MockDataPath     string
}

// Runtime is the explicit, instance-owned state threaded through
// command and server entrypoints: a logger, the store configuration,
// the ontology directory to watch, and the timeout-sweep cadence.
type Runtime struct {
	Log              logr.Logger
	Store            StoreConfig
	OntologyDir      string
	SweepInterval    time.Duration
	WorkflowEngineURL string
	RedisAddr        string
	SlackWebhookURL  string
}

// Load resolves a Runtime from the process environment. Environment
// variable names preserve the shape the platform has always used
// (DSL_STORE_TYPE, DB_CONN_STRING, DSL_MOCK_DATA_PATH) and add the
// knobs this repository introduces.
func Load() (*Runtime, error) {
	log, err := NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("constructing logger: %w", err)
	}

	rt := &Runtime{
		Log:               log,
		Store:             storeConfigFromEnv(),
		OntologyDir:       envDefault("ONTOLOGY_CONFIG_DIR", "config/ontology"),
		SweepInterval:     sweepIntervalFromEnv(),
		WorkflowEngineURL: envDefault("WORKFLOW_ENGINE_URL", "http://localhost:8088"),
		RedisAddr:         envDefault("REGISTRY_CACHE_REDIS_ADDR", "localhost:6379"),
		SlackWebhookURL:   os.Getenv("HUMAN_GATE_SLACK_WEBHOOK_URL"),
	}
	return rt, nil
}

// storeConfigFromEnv resolves the store backend: DSL_STORE_TYPE selects
// "mock" or "postgresql" (default).
func storeConfigFromEnv() StoreConfig {
	storeType := os.Getenv("DSL_STORE_TYPE")
	cfg := StoreConfig{}
	switch strings.ToLower(storeType) {
	case "mock":
		cfg.Type = MockStore
		cfg.MockDataPath = envDefault("DSL_MOCK_DATA_PATH", "data/mocks")
	default:
		cfg.Type = PostgreSQLStore
		cfg.ConnectionString = envDefault("DB_CONN_STRING", "postgres://localhost:5432/postgres?sslmode=disable")
	}
	return cfg
}

// IsMockMode reports whether DSL_STORE_TYPE selects the in-memory
// store.
func IsMockMode() bool {
	return strings.EqualFold(os.Getenv("DSL_STORE_TYPE"), "mock")
}

// sweepIntervalFromEnv resolves the parked-token timeout-sweep
// cadence, left unspecified upstream; this repository picks one
// minute and lets PARK_SWEEP_INTERVAL_SECONDS override it for tests.
func sweepIntervalFromEnv() time.Duration {
	if v := os.Getenv("PARK_SWEEP_INTERVAL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewLogger constructs a zap-backed logr.Logger at the requested
// level ("debug", "info", "warn", "error"; default "info"). The
// returned logr.Logger is instance-owned; no package-global logger
// exists anywhere in this module.
func NewLogger(level string) (logr.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(level) {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	zl, err := zcfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}
