// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/spf13/viper"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC health server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// StoreDriver selects the persistence backend: postgres, sqlite, mongo or memory.
	// Empty means derive from DATABASE_URL / MONGO_URI.
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	// DatabaseURL is the SQL DSN: postgres://... for Postgres, sqlite3://path for SQLite.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// MongoURI is the MongoDB connection string used when StoreDriver is mongo.
	MongoURI string `mapstructure:"MONGO_URI"`
	// MongoDB is the Mongo database name.
	MongoDB string `mapstructure:"MONGO_DB"`

	// TransportBridgeURL is the websocket URL of the messaging transport bridge (ws://host/bridge).
	TransportBridgeURL string `mapstructure:"TRANSPORT_BRIDGE_URL"`

	// PairingMaxRetries is how many pairing-code attempts are made before giving up.
	PairingMaxRetries int `mapstructure:"PAIRING_MAX_RETRIES"`
	// PairingBaseDelay is multiplied by the failed-attempt count to get the wait before a retry.
	PairingBaseDelay time.Duration `mapstructure:"PAIRING_BASE_DELAY"`
	// PairingSettleDelay is waited once before the first pairing attempt.
	PairingSettleDelay time.Duration `mapstructure:"PAIRING_SETTLE_DELAY"`
	// PairingAttemptTimeout bounds a single pairing-code request; an attempt that times out counts as failed.
	PairingAttemptTimeout time.Duration `mapstructure:"PAIRING_ATTEMPT_TIMEOUT"`
	// OpenGraceDelay is waited after the transport reports open, before registering the session.
	OpenGraceDelay time.Duration `mapstructure:"OPEN_GRACE_DELAY"`
	// ReconnectDelay is waited after a transient close before reconnecting.
	ReconnectDelay time.Duration `mapstructure:"RECONNECT_DELAY"`
	// ResumeInterval spaces boot-time resumes of persisted numbers.
	ResumeInterval time.Duration `mapstructure:"RESUME_INTERVAL"`

	// RankingTimezone is the IANA zone used to compute activity bucket labels.
	RankingTimezone string `mapstructure:"RANKING_TIMEZONE"`
	// ExcludedChannels is a comma-separated list of chat ids never counted for activity.
	ExcludedChannels string `mapstructure:"EXCLUDED_CHANNELS"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses for session events.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SessionEventsTopic is the Kafka topic for session lifecycle events.
	SessionEventsTopic string `mapstructure:"SESSION_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group of the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL the event worker pushes to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is reported as service.name on telemetry.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// CredentialAgeIdentity is an optional AGE-SECRET-KEY-1... identity. When set, session
	// credentials are encrypted at rest.
	CredentialAgeIdentity string `mapstructure:"CREDENTIAL_AGE_IDENTITY"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DB", "session_hub")
	v.SetDefault("TRANSPORT_BRIDGE_URL", "")
	v.SetDefault("PAIRING_MAX_RETRIES", 3)
	v.SetDefault("PAIRING_BASE_DELAY", "2s")
	v.SetDefault("PAIRING_SETTLE_DELAY", "1500ms")
	v.SetDefault("PAIRING_ATTEMPT_TIMEOUT", "20s")
	v.SetDefault("OPEN_GRACE_DELAY", "3s")
	v.SetDefault("RECONNECT_DELAY", "10s")
	v.SetDefault("RESUME_INTERVAL", "500ms")
	v.SetDefault("RANKING_TIMEZONE", "Asia/Colombo")
	v.SetDefault("EXCLUDED_CHANNELS", "status@broadcast")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SESSION_EVENTS_TOPIC", "session-hub-events")
	v.SetDefault("KAFKA_GROUP_ID", "session-hub-loki")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "session-hub")
	v.SetDefault("CREDENTIAL_AGE_IDENTITY", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = deriveDriver(cfg.DatabaseURL, cfg.MongoURI)
	}
	switch cfg.StoreDriver {
	case DriverPostgres, DriverSQLite:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("config: DATABASE_URL must be set when STORE_DRIVER=%s", cfg.StoreDriver)
		}
	case DriverMongo:
		if cfg.MongoURI == "" {
			return nil, errors.New("config: MONGO_URI must be set when STORE_DRIVER=mongo")
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("config: unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.PairingMaxRetries <= 0 {
		return nil, errors.New("config: PAIRING_MAX_RETRIES must be positive")
	}
	if cfg.PairingBaseDelay < 0 || cfg.PairingSettleDelay < 0 || cfg.OpenGraceDelay < 0 ||
		cfg.ReconnectDelay < 0 || cfg.ResumeInterval < 0 {
		return nil, errors.New("config: delays must not be negative")
	}
	if cfg.PairingAttemptTimeout <= 0 {
		return nil, errors.New("config: PAIRING_ATTEMPT_TIMEOUT must be positive")
	}
	if _, err := time.LoadLocation(cfg.RankingTimezone); err != nil {
		return nil, fmt.Errorf("config: RANKING_TIMEZONE: %w", err)
	}
	if cfg.CredentialAgeIdentity != "" {
		if _, err := age.ParseX25519Identity(cfg.CredentialAgeIdentity); err != nil {
			return nil, fmt.Errorf("config: CREDENTIAL_AGE_IDENTITY: %w", err)
		}
	}

	return &cfg, nil
}

func deriveDriver(databaseURL, mongoURI string) string {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		return DriverSQLite
	case databaseURL != "":
		return DriverPostgres
	case mongoURI != "":
		return DriverMongo
	default:
		return DriverMemory
	}
}

// Location returns the ranking timezone. Falls back to UTC if the zone cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.RankingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ExcludedChannelsList returns the excluded chat ids from the comma-separated config.
func (c *Config) ExcludedChannelsList() []string {
	return splitList(c.ExcludedChannels)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka event export is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
