package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/services"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// Config holds all configuration for the correlator
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Neo4j       Neo4jConfig       `mapstructure:"neo4j"`
	NATS        NATSConfig        `mapstructure:"nats"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Logger      logger.Config     `mapstructure:"logger"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Runner      RunnerConfig      `mapstructure:"runner"`
	Rescore     RescoreConfig     `mapstructure:"rescore"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
	// Storage selects the backing stores: "postgres" or "memory"
	Storage string `mapstructure:"storage"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPAddr returns the listen address of the HTTP server
func (c ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddr returns the listen address of the gRPC health server
func (c ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Schema          string        `mapstructure:"schema"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&search_path=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode, c.Schema,
	)
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TLS       bool   `mapstructure:"tls"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Neo4jConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	URI                string `mapstructure:"uri"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	Database           string `mapstructure:"database"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MaxLifetimeMinutes int    `mapstructure:"max_lifetime_minutes"`
}

type NATSConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	URL        string             `mapstructure:"url"`
	StreamName string             `mapstructure:"stream_name"`
	Consumer   string             `mapstructure:"consumer"`
	Subjects   NATSSubjectsConfig `mapstructure:"subjects"`
}

type NATSSubjectsConfig struct {
	RecordChanged string `mapstructure:"record_changed"`
	Merged        string `mapstructure:"merged"`
	JobFailed     string `mapstructure:"job_failed"`
	Edge          string `mapstructure:"edge"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// CorrelationConfig is the scoring profile plus candidate bounds
type CorrelationConfig struct {
	AlgorithmVersion    int                    `mapstructure:"algorithm_version"`
	Weights             models.SignalWeights   `mapstructure:"weights"`
	Thresholds          models.LabelThresholds `mapstructure:"thresholds"`
	SameEventThreshold  float64                `mapstructure:"same_event_threshold"`
	MaxTemporalGapDays  int                    `mapstructure:"max_temporal_gap_days"`
	CandidateWindowDays int                    `mapstructure:"candidate_window_days"`
	MaxCandidates       int                    `mapstructure:"max_candidates"`
}

// Profile converts the section into a scoring profile
func (c CorrelationConfig) Profile() models.ScoringProfile {
	return models.ScoringProfile{
		Version:            c.AlgorithmVersion,
		Weights:            c.Weights,
		Thresholds:         c.Thresholds,
		SameEventThreshold: c.SameEventThreshold,
		MaxTemporalGap:     time.Duration(c.MaxTemporalGapDays) * 24 * time.Hour,
	}
}

// Sweeper returns the candidate bounds of a sweep
func (c CorrelationConfig) Sweeper() services.SweeperConfig {
	return services.SweeperConfig{
		CandidateWindowDays: c.CandidateWindowDays,
		MaxCandidates:       c.MaxCandidates,
	}
}

type RunnerConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	JobRetention   time.Duration `mapstructure:"job_retention"`
	StoreReadRate  float64       `mapstructure:"store_read_rate"`
	StoreReadBurst int           `mapstructure:"store_read_burst"`
	BreakerFails   uint32        `mapstructure:"breaker_max_failures"`
	BreakerTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

// Runner returns the job runner settings
func (c RunnerConfig) Runner() services.RunnerConfig {
	return services.RunnerConfig{
		Workers:        c.Workers,
		QueueSize:      c.QueueSize,
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		JobTimeout:     c.JobTimeout,
		JobRetention:   c.JobRetention,
	}
}

// Guard returns the record store protection settings
func (c RunnerConfig) Guard() services.GuardConfig {
	return services.GuardConfig{
		ReadsPerSecond: c.StoreReadRate,
		Burst:          c.StoreReadBurst,
		MaxFailures:    c.BreakerFails,
		OpenTimeout:    c.BreakerTimeout,
	}
}

type RescoreConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Schedule      string        `mapstructure:"schedule"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
	BatchSize     int           `mapstructure:"batch_size"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

// Rescorer returns the maintenance schedule settings
func (c RescoreConfig) Rescorer() services.RescorerConfig {
	cfg := services.RescorerConfig{
		PruneSchedule: c.PruneSchedule,
		BatchSize:     c.BatchSize,
		LockTTL:       c.LockTTL,
	}
	if c.Enabled {
		cfg.Schedule = c.Schedule
	}
	return cfg
}

// Validate rejects configurations the correlator cannot start with
func (c *Config) Validate() error {
	if err := c.Correlation.Profile().Validate(); err != nil {
		return err
	}
	if c.Correlation.CandidateWindowDays < 0 {
		return &models.ThresholdConfigError{Field: "correlation.candidate_window_days", Reason: "must not be negative"}
	}
	if c.Correlation.MaxCandidates < 0 {
		return &models.ThresholdConfigError{Field: "correlation.max_candidates", Reason: "must not be negative"}
	}
	if c.Runner.Workers <= 0 {
		return &models.ThresholdConfigError{Field: "runner.workers", Reason: "must be positive"}
	}
	if c.Runner.QueueSize <= 0 {
		return &models.ThresholdConfigError{Field: "runner.queue_size", Reason: "must be positive"}
	}
	if c.Runner.MaxRetries < 0 {
		return &models.ThresholdConfigError{Field: "runner.max_retries", Reason: "must not be negative"}
	}
	if c.Runner.JobTimeout <= 0 {
		return &models.ThresholdConfigError{Field: "runner.job_timeout", Reason: "must be positive"}
	}
	switch c.App.Storage {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown app.storage %q, expected postgres or memory", c.App.Storage)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	profile := models.DefaultScoringProfile()
	runner := services.DefaultRunnerConfig()

	v.SetDefault("app.name", "correlator")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.storage", "postgres")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8090)
	v.SetDefault("server.grpc_port", 9091)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "correlator")
	v.SetDefault("database.dbname", "threats")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.schema", "public")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.key_prefix", "correlator:")

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.max_connections", 50)
	v.SetDefault("neo4j.max_lifetime_minutes", 60)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "THREATS")
	v.SetDefault("nats.consumer", "correlator")
	v.SetDefault("nats.subjects.record_changed", "threats.record.>")
	v.SetDefault("nats.subjects.merged", "threats.correlation.merged")
	v.SetDefault("nats.subjects.job_failed", "threats.correlation.job_failed")
	v.SetDefault("nats.subjects.edge", "threats.correlation.edge")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"})
	v.SetDefault("cors.max_age", 300)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("correlation.algorithm_version", profile.Version)
	v.SetDefault("correlation.weights.indicator_overlap", profile.Weights.IndicatorOverlap)
	v.SetDefault("correlation.weights.infrastructure_overlap", profile.Weights.InfrastructureOverlap)
	v.SetDefault("correlation.weights.temporal_proximity", profile.Weights.TemporalProximity)
	v.SetDefault("correlation.weights.behavioral_similarity", profile.Weights.BehavioralSimilarity)
	v.SetDefault("correlation.thresholds.low", profile.Thresholds.Low)
	v.SetDefault("correlation.thresholds.medium", profile.Thresholds.Medium)
	v.SetDefault("correlation.thresholds.high", profile.Thresholds.High)
	v.SetDefault("correlation.thresholds.confirmed", profile.Thresholds.Confirmed)
	v.SetDefault("correlation.same_event_threshold", profile.SameEventThreshold)
	v.SetDefault("correlation.max_temporal_gap_days", int(profile.MaxTemporalGap/(24*time.Hour)))
	v.SetDefault("correlation.candidate_window_days", 0)
	v.SetDefault("correlation.max_candidates", 5000)

	v.SetDefault("runner.workers", runner.Workers)
	v.SetDefault("runner.queue_size", runner.QueueSize)
	v.SetDefault("runner.max_retries", runner.MaxRetries)
	v.SetDefault("runner.initial_backoff", runner.InitialBackoff)
	v.SetDefault("runner.max_backoff", runner.MaxBackoff)
	v.SetDefault("runner.job_timeout", runner.JobTimeout)
	v.SetDefault("runner.job_retention", runner.JobRetention)
	v.SetDefault("runner.store_read_rate", 200.0)
	v.SetDefault("runner.store_read_burst", 50)
	v.SetDefault("runner.breaker_max_failures", 5)
	v.SetDefault("runner.breaker_open_timeout", 30*time.Second)

	v.SetDefault("rescore.enabled", true)
	v.SetDefault("rescore.schedule", "@every 15m")
	v.SetDefault("rescore.prune_schedule", "@every 1h")
	v.SetDefault("rescore.batch_size", 500)
	v.SetDefault("rescore.lock_ttl", 5*time.Minute)
}

// Load reads configuration from file and environment variables. A missing
// config file is fine when configPath is empty; defaults cover every key.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/correlator")
	}

	v.SetEnvPrefix("CORRELATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
