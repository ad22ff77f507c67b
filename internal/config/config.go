package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds configuration for the engram service and worker processes.
// Environment variables are parsed from the ENGRAM_ prefix, e.g.
// ENGRAM_POSTGRES_DSN, ENGRAM_HTTP_PORT.
type Config struct {
	// HTTP
	HTTPPort        int `envconfig:"HTTP_PORT" default:"8080"`
	MetricsPort     int `envconfig:"METRICS_PORT" default:"9091"`
	ShutdownSeconds int `envconfig:"SHUTDOWN_SECONDS" default:"10"`

	// System of record
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"` // auto|postgres|sqlite
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""`

	// Idempotency guard (Redis)
	RedisAddr         string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD" default:""`
	IdempotencyTTLHrs int    `envconfig:"IDEMPOTENCY_TTL_HOURS" default:"24"`

	// Graph store (Neo4j)
	Neo4jURI      string `envconfig:"NEO4J_URI" default:"bolt://localhost:7687"`
	Neo4jUser     string `envconfig:"NEO4J_USER" default:"neo4j"`
	Neo4jPassword string `envconfig:"NEO4J_PASSWORD" default:""`

	// Vector store (Weaviate, host:port without scheme)
	WeaviateURL string `envconfig:"WEAVIATE_URL" default:"localhost:8081"`

	// Embeddings
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel    string `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	EmbedDim      int    `envconfig:"EMBED_DIM" default:"1024"`

	// Fact extraction
	ExtractModel         string  `envconfig:"EXTRACT_MODEL" default:"llama3.1"`
	ExtractMinConfidence float64 `envconfig:"EXTRACT_MIN_CONFIDENCE" default:"0.4"`

	// Fan-out worker
	WorkerCount      int `envconfig:"WORKER_COUNT" default:"4"`
	OutboxBatchSize  int `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	OutboxPollMs     int `envconfig:"OUTBOX_POLL_MS" default:"2000"`
	OutboxMaxRetries int `envconfig:"OUTBOX_MAX_RETRIES" default:"6"`
	BackoffBaseMs    int `envconfig:"BACKOFF_BASE_MS" default:"500"`
	BackoffCapMs     int `envconfig:"BACKOFF_CAP_MS" default:"300000"`

	// Consistency auditor
	AuditIntervalSeconds int `envconfig:"AUDIT_INTERVAL_SECONDS" default:"60"`
	AuditSampleSize      int `envconfig:"AUDIT_SAMPLE_SIZE" default:"50"`
	AuditLagWindowMin    int `envconfig:"AUDIT_LAG_WINDOW_MINUTES" default:"15"`
	SLOMedianMs          int `envconfig:"SLO_MEDIAN_MS" default:"2000"`
	SLOP95Ms             int `envconfig:"SLO_P95_MS" default:"30000"`

	// Erasure lifecycle
	AuditSecret        string `envconfig:"AUDIT_SECRET" default:""`
	ErasureGraceHours  int    `envconfig:"ERASURE_GRACE_HOURS" default:"72"`
	ReaperIntervalSecs int    `envconfig:"REAPER_INTERVAL_SECONDS" default:"300"`
	ErasureSLAHours    int    `envconfig:"ERASURE_SLA_HOURS" default:"96"`

	// Hybrid retrieval
	RetrievalCandidates int `envconfig:"RETRIEVAL_CANDIDATES" default:"50"`
	RetrievalMaxHops    int `envconfig:"RETRIEVAL_MAX_HOPS" default:"2"`
	RetrievalTimeoutMs  int `envconfig:"RETRIEVAL_TIMEOUT_MS" default:"1500"`

	// Health
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"10"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// ResolveDefaults validates and derives driver selection.
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		} else {
			c.DBDriver = "sqlite"
		}
	}
	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			c.SQLitePath = "engram.db"
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}
	if c.RetrievalMaxHops < 1 || c.RetrievalMaxHops > 3 {
		return fmt.Errorf("RETRIEVAL_MAX_HOPS must be between 1 and 3, got %d", c.RetrievalMaxHops)
	}
	if c.AuditSecret == "" {
		return fmt.Errorf("AUDIT_SECRET is required for deletion-audit signing")
	}
	return nil
}

// New parses configuration from ENGRAM_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("ENGRAM", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) HTTPAddr() string    { return fmt.Sprintf(":%d", c.HTTPPort) }
func (c *Config) MetricsAddr() string { return fmt.Sprintf(":%d", c.MetricsPort) }

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.OutboxPollMs) * time.Millisecond
}
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMs) * time.Millisecond
}

func (c *Config) AuditInterval() time.Duration {
	return time.Duration(c.AuditIntervalSeconds) * time.Second
}
func (c *Config) AuditLagWindow() time.Duration {
	return time.Duration(c.AuditLagWindowMin) * time.Minute
}
func (c *Config) ErasureGrace() time.Duration {
	return time.Duration(c.ErasureGraceHours) * time.Hour
}
func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSecs) * time.Second
}
func (c *Config) ErasureSLA() time.Duration {
	return time.Duration(c.ErasureSLAHours) * time.Hour
}
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHrs) * time.Hour
}
func (c *Config) RetrievalTimeout() time.Duration {
	return time.Duration(c.RetrievalTimeoutMs) * time.Millisecond
}
