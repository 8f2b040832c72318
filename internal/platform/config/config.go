package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	dErrors "catalogpolicy/pkg/domain-errors"
)

// Store backends understood by the factory.
const (
	BackendGlue     = "glue"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

const (
	DefaultDocumentName    = "catalog-resource-policy"
	DefaultMaxAttempts     = 5
	DefaultCallbackTimeout = 10 * time.Second
	DefaultCallbackReserve = 5 * time.Second
	// DefaultCallbackAllowedHosts covers the presigned S3 URLs the orchestrator issues.
	DefaultCallbackAllowedHosts = "*.amazonaws.com"
)

// Config is the process-wide configuration assembled from the environment.
type Config struct {
	Server    Server
	Store     Store
	Redis     RedisConfig
	Reconcile Reconcile
	Log       Log
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
}

// Store selects and addresses the shared policy document.
type Store struct {
	Backend      string
	DocumentName string
	AWSRegion    string
	// GlueCatalogID scopes the default resource ARN when GlueResourceARN is unset.
	GlueCatalogID    string
	GlueResourceARN  string
	GlueEnableHybrid bool
	DatabaseURL      string
}

// RedisConfig mirrors the go-redis options we override.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Reconcile bounds a single reconciliation and its callback.
type Reconcile struct {
	MaxAttempts int
	// Timeout caps a reconciliation even when the invocation deadline is later. Zero disables it.
	Timeout            time.Duration
	CallbackTimeout    time.Duration
	CallbackReserve    time.Duration
	PhysicalResourceID string
	// CallbackAllowedHosts restricts where outcomes are PUT. "*" allows any host.
	CallbackAllowedHosts []string
}

type Log struct {
	Level  string
	Format string
}

// FromEnv builds a Config from environment variables so main stays lean.
// Unparseable numbers and durations fall back to their defaults.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr: envString("SERVER_ADDR", ":8080"),
		},
		Store: Store{
			Backend:          strings.ToLower(envString("POLICY_BACKEND", BackendGlue)),
			DocumentName:     envString("POLICY_DOCUMENT_NAME", DefaultDocumentName),
			AWSRegion:        os.Getenv("AWS_REGION"),
			GlueCatalogID:    os.Getenv("GLUE_CATALOG_ID"),
			GlueResourceARN:  os.Getenv("GLUE_RESOURCE_ARN"),
			GlueEnableHybrid: envBool("GLUE_ENABLE_HYBRID", false),
			DatabaseURL:      os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Reconcile: Reconcile{
			MaxAttempts:          envInt("RECONCILE_MAX_ATTEMPTS", DefaultMaxAttempts),
			Timeout:              envDuration("RECONCILE_TIMEOUT", 0),
			CallbackTimeout:      envDuration("CALLBACK_TIMEOUT", DefaultCallbackTimeout),
			CallbackReserve:      envDuration("CALLBACK_RESERVE", DefaultCallbackReserve),
			PhysicalResourceID:   os.Getenv("PHYSICAL_RESOURCE_ID"),
			CallbackAllowedHosts: envList("CALLBACK_ALLOWED_HOSTS", DefaultCallbackAllowedHosts),
		},
		Log: Log{
			Level:  envString("LOG_LEVEL", "info"),
			Format: strings.ToLower(envString("LOG_FORMAT", "json")),
		},
	}
}

// Validate rejects configurations that cannot produce a working store.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendGlue, BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return dErrors.New(dErrors.CodeValidation, "REDIS_URL is required for the redis backend")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return dErrors.New(dErrors.CodeValidation, "DATABASE_URL is required for the postgres backend")
		}
	default:
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("unknown policy backend %q (want glue, redis, postgres or memory)", c.Store.Backend))
	}
	if c.Store.DocumentName == "" {
		return dErrors.New(dErrors.CodeValidation, "POLICY_DOCUMENT_NAME must not be empty")
	}
	if c.Reconcile.MaxAttempts < 1 {
		return dErrors.New(dErrors.CodeValidation, "RECONCILE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Reconcile.Timeout < 0 || c.Reconcile.CallbackReserve < 0 || c.Reconcile.CallbackTimeout <= 0 {
		return dErrors.New(dErrors.CodeValidation, "reconcile timeouts must be positive")
	}
	if len(c.Reconcile.CallbackAllowedHosts) == 0 {
		return dErrors.New(dErrors.CodeValidation, `CALLBACK_ALLOWED_HOSTS must name at least one host (use "*" for any)`)
	}
	return nil
}

// GlueTarget is the resource ARN the glue backend writes to. Empty means the
// account's default catalog.
func (s Store) GlueTarget() string {
	if s.GlueResourceARN != "" {
		return s.GlueResourceARN
	}
	if s.GlueCatalogID != "" && s.AWSRegion != "" {
		return fmt.Sprintf("arn:aws:glue:%s:%s:catalog", s.AWSRegion, s.GlueCatalogID)
	}
	return ""
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// envList splits a comma separated variable, dropping blanks.
func envList(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(envString(key, fallback), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
