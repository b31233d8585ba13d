package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the sync service.
type Config struct {
	// Server configuration
	Port        int    `json:"port"`
	Environment string `json:"environment"`

	// MongoDB configuration
	MongoURI        string `json:"mongo_uri"`
	MongoDatabase   string `json:"mongo_database"`
	MongoCollection string `json:"mongo_entity_collection"`

	// Redis configuration
	RedisURI      string `json:"redis_uri"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	// Sync orchestrator configuration
	SyncInterval         time.Duration `json:"sync_interval"`
	NetworkProbeInterval time.Duration `json:"network_probe_interval"`
	CompletedMarkerTTL   time.Duration `json:"completed_marker_ttl"`
	DefaultMaxRetries    int           `json:"default_max_retries"`

	// Entity sync configuration
	EntitySyncTimeout time.Duration `json:"entity_sync_timeout"`

	// Resilience configuration
	RetryBaseDelay          time.Duration `json:"retry_base_delay"`
	RetryMaxDelay           time.Duration `json:"retry_max_delay"`
	RetryMultiplier         float64       `json:"retry_multiplier"`
	BreakerFailureThreshold int           `json:"breaker_failure_threshold"`
	BreakerSuccessThreshold int           `json:"breaker_success_threshold"`
	BreakerCooldown         time.Duration `json:"breaker_cooldown"`
	PolicyTimeout           time.Duration `json:"policy_timeout"`
	HealthCheckInterval     time.Duration `json:"health_check_interval"`

	// Tracing configuration
	TracingEnabled  bool   `json:"tracing_enabled"`
	TracingEndpoint string `json:"tracing_endpoint"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	syncInterval, err := time.ParseDuration(getEnvOrDefault("SYNC_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}

	probeInterval, err := time.ParseDuration(getEnvOrDefault("NETWORK_PROBE_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid NETWORK_PROBE_INTERVAL: %w", err)
	}

	completedTTL, err := time.ParseDuration(getEnvOrDefault("COMPLETED_MARKER_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid COMPLETED_MARKER_TTL: %w", err)
	}

	maxRetries, err := strconv.Atoi(getEnvOrDefault("DEFAULT_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_MAX_RETRIES: %w", err)
	}

	entitySyncTimeout, err := time.ParseDuration(getEnvOrDefault("ENTITY_SYNC_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid ENTITY_SYNC_TIMEOUT: %w", err)
	}

	retryBaseDelay, err := time.ParseDuration(getEnvOrDefault("RETRY_BASE_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETRY_BASE_DELAY: %w", err)
	}

	retryMaxDelay, err := time.ParseDuration(getEnvOrDefault("RETRY_MAX_DELAY", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETRY_MAX_DELAY: %w", err)
	}

	retryMultiplier, err := strconv.ParseFloat(getEnvOrDefault("RETRY_MULTIPLIER", "2"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RETRY_MULTIPLIER: %w", err)
	}

	failureThreshold, err := strconv.Atoi(getEnvOrDefault("BREAKER_FAILURE_THRESHOLD", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid BREAKER_FAILURE_THRESHOLD: %w", err)
	}

	successThreshold, err := strconv.Atoi(getEnvOrDefault("BREAKER_SUCCESS_THRESHOLD", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid BREAKER_SUCCESS_THRESHOLD: %w", err)
	}

	breakerCooldown, err := time.ParseDuration(getEnvOrDefault("BREAKER_COOLDOWN", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BREAKER_COOLDOWN: %w", err)
	}

	policyTimeout, err := time.ParseDuration(getEnvOrDefault("POLICY_TIMEOUT", "120s"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLICY_TIMEOUT: %w", err)
	}

	healthCheckInterval, err := time.ParseDuration(getEnvOrDefault("HEALTH_CHECK_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEALTH_CHECK_INTERVAL: %w", err)
	}

	return &Config{
		Port:        port,
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		MongoURI:        getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnvOrDefault("MONGODB_DATABASE", "appsync"),
		MongoCollection: getEnvOrDefault("MONGODB_ENTITY_COLLECTION", "entities"),

		RedisURI:      getEnvOrDefault("REDIS_URI", "redis://localhost:6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		SyncInterval:         syncInterval,
		NetworkProbeInterval: probeInterval,
		CompletedMarkerTTL:   completedTTL,
		DefaultMaxRetries:    maxRetries,

		EntitySyncTimeout: entitySyncTimeout,

		RetryBaseDelay:          retryBaseDelay,
		RetryMaxDelay:           retryMaxDelay,
		RetryMultiplier:         retryMultiplier,
		BreakerFailureThreshold: failureThreshold,
		BreakerSuccessThreshold: successThreshold,
		BreakerCooldown:         breakerCooldown,
		PolicyTimeout:           policyTimeout,
		HealthCheckInterval:     healthCheckInterval,

		TracingEnabled:  getEnvOrDefault("TRACING_ENABLED", "false") == "true",
		TracingEndpoint: getEnvOrDefault("TRACING_ENDPOINT", "localhost:4317"),
	}, nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
