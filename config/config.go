package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// HTTP server
	APIPort int

	// Ingest authentication
	IngestSecret string

	// Database configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	// LLM configuration
	LLM LLMConfig

	// Pipeline configuration
	Pipeline PipelineConfig

	// Maintenance configuration
	Maintenance MaintenanceConfig
}

// LLMConfig holds LLM service configuration
type LLMConfig struct {
	Enabled  bool
	Endpoint string
	APIKey   string
	Model    string
}

// PipelineConfig holds pipeline tuning parameters and thresholds
type PipelineConfig struct {
	// Stage 1
	CapturePageSize  int
	ExtractBatchSize int
	ScrubConcurrency int

	// Stage 2
	LookbackHours      int
	OutputPageSize     int
	PriorSignalLimit   int
	VelocityThreshold  float64
	SentimentDropLimit float64
	FrictionSpikeLimit float64
	ColdStartMentions  int
	QualifyingStrength float64

	// Stage 3
	SynthConcurrency int

	// Ingest guard
	MaxSignalsPerCapture  int
	TimestampToleranceMin int
	SourceIntervalSeconds int
}

// MaintenanceConfig holds parameters for the background maintenance job
type MaintenanceConfig struct {
	Enabled         bool
	IntervalMinutes int
	BatchSize       int
	NonceTTLMinutes int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		APIPort:      getEnvInt("API_PORT", 8080),
		IngestSecret: os.Getenv("INGEST_SECRET"),

		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "signal_scout"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "scout"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "scout123"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		// LLM configuration
		LLM: LLMConfig{
			Enabled:  getEnvOrDefault("LLM_ENABLED", "true") == "true",
			Endpoint: getEnvOrDefault("LLM_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:   getEnvOrDefault("LLM_API_KEY", ""),
			Model:    getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		},

		// Pipeline configuration
		Pipeline: PipelineConfig{
			CapturePageSize:  getEnvInt("PIPELINE_CAPTURE_PAGE_SIZE", 10),
			ExtractBatchSize: getEnvInt("PIPELINE_EXTRACT_BATCH_SIZE", 25),
			ScrubConcurrency: getEnvInt("PIPELINE_SCRUB_CONCURRENCY", 5),

			LookbackHours:      getEnvInt("PIPELINE_LOOKBACK_HOURS", 48),
			OutputPageSize:     getEnvInt("PIPELINE_OUTPUT_PAGE_SIZE", 500),
			PriorSignalLimit:   getEnvInt("PIPELINE_PRIOR_SIGNAL_LIMIT", 100),
			VelocityThreshold:  getEnvFloat("PIPELINE_VELOCITY_THRESHOLD", 2.0),
			SentimentDropLimit: getEnvFloat("PIPELINE_SENTIMENT_DROP", -0.3),
			FrictionSpikeLimit: getEnvFloat("PIPELINE_FRICTION_SPIKE", 0.2),
			ColdStartMentions:  getEnvInt("PIPELINE_COLD_START_MENTIONS", 10),
			QualifyingStrength: getEnvFloat("PIPELINE_QUALIFYING_STRENGTH", 0.4),

			SynthConcurrency: getEnvInt("PIPELINE_SYNTH_CONCURRENCY", 3),

			MaxSignalsPerCapture:  getEnvInt("INGEST_MAX_SIGNALS", 500),
			TimestampToleranceMin: getEnvInt("INGEST_TIMESTAMP_TOLERANCE_MIN", 5),
			SourceIntervalSeconds: getEnvInt("INGEST_SOURCE_INTERVAL_SEC", 60),
		},

		// Maintenance configuration
		Maintenance: MaintenanceConfig{
			Enabled:         getEnvOrDefault("MAINTENANCE_ENABLED", "true") == "true",
			IntervalMinutes: getEnvInt("MAINTENANCE_INTERVAL_MIN", 15),
			BatchSize:       getEnvInt("MAINTENANCE_BATCH_SIZE", 500),
			NonceTTLMinutes: getEnvInt("MAINTENANCE_NONCE_TTL_MIN", 5),
		},
	}
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
