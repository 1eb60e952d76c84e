package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFormat   string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Neo4j
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string
	Neo4jDatabase string

	// JWT
	JWTSecret string

	// OpenAI
	OpenAIAPIKey string
	LLMModel     string
	LLMTimeout   time.Duration

	// Rules and send policy
	RulesFile           string
	MaxEmailsPerDay     int
	MaxEmailsPerWeek    int
	BasicWeeklyCap      int
	QuietHoursStart     int
	QuietHoursEnd       int
	DefaultTimezone     string
	DryRun              bool
	PipelineUserLimit   int
	PipelineUserTimeout time.Duration
	FeatureCacheTTL     time.Duration
	PipelineInterval    time.Duration
	PipelineRunTimeout  time.Duration
	SchedulerEnabled    bool
	DuplicateSendWindow time.Duration
	SendRatePerSecond   int
	SendRateBurst       int

	// Gmail
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string
	GmailSender       string
	GmailSenderName   string
	EncryptionKey     string

	// Worker
	WorkerID         string
	WorkerPoolSize   int
	WorkerQueueSize  int
	WorkerJobTimeout time.Duration
	WorkerMaxRetries int

	// Consumer (Redis Stream)
	SendStream           string
	SendGroup            string
	ConsumerBatchSize    int
	ConsumerBlock        time.Duration
	ConsumerMaxRetries   int
	ConsumerPendingCheck time.Duration
	ConsumerPendingIdle  time.Duration

	// API
	AllowedOrigins  []string
	APIRatePerSec   int
	APIRateBurst    int
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("SERVER_PORT", getEnv("PORT", "8080")),
		Environment: getEnv("ENVIRONMENT", getEnv("ENV", "development")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "learning"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Neo4j
		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", "neo4j"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OpenAI
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		LLMModel:     getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:   getEnvDuration("LLM_TIMEOUT", 20*time.Second),

		// Rules and send policy
		RulesFile:           getEnv("RULES_FILE", "config/email_rules.yaml"),
		MaxEmailsPerDay:     getEnvInt("MAX_EMAILS_PER_DAY", 1),
		MaxEmailsPerWeek:    getEnvInt("MAX_EMAILS_PER_WEEK", 2),
		BasicWeeklyCap:      getEnvInt("BASIC_WEEKLY_CAP", 5),
		QuietHoursStart:     getEnvInt("EMAIL_QUIET_HOURS_START", 20),
		QuietHoursEnd:       getEnvInt("EMAIL_QUIET_HOURS_END", 8),
		DefaultTimezone:     getEnv("DEFAULT_TIMEZONE", "America/Los_Angeles"),
		DryRun:              getEnvBool("DRY_RUN", true),
		PipelineUserLimit:   getEnvInt("PIPELINE_USER_LIMIT", 0),
		PipelineUserTimeout: getEnvDuration("PIPELINE_USER_TIMEOUT", 2*time.Minute),
		FeatureCacheTTL:     getEnvDuration("FEATURE_CACHE_TTL", 6*time.Hour),
		PipelineInterval:    getEnvDuration("PIPELINE_SCHEDULE_INTERVAL", 24*time.Hour),
		PipelineRunTimeout:  getEnvDuration("PIPELINE_RUN_TIMEOUT", 2*time.Hour),
		SchedulerEnabled:    getEnvBool("SCHEDULER_ENABLED", false),
		DuplicateSendWindow: getEnvDuration("DUPLICATE_SEND_WINDOW", 24*time.Hour),
		SendRatePerSecond:   getEnvInt("SEND_RATE_PER_SECOND", 5),
		SendRateBurst:       getEnvInt("SEND_RATE_BURST", 10),

		// Gmail
		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),
		GmailSender:       getEnv("GMAIL_SENDER", ""),
		GmailSenderName:   getEnv("GMAIL_SENDER_NAME", ""),
		EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),

		// Worker
		WorkerID:         getEnv("WORKER_ID", generateWorkerID()),
		WorkerPoolSize:   getEnvInt("WORKER_POOL_SIZE", 4),
		WorkerQueueSize:  getEnvInt("WORKER_QUEUE_SIZE", 100),
		WorkerJobTimeout: getEnvDuration("WORKER_JOB_TIMEOUT", 30*time.Second),
		WorkerMaxRetries: getEnvInt("WORKER_MAX_RETRIES", 3),

		// Consumer
		SendStream:           getEnv("SEND_STREAM", "stream:email:send"),
		SendGroup:            getEnv("SEND_GROUP", "email-senders"),
		ConsumerBatchSize:    getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlock:        getEnvDuration("CONSUMER_BLOCK", 5*time.Second),
		ConsumerMaxRetries:   getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheck: getEnvDuration("CONSUMER_PENDING_CHECK", 30*time.Second),
		ConsumerPendingIdle:  getEnvDuration("CONSUMER_PENDING_IDLE", 2*time.Minute),

		// API
		AllowedOrigins:  getEnvSlice("ALLOWED_ORIGINS", nil),
		APIRatePerSec:   getEnvInt("API_RATE_PER_SECOND", 20),
		APIRateBurst:    getEnvInt("API_RATE_BURST", 40),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.MaxEmailsPerDay < 0 || c.MaxEmailsPerWeek < 0 || c.BasicWeeklyCap < 0 {
		return fmt.Errorf("email caps must not be negative")
	}
	if !validHour(c.QuietHoursStart) || !validHour(c.QuietHoursEnd) {
		return fmt.Errorf("quiet hours must be between 0 and 23, got %d-%d", c.QuietHoursStart, c.QuietHoursEnd)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// GmailConfigured reports whether real sends are possible.
func (c *Config) GmailConfigured() bool {
	return c.GmailClientID != "" && c.GmailClientSecret != "" && c.GmailRefreshToken != "" && c.GmailSender != ""
}

func validHour(h int) bool { return h >= 0 && h <= 23 }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("20s") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
