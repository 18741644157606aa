package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	AppMode     string
	HTTPAddr    string
	DatabaseURL string
	JWTSecret   string
	Log         LogConfig
	Discipline  DisciplineConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// DisciplineConfig tunes the escalation engine.
type DisciplineConfig struct {
	PeriodMonths      int
	WarningThreshold  int
	ReconcileSchedule string
	ReconcileTimeout  time.Duration
}

type RedisConfig struct {
	URL       string
	DedupeTTL time.Duration
}

// KafkaConfig is optional; an empty broker list disables event intake and the
// Kafka notification sink.
type KafkaConfig struct {
	Brokers           []string
	Group             string
	RideTopic         string
	DisputeTopic      string
	NotificationTopic string
}

// Enabled reports whether any brokers are configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Load reads a .env file when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	appMode := strings.TrimSpace(getEnv("APP_MODE", "dev"))
	if appMode != "dev" && appMode != "prod" {
		return nil, fmt.Errorf("invalid APP_MODE: '%s' (must be 'dev' or 'prod')", appMode)
	}

	periodMonths, err := getInt("DISCIPLINE_PERIOD_MONTHS", 3)
	if err != nil {
		return nil, err
	}
	threshold, err := getInt("DISCIPLINE_WARNING_THRESHOLD", 3)
	if err != nil {
		return nil, err
	}
	reconcileTimeout, err := getDuration("DISCIPLINE_RECONCILE_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	dedupeTTL, err := getDuration("EVENT_DEDUPE_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppMode:     appMode,
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Discipline: DisciplineConfig{
			PeriodMonths:      periodMonths,
			WarningThreshold:  threshold,
			ReconcileSchedule: strings.TrimSpace(os.Getenv("DISCIPLINE_RECONCILE_SCHEDULE")),
			ReconcileTimeout:  reconcileTimeout,
		},
		Redis: RedisConfig{
			URL:       os.Getenv("REDIS_URL"),
			DedupeTTL: dedupeTTL,
		},
		Kafka: KafkaConfig{
			Brokers:           splitList(os.Getenv("KAFKA_BROKERS")),
			Group:             getEnv("KAFKA_GROUP", "discipline-engine"),
			RideTopic:         getEnv("KAFKA_RIDE_TOPIC", "rides.lifecycle"),
			DisputeTopic:      getEnv("KAFKA_DISPUTE_TOPIC", "disputes.created"),
			NotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "driver.notifications"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.IsProd() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in prod")
	}
	if c.Discipline.PeriodMonths <= 0 {
		return fmt.Errorf("DISCIPLINE_PERIOD_MONTHS must be positive, got %d", c.Discipline.PeriodMonths)
	}
	if c.Discipline.WarningThreshold <= 0 {
		return fmt.Errorf("DISCIPLINE_WARNING_THRESHOLD must be positive, got %d", c.Discipline.WarningThreshold)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: '%s' (must be 'json' or 'text')", c.Log.Format)
	}
	return nil
}

// IsDev returns true if running in development mode
func (c *Config) IsDev() bool {
	return c.AppMode == "dev"
}

// IsProd returns true if running in production mode
func (c *Config) IsProd() bool {
	return c.AppMode == "prod"
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
