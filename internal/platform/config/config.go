// Package config reads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	TrustedProxies  string // comma-separated CIDRs, "*" trusts every peer
	ProvidersFile   string // YAML provider lists, embedded defaults when empty
	ProviderTimeout time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	Relay Relay
	Redis RedisConfig
	Kafka KafkaConfig
}

// Relay holds challenge and downstream secrets. Missing values are reported per
// request as configuration errors rather than refusing to start.
type Relay struct {
	SiteKey           string
	SecretKey         string
	SiteVerifyURL     string
	SharedSecret      string
	AuthorityURL      string
	WebhookURL        string
	WebhookSigningKey string
	ScoreThreshold    float64
}

// RedisConfig configures the geolocation cache. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	GeoCacheTTL  time.Duration
}

// KafkaConfig configures outcome events. Empty Brokers disables publishing.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

var (
	DefaultScoreThreshold  = 0.5
	DefaultProviderTimeout = 5 * time.Second
	DefaultGeoCacheTTL     = time.Hour
)

// FromEnv builds a Server config from environment variables so main stays lean.
// Unparseable numbers and durations fall back to their defaults.
func FromEnv() Server {
	return Server{
		Addr:            envOr("GATEKEEPER_ADDR", ":8080"),
		Environment:     envOr("ENVIRONMENT", "development"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		TrustedProxies:  os.Getenv("TRUSTED_PROXIES"),
		ProvidersFile:   os.Getenv("PROVIDERS_FILE"),
		ProviderTimeout: durationOr("PROVIDER_TIMEOUT", DefaultProviderTimeout),
		RequestTimeout:  durationOr("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: durationOr("SHUTDOWN_TIMEOUT", 15*time.Second),
		Relay: Relay{
			SiteKey:           os.Getenv("RECAPTCHA_SITE_KEY"),
			SecretKey:         os.Getenv("RECAPTCHA_SECRET_KEY"),
			SiteVerifyURL:     os.Getenv("RECAPTCHA_VERIFY_URL"),
			SharedSecret:      os.Getenv("RELAY_SHARED_SECRET"),
			AuthorityURL:      os.Getenv("AUTHORITY_URL"),
			WebhookURL:        os.Getenv("WEBHOOK_URL"),
			WebhookSigningKey: os.Getenv("WEBHOOK_SIGNING_KEY"),
			ScoreThreshold:    floatOr("SCORE_THRESHOLD", DefaultScoreThreshold),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: intOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationOr("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  durationOr("REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: durationOr("REDIS_WRITE_TIMEOUT", time.Second),
			GeoCacheTTL:  durationOr("GEO_CACHE_TTL", DefaultGeoCacheTTL),
		},
		Kafka: KafkaConfig{
			Brokers: os.Getenv("KAFKA_BROKERS"),
			Topic:   os.Getenv("KAFKA_OUTCOME_TOPIC"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func floatOr(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return fallback
}
