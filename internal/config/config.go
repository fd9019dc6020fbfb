package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds dispatch service configuration loaded from the environment.
type Config struct {
	AppName  string
	LogLevel string
	HTTPPort string

	DatabaseURL string
	RedisURL    string

	FCMServiceAccountKey string
	OAuthTokenURL        string
	FCMAPIURL            string

	DispatchURL     string
	ProviderTimeout time.Duration
	DispatchTimeout time.Duration

	FanOutConcurrency int
	GatewayFailFast   bool
	CronInterval      time.Duration

	MarkRetryMaxAttempts    int
	MarkRetryInitialBackoff time.Duration
	MarkRetryMaxBackoff     time.Duration
}

// Load loads configuration and performs basic validation.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:  getEnv("APP_NAME", "push_dispatch"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPPort: getEnv("HTTP_PORT", "8082"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		FCMServiceAccountKey: getEnv("FCM_SERVICE_ACCOUNT_KEY", ""),
		OAuthTokenURL:        getEnv("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		FCMAPIURL:            getEnv("FCM_API_URL", "https://fcm.googleapis.com/v1"),

		DispatchURL:     getEnv("DISPATCH_URL", ""),
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
		DispatchTimeout: getEnvAsDuration("DISPATCH_TIMEOUT", 2*time.Minute),

		FanOutConcurrency: getEnvAsInt("FANOUT_CONCURRENCY", 4),
		GatewayFailFast:   getEnvAsBool("GATEWAY_FAIL_FAST", false),
		CronInterval:      getEnvAsDuration("CRON_INTERVAL", 0),

		MarkRetryMaxAttempts:    getEnvAsInt("MARK_RETRY_MAX_ATTEMPTS", 3),
		MarkRetryInitialBackoff: getEnvAsDuration("MARK_RETRY_INITIAL_BACKOFF", 200*time.Millisecond),
		MarkRetryMaxBackoff:     getEnvAsDuration("MARK_RETRY_MAX_BACKOFF", 2*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.FCMServiceAccountKey == "" {
		missing = append(missing, "FCM_SERVICE_ACCOUNT_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid int for %s, using default %d: %v", key, def, err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid bool for %s, using default %t: %v", key, def, err)
			return def
		}
		return b
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid duration for %s, using default %s: %v", key, def, err)
			return def
		}
		return d
	}
	return def
}
