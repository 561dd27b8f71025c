package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database    DatabaseConfig
	Server      ServerConfig
	Risk        RiskConfig
	Identity    IdentityConfig
	Captcha     CaptchaConfig
	Attestation AttestationConfig
	Session     SessionConfig
	Email       EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
}

// RiskConfig holds the policy constants for the risk scorer. The numbers are
// deployment-tunable; only the tier ordering is a contract.
type RiskConfig struct {
	// Nested lookback windows, narrowest first
	WindowShort    time.Duration // default 5m
	WindowMedium   time.Duration // default 15m
	WindowLong     time.Duration // default 1h
	WindowDay      time.Duration // default 24h

	// Tier 1: critical
	CriticalIPFailuresShort int // default 3

	// Tier 2/3: high
	HighIPFailuresMedium     int // default 8
	HighEmailFailuresMedium  int // default 5
	HighIPFailuresLong       int // default 15
	HighEmailFailuresLong    int // default 8
	HighDeviceFailuresLong   int // default 10

	// Tier 4/5: medium
	MediumIPFailuresDay      int // default 25
	MediumIPFailuresMedium   int // default 3
	MediumEmailFailuresMedium int // default 2

	// Bot-timing heuristic
	BotTimingSampleLimit   int           // default 10
	BotTimingMaxMean       time.Duration // default 10s
	BotTimingMaxVariation  float64       // coefficient of variation, default 0.1

	// Reconciliation
	StudentCompletionThreshold int // default 80
}

type IdentityConfig struct {
	BaseURL    string
	ServiceKey string
}

type CaptchaConfig struct {
	VerifyURL string
	Secret    string
}

type AttestationConfig struct {
	URL     string
	Enabled bool
}

type SessionConfig struct {
	CookieName   string
	CookieDomain string
	CookieMaxAge time.Duration
}

type EmailConfig struct {
	Enabled      bool
	AWSRegion    string
	FromAddress  string
	SupportURL   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "trellis"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Risk: RiskConfig{
			WindowShort:  getEnvAsDuration("RISK_WINDOW_SHORT", 5*time.Minute),
			WindowMedium: getEnvAsDuration("RISK_WINDOW_MEDIUM", 15*time.Minute),
			WindowLong:   getEnvAsDuration("RISK_WINDOW_LONG", 1*time.Hour),
			WindowDay:    getEnvAsDuration("RISK_WINDOW_DAY", 24*time.Hour),

			CriticalIPFailuresShort: getEnvAsInt("RISK_CRITICAL_IP_FAILURES_SHORT", 3),

			HighIPFailuresMedium:    getEnvAsInt("RISK_HIGH_IP_FAILURES_MEDIUM", 8),
			HighEmailFailuresMedium: getEnvAsInt("RISK_HIGH_EMAIL_FAILURES_MEDIUM", 5),
			HighIPFailuresLong:      getEnvAsInt("RISK_HIGH_IP_FAILURES_LONG", 15),
			HighEmailFailuresLong:   getEnvAsInt("RISK_HIGH_EMAIL_FAILURES_LONG", 8),
			HighDeviceFailuresLong:  getEnvAsInt("RISK_HIGH_DEVICE_FAILURES_LONG", 10),

			MediumIPFailuresDay:       getEnvAsInt("RISK_MEDIUM_IP_FAILURES_DAY", 25),
			MediumIPFailuresMedium:    getEnvAsInt("RISK_MEDIUM_IP_FAILURES_MEDIUM", 3),
			MediumEmailFailuresMedium: getEnvAsInt("RISK_MEDIUM_EMAIL_FAILURES_MEDIUM", 2),

			BotTimingSampleLimit:  getEnvAsInt("RISK_BOT_TIMING_SAMPLE_LIMIT", 10),
			BotTimingMaxMean:      getEnvAsDuration("RISK_BOT_TIMING_MAX_MEAN", 10*time.Second),
			BotTimingMaxVariation: getEnvAsFloat("RISK_BOT_TIMING_MAX_VARIATION", 0.1),

			StudentCompletionThreshold: getEnvAsInt("PROFILE_COMPLETION_THRESHOLD", 80),
		},
		Identity: IdentityConfig{
			BaseURL:    getEnv("IDENTITY_BASE_URL", ""),
			ServiceKey: getEnv("IDENTITY_SERVICE_KEY", ""),
		},
		Captcha: CaptchaConfig{
			VerifyURL: getEnv("CAPTCHA_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
			Secret:    getEnv("CAPTCHA_SECRET", ""),
		},
		Attestation: AttestationConfig{
			URL:     getEnv("ATTESTATION_URL", ""),
			Enabled: getEnvAsBool("ATTESTATION_ENABLED", false),
		},
		Session: SessionConfig{
			CookieName:   getEnv("SESSION_COOKIE_NAME", "trellis_session"),
			CookieDomain: getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookieMaxAge: getEnvAsDuration("SESSION_COOKIE_MAX_AGE", 7*24*time.Hour),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("ALERT_EMAIL_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("ALERT_EMAIL_FROM", ""),
			SupportURL:  getEnv("SUPPORT_URL", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Identity.BaseURL == "" {
		return nil, fmt.Errorf("IDENTITY_BASE_URL is required")
	}
	if cfg.Identity.ServiceKey == "" {
		return nil, fmt.Errorf("IDENTITY_SERVICE_KEY is required")
	}
	if env == "production" && cfg.Captcha.Secret == "" {
		return nil, fmt.Errorf("CAPTCHA_SECRET is required in production")
	}
	if cfg.Email.Enabled && cfg.Email.FromAddress == "" {
		return nil, fmt.Errorf("ALERT_EMAIL_FROM is required when alert email is enabled")
	}

	return cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
