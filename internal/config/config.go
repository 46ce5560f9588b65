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
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ReportCacheTTLMinutes  int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ManagerPIN             string
	CloseTimeoutSeconds    int
	LocalCurrencyScale     int32
	ForeignCurrencyScale   int32
	AlertShortageThreshold int
	MetricsEnabled         bool
	SMTPHost               string
	SMTPPort               int
	SMTPUser               string
	SMTPPassword           string
	SMTPFrom               string
	AlertRecipients        []string
	LogLevel               string
	LogFormat              string
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the process win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		ReportCacheTTLMinutes:  getPositiveInt("REPORT_CACHE_TTL_MINUTES", 1440),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ManagerPIN:             strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		CloseTimeoutSeconds:    getPositiveInt("CLOSE_TIMEOUT_SECONDS", 15),
		LocalCurrencyScale:     int32(getScale("LOCAL_CURRENCY_SCALE", 2)),
		ForeignCurrencyScale:   int32(getScale("FOREIGN_CURRENCY_SCALE", 2)),
		AlertShortageThreshold: getPositiveInt("ALERT_SHORTAGE_THRESHOLD", 3),
		MetricsEnabled:         getBool("METRICS_ENABLED", false),
		SMTPHost:               strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:               getPositiveInt("SMTP_PORT", 587),
		SMTPUser:               os.Getenv("SMTP_USER"),
		SMTPPassword:           os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:               getEnv("SMTP_FROM", os.Getenv("SMTP_USER")),
		AlertRecipients:        splitList(os.Getenv("ALERT_RECIPIENTS")),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) CloseTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutSeconds) * time.Second
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLMinutes) * time.Minute
}

func (c Config) AlertsEnabled() bool {
	return c.SMTPHost != "" && len(c.AlertRecipients) > 0
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getScale(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 0 || val > 8 {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
