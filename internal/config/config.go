package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	Timezone    string
	NodeID      int64

	AuthJWTSecret string
	AuthJWTIssuer string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Razorpay RazorpayConfig

	RateLimit RateLimitConfig

	CORSAllowedOrigins []string

	PlanningHotReload bool

	SchedulerInterval time.Duration
	SchedulerJobs     []string

	Bootstrap BootstrapConfig

	OpsMetrics OpsMetricsConfig
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
}

func (r RazorpayConfig) Enabled() bool {
	return r.KeyID != "" && r.KeySecret != ""
}

// OpsMetricsConfig ships business gauges to an external metrics backend.
type OpsMetricsConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Job       string
	Interval  time.Duration
}

func (o OpsMetricsConfig) Enabled() bool {
	return o.Exporter != "" && o.Endpoint != ""
}

// BootstrapConfig seeds a default tenant and its first admin on startup.
type BootstrapConfig struct {
	Enabled    bool
	OrgName    string
	AdminName  string
	AdminPhone string
}

// RateLimitConfig bounds write traffic per user on sensitive endpoints.
type RateLimitConfig struct {
	Enabled    bool
	WriteRate  float64
	WriteBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "dairyroute"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		Timezone:      getenv("APP_TIMEZONE", "Asia/Kolkata"),
		NodeID:        int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer: strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "dairyroute"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Razorpay: RazorpayConfig{
			KeyID:         strings.TrimSpace(getenv("RAZORPAY_KEY_ID", "")),
			KeySecret:     strings.TrimSpace(getenv("RAZORPAY_KEY_SECRET", "")),
			WebhookSecret: strings.TrimSpace(getenv("RAZORPAY_WEBHOOK_SECRET", "")),
			Currency:      strings.ToUpper(getenv("RAZORPAY_CURRENCY", "INR")),
		},

		RateLimit: RateLimitConfig{
			Enabled:    getenvBool("RATE_LIMIT_ENABLED", true),
			WriteRate:  getenvFloat("RATE_LIMIT_WRITE_RATE", 1),
			WriteBurst: getenvInt("RATE_LIMIT_WRITE_BURST", 10),
		},

		CORSAllowedOrigins: parseList(getenv("CORS_ALLOWED_ORIGINS", "*")),
		PlanningHotReload:  getenvBool("PLANNING_HOT_RELOAD", true),
		SchedulerInterval:  getenvDuration("SCHEDULER_INTERVAL", time.Minute),
		SchedulerJobs:      parseList(getenv("SCHEDULER_JOBS", "")),

		Bootstrap: BootstrapConfig{
			Enabled:    getenvBool("BOOTSTRAP_ENABLED", true),
			OrgName:    getenv("BOOTSTRAP_ORG_NAME", "Main Dairy"),
			AdminName:  getenv("BOOTSTRAP_ADMIN_NAME", "Admin"),
			AdminPhone: strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_PHONE", "")),
		},

		OpsMetrics: OpsMetricsConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("OPS_METRICS_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("OPS_METRICS_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("OPS_METRICS_AUTH_TOKEN", "")),
			Job:       getenv("OPS_METRICS_JOB", "dairyroute"),
			Interval:  getenvDuration("OPS_METRICS_INTERVAL", 5*time.Minute),
		},
	}

	return cfg
}

// Location resolves the tenant-facing timezone used to compute "today".
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
