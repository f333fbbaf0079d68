package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

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
	DBAutoMigrate     bool

	Redis     RedisConfig
	RateLimit RateLimitConfig

	GoogleTasks GoogleTasksConfig

	CredentialSecret string
	OAuthTokenURL    string
	OAuthClientID    string
	OAuthSecret      string

	Queue     QueueConfig
	Scheduler SchedulerConfig

	ScheduleConfigPaths []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type RateLimitConfig struct {
	Enabled          bool
	TaskAPIUserRate  float64
	TaskAPIUserBurst int
}

type GoogleTasksConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

type QueueConfig struct {
	Workers           int
	Capacity          int
	JobTimeoutSeconds int
}

type SchedulerConfig struct {
	Enabled                bool
	IntervalSeconds        int
	JobTimeoutSeconds      int
	BackfillTimeoutSeconds int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	redisAddr := strings.TrimSpace(getenv("REDIS_ADDR", ""))

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "dealcadence"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "dealcadence"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		Redis: RedisConfig{
			Addr:     redisAddr,
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", redisAddr != ""),
			TaskAPIUserRate:  getenvFloat("RATE_LIMIT_TASK_API_USER_RATE", 5),
			TaskAPIUserBurst: getenvInt("RATE_LIMIT_TASK_API_USER_BURST", 10),
		},
		GoogleTasks: GoogleTasksConfig{
			BaseURL:        strings.TrimRight(getenv("GOOGLE_TASKS_BASE_URL", "https://tasks.googleapis.com/tasks/v1"), "/"),
			TimeoutSeconds: getenvInt("GOOGLE_TASKS_TIMEOUT_SECONDS", 15),
		},

		CredentialSecret: strings.TrimSpace(getenv("CREDENTIAL_SECRET", "")),
		OAuthTokenURL:    getenv("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		OAuthClientID:    strings.TrimSpace(getenv("OAUTH_CLIENT_ID", "")),
		OAuthSecret:      strings.TrimSpace(getenv("OAUTH_CLIENT_SECRET", "")),

		Queue: QueueConfig{
			Workers:           getenvInt("TASK_QUEUE_WORKERS", 2),
			Capacity:          getenvInt("TASK_QUEUE_CAPACITY", 256),
			JobTimeoutSeconds: getenvInt("TASK_QUEUE_JOB_TIMEOUT_SECONDS", 30),
		},
		Scheduler: SchedulerConfig{
			Enabled:                getenvBool("SCHEDULER_ENABLED", true),
			IntervalSeconds:        getenvInt("SCHEDULER_INTERVAL_SECONDS", 300),
			JobTimeoutSeconds:      getenvInt("SCHEDULER_JOB_TIMEOUT_SECONDS", 120),
			BackfillTimeoutSeconds: getenvInt("SCHEDULER_BACKFILL_TIMEOUT_SECONDS", 1800),
		},

		ScheduleConfigPaths: parseList(getenv("SCHEDULE_CONFIG_PATHS", "/etc/dealcadence,.")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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
