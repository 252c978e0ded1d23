package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverRedis  = "redis"
	StoreDriverSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	ServerPort     string
	GinMode        string
	LogLevel       string
	LogFormat      string
	StoreDriver    string
	RedisURL       string
	SQLitePath     string
	AuditDBPath    string
	JWTSecret      string
	TabTokenExpiry time.Duration
	MaxUploadBytes int64
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
	// MetricsStreamEnabled exposes the process metrics SSE stream to any
	// tab token holder.
	MetricsStreamEnabled bool

	// Session store.
	SessionMaxAge    time.Duration
	SessionRetention time.Duration

	// Challenge catalog and assets.
	ChallengesFile string
	AssetBaseURL   string
	WorkbenchURL   string
	ScreenshotDir  string
	ImagesDir      string

	// Grading.
	GeminiAPIKey       string
	GradingModel       string
	GradingURL         string
	GradingTimeout     time.Duration
	GradeRatePerMinute int

	// Submission flow.
	SubmitDisplayDelay time.Duration

	// Headless browser used as the screen-capture source.
	BrowserControlURL string
	BrowserBin        string
	BrowserHeadless   bool
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	port := getEnv("SERVER_PORT", "8080")

	return &Config{
		ServerPort:     port,
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreDriverRedis)),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SQLitePath:     getEnv("SQLITE_PATH", "file:clonearena.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"),
		AuditDBPath:    getEnv("AUDIT_DB_PATH", "file:grade_audit.db?mode=rwc&_pragma=busy_timeout(5000)"),
		JWTSecret:      getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		TabTokenExpiry: getEnvDuration("TAB_TOKEN_EXPIRY", 24*time.Hour),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_SIZE_MB", 10)) * 1024 * 1024,
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),

		MetricsStreamEnabled: getEnvBool("METRICS_STREAM_ENABLED", false),

		SessionMaxAge:    getEnvDuration("SESSION_MAX_AGE", time.Hour),
		SessionRetention: getEnvDuration("SESSION_RETENTION", 24*time.Hour),

		ChallengesFile: getEnv("CHALLENGES_FILE", "challenges.yaml"),
		AssetBaseURL:   getEnv("ASSET_BASE_URL", "http://localhost:"+port),
		WorkbenchURL:   getEnv("WORKBENCH_URL", "http://localhost:5173/challenge"),
		ScreenshotDir:  getEnv("SCREENSHOT_DIR", "./screenshots"),
		ImagesDir:      getEnv("IMAGES_DIR", "./public/images"),

		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GradingModel:       getEnv("GRADING_MODEL", "gemini-2.5-pro"),
		GradingURL:         getEnv("GRADING_URL", "http://localhost:"+port+"/api/grade-result"),
		GradingTimeout:     getEnvDuration("GRADING_TIMEOUT", 90*time.Second),
		GradeRatePerMinute: getEnvInt("GRADE_RATE_PER_MIN", 30),

		SubmitDisplayDelay: getEnvDuration("SUBMIT_DISPLAY_DELAY", time.Second),

		BrowserControlURL: getEnv("BROWSER_CONTROL_URL", ""),
		BrowserBin:        getEnv("BROWSER_BIN", ""),
		BrowserHeadless:   getEnvBool("BROWSER_HEADLESS", true),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvDuration accepts Go duration strings ("90s", "1h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
