package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"kmc-indicators/common/config"
	"kmc-indicators/internal/indicators"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendREST     = "rest"
	BackendFixtures = "fixtures"
)

// SettingEnvPrefix marks environment variables that feed indicators.Settings.
// KMC_SETTING_DAILY_KMC_TARGET_MINUTES=600 sets daily_kmc_target_minutes;
// KMC_SETTING_HOSPITAL_UTC_OFFSET_MINUTES__h1=0 sets the offset of hospital h1.
const SettingEnvPrefix = "KMC_SETTING_"

// Config is the kmc-indicators service configuration.
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	REST     config.RESTConfig

	HTTP struct {
		Addr string
	}

	Store struct {
		Backend    string // postgres, rest or fixtures
		FixtureDir string
	}

	Report struct {
		Stream       string // Redis stream receiving finished-run events
		StreamMaxLen int64
		CacheEnabled bool
		CacheTTL     time.Duration
		MaxParallel  int
	}

	// Settings are the indicator thresholds.
	Settings indicators.Settings

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "kmc")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.AppName = "kmc-indicators"
	cfg.Database.ConnectTimeout = 10 * time.Second
	cfg.Database.StatementTimeout = 60 * time.Second
	cfg.Database.ConnMaxLifetime = 30 * time.Minute
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DialTimeout = 5 * time.Second
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.ConnectAttempts = 3
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "kmc-indicators"
	cfg.MQTT.Topic = "kmc/reports/recompute"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.REST.BaseURL = getEnv("STORE_REST_BASE_URL", "")
	cfg.REST.Token = getEnv("STORE_REST_TOKEN", "")
	cfg.REST.Timeout = getDuration("STORE_REST_TIMEOUT", 30*time.Second)
	cfg.REST.Retries = getInt("STORE_REST_RETRIES", 3)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres))
	cfg.Store.FixtureDir = getEnv("FIXTURE_DIR", "./fixtures")
	switch cfg.Store.Backend {
	case BackendPostgres, BackendFixtures:
	case BackendREST:
		if cfg.REST.BaseURL == "" {
			return nil, fmt.Errorf("STORE_REST_BASE_URL is required for the %s backend", BackendREST)
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %s", cfg.Store.Backend)
	}

	cfg.Report.Stream = getEnv("REPORT_STREAM", "kmc:reports")
	cfg.Report.StreamMaxLen = int64(getInt("REPORT_STREAM_MAXLEN", 1000))
	cfg.Report.CacheEnabled = getEnv("CACHE_ENABLED", "true") == "true"
	cfg.Report.CacheTTL = getDuration("CACHE_TTL", 7*24*time.Hour)
	cfg.Report.MaxParallel = getInt("MAX_PARALLEL_HOSPITALS", 4)

	settings, err := indicators.ParseSettings(settingsFromEnv(os.Environ()))
	if err != nil {
		return nil, fmt.Errorf("invalid indicator settings: %w", err)
	}
	cfg.Settings = settings

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// settingsFromEnv collects KMC_SETTING_* entries into setting keys.
func settingsFromEnv(environ []string) map[string]string {
	raw := map[string]string{}
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, SettingEnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(name, SettingEnvPrefix)
		// hospital ids keep their case
		if base, hospitalID, found := strings.Cut(key, "__"); found {
			key = strings.ToLower(base) + "." + hospitalID
		} else {
			key = strings.ToLower(key)
		}
		raw[key] = value
	}
	return raw
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}
