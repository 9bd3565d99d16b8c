package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmc-indicators/internal/indicators"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "kmc", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "kmc:reports", cfg.Report.Stream)
	assert.Equal(t, "kmc/reports/recompute", cfg.MQTT.Topic)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, 7*24*time.Hour, cfg.Report.CacheTTL)
	assert.Equal(t, 4, cfg.Report.MaxParallel)
	assert.Equal(t, indicators.DefaultSettings(), cfg.Settings)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("STORE_BACKEND", "REST")
	t.Setenv("STORE_REST_BASE_URL", "https://firestore.example/v1/projects/p/databases/(default)/documents")
	t.Setenv("CACHE_TTL", "2h")
	t.Setenv("MAX_PARALLEL_HOSPITALS", "8")
	t.Setenv("MQTT_ENABLED", "true")
	t.Setenv("KMC_SETTING_DAILY_KMC_TARGET_MINUTES", "600")
	t.Setenv("KMC_SETTING_HOSPITAL_UTC_OFFSET_MINUTES__HospA", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, BackendREST, cfg.Store.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Report.CacheTTL)
	assert.Equal(t, 8, cfg.Report.MaxParallel)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, 600.0, cfg.Settings.DailyKMCTargetMinutes)
	assert.Equal(t, 0, cfg.Settings.OffsetMinutes("HospA", nil))
	assert.Equal(t, 330, cfg.Settings.OffsetMinutes("HospB", nil))
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "mongo")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("rest without url", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "rest")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("unknown setting", func(t *testing.T) {
		t.Setenv("KMC_SETTING_TARGET", "1")
		_, err := Load()
		require.Error(t, err)
		assert.True(t, errors.Is(err, indicators.ErrUnknownSetting))
	})
}

func TestSettingsFromEnv(t *testing.T) {
	raw := settingsFromEnv([]string{
		"PATH=/usr/bin",
		"KMC_SETTING_NORMOTHERMIA_MIN_C=36.4",
		"KMC_SETTING_HOSPITAL_UTC_OFFSET_MINUTES__abcXYZ=60",
	})
	assert.Equal(t, map[string]string{
		"normothermia_min_c":                 "36.4",
		"hospital_utc_offset_minutes.abcXYZ": "60",
	}, raw)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")
	assert.Equal(t, "test-value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default-value", getEnv("NON_EXISTENT_VAR", "default-value"))
}
