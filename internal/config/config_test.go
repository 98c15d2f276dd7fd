package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"APP_ENV":              "test",
		"APP_PORT":             "8080",
		"DB_USER":              "app",
		"DB_HOST":              "localhost",
		"DB_PORT":              "3306",
		"DB_NAME":              "eventapp",
		"JWT_SECRET":           "secret",
		"ACCESS_TOKEN_TTL_MIN": "15",
		"BCRYPT_COST":          "10",
	} {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg := Load()
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, "eventapp", cfg.JWTIssuer)
	assert.Equal(t, 16, cfg.TenantCacheCapacity)
	assert.Equal(t, "event_", cfg.TenantDBPrefix)
	assert.Equal(t, "data/roles.csv", cfg.RoleSeedPath)
	assert.Equal(t, "", cfg.DBPass)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TENANT_CACHE_CAPACITY", "3")
	t.Setenv("TENANT_DB_PREFIX", "tenant_")
	t.Setenv("AMQP_URL", "amqp://broker/")
	t.Setenv("LOG_PRETTY", "yes")

	cfg := Load()
	assert.Equal(t, 3, cfg.TenantCacheCapacity)
	assert.Equal(t, "tenant_", cfg.TenantDBPrefix)
	assert.Equal(t, "amqp://broker/", cfg.RabbitMQURL)
	assert.True(t, cfg.LogPretty)
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 10*time.Second, cfg.TTL)
}

func TestLoadCacheConfig(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head")
	cfg := LoadCacheConfig()
	assert.True(t, cfg.Methods["GET"])
	assert.True(t, cfg.Methods["HEAD"])
	assert.False(t, cfg.Methods["POST"])
}

func TestLoadRedisConfig(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_ADDR", "ignored:1")
	cfg := LoadRedisConfig()
	assert.Equal(t, "cache:6380", cfg.Addr)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", false)
	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "tenant").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"tenant"`)
	assert.Contains(t, out, `"app":"eventapp"`)

	buf.Reset()
	logger = newLogger(&buf, "nonsense", false)
	logger.Debug().Msg("dropped")
	assert.Empty(t, buf.String())
}
