package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.Equal(t, 2*time.Second, cfg.Engine.MessageDelay)
	assert.Equal(t, 5*time.Second, cfg.Engine.RoundDelay)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ENGINE_MESSAGE_DELAY", "50ms")
	t.Setenv("LLM_DEFAULT_PROVIDER", "anthropic")

	cfg := Load()
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.MessageDelay)
	assert.Equal(t, "anthropic", cfg.LLM.DefaultProvider)
}

func TestLoad_MalformedEnvFallsBack(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("ENGINE_ROUND_DELAY", "not-a-duration")

	cfg := Load()
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 5*time.Second, cfg.Engine.RoundDelay)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "simfocus", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/simfocus?sslmode=disable", d.DSN())
}
