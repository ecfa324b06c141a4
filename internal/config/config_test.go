package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mentorfy.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8100", cfg.Server.Addr)
	assert.Equal(t, 60*time.Second, cfg.Upstream.IdleTimeout.Duration)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9000"
heartbeat_interval = "5s"

[upstream]
url = "http://agent.internal/chat"
idle_timeout = "90s"

[nats]
enabled = true
subject_prefix = "relay"

[rate_limit]
per_second = 2.5
burst = 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.HeartbeatInterval.Duration)
	assert.Equal(t, 90*time.Second, cfg.Upstream.IdleTimeout.Duration)
	assert.Equal(t, "relay", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.InDelta(t, 2.5, cfg.RateLimit.PerSecond, 1e-9)

	// untouched sections keep their defaults
	assert.Equal(t, "mentorfy.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout.Duration)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[database]
path = "from-file.db"
`)
	t.Setenv("MENTORFY_DB_PATH", "from-env.db")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MENTORFY_NATS_ENABLED", "true")
	t.Setenv("MENTORFY_UPSTREAM_IDLE_TIMEOUT", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database.Path)
	assert.Equal(t, "sk-test", cfg.Agent.APIKey)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Upstream.IdleTimeout.Duration)
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("MENTORFY_NATS_ENABLED", "maybe")
	_, err := Load("")
	assert.ErrorContains(t, err, "MENTORFY_NATS_ENABLED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "relative upstream", mutate: func(c *Config) { c.Upstream.URL = "/chat" }, field: "upstream.url"},
		{name: "empty db path", mutate: func(c *Config) { c.Database.Path = "" }, field: "database.path"},
		{name: "nats without subject", mutate: func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.SubjectPrefix = ""
		}, field: "nats.subject_prefix"},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, field: "log.level"},
		{name: "hot model", mutate: func(c *Config) { c.Agent.Temperature = 3 }, field: "agent.temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestBadDuration(t *testing.T) {
	path := writeConfig(t, `
[upstream]
idle_timeout = "soon"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := Log{Development: true, Level: "debug"}.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}
