package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:             "production",
		Port:            "8080",
		JWTSecret:       "secure-secret-at-least-32-chars-long",
		DBDriver:        "postgres",
		DBPassword:      "secure-password",
		DBSSLMode:       "require",
		PresenceBackend: "redis",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid production", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"default secret in production", func(c *Config) { c.JWTSecret = defaultJWTSecret }, true},
		{"short secret in production", func(c *Config) { c.JWTSecret = "short" }, true},
		{"short secret in development", func(c *Config) { c.Env = "development"; c.JWTSecret = "short" }, false},
		{"weak db password", func(c *Config) { c.DBPassword = "password" }, true},
		{"ssl disabled in production", func(c *Config) { c.DBSSLMode = "disable" }, true},
		{"ssl disabled for mysql", func(c *Config) { c.DBDriver = "mysql"; c.DBSSLMode = "" }, false},
		{"ssl disabled in development", func(c *Config) { c.Env = "development"; c.DBSSLMode = "disable" }, false},
		{"sqlite in production", func(c *Config) { c.DBDriver = "sqlite"; c.DBSQLitePath = "x.db" }, true},
		{"sqlite without path", func(c *Config) { c.Env = "test"; c.DBDriver = "sqlite" }, true},
		{"unknown driver", func(c *Config) { c.DBDriver = "oracle" }, true},
		{"unknown presence backend", func(c *Config) { c.PresenceBackend = "etcd" }, true},
		{"negative presence ttl", func(c *Config) { c.PresenceTTLSeconds = -1 }, true},
		{"unknown exporter", func(c *Config) { c.TracingEnabled = true; c.TracingExporter = "jaeger" }, true},
		{"otlp exporter", func(c *Config) { c.TracingEnabled = true; c.TracingExporter = "otlp" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	defer viper.Reset()

	t.Setenv("APP_ENV", "test")
	t.Setenv("PORT", "9999")
	t.Setenv("DB_DRIVER", "  SQLite ")
	t.Setenv("DB_SQLITE_PATH", "test.db")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("PRESENCE_BACKEND", "Redis")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9999", c.Port)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "redis", c.PresenceBackend)
	assert.False(t, c.IsProduction())
}

func TestLoadConfig_MissingProfileFile(t *testing.T) {
	defer viper.Reset()

	t.Setenv("APP_ENV", "staging-does-not-exist")

	_, err := LoadConfig()
	assert.Error(t, err)
}
