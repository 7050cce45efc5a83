package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                "production",
		Port:               "8080",
		JWTSecret:          "secure-secret-at-least-32-chars-long",
		DBDriver:           "postgres",
		DBPassword:         "secure-password",
		DBSSLMode:          "require",
		TracingSampleRatio: 1,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"valid production", func(*Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"default secret in production", func(c *Config) { c.JWTSecret = defaultJWTSecret }, true},
		{"short secret in production", func(c *Config) { c.JWTSecret = "short" }, true},
		{"weak db password in production", func(c *Config) { c.DBPassword = "password" }, true},
		{"ssl disabled in production", func(c *Config) { c.DBSSLMode = "disable" }, true},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"sqlite without path", func(c *Config) { c.DBDriver = "sqlite"; c.DBPath = "" }, true},
		{"sqlite in production ignores db password", func(c *Config) {
			c.DBDriver = "sqlite"
			c.DBPath = "relay.db"
			c.DBPassword = ""
		}, false},
		{"bad sample ratio", func(c *Config) { c.TracingSampleRatio = 2 }, true},
		{"development allows short secret", func(c *Config) {
			c.Env = "development"
			c.JWTSecret = "dev"
			c.DBSSLMode = "disable"
		}, false},
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
	t.Setenv("DB_DRIVER", "  SQLITE ")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("WS_TICKET_TTL", "45s")
	t.Setenv("FEATURE_FLAGS", "strict_room_join=on")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9999", c.Port)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, 45*time.Second, c.WSTicketTTL)
	assert.Equal(t, "strict_room_join=on", c.FeatureFlags)
	assert.NotEmpty(t, c.NodeID)
	assert.Equal(t, 256, c.WSSendBuffer)
}
