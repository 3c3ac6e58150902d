package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("pharmacy-service")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "pharmstock", cfg.Database.Database)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.NotEmpty(t, cfg.RabbitMQ.URL)
	assert.Equal(t, "pharmstock", cfg.JWT.Issuer)
}

func TestLoadEnvOverride(t *testing.T) {
	os.Setenv("PHARMSTOCK_SERVER_PORT", "9090")
	os.Setenv("PHARMSTOCK_DATABASE_HOST", "db.internal")
	defer os.Unsetenv("PHARMSTOCK_SERVER_PORT")
	defer os.Unsetenv("PHARMSTOCK_DATABASE_HOST")

	cfg, err := Load("pharmacy-service")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestDatabaseDSN(t *testing.T) {
	t.Run("from fields", func(t *testing.T) {
		c := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "pharmstock",
			Password: "secret",
			Database: "pharmstock",
			SSLMode:  "disable",
		}
		assert.Equal(t,
			"host=localhost port=5432 user=pharmstock password=secret dbname=pharmstock sslmode=disable",
			c.DSN())
	})

	t.Run("url takes precedence", func(t *testing.T) {
		c := DatabaseConfig{
			URL:  "postgres://app:pw@db.prod:6432/stock?sslmode=require",
			Host: "ignored",
		}
		assert.Equal(t,
			"host=db.prod port=6432 user=app password=pw dbname=stock sslmode=require",
			c.DSN())
	})
}

func TestDatabaseValidate(t *testing.T) {
	t.Run("localhost rejected in production", func(t *testing.T) {
		c := DatabaseConfig{Host: "localhost"}
		assert.Error(t, c.Validate(EnvProduction))
	})

	t.Run("url satisfies production", func(t *testing.T) {
		c := DatabaseConfig{URL: "postgres://app:pw@db.prod/stock"}
		assert.NoError(t, c.Validate(EnvProduction))
	})

	t.Run("localhost allowed in development", func(t *testing.T) {
		c := DatabaseConfig{Host: "localhost"}
		assert.NoError(t, c.Validate(EnvDevelopment))
	})
}

func TestLoadWithValidationRejectsDevSecrets(t *testing.T) {
	os.Setenv("PHARMSTOCK_SERVER_ENVIRONMENT", "production")
	os.Setenv("PHARMSTOCK_DATABASE_URL", "postgres://app:pw@db.prod/stock")
	defer os.Unsetenv("PHARMSTOCK_SERVER_ENVIRONMENT")
	defer os.Unsetenv("PHARMSTOCK_DATABASE_URL")

	_, err := LoadWithValidation("pharmacy-service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PHARMSTOCK_JWT_SECRET")
}
