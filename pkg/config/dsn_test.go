package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseURL(t *testing.T) {
	t.Run("full url", func(t *testing.T) {
		p, err := ParseDatabaseURL("postgres://app:pw@db.prod:6432/stock?sslmode=require&connect_timeout=5")
		require.NoError(t, err)

		assert.Equal(t, "db.prod", p.Host)
		assert.Equal(t, 6432, p.Port)
		assert.Equal(t, "app", p.User)
		assert.Equal(t, "pw", p.Password)
		assert.Equal(t, "stock", p.Database)
		assert.Equal(t, "require", p.SSLMode)
		assert.Equal(t, "5", p.Options["connect_timeout"])
	})

	t.Run("defaults", func(t *testing.T) {
		p, err := ParseDatabaseURL("postgres://app:pw@db.prod/stock")
		require.NoError(t, err)

		assert.Equal(t, 5432, p.Port)
		assert.Equal(t, "disable", p.SSLMode)
	})

	t.Run("postgresql scheme alias", func(t *testing.T) {
		p, err := ParseDatabaseURL("postgresql://app:pw@db.prod/stock")
		require.NoError(t, err)
		assert.Equal(t, "db.prod", p.Host)
	})

	t.Run("empty url", func(t *testing.T) {
		_, err := ParseDatabaseURL("")
		assert.Error(t, err)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		_, err := ParseDatabaseURL("mysql://app:pw@db/stock")
		assert.Error(t, err)
	})
}

func TestToDSN(t *testing.T) {
	p := &ParsedDatabaseURL{
		Host:     "db.prod",
		Port:     6432,
		User:     "app",
		Password: "pw",
		Database: "stock",
		SSLMode:  "require",
		Options:  map[string]string{"connect_timeout": "5"},
	}

	assert.Equal(t,
		"host=db.prod port=6432 user=app password=pw dbname=stock sslmode=require connect_timeout=5",
		p.ToDSN())
}
