package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10000, cfg.Query.MaxPage)
	assert.Equal(t, 1000000, cfg.Query.MaxPerPage)
	assert.Equal(t, 10, cfg.Query.DefaultPerPage)
	assert.Contains(t, cfg.Query.ExcludedColumns, "password")
	assert.Equal(t, 60*time.Minute, cfg.Auth.VerificationExpiry())
	assert.Equal(t, 24*time.Hour, cfg.JWT.ExpirationDuration())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PMR_SERVER_PORT", "9090")
	t.Setenv("PMR_JWT_SECRET", "s3cret")
	t.Setenv("PMR_DATABASE_DRIVER", "pgx")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, "pgx", cfg.Database.Driver)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "server:\n  port: \"7000\"\nquery:\n  default_per_page: 25\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.New()
	v.SetConfigFile(path)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, 25, cfg.Query.DefaultPerPage)
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "pmr", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=pmr sslmode=disable", d.ConnectionString())
}
