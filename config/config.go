package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "PMR"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Mail     MailConfig     `mapstructure:"mail"`
	Log      LogConfig      `mapstructure:"log"`
	Query    QueryConfig    `mapstructure:"query"`
}

type ServerConfig struct {
	Port            string `mapstructure:"port"`
	Mode            string `mapstructure:"mode"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Name            string `mapstructure:"name"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type JWTConfig struct {
	Secret            string `mapstructure:"secret"`
	ExpirationMinutes int    `mapstructure:"expiration_minutes"`
}

type AuthConfig struct {
	LoginAttemptsPerMinute    int `mapstructure:"login_attempts_per_minute"`
	RegisterAttemptsPerHour   int `mapstructure:"register_attempts_per_hour"`
	VerificationExpiryMinutes int `mapstructure:"verification_expiry_minutes"`
}

type MailConfig struct {
	Driver      string `mapstructure:"driver"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	From        string `mapstructure:"from"`
	FrontendURL string `mapstructure:"frontend_url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type QueryConfig struct {
	MaxPage         int      `mapstructure:"max_page"`
	MaxPerPage      int      `mapstructure:"max_per_page"`
	DefaultPerPage  int      `mapstructure:"default_per_page"`
	ExcludedColumns []string `mapstructure:"excluded_columns"`
}

func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func (d *DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(d.ConnMaxLifetime) * time.Minute
}

func (j *JWTConfig) ExpirationDuration() time.Duration {
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

func (a *AuthConfig) VerificationExpiry() time.Duration {
	return time.Duration(a.VerificationExpiryMinutes) * time.Minute
}

func (s *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// SetDefaults registers every key so environment overrides work without a
// config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 10)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "pmr")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration_minutes", 1440)

	v.SetDefault("auth.login_attempts_per_minute", 5)
	v.SetDefault("auth.register_attempts_per_hour", 5)
	v.SetDefault("auth.verification_expiry_minutes", 60)

	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.host", "localhost")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "no-reply@pmr.local")
	v.SetDefault("mail.frontend_url", "http://localhost:3000")

	v.SetDefault("log.level", "info")

	v.SetDefault("query.max_page", 10000)
	v.SetDefault("query.max_per_page", 1000000)
	v.SetDefault("query.default_per_page", 10)
	v.SetDefault("query.excluded_columns", []string{
		"id", "created_at", "deleted_at", "created_by", "updated_at", "password", "token",
	})
}

// Load reads configuration from the given viper instance. A missing config
// file is not an error; defaults and PMR_* environment variables apply.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pmr-api")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}
