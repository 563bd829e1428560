// Package config loads service configuration from an optional config file,
// a .env file and environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Database  DatabaseConfig
	NATS      NATSConfig
	Directory DirectoryConfig
	SLA       SLAConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

type DirectoryConfig struct {
	BaseURL string
	Timeout time.Duration
}

type SLAConfig struct {
	ScanInterval     time.Duration
	RenotifyInterval time.Duration
}

// Load reads configuration. A missing config file is not an error; env vars
// (prefix APPROVALS_, dots as underscores) always win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("APPROVALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-spend-approvals")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.readtimeout", 15*time.Second)
	v.SetDefault("server.writetimeout", 15*time.Second)
	v.SetDefault("server.idletimeout", 60*time.Second)
	v.SetDefault("server.shutdowntimeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "spend_approvals")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxconns", 10)
	v.SetDefault("database.minconns", 2)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)

	v.SetDefault("directory.baseurl", "http://localhost:8081")
	v.SetDefault("directory.timeout", 5*time.Second)

	v.SetDefault("sla.scaninterval", 5*time.Minute)
	v.SetDefault("sla.renotifyinterval", 60*time.Minute)
}
