package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	ServerAddress string
	Storage       string
	PostgresConn  string
	JWTSecret     string
	JWTTTL        time.Duration
	KafkaBrokers  []string
	LogLevel      logrus.Level
}

const (
	envServerAddress = "SERVER_ADDRESS"
	envStorage       = "STORAGE"
	envPostgresConn  = "POSTGRES_CONN"
	envJWTSecret     = "JWT_SECRET"
	envJWTTTL        = "JWT_TTL"
	envKafkaBrokers  = "KAFKA_BROKERS"
	envLogLevel      = "LOG_LEVEL"
)

// Load читает .env (если есть) и переменные окружения
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(envServerAddress, "0.0.0.0:8080")
	v.SetDefault(envStorage, StoragePostgres)
	v.SetDefault(envJWTTTL, "24h")
	v.SetDefault(envLogLevel, "info")

	cfg := &Config{
		ServerAddress: v.GetString(envServerAddress),
		Storage:       strings.ToLower(v.GetString(envStorage)),
		PostgresConn:  v.GetString(envPostgresConn),
		JWTSecret:     v.GetString(envJWTSecret),
		KafkaBrokers:  splitList(v.GetString(envKafkaBrokers)),
	}

	ttl, err := time.ParseDuration(v.GetString(envJWTTTL))
	if err != nil {
		return nil, fmt.Errorf("%s must be a duration: %w", envJWTTTL, err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%s must be positive", envJWTTTL)
	}
	cfg.JWTTTL = ttl

	cfg.LogLevel, err = logrus.ParseLevel(v.GetString(envLogLevel))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", envLogLevel, err)
	}

	switch cfg.Storage {
	case StoragePostgres:
		if cfg.PostgresConn == "" {
			return nil, fmt.Errorf("%s env variable is not set", envPostgresConn)
		}
	case StorageMemory:
	default:
		return nil, fmt.Errorf("%s must be %q or %q, got %q", envStorage, StoragePostgres, StorageMemory, cfg.Storage)
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New(envJWTSecret + " env variable is not set")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
