/*
Package config loads server configuration from the environment.

SOURCES (later wins):
  1. Defaults below
  2. A dotenv file (".env" unless -env points elsewhere); missing is fine
  3. Process environment, prefixed FEE_ENGINE_

KEYS:
  FEE_ENGINE_PORT              HTTP port (8080)
  FEE_ENGINE_DB_PATH           SQLite path, ":memory:" allowed (fee-engine.db)
  FEE_ENGINE_LOG_LEVEL         debug, info, warn, error (info)
  FEE_ENGINE_LOG_FORMAT        json or console (json)
  FEE_ENGINE_OVERDUE_ENABLED   run the overdue sweep (true)
  FEE_ENGINE_OVERDUE_INTERVAL  sweep interval, Go duration (1h)
  FEE_ENGINE_CORS_ORIGINS      comma-separated allowed origins
  FEE_ENGINE_SEED_SCENARIO     demo scenario to load at startup (empty = none)
  FEE_ENGINE_SHUTDOWN_TIMEOUT  graceful shutdown budget (30s)
*/
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "FEE_ENGINE"

type Config struct {
	Port            int
	DBPath          string
	LogLevel        string
	LogFormat       string
	OverdueEnabled  bool
	OverdueInterval time.Duration
	CORSOrigins     []string
	SeedScenario    string
	ShutdownTimeout time.Duration
}

// Load reads configuration. dotEnvPath may be empty.
func Load(dotEnvPath string) (Config, error) {
	if dotEnvPath == "" {
		dotEnvPath = ".env"
	}
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: stat %s: %w", dotEnvPath, err)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "fee-engine.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("overdue_enabled", true)
	v.SetDefault("overdue_interval", time.Hour)
	v.SetDefault("cors_origins", "http://localhost:5173,http://localhost:8080")
	v.SetDefault("seed_scenario", "")
	v.SetDefault("shutdown_timeout", 30*time.Second)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{
		Port:            v.GetInt("port"),
		DBPath:          v.GetString("db_path"),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
		LogFormat:       strings.ToLower(v.GetString("log_format")),
		OverdueEnabled:  v.GetBool("overdue_enabled"),
		OverdueInterval: v.GetDuration("overdue_interval"),
		CORSOrigins:     splitList(v.GetString("cors_origins")),
		SeedScenario:    v.GetString("seed_scenario"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db path is required")
	}
	if c.OverdueEnabled && c.OverdueInterval <= 0 {
		return fmt.Errorf("config: overdue interval must be positive, got %s", c.OverdueInterval)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
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
