package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the run engine service.
type Config struct {
	AppName        string
	AppEnv         string
	AppPort        string
	DataDir        string
	SQLitePath     string
	ShutdownGrace  time.Duration
	ProbeTimeout   time.Duration
	DefaultRetries int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and an optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("BENCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Run Engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("data.dir", "apps/api/var")
	v.SetDefault("sqlite.file", "data.sqlite")
	v.SetDefault("shutdown_grace_ms", 5000)
	v.SetDefault("probe_timeout_ms", 4000)
	v.SetDefault("default_retries", 3)

	shutdownMs := v.GetInt("shutdown_grace_ms")
	if shutdownMs <= 0 {
		shutdownMs = 5000
	}

	probeMs := v.GetInt("probe_timeout_ms")
	if probeMs <= 0 {
		probeMs = 4000
	}

	retries := v.GetInt("default_retries")
	if retries <= 0 {
		retries = 3
	}

	dataDir := v.GetString("data.dir")
	if dataDir == "" {
		dataDir = "apps/api/var"
	}

	sqliteFile := v.GetString("sqlite.file")
	if sqliteFile == "" {
		sqliteFile = "data.sqlite"
	}

	cfg := Config{
		AppName:        v.GetString("app.name"),
		AppEnv:         v.GetString("app.env"),
		AppPort:        v.GetString("app.port"),
		DataDir:        dataDir,
		SQLitePath:     dataDir + "/" + sqliteFile,
		ShutdownGrace:  time.Duration(shutdownMs) * time.Millisecond,
		ProbeTimeout:   time.Duration(probeMs) * time.Millisecond,
		DefaultRetries: retries,
	}

	return cfg, nil
}
