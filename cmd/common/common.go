// Package common holds what every subcommand needs: the resolved
// configuration and a logger built from it.
package common

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/config"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
)

// Viper keys bound to the persistent flags.
const (
	KeyConfig   = "config"
	KeyLogLevel = "log-level"
	KeyDebug    = "debug"
)

const defaultConfigFile = "config.yml"

func init() {
	_ = viper.BindEnv(KeyConfig, "CONFIG_PATH")
	_ = viper.BindEnv(KeyDebug, "APP_DEBUG")
}

// LoadConfig loads the configuration file named by --config or CONFIG_PATH,
// falling back to ./config.yml when it exists, and applies flag overrides.
func LoadConfig() (*config.Config, error) {
	path := viper.GetString(KeyConfig)
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", defaultConfigFile, err)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level := viper.GetString(KeyLogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if viper.GetBool(KeyDebug) {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
		cfg.Server.Debug = true
	}

	// Flags bypass the loader, so check the result again.
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the service logger.
func NewLogger(cfg *config.Config, version string) (logger.Logger, error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return log.With(
		logger.String("service", "harvest-scheduler"),
		logger.String("version", version),
	), nil
}
