// Package config loads fleetd configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional config
// file (fleetd.yaml in the data directory or an explicit --config path),
// then FLEETD_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the daemon's settings.
type Config struct {
	// DataDir is the base directory for the database and logs.
	DataDir string `mapstructure:"data_dir"`

	// DBPath is the SQLite database file. Defaults to <data_dir>/fleet.db.
	DBPath string `mapstructure:"db_path"`

	// ListenPort is the board HTTP/WebSocket port.
	ListenPort int `mapstructure:"listen_port"`

	// TemplatesDir holds checklist template YAML files.
	TemplatesDir string `mapstructure:"templates_dir"`

	// PolicyPath is the reconciliation policy TOML file. A missing file
	// means the default policy (never skip).
	PolicyPath string `mapstructure:"policy_path"`

	// LogFile enables rotating file logging when set; empty logs to
	// stderr.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration. configFile may be empty, in which case only
// defaults, <data_dir>/fleetd.yaml (if present) and environment apply.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", ".fleetworks")
	v.SetDefault("listen_port", 8080)
	v.SetDefault("templates_dir", "templates")
	v.SetDefault("policy_path", "policy.toml")
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("FLEETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("fleetd")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing config file is fine; anything else is not.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "fleet.db")
	}
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		return nil, fmt.Errorf("invalid listen_port %d", cfg.ListenPort)
	}

	return &cfg, nil
}
