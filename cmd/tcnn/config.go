package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// userConfig is the optional tcnn defaults file (~/.config/tcnn/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type userConfig struct {
	Steps     *int64 `yaml:"steps"`
	BatchSize *int64 `yaml:"batch_size"`
	Seed      *int64 `yaml:"seed"`

	ServerAddress string `yaml:"server_address"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
}

func userConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tcnn", "config.yaml")
}

// loadUserConfig reads the defaults file. Returns a zero config if the file
// does not exist or does not parse.
func loadUserConfig() userConfig {
	path := userConfigPath()
	if path == "" {
		return userConfig{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return userConfig{}
	}
	var cfg userConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return userConfig{}
	}
	return cfg
}

// applyTrainConfig overlays file defaults onto train command variables for
// every flag the user did not set explicitly.
func applyTrainConfig(c *cli.Command, cfg userConfig, steps, batch, seed *int64) {
	if cfg.Steps != nil && !c.IsSet("steps") {
		*steps = *cfg.Steps
	}
	if cfg.BatchSize != nil && !c.IsSet("batch") {
		*batch = *cfg.BatchSize
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
	applyLoggingConfig(c, cfg)
}

func applyServeConfig(c *cli.Command, cfg userConfig, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	applyLoggingConfig(c, cfg)
}

func applyLoggingConfig(c *cli.Command, cfg userConfig) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}
