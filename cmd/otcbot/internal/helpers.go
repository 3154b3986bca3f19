package internal

import (
	"fmt"
	"runtime"

	"github.com/opentelekomcloud/otcbot/pkg/config"
	"github.com/opentelekomcloud/otcbot/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// ConfigFlag is bound to the root --config flag.
var ConfigFlag string

func GetConfigPath() string {
	return config.ResolveConfigPath(ConfigFlag)
}

func LoadConfig() (*config.Config, error) {
	path := GetConfigPath()
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupLogging applies the log section of cfg. debug overrides the level.
func SetupLogging(cfg *config.Config, debug bool) error {
	logger.ConfigureRedaction(cfg.Redaction)

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if debug {
		level = logger.DEBUG
	}
	logger.SetLevel(level)

	if cfg.Log.File != "" {
		if err := logger.EnableFileLogging(cfg.Log.File); err != nil {
			return fmt.Errorf("enable file logging: %w", err)
		}
	}
	return nil
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

func GetVersion() string {
	return version
}
