package config

import (
	"os"
	"strings"

	"github.com/opentelekomcloud/otcbot/internal/infra"
)

const (
	EnvOtcbotConfig = "OTCBOT_CONFIG"
	EnvXDGDataHome  = infra.EnvXDGDataHome

	DefaultConfigFile = "config.yaml"
)

// ResolveConfigPath picks the config file: explicit flag value first, then
// $OTCBOT_CONFIG, then config.yaml in the working directory.
func ResolveConfigPath(flagValue string) string {
	if p := infra.ExpandHome(strings.TrimSpace(flagValue)); p != "" {
		return p
	}
	if p := infra.ExpandHome(strings.TrimSpace(os.Getenv(EnvOtcbotConfig))); p != "" {
		return p
	}
	return DefaultConfigFile
}

// DefaultStorePath is $XDG_DATA_HOME/otcbot, falling back to
// ~/.local/share/otcbot.
func DefaultStorePath() string {
	return infra.ResolveDataDir()
}
