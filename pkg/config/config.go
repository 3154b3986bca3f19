package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/opentelekomcloud/otcbot/internal/infra"
	"github.com/opentelekomcloud/otcbot/pkg/redaction"
)

// DefaultSkopeoPath is where the copy tool is expected when skopeo.path is
// not set.
const DefaultSkopeoPath = "/usr/local/bin/skopeo"

// ErrDuplicateImage is returned when registry.images defines a key twice.
var ErrDuplicateImage = errors.New("duplicate image key")

// Image is one entry of the registry image mapping.
type Image struct {
	Upstream   string `yaml:"upstream"`
	Downstream string `yaml:"downstream"`
}

// ImageMapping maps the user-visible image key to its registry pair.
// It is loaded once and never mutated afterwards.
type ImageMapping map[string]Image

// Lookup returns the image configured under key.
func (m ImageMapping) Lookup(key string) (Image, bool) {
	img, ok := m[key]
	return img, ok
}

type MatrixConfig struct {
	Homeserver     string   `yaml:"homeserver" env:"OTCBOT_MATRIX_HOMESERVER"`
	Username       string   `yaml:"username" env:"OTCBOT_MATRIX_USERNAME"`
	Password       string   `yaml:"password" env:"OTCBOT_MATRIX_PASSWORD"`
	AccessToken    string   `yaml:"access_token" env:"OTCBOT_MATRIX_ACCESS_TOKEN"`
	DeviceID       string   `yaml:"device_id" env:"OTCBOT_MATRIX_DEVICE_ID"`
	DeviceName     string   `yaml:"device_name" env:"OTCBOT_MATRIX_DEVICE_NAME"`
	JoinOnInvite   bool     `yaml:"join_on_invite" env:"OTCBOT_MATRIX_JOIN_ON_INVITE"`
	LeaveOnAbandon bool     `yaml:"leave_on_abandon" env:"OTCBOT_MATRIX_LEAVE_ON_ABANDON"`
	AllowFrom      []string `yaml:"allow_from" env:"OTCBOT_MATRIX_ALLOW_FROM"`
	SendPerSecond  float64  `yaml:"send_per_second" env:"OTCBOT_MATRIX_SEND_PER_SECOND"` // 0 = unlimited
}

type RegistryConfig struct {
	// Username is reserved for the downstream registry account. Nothing reads
	// it yet; skopeo authenticates through its own auth file.
	Username string       `yaml:"username" env:"OTCBOT_REGISTRY_USERNAME"`
	Images   ImageMapping `yaml:"images"`
}

type SkopeoConfig struct {
	Path    string        `yaml:"path" env:"OTCBOT_SKOPEO_PATH"`
	Timeout time.Duration `yaml:"timeout" env:"OTCBOT_SKOPEO_TIMEOUT"` // 0 = no timeout
}

type LogConfig struct {
	Level string `yaml:"level" env:"OTCBOT_LOG_LEVEL"`
	File  string `yaml:"file" env:"OTCBOT_LOG_FILE"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" env:"OTCBOT_METRICS_LISTEN"` // empty = disabled
}

type RateLimitConfig struct {
	CommandsPerMinute int `yaml:"commands_per_minute" env:"OTCBOT_RATE_LIMIT_COMMANDS_PER_MINUTE"` // 0 = unlimited
}

type Config struct {
	Matrix    MatrixConfig     `yaml:"matrix"`
	Registry  RegistryConfig   `yaml:"registry"`
	Skopeo    SkopeoConfig     `yaml:"skopeo"`
	StorePath string           `yaml:"store_path" env:"OTCBOT_STORE_PATH"`
	Log       LogConfig        `yaml:"log"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Redaction redaction.Config `yaml:"redaction"`
}

func DefaultConfig() *Config {
	return &Config{
		Matrix: MatrixConfig{
			DeviceName:    "otcbot",
			JoinOnInvite:  true,
			AllowFrom:     []string{},
			SendPerSecond: 5,
		},
		Registry: RegistryConfig{
			Images: ImageMapping{},
		},
		Skopeo: SkopeoConfig{
			Path: DefaultSkopeoPath,
		},
		Log: LogConfig{
			Level: "info",
		},
		Redaction: redaction.DefaultConfig(),
	}
}

// LoadConfig reads the YAML file at path, applies OTCBOT_* environment
// overrides and validates the result. Any error is meant to be fatal.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML config bytes. See LoadConfig.
func Parse(data []byte) (*Config, error) {
	if err := checkDuplicateImages(data); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkDuplicateImages walks registry.images on the raw node tree; a plain
// map decode would silently keep one of the entries.
func checkDuplicateImages(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return fmt.Errorf("decode config: empty document")
	}

	images := mappingValue(mappingValue(doc.Content[0], "registry"), "images")
	if images == nil {
		return nil
	}

	seen := make(map[string]int, len(images.Content)/2)
	for i := 0; i+1 < len(images.Content); i += 2 {
		key := images.Content[i]
		if line, ok := seen[key.Value]; ok {
			return fmt.Errorf("%w %q at line %d (first defined at line %d)", ErrDuplicateImage, key.Value, key.Line, line)
		}
		seen[key.Value] = key.Line
	}
	return nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Matrix.Homeserver) == "" {
		return errors.New("matrix.homeserver is required")
	}
	if strings.TrimSpace(c.Matrix.Username) == "" {
		return errors.New("matrix.username is required")
	}
	if c.Matrix.Password == "" && c.Matrix.AccessToken == "" {
		return errors.New("one of matrix.password or matrix.access_token is required")
	}
	if c.Matrix.SendPerSecond < 0 {
		return errors.New("matrix.send_per_second must not be negative")
	}
	if strings.TrimSpace(c.Skopeo.Path) == "" {
		return errors.New("skopeo.path is required")
	}
	if c.RateLimit.CommandsPerMinute < 0 {
		return errors.New("rate_limit.commands_per_minute must not be negative")
	}

	for key, img := range c.Registry.Images {
		if key == "" || strings.ContainsAny(key, " \t\r\n") {
			return fmt.Errorf("registry.images: invalid key %q", key)
		}
		if img.Upstream == "" || img.Downstream == "" {
			return fmt.Errorf("registry.images.%s: upstream and downstream are required", key)
		}
	}
	return nil
}

// Images returns the read-only image mapping.
func (c *Config) Images() ImageMapping {
	return c.Registry.Images
}

// StoreDir returns the directory for local client state.
func (c *Config) StoreDir() string {
	if c.StorePath != "" {
		return infra.ExpandHome(c.StorePath)
	}
	return DefaultStorePath()
}
