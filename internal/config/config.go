package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sigreer/bcmount/internal/cache"
	"github.com/sigreer/bcmount/internal/history"
	"github.com/sigreer/bcmount/internal/mount"
)

type Config struct {
	// Discovery mode for block devices: "auto", "sysfs" or "lsblk"
	Discovery string `yaml:"discovery,omitempty" validate:"oneof=auto sysfs lsblk"`
	// UnlockPolicy applies when no passphrase file unlocks the filesystem: "fail", "wait" or "ask"
	UnlockPolicy   string        `yaml:"unlock_policy,omitempty" validate:"oneof=fail wait ask"`
	FSType         string        `yaml:"fstype,omitempty" validate:"required"`
	WaitInterval   time.Duration `yaml:"wait_interval,omitempty" validate:"gt=0"`
	EnumerationTTL time.Duration `yaml:"enumeration_ttl,omitempty" validate:"gte=0"`
	History        History       `yaml:"history"`
}

// History configures the attempt journal, off unless enabled
type History struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty" validate:"required"`
}

// defaultConfig provides baseline settings
var defaultConfig = Config{
	Discovery:      "auto",
	UnlockPolicy:   "ask",
	FSType:         mount.FSType,
	WaitInterval:   time.Second,
	EnumerationTTL: cache.TTLEnumeration,
	History: History{
		Path: history.DefaultPath,
	},
}

// Default returns a copy of the built-in configuration
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Candidates lists the config files tried, in order, when no path is given
func Candidates() []string {
	return []string{
		"/etc/bcmount/config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/bcmount/config.yaml"),
		"config.yaml",
	}
}

// Load reads the config at path, or the first existing candidate when path
// is empty. Missing files fall back to defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		for _, c := range Candidates() {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults for missing fields and validates
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Discovery == "" {
		c.Discovery = defaultConfig.Discovery
	}
	if c.UnlockPolicy == "" {
		c.UnlockPolicy = defaultConfig.UnlockPolicy
	}
	if c.FSType == "" {
		c.FSType = defaultConfig.FSType
	}
	if c.WaitInterval == 0 {
		c.WaitInterval = defaultConfig.WaitInterval
	}
	if c.EnumerationTTL == 0 {
		c.EnumerationTTL = defaultConfig.EnumerationTTL
	}
	if c.History.Path == "" {
		c.History.Path = defaultConfig.History.Path
	}
}

var validate = validator.New()

// Validate checks field values
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
