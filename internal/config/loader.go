package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration files.
type Loader struct {
	validator *Validator
}

// NewLoader returns a Loader validating with v.
func NewLoader(v *Validator) *Loader {
	return &Loader{validator: v}
}

// Load reads path, applies KRAPH_ environment overrides and validates.
// The file must exist.
func (l *Loader) Load(path string) (*Config, error) {
	return l.load(path, true)
}

// LoadWithDefaults is Load, except a missing file yields the defaults
// (environment overrides still apply).
func (l *Loader) LoadWithDefaults(path string) (*Config, error) {
	return l.load(path, false)
}

func (l *Loader) load(path string, required bool) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v.SetDefault)

	if path != "" {
		_, statErr := os.Stat(path)
		switch {
		case statErr == nil:
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		case errors.Is(statErr, os.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", statErr)
		}
	} else if required {
		return nil, errors.New("config path is empty")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.validator.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
