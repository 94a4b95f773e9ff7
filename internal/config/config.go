// Package config loads kraph settings from YAML and the environment.
package config

import "time"

// EnvPrefix prefixes every environment override, e.g. KRAPH_ENGINE_DSN.
const EnvPrefix = "KRAPH"

// Config is the root configuration.
type Config struct {
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
}

// CatalogConfig locates the SQLite catalogue.
type CatalogConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// EngineConfig holds PostgreSQL/AGE connection settings.
type EngineConfig struct {
	DSN              string        `mapstructure:"dsn" yaml:"dsn" validate:"required"`
	MaxOpenConns     int           `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"min=1,max=1000"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" validate:"min=0,max=1000"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" validate:"min=0"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout" yaml:"statement_timeout" validate:"min=0"`
	Retries          int           `mapstructure:"retries" yaml:"retries" validate:"min=0,max=10"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// AnalysisConfig tunes `kraph analyze`.
type AnalysisConfig struct {
	HubThreshold int   `mapstructure:"hub_threshold" yaml:"hub_threshold" validate:"min=0"`
	TopN         int   `mapstructure:"top_n" yaml:"top_n" validate:"min=1"`
	StaleDays    int64 `mapstructure:"stale_days" yaml:"stale_days" validate:"min=1"`
}
