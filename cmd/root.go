package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"kraph/core/internal/age"
	"kraph/core/internal/config"
	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/kraph"
)

var (
	configPath  string
	catalogPath string
	engineDSN   string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:           "kraph",
	Short:         "Typed knowledge graphs on PostgreSQL and Apache AGE",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command and exits 1 on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorLine(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "kraph.yaml", "Path to the YAML config file (missing file means defaults)")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Path to the SQLite catalogue (overrides catalog.path)")
	rootCmd.PersistentFlags().StringVar(&engineDSN, "dsn", "", "PostgreSQL/AGE connection string (overrides engine.dsn)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
}

var kindTag = regexp.MustCompile(`\[ERR_[A-Z_]+\] `)

// errorLine renders err as "[KIND] message" with a single tag, the kind of
// the outermost classified error. Errors raised outside the service (flags,
// config) are reported as validation errors.
func errorLine(err error) string {
	kind := kgerr.KindOf(err)
	if kind == "" {
		kind = kgerr.KindValidation
	}
	return fmt.Sprintf("[%s] %s", kind, kindTag.ReplaceAllString(err.Error(), ""))
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(config.NewValidator()).LoadWithDefaults(configPath)
	if err != nil {
		return nil, err
	}
	if catalogPath != "" {
		cfg.Catalog.Path = catalogPath
	}
	if engineDSN != "" {
		cfg.Engine.DSN = engineDSN
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// env is what a command needs to talk to kraph.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	catalog *db.DB
	pool    *age.Pool
	svc     *kraph.Service
}

func (e *env) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.catalog != nil {
		e.catalog.Close()
	}
}

// openService loads config, opens the catalogue and the engine pool and
// builds the service. Callers must Close the env.
func openService(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	e := &env{cfg: cfg, logger: logger}
	if e.catalog, err = db.OpenDB(cfg.Catalog.Path); err != nil {
		return nil, err
	}
	e.pool, err = age.Open(ctx, age.Config{
		DSN:              cfg.Engine.DSN,
		MaxOpenConns:     cfg.Engine.MaxOpenConns,
		MaxIdleConns:     cfg.Engine.MaxIdleConns,
		ConnMaxLifetime:  cfg.Engine.ConnMaxLifetime,
		StatementTimeout: cfg.Engine.StatementTimeout,
		Retries:          cfg.Engine.Retries,
	}, age.WithLogger(logger))
	if err != nil {
		e.Close()
		return nil, err
	}
	e.svc = kraph.New(e.catalog, e.pool, kraph.WithLogger(logger))
	return e, nil
}

// withService runs fn against a freshly opened service.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *kraph.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openService(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e.svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput decodes a JSON document from path ("-" is stdin) into v.
func readInput(path string, stdin io.Reader, v any) error {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return kgerr.Wrap(kgerr.KindNotFound, "cmd.readInput", err, "cannot open %s", path)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return kgerr.New(kgerr.KindValidation, "cmd.readInput", "%s is empty", path)
		}
		return kgerr.Wrap(kgerr.KindValidation, "cmd.readInput", err, "invalid input in %s", path)
	}
	return nil
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

// parseTime parses an RFC 3339 flag value; empty means unset.
func parseTime(flag, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, kgerr.Wrap(kgerr.KindValidation, "cmd.parseTime", err, "--%s must be an ISO-8601 timestamp", flag)
	}
	return &t, nil
}

func addPageFlags(cmd *cobra.Command, p *kraph.Page) {
	cmd.Flags().IntVar(&p.Limit, "limit", kraph.DefaultLimit, fmt.Sprintf("Maximum results (max %d)", kraph.MaxLimit))
	cmd.Flags().IntVar(&p.Offset, "offset", 0, "Results to skip")
}
