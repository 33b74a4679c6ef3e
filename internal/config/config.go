// Package config loads gohat configuration from defaults, an optional YAML
// file, GOHAT_* environment variables, and runtime overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/gohat/pkg/ledger"
)

const (
	AppName   = "gohat"
	EnvPrefix = "GOHAT"
)

// Config is the effective configuration.
type Config struct {
	ExperimentsDir  string        `mapstructure:"experiments_dir" yaml:"experiments_dir" validate:"required"`
	Namespace       string        `mapstructure:"namespace" yaml:"namespace" validate:"required,excludesall=/\\"`
	PageSize        int           `mapstructure:"page_size" yaml:"page_size" validate:"min=1"`
	ImageExtensions []string      `mapstructure:"image_extensions" yaml:"image_extensions" validate:"dive,required"`
	HeadlineMax     int           `mapstructure:"headline_max" yaml:"headline_max" validate:"min=0"`
	MaxIDAttempts   int           `mapstructure:"max_id_attempts" yaml:"max_id_attempts" validate:"min=1"`
	Server          ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging         LoggingConfig `mapstructure:"logging" yaml:"logging"`
	GC              GCConfig      `mapstructure:"gc" yaml:"gc"`
}

type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host"`
	Port            int             `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
	Title           string          `mapstructure:"title" yaml:"title"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`
	IdleTimeout     time.Duration   `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles mutating API routes. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps" validate:"min=0"`
	Burst int     `mapstructure:"burst" yaml:"burst" validate:"min=0"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format     string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=console json"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"min=0"`
}

// GCConfig controls scheduled collection while serving. An empty Schedule
// disables it.
type GCConfig struct {
	Schedule string        `mapstructure:"schedule" yaml:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age" validate:"min=0"`
}

// LedgerOptions maps the config onto ledger construction options.
func (c *Config) LedgerOptions() ledger.Options {
	return ledger.Options{
		Root:            c.ExperimentsDir,
		PageSize:        c.PageSize,
		ImageExtensions: c.ImageExtensions,
		HeadlineMax:     c.HeadlineMax,
		MaxIDAttempts:   c.MaxIDAttempts,
	}
}

// DefaultExperimentsDir is <app data dir>/experiments.
func DefaultExperimentsDir() string {
	return filepath.Join(gfconfig.GetAppDataDir(AppName), "experiments")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("experiments_dir", DefaultExperimentsDir())
	v.SetDefault("namespace", ledger.DefaultNamespace)
	v.SetDefault("page_size", ledger.DefaultPageSize)
	v.SetDefault("image_extensions", ledger.DefaultImageExtensions)
	v.SetDefault("headline_max", ledger.DefaultHeadlineMax)
	v.SetDefault("max_id_attempts", ledger.DefaultMaxIDAttempts)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8086)
	v.SetDefault("server.title", "Gohat Experiments")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit.rps", 10)
	v.SetDefault("server.rate_limit.burst", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("gc.schedule", "")
	v.SetDefault("gc.max_age", "0s")
}

// envSpec binds one environment variable to a config path.
type envSpec struct {
	Name string
	Path string
}

// getEnvSpecs lists the short-form variables. Every other key is also
// reachable as GOHAT_<PATH> with dots replaced by underscores.
func getEnvSpecs() []envSpec {
	return []envSpec{
		{Name: EnvPrefix + "_EXPERIMENTS_DIR", Path: "experiments_dir"},
		{Name: EnvPrefix + "_NAMESPACE", Path: "namespace"},
		{Name: EnvPrefix + "_HOST", Path: "server.host"},
		{Name: EnvPrefix + "_PORT", Path: "server.port"},
		{Name: EnvPrefix + "_READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: EnvPrefix + "_WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: EnvPrefix + "_SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_LOG_FORMAT", Path: "logging.format"},
		{Name: EnvPrefix + "_LOG_FILE", Path: "logging.file"},
		{Name: EnvPrefix + "_GC_SCHEDULE", Path: "gc.schedule"},
	}
}

// getUserConfigPaths returns the directories searched for gohat.yaml, most
// specific first.
func getUserConfigPaths() []string {
	paths := make([]string, 0, 2)
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", AppName))
	}
	return append(paths, ".")
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Load builds the effective config without an explicit config file.
// Precedence: overrides > env > discovered file > defaults.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file. An explicit file that cannot
// be read is an error; a missing discovered file is not.
func LoadFile(ctx context.Context, file string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(spec.Path, ".", "_")), spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		for _, p := range getUserConfigPaths() {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.ExperimentsDir = expandHome(strings.TrimSpace(cfg.ExperimentsDir))
	cfg.Logging.File = expandHome(strings.TrimSpace(cfg.Logging.File))

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyOverrides flattens nested maps into dotted keys so they take the
// highest precedence.
func applyOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, key, nested)
			continue
		}
		v.Set(key, val)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and returns a readable error.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// YAML renders the effective config with durations in their string form.
func (c *Config) YAML() ([]byte, error) {
	doc := map[string]any{
		"experiments_dir":  c.ExperimentsDir,
		"namespace":        c.Namespace,
		"page_size":        c.PageSize,
		"image_extensions": c.ImageExtensions,
		"headline_max":     c.HeadlineMax,
		"max_id_attempts":  c.MaxIDAttempts,
		"server": map[string]any{
			"host":             c.Server.Host,
			"port":             c.Server.Port,
			"title":            c.Server.Title,
			"read_timeout":     c.Server.ReadTimeout.String(),
			"write_timeout":    c.Server.WriteTimeout.String(),
			"idle_timeout":     c.Server.IdleTimeout.String(),
			"shutdown_timeout": c.Server.ShutdownTimeout.String(),
			"rate_limit": map[string]any{
				"rps":   c.Server.RateLimit.RPS,
				"burst": c.Server.RateLimit.Burst,
			},
		},
		"logging": map[string]any{
			"level":        c.Logging.Level,
			"format":       c.Logging.Format,
			"file":         c.Logging.File,
			"max_size_mb":  c.Logging.MaxSizeMB,
			"max_backups":  c.Logging.MaxBackups,
			"max_age_days": c.Logging.MaxAgeDays,
		},
		"gc": map[string]any{
			"schedule": c.GC.Schedule,
			"max_age":  c.GC.MaxAge.String(),
		},
	}
	return yaml.Marshal(doc)
}
