// Package config loads taskflow runtime settings from a YAML file and
// TASKFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/flow"
	"github.com/baxromumarov/taskflow/logging"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// TASKFLOW_SCHEDULER_WORKERS for scheduler.workers.
const EnvPrefix = "TASKFLOW"

// Config is the complete runtime configuration.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Flow      FlowConfig      `mapstructure:"flow"`
}

// SchedulerConfig sizes the scheduler's dispatchers.
type SchedulerConfig struct {
	// Workers is the parallelism of the default dispatcher (0 = GOMAXPROCS).
	Workers int `mapstructure:"workers"`
	// IOWorkers is the parallelism of the IO dispatcher (0 = max(64, GOMAXPROCS)).
	IOWorkers int `mapstructure:"io_workers"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is json or text.
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address of /metrics; empty disables the endpoint.
	Addr string `mapstructure:"addr"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// FlowConfig holds stream defaults.
type FlowConfig struct {
	// Buffer is the capacity used by context switches that do not pick a
	// strategy themselves.
	Buffer int `mapstructure:"buffer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: "taskflow"},
		Flow:    FlowConfig{Buffer: 0},
	}
}

// SetDefaults registers the defaults on v so env overrides resolve even
// without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("scheduler.workers", d.Scheduler.Workers)
	v.SetDefault("scheduler.io_workers", d.Scheduler.IOWorkers)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("flow.buffer", d.Flow.Buffer)
}

// New returns a viper instance with defaults, env binding and, if path is
// non-empty, the given config file. Without a path it searches for
// taskflow.yaml in the config dir and the working directory.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("taskflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	// scheduler.io_workers -> TASKFLOW_SCHEDULER_IO_WORKERS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration at path (or the searched default file),
// applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	v := New(path)
	if err := Read(v, path != ""); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// Read loads v's config file. A missing default file is not an error; a
// missing explicit file is.
func Read(v *viper.Viper, explicit bool) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return fmt.Errorf("config: read: %w", err)
		}
	}
	return nil
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is every problem found by [Config.Validate].
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "config: invalid: " + strings.Join(msgs, "; ")
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	if c.Scheduler.Workers < 0 {
		errs = append(errs, ValidationError{"scheduler.workers", "must be >= 0"})
	}
	if c.Scheduler.IOWorkers < 0 {
		errs = append(errs, ValidationError{"scheduler.io_workers", "must be >= 0"})
	}
	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		errs = append(errs, ValidationError{"logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level)})
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, ValidationError{"logging.format", fmt.Sprintf("must be json or text, got %q", c.Logging.Format)})
	}
	if c.Flow.Buffer < 0 {
		errs = append(errs, ValidationError{"flow.buffer", "must be >= 0"})
	}
	return errs
}

// Logger builds the logger described by the logging section, writing to
// stderr.
func (c *Config) Logger() logging.Logger {
	return c.LoggerTo(os.Stderr)
}

// LoggerTo is [Config.Logger] writing to w.
func (c *Config) LoggerTo(w io.Writer) logging.Logger {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.New(logging.Config{
		Level:     level,
		Format:    c.Logging.Format,
		Output:    w,
		Component: "taskflow",
	})
}

// SchedulerOptions translates the scheduler section into options for
// [taskflow.NewScheduler]. logger is attached when non-nil.
func (c *Config) SchedulerOptions(logger logging.Logger) []taskflow.SchedulerOption {
	var opts []taskflow.SchedulerOption
	if c.Scheduler.Workers > 0 {
		opts = append(opts, taskflow.WithWorkers(c.Scheduler.Workers))
	}
	if c.Scheduler.IOWorkers > 0 {
		opts = append(opts, taskflow.WithIOWorkers(c.Scheduler.IOWorkers))
	}
	if logger != nil {
		opts = append(opts, taskflow.WithLogger(logger))
	}
	return opts
}

// Strategy is the default backpressure strategy for stream context switches.
func (c *Config) Strategy() flow.Strategy {
	return flow.Buffer(c.Flow.Buffer)
}

// Dir returns the user's taskflow config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskflow"
	}
	return filepath.Join(home, ".config", "taskflow")
}
