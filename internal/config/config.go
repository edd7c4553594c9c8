package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/logger"
	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

//go:embed defaults.yaml
var defaultYAML []byte

// Version is set at runtime from build information
var Version = "dev"

var validate = validator.New()

const keyDelimiter = "::"

var (
	hostnameRe  = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
	sourceKeyRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*(\.[a-z0-9][a-z0-9_\-]*)*$`)
)

// Config holds every sub‑config.
type Config struct {
	Server    ServerConfig    `mapstructure:"SERVER"    validate:"required"`
	Pools     PoolsConfig     `mapstructure:"POOLS"     validate:"required"`
	Storage   StorageConfig   `mapstructure:"STORAGE"   validate:"required"`
	Discovery DiscoveryConfig `mapstructure:"DISCOVERY"`
	Metrics   MetricsConfig   `mapstructure:"METRICS"   validate:"required"`
	Logging   LoggingConfig   `mapstructure:"LOGGING"   validate:"required"`
}

func init() {
	registerCustomValidators()

	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		cfg := sl.Current().Interface().(Config)
		performCrossFieldValidation(sl, cfg)
	}, Config{})
}

// registerCustomValidators registers custom validation functions
func registerCustomValidators() {
	// Listen address: ":port" or "host:port"
	if err := validate.RegisterValidation("listenaddr", func(fl validator.FieldLevel) bool {
		host, port, err := net.SplitHostPort(fl.Field().String())
		if err != nil || port == "" {
			return false
		}
		if _, err := net.LookupPort("tcp", port); err != nil {
			return false
		}
		if host != "" && net.ParseIP(host) == nil && !hostnameRe.MatchString(host) {
			return false
		}
		return true
	}); err != nil {
		logger.Error("Failed to register listenaddr validator", zap.Error(err))
	}

	// Source keys double as snapshot file names. Domain names such as
	// "avito.ru" are allowed.
	if err := validate.RegisterValidation("source_key", func(fl validator.FieldLevel) bool {
		key := fl.Field().String()
		return len(key) <= 64 && sourceKeyRe.MatchString(key) && key != constants.AllSources
	}); err != nil {
		logger.Error("Failed to register source_key validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("reasonable_duration", func(fl validator.FieldLevel) bool {
		d := fl.Field().Interface().(time.Duration)
		return d >= time.Second && d <= 24*time.Hour
	}); err != nil {
		logger.Error("Failed to register reasonable_duration validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("timeout_duration", func(fl validator.FieldLevel) bool {
		d := fl.Field().Interface().(time.Duration)
		return d >= time.Second && d <= time.Hour
	}); err != nil {
		logger.Error("Failed to register timeout_duration validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("log_level", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "debug", "info", "warn", "error", "fatal":
			return true
		}
		return false
	}); err != nil {
		logger.Error("Failed to register log_level validator", zap.Error(err))
	}

	if err := validate.RegisterValidation("log_format", func(fl validator.FieldLevel) bool {
		format := fl.Field().String()
		return format == "console" || format == "json"
	}); err != nil {
		logger.Error("Failed to register log_format validator", zap.Error(err))
	}
}

// performCrossFieldValidation performs validation across multiple fields
func performCrossFieldValidation(sl validator.StructLevel, cfg Config) {
	if cfg.Metrics.Enabled {
		if _, port, err := net.SplitHostPort(cfg.Server.Addr); err == nil && port == strconv.Itoa(cfg.Metrics.Port) {
			sl.ReportError(cfg.Metrics.Port, "Port", "Port", "port_conflict", "")
		}
	}

	switch cfg.Storage.Backend {
	case BackendFile:
		if cfg.Storage.Dir == "" {
			sl.ReportError(cfg.Storage.Dir, "Dir", "Dir", "required_for_backend", "file")
		}
	case BackendSQLite:
		if cfg.Storage.SQLitePath == "" {
			sl.ReportError(cfg.Storage.SQLitePath, "SQLitePath", "SQLitePath", "required_for_backend", "sqlite")
		}
	case BackendPostgres:
		if cfg.Storage.PostgresURL == "" {
			sl.ReportError(cfg.Storage.PostgresURL, "PostgresURL", "PostgresURL", "required_for_backend", "postgres")
		}
	}

	if cfg.Discovery.Enabled {
		if len(cfg.Discovery.Feeds) == 0 {
			sl.ReportError(cfg.Discovery.Feeds, "Feeds", "Feeds", "feeds_required", "")
		}
		for _, f := range cfg.Discovery.Feeds {
			if (f.URL == "") == (f.Path == "") {
				sl.ReportError(f.Name, "Feeds", "Feeds", "feed_location", f.Name)
			}
			if f.Source == "" || f.Source == DefaultSourceKey {
				continue
			}
			if _, ok := cfg.Pools.Sources[f.Source]; !ok {
				sl.ReportError(f.Source, "Source", "Source", "unknown_source", f.Source)
			}
		}
	}

	if cfg.Server.ShutdownTimeout < cfg.Server.WriteTimeout {
		sl.ReportError(cfg.Server.ShutdownTimeout, "ShutdownTimeout", "ShutdownTimeout", "shutdown_timeout_too_short", "")
	}
}

/* ------------------------------------------------------------------ *
|  Public API                                                         |
* -------------------------------------------------------------------*/

// SetVersion sets the version from build information
func SetVersion(v string) {
	Version = v
}

// Load merges defaults → file (optional) → env vars, validates, and returns cfg.
func Load(path string, log *zap.Logger) (*Config, error) {
	cfg, err := load(path, log)
	if err != nil {
		return nil, err
	}
	if err := initializeLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	if log != nil {
		log.Info("logger initialized",
			zap.String("level", cfg.Logging.Level),
			zap.String("format", cfg.Logging.Format),
			zap.String("file", cfg.Logging.FilePath),
		)
	}
	return cfg, nil
}

// LoadWithoutLogger is Load minus the global logger setup, for offline
// commands and tests.
func LoadWithoutLogger(path string) (*Config, error) {
	return load(path, nil)
}

func load(path string, log *zap.Logger) (*Config, error) {
	// Source keys may contain dots, so nesting uses "::" instead.
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigType("yaml")
	v.SetEnvPrefix(constants.EnvPrefix) // PROXYPOOL_SERVER_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	// 1. defaults.yaml (embedded)
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}

	// 2. optional user file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.MergeInConfig(); err != nil {
			if log != nil {
				log.Info("No config.yaml found, using defaults")
			}
		} else if log != nil {
			log.Info("Loaded config.yaml from current directory")
		}
	}

	// 3. env already merged by AutomaticEnv()

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, formatValidationError(err)
	}

	if log != nil {
		log.Info("configuration loaded",
			zap.String("version", Version),
			zap.Int("sources", len(cfg.Pools.Sources)),
			zap.String("storage", cfg.Storage.Backend),
		)
	}
	return &cfg, nil
}

// initializeLogger initializes the logger using the LoggingConfig
func initializeLogger(loggingConfig LoggingConfig) error {
	return logger.Init(
		logger.WithLevel(loggingConfig.Level),
		logger.WithFormat(loggingConfig.Format),
		logger.WithFile(loggingConfig.FilePath),
		logger.WithConsole(loggingConfig.Console),
		logger.WithVersion(Version),
		logger.WithComponent(constants.ServiceName),
		logger.WithRotation(loggingConfig.MaxSize, loggingConfig.MaxBackups, loggingConfig.MaxAge),
		logger.WithSampling(loggingConfig.SampleInitial, loggingConfig.SampleThereafter),
	)
}

// formatValidationError converts validator errors into user-friendly messages
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, fieldError := range validationErrors {
			messages = append(messages, getFieldErrorMessage(fieldError))
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return fmt.Errorf("configuration validation failed: %w", err)
}

// getFieldErrorMessage returns a user-friendly error message for a field validation error
func getFieldErrorMessage(fe validator.FieldError) string {
	field := fe.Field()
	value := fe.Value()
	param := fe.Param()

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required but not provided", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, param, value)
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, param, value)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got: %v)", field, param, value)
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", field, value)
	case "gt", "lt":
		return fmt.Sprintf("%s must be %s %s (got: %v)", field, fe.Tag(), param, value)
	case "listenaddr":
		return fmt.Sprintf("%s must be a listen address in format ':port' or 'host:port' (got: %v)", field, value)
	case "source_key":
		return fmt.Sprintf("%s must be a lowercase source key of letters, digits, '-', '_' or dot-separated labels and not %q (got: %v)", field, constants.AllSources, value)
	case "reasonable_duration":
		return fmt.Sprintf("%s must be between 1 second and 24 hours (got: %v)", field, value)
	case "timeout_duration":
		return fmt.Sprintf("%s must be between 1 second and 1 hour (got: %v)", field, value)
	case "log_level":
		return fmt.Sprintf("%s must be one of: debug, info, warn, error, fatal (got: %v)", field, value)
	case "log_format":
		return fmt.Sprintf("%s must be either 'console' or 'json' (got: %v)", field, value)
	case "port_conflict":
		return "metrics port conflicts with the API listen port, they must be different"
	case "required_for_backend":
		return fmt.Sprintf("%s is required when the storage backend is %q", field, param)
	case "feeds_required":
		return "discovery is enabled but no feeds are configured"
	case "feed_location":
		return fmt.Sprintf("discovery feed %q must set exactly one of url or path", param)
	case "unknown_source":
		return fmt.Sprintf("discovery feed targets source %q which is not configured under pools.sources", param)
	case "shutdown_timeout_too_short":
		return fmt.Sprintf("%s should be at least the write timeout so in-flight responses can finish", field)
	default:
		return fmt.Sprintf("%s validation failed: %s (got: %v)", field, fe.Tag(), value)
	}
}
