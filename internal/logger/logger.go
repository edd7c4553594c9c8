package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

/* ------------------------------------------------------------------ *
|  Configuration                                                      |
* -------------------------------------------------------------------*/

// Config describes the global logger. A FilePath enables rotated file
// output; Console keeps stdout as well. SampleInitial > 0 turns on sampling:
// per second and per message, the first SampleInitial entries pass and then
// every SampleThereafter-th (none when 0).
type Config struct {
	Level            string
	FilePath         string
	Format           string
	Version          string
	Component        string
	Console          bool
	MaxSize          int
	MaxBackups       int
	MaxAge           int
	SampleInitial    int
	SampleThereafter int
}

type Option func(*Config)

func WithLevel(lvl string) Option      { return func(c *Config) { c.Level = lvl } }
func WithFormat(f string) Option       { return func(c *Config) { c.Format = f } }
func WithFile(path string) Option      { return func(c *Config) { c.FilePath = path } }
func WithConsole(on bool) Option       { return func(c *Config) { c.Console = on } }
func WithVersion(v string) Option      { return func(c *Config) { c.Version = v } }
func WithComponent(comp string) Option { return func(c *Config) { c.Component = comp } }
func WithRotation(size, backups, age int) Option {
	return func(c *Config) {
		c.MaxSize, c.MaxBackups, c.MaxAge = size, backups, age
	}
}
func WithSampling(initial, thereafter int) Option {
	return func(c *Config) {
		c.SampleInitial, c.SampleThereafter = initial, thereafter
	}
}

func defaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "console",
		Component:  "proxypool",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

/* ------------------------------------------------------------------ *
|  Global state                                                       |
* -------------------------------------------------------------------*/

var (
	mu          sync.RWMutex
	root        *zap.Logger
	atomicLevel zap.AtomicLevel
)

func current() (*zap.Logger, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return root, root != nil
}

// Init builds the global logger, replacing (and flushing) any previous one.
func Init(opts ...Option) error {
	cfg := defaultConfig()
	for _, apply := range opts {
		apply(cfg)
	}

	lvl, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	core, err := buildCore(cfg, lvl)
	if err != nil {
		return err
	}

	l := zap.New(core,
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(
			zap.String("version", cfg.Version),
			zap.String("service", cfg.Component),
		),
	)

	mu.Lock()
	defer mu.Unlock()
	if root != nil {
		_ = root.Sync()
	}
	root, atomicLevel = l, lvl
	return nil
}

// Shutdown flushes buffered output and detaches the global logger.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()

	if root == nil {
		return errors.New("logger not initialized")
	}
	err := root.Sync()
	root = nil
	// stdout cannot be synced on some platforms
	var pathErr *os.PathError
	if err != nil && !errors.As(err, &pathErr) {
		return err
	}
	return nil
}

// UpdateLevel changes the level of the running logger.
func UpdateLevel(lvl string) error {
	level, err := zapcore.ParseLevel(lvl)
	if err != nil {
		return err
	}
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return errors.New("logger not initialized")
	}
	atomicLevel.SetLevel(level)
	return nil
}

/* ------------------------------------------------------------------ *
|  Core construction                                                  |
* -------------------------------------------------------------------*/

func buildCore(cfg *Config, lvl zap.AtomicLevel) (zapcore.Core, error) {
	enc, err := buildEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	var sinks []zapcore.WriteSyncer
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}))
	}
	if cfg.FilePath == "" || cfg.Console {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), lvl)
	if cfg.SampleInitial > 0 {
		core = zapcore.NewSamplerWithOptions(core, time.Second, cfg.SampleInitial, cfg.SampleThereafter)
	}
	return core, nil
}

// buildEncoder writes durations as strings so cooldowns read "30s".
func buildEncoder(format string) (zapcore.Encoder, error) {
	var cfg zapcore.EncoderConfig
	switch format {
	case "json":
		cfg = zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	case "console", "":
		cfg = zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	if format == "json" {
		return zapcore.NewJSONEncoder(cfg), nil
	}
	return zapcore.NewConsoleEncoder(cfg), nil
}
