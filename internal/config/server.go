package config

import "time"

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Addr            string          `mapstructure:"ADDR"             json:"addr"             validate:"required,listenaddr"`
	ReadTimeout     time.Duration   `mapstructure:"READ_TIMEOUT"     json:"read_timeout"     validate:"required,timeout_duration"`
	WriteTimeout    time.Duration   `mapstructure:"WRITE_TIMEOUT"    json:"write_timeout"    validate:"required,timeout_duration"`
	IdleTimeout     time.Duration   `mapstructure:"IDLE_TIMEOUT"     json:"idle_timeout"     validate:"required,reasonable_duration"`
	ShutdownTimeout time.Duration   `mapstructure:"SHUTDOWN_TIMEOUT" json:"shutdown_timeout" validate:"required,timeout_duration"`
	StatsInterval   time.Duration   `mapstructure:"STATS_INTERVAL"   json:"stats_interval"   validate:"required,reasonable_duration"`
	RateLimit       RateLimitConfig `mapstructure:"RATE_LIMIT"       json:"rate_limit"`
}

// RateLimitConfig holds per-client rate limiting settings for the API.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"ENABLED"             json:"enabled"`
	RequestsPerSecond int           `mapstructure:"REQUESTS_PER_SECOND" json:"requests_per_second" validate:"min=0,max=50000"`
	BurstSize         int           `mapstructure:"BURST_SIZE"          json:"burst_size"          validate:"min=0,max=10000"`
	BanThreshold      int           `mapstructure:"BAN_THRESHOLD"       json:"ban_threshold"       validate:"min=0,max=1000"`
	BanDuration       time.Duration `mapstructure:"BAN_DURATION"        json:"ban_duration"        validate:"reasonable_duration"`
}
