package config

import "time"

// DiscoveryConfig drives the background feed fetcher.
type DiscoveryConfig struct {
	Enabled            bool          `mapstructure:"ENABLED"              json:"enabled"`
	Interval           time.Duration `mapstructure:"INTERVAL"             json:"interval"             validate:"required,reasonable_duration"`
	Timeout            time.Duration `mapstructure:"TIMEOUT"              json:"timeout"              validate:"required,timeout_duration"`
	Workers            int           `mapstructure:"WORKERS"              json:"workers"              validate:"required,min=1,max=64"`
	BloomCapacity      uint          `mapstructure:"BLOOM_CAPACITY"       json:"bloom_capacity"       validate:"required,min=1000"`
	BloomFalsePositive float64       `mapstructure:"BLOOM_FALSE_POSITIVE" json:"bloom_false_positive" validate:"required,gt=0,lt=1"`
	Feeds              []FeedConfig  `mapstructure:"FEEDS"                json:"feeds"                validate:"omitempty,dive"`
}

// FeedConfig is one discovery feed: a URL or a local file listing
// address:port entries separated by whitespace.
type FeedConfig struct {
	Name   string `mapstructure:"NAME"   json:"name"   validate:"required"`
	URL    string `mapstructure:"URL"    json:"url"    validate:"omitempty,url"`
	Path   string `mapstructure:"PATH"   json:"path"`
	Source string `mapstructure:"SOURCE" json:"source"`
	Kind   string `mapstructure:"KIND"   json:"kind"`
}
