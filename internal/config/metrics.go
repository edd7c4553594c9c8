package config

// MetricsConfig controls the Prometheus listener, which runs on its own
// port next to the API.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"ENABLED" json:"enabled"`
	Port    int    `mapstructure:"PORT"    json:"port"    validate:"required,min=1024,max=65535"`
	Path    string `mapstructure:"PATH"    json:"path"    validate:"required,startswith=/"`
}
