package config

import "time"

// Storage backends
const (
	BackendNone     = "none"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StorageConfig selects where pool snapshots are written.
type StorageConfig struct {
	Backend         string        `mapstructure:"BACKEND"          json:"backend"          validate:"required,oneof=none file sqlite postgres"`
	Dir             string        `mapstructure:"DIR"              json:"dir"`
	SQLitePath      string        `mapstructure:"SQLITE_PATH"      json:"sqlite_path"`
	PostgresURL     string        `mapstructure:"POSTGRES_URL"     json:"postgres_url"`
	ConnectAttempts int           `mapstructure:"CONNECT_ATTEMPTS" json:"connect_attempts" validate:"min=1,max=20"`
	PersistInterval time.Duration `mapstructure:"PERSIST_INTERVAL" json:"persist_interval" validate:"omitempty,reasonable_duration"`
	RestoreOnStart  bool          `mapstructure:"RESTORE_ON_START" json:"restore_on_start"`
	SaveOnShutdown  bool          `mapstructure:"SAVE_ON_SHUTDOWN" json:"save_on_shutdown"`
}
