package constants

import "time"

// Service identity
const (
	ServiceName = "proxypool"
	EnvPrefix   = "PROXYPOOL"
)

// Snapshot layout
const (
	SnapshotFilePrefix  = "proxies_" // file store writes <dir>/proxies_<source>.json
	SnapshotFileExt     = ".json"
	SnapshotVersion     = 1
	SnapshotTable       = "pool_snapshots"
	SQLiteSchemaVersion = 1
)

// Database connection pool constants
const (
	DBPoolMaxConns       = 4 // snapshot writes are infrequent and per source
	DBPoolMinConns       = 1
	DBConnectAttempts    = 5
	DBInitialBackoff     = 2 * time.Second
	DBConnMaxLifetime    = 60 * time.Minute
	DBConnMaxIdleTime    = 15 * time.Minute
	DBConnAcquireTimeout = 10 * time.Second
)

// HTTP API constants
const (
	MaxUploadBodyBytes = 4 << 20
	RequestIDHeader    = "X-Request-ID"
	AllSources         = "all"
)

// Timeouts
const (
	HealthCheckTimeout   = 5 * time.Second
	SnapshotTimeout      = 30 * time.Second
	WSWriteTimeout       = 10 * time.Second
	WSPongWait           = 60 * time.Second
	WSPingPeriod         = (WSPongWait * 9) / 10
	DiscoveryFeedTimeout = 20 * time.Second
)
