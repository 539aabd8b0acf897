package config

import "time"

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// WebSocket write limits
const (
	WSWriteWait       = 10 * time.Second
	WSSendBufferSize  = 256
	WSSendQueueBytes  = 16 << 20
	WSReadBufferSize  = 4096
	WSWriteBufferSize = 4096
)

// Event store connection pool
const (
	DBPingTimeout     = 5 * time.Second
	DBMaxOpenConns    = 4
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 30 * time.Minute
)

// Background job intervals
const CleanupJobInterval = time.Hour

// Event store writer
const (
	EventRecorderBuffer = 1024
	EventWriteTimeout   = 5 * time.Second
)
