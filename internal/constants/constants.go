package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default ops server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default ops server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20 // 1 MB
)

// API Paths
const (
	DefaultHealthPath  = "/health"
	DefaultStatusPath  = "/status"
	DefaultMetricsPath = "/metrics"
)

// RPC Constants
const (
	// DefaultRPCTimeout is the default timeout for dialing and single RPC calls
	DefaultRPCTimeout = 30 * time.Second

	// DefaultPollInterval is how often the finalized head is polled
	DefaultPollInterval = 2 * time.Second
)

// Producer Constants
const (
	// DefaultProducerBufferSize is the capacity of the producer to builder channel
	DefaultProducerBufferSize = 16

	// DefaultHeadBufferSize is the capacity of the head notification channel
	DefaultHeadBufferSize = 16

	// DefaultMaxRetries is the default maximum number of retries for failed operations
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the default delay before the first retry
	DefaultRetryDelay = 1 * time.Second

	// DefaultMaxRetryDelay caps a single backoff delay
	DefaultMaxRetryDelay = 30 * time.Second

	// DefaultFetchTimeout bounds a single block fetch attempt
	DefaultFetchTimeout = 30 * time.Second

	// DefaultFetchRateBurst is the default limiter burst when a rate limit is set
	DefaultFetchRateBurst = 10
)

// Index Builder Constants
const (
	// DefaultHandlerTimeout bounds a single handler call
	DefaultHandlerTimeout = 30 * time.Second

	// DefaultNotifyTimeout bounds a single commit notification
	DefaultNotifyTimeout = 5 * time.Second

	// DefaultStopTimeout bounds graceful pipeline shutdown
	DefaultStopTimeout = 60 * time.Second
)

// Storage Constants
const (
	// DefaultDatabasePath is the default Pebble directory
	DefaultDatabasePath = "./data"

	// DefaultCacheSize is the default cache size in MB for PebbleDB
	DefaultCacheSize = 128 // MB

	// DefaultMaxOpenFiles is the default maximum number of open files for PebbleDB
	DefaultMaxOpenFiles = 1000

	// DefaultWriteBuffer is the default write buffer size in MB for PebbleDB
	DefaultWriteBuffer = 64 // MB

	// DefaultCompactionConcurrency is the default number of concurrent compactions
	DefaultCompactionConcurrency = 1
)

// Redis Constants
const (
	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisKeyPrefix   = "indexer"
	DefaultRedisPoolSize    = 10
	DefaultRedisDialTimeout = 5 * time.Second
	DefaultRedisChannel     = "indexer:commits"
)

// Kafka Constants
const (
	DefaultKafkaTopic       = "indexer-commits"
	DefaultKafkaCompression = "none"
)
