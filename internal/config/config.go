package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0xmhha/event-indexer/internal/constants"
)

// Config holds all configuration for the indexer
type Config struct {
	RPC      RPCConfig      `yaml:"rpc"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	Producer ProducerConfig `yaml:"producer"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	API      APIConfig      `yaml:"api"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// RPCConfig holds RPC client configuration
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// AllContracts fetches logs of every contract, not only the configured ones
	AllContracts bool             `yaml:"all_contracts"`
	Contracts    []ContractConfig `yaml:"contracts"`
}

// ContractConfig names a watched contract and the ABI used to decode its logs
type ContractConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	ABIFile string `yaml:"abi_file"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Backend is one of pebble, redis, memory
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	CacheMB  int    `yaml:"cache_mb"`
	ReadOnly bool   `yaml:"readonly"`
}

// RedisConfig holds Redis connection settings shared by the redis backend
// and the redis notifier
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password,omitempty"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProducerConfig holds block producer configuration
type ProducerConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	// RateLimit is fetch attempts per second, 0 disables limiting
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// IndexerConfig holds index builder configuration
type IndexerConfig struct {
	StartHeight    uint64        `yaml:"start_height"`
	Mode           string        `yaml:"mode"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
	// RecordMethods are event methods stored by the built-in recorder handler
	RecordMethods []string `yaml:"record_methods"`
}

// APIConfig holds the ops server configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// NotifyConfig holds commit notification configuration
type NotifyConfig struct {
	Timeout time.Duration     `yaml:"timeout"`
	Redis   RedisNotifyConfig `yaml:"redis"`
	Kafka   KafkaNotifyConfig `yaml:"kafka"`
}

// RedisNotifyConfig publishes commits over Redis Pub/Sub using the redis section
type RedisNotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

// KafkaNotifyConfig publishes commits to a Kafka topic
type KafkaNotifyConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Compression string   `yaml:"compression"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for unset fields
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}
	if c.RPC.PollInterval == 0 {
		c.RPC.PollInterval = constants.DefaultPollInterval
	}

	// Database defaults
	if c.Database.Backend == "" {
		c.Database.Backend = "pebble"
	}
	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}
	if c.Database.CacheMB == 0 {
		c.Database.CacheMB = constants.DefaultCacheSize
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = constants.DefaultRedisAddr
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = constants.DefaultRedisKeyPrefix
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = constants.DefaultRedisPoolSize
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = constants.DefaultRedisDialTimeout
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Producer defaults
	if c.Producer.BufferSize == 0 {
		c.Producer.BufferSize = constants.DefaultProducerBufferSize
	}
	if c.Producer.MaxRetries == 0 {
		c.Producer.MaxRetries = constants.DefaultMaxRetries
	}
	if c.Producer.RetryDelay == 0 {
		c.Producer.RetryDelay = constants.DefaultRetryDelay
	}
	if c.Producer.MaxRetryDelay == 0 {
		c.Producer.MaxRetryDelay = constants.DefaultMaxRetryDelay
	}
	if c.Producer.FetchTimeout == 0 {
		c.Producer.FetchTimeout = constants.DefaultFetchTimeout
	}
	if c.Producer.RateBurst == 0 {
		c.Producer.RateBurst = constants.DefaultFetchRateBurst
	}

	// Indexer defaults
	if c.Indexer.Mode == "" {
		c.Indexer.Mode = "strict"
	}
	if c.Indexer.HandlerTimeout == 0 {
		c.Indexer.HandlerTimeout = constants.DefaultHandlerTimeout
	}
	if c.Indexer.StopTimeout == 0 {
		c.Indexer.StopTimeout = constants.DefaultStopTimeout
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}

	// Notify defaults
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = constants.DefaultNotifyTimeout
	}
	if c.Notify.Redis.Channel == "" {
		c.Notify.Redis.Channel = constants.DefaultRedisChannel
	}
	if c.Notify.Kafka.Topic == "" {
		c.Notify.Kafka.Topic = constants.DefaultKafkaTopic
	}
	if c.Notify.Kafka.Compression == "" {
		c.Notify.Kafka.Compression = constants.DefaultKafkaCompression
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if endpoint := os.Getenv("INDEXER_RPC_ENDPOINT"); endpoint != "" {
		c.RPC.Endpoint = endpoint
	}
	if err := envDuration("INDEXER_RPC_TIMEOUT", &c.RPC.Timeout); err != nil {
		return err
	}
	if err := envDuration("INDEXER_RPC_POLL_INTERVAL", &c.RPC.PollInterval); err != nil {
		return err
	}

	// Database configuration
	if backend := os.Getenv("INDEXER_DB_BACKEND"); backend != "" {
		c.Database.Backend = backend
	}
	if path := os.Getenv("INDEXER_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if err := envBool("INDEXER_DB_READONLY", &c.Database.ReadOnly); err != nil {
		return err
	}

	// Redis configuration
	if addr := os.Getenv("INDEXER_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("INDEXER_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if err := envInt("INDEXER_REDIS_DB", &c.Redis.DB); err != nil {
		return err
	}

	// Log configuration
	if level := os.Getenv("INDEXER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("INDEXER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Producer configuration
	if err := envInt("INDEXER_PRODUCER_BUFFER_SIZE", &c.Producer.BufferSize); err != nil {
		return err
	}
	if err := envInt("INDEXER_PRODUCER_MAX_RETRIES", &c.Producer.MaxRetries); err != nil {
		return err
	}
	if err := envDuration("INDEXER_PRODUCER_RETRY_DELAY", &c.Producer.RetryDelay); err != nil {
		return err
	}
	if rateLimit := os.Getenv("INDEXER_PRODUCER_RATE_LIMIT"); rateLimit != "" {
		val, err := strconv.ParseFloat(rateLimit, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_PRODUCER_RATE_LIMIT: %w", err)
		}
		c.Producer.RateLimit = val
	}

	// Indexer configuration
	if startHeight := os.Getenv("INDEXER_START_HEIGHT"); startHeight != "" {
		val, err := strconv.ParseUint(startHeight, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_START_HEIGHT: %w", err)
		}
		c.Indexer.StartHeight = val
	}
	if mode := os.Getenv("INDEXER_MODE"); mode != "" {
		c.Indexer.Mode = mode
	}
	if err := envDuration("INDEXER_HANDLER_TIMEOUT", &c.Indexer.HandlerTimeout); err != nil {
		return err
	}
	if methods := os.Getenv("INDEXER_RECORD_METHODS"); methods != "" {
		c.Indexer.RecordMethods = splitList(methods)
	}

	// API configuration
	if err := envBool("INDEXER_API_ENABLED", &c.API.Enabled); err != nil {
		return err
	}
	if host := os.Getenv("INDEXER_API_HOST"); host != "" {
		c.API.Host = host
	}
	if err := envInt("INDEXER_API_PORT", &c.API.Port); err != nil {
		return err
	}

	// Notify configuration
	if err := envDuration("INDEXER_NOTIFY_TIMEOUT", &c.Notify.Timeout); err != nil {
		return err
	}
	if err := envBool("INDEXER_NOTIFY_REDIS_ENABLED", &c.Notify.Redis.Enabled); err != nil {
		return err
	}
	if err := envBool("INDEXER_NOTIFY_KAFKA_ENABLED", &c.Notify.Kafka.Enabled); err != nil {
		return err
	}
	if brokers := os.Getenv("INDEXER_NOTIFY_KAFKA_BROKERS"); brokers != "" {
		c.Notify.Kafka.Brokers = splitList(brokers)
	}
	if topic := os.Getenv("INDEXER_NOTIFY_KAFKA_TOPIC"); topic != "" {
		c.Notify.Kafka.Topic = topic
	}

	return nil
}

func envDuration(key string, dst *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func envBool(key string, dst *bool) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate RPC configuration
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("RPC endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.RPC.PollInterval <= 0 {
		return fmt.Errorf("RPC poll interval must be positive")
	}
	for i, contract := range c.RPC.Contracts {
		if contract.Name == "" {
			return fmt.Errorf("contract %d: name is required", i)
		}
		if contract.Address == "" {
			return fmt.Errorf("contract %s: address is required", contract.Name)
		}
		if contract.ABIFile == "" {
			return fmt.Errorf("contract %s: abi_file is required", contract.Name)
		}
	}

	// Validate database configuration
	validBackends := map[string]bool{
		"pebble": true,
		"redis":  true,
		"memory": true,
	}
	if !validBackends[c.Database.Backend] {
		return fmt.Errorf("invalid database backend %q, must be one of: pebble, redis, memory", c.Database.Backend)
	}
	if c.Database.Backend == "pebble" && c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required for the redis backend")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate producer configuration
	if c.Producer.BufferSize <= 0 {
		return fmt.Errorf("producer buffer size must be positive")
	}
	if c.Producer.MaxRetries < 0 {
		return fmt.Errorf("producer max retries cannot be negative")
	}
	if c.Producer.RetryDelay <= 0 {
		return fmt.Errorf("producer retry delay must be positive")
	}
	if c.Producer.FetchTimeout <= 0 {
		return fmt.Errorf("producer fetch timeout must be positive")
	}
	if c.Producer.RateLimit < 0 {
		return fmt.Errorf("producer rate limit cannot be negative")
	}

	// Validate indexer configuration
	validModes := map[string]bool{
		"strict":  true,
		"lenient": true,
	}
	if !validModes[c.Indexer.Mode] {
		return fmt.Errorf("invalid indexer mode %q, must be one of: strict, lenient", c.Indexer.Mode)
	}
	if c.Indexer.HandlerTimeout < 0 {
		return fmt.Errorf("handler timeout cannot be negative")
	}

	// Validate API configuration
	if c.API.Enabled && (c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort) {
		return fmt.Errorf("invalid API port %d", c.API.Port)
	}

	// Validate notify configuration
	if c.Notify.Timeout < 0 {
		return fmt.Errorf("notify timeout cannot be negative")
	}
	if c.Notify.Kafka.Enabled {
		if len(c.Notify.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka notify enabled but no brokers configured")
		}
		if c.Notify.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}
	if c.Notify.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis notify enabled but no redis address configured")
	}

	return nil
}

// Load loads configuration from file and environment variables
// Priority: environment variables > config file > defaults
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	// Load from file if provided
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load from environment variables (override file)
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
