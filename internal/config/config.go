package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "SLIDESYNC_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Feed      *FeedConfig      `json:"feed"`
	Sync      *SyncConfig      `json:"sync"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
	// MigrationsPath overrides the embedded migrations when set
	MigrationsPath string        `json:"migrations_path"`
	Timeout        time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Host            string        `json:"host"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// FeedConfig selects the change-feed transport
type FeedConfig struct {
	Driver        string `json:"driver"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	BufferSize    int    `json:"buffer_size"`
}

// SyncConfig tunes every coordinator the server creates
type SyncConfig struct {
	CourseSessions       bool          `json:"course_sessions"`
	JoinRetryAttempts    int           `json:"join_retry_attempts"`
	JoinRetryInterval    time.Duration `json:"join_retry_interval"`
	JoinRetryMultiplier  float64       `json:"join_retry_multiplier"`
	JoinRetryMaxInterval time.Duration `json:"join_retry_max_interval"`
	ReconnectAttempts    int           `json:"reconnect_attempts"`
	ReconnectInterval    time.Duration `json:"reconnect_interval"`
	StoreTimeout         time.Duration `json:"store_timeout"`
}

type RateLimitConfig struct {
	CommandsPerMinute int `json:"commands_per_minute"`
}

// DefaultConfig returns classroom-scale defaults: local SQLite, in-process
// feed, 30s heartbeat, 20 auto-join attempts 3s apart
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/slidesync.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Host:            "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			MaxMessageSize: 64 * 1024,
		},
		Feed: &FeedConfig{
			Driver:     "memory",
			RedisAddr:  "localhost:6379",
			BufferSize: 256,
		},
		Sync: &SyncConfig{
			CourseSessions:       true,
			JoinRetryAttempts:    20,
			JoinRetryInterval:    3 * time.Second,
			JoinRetryMultiplier:  1.0,
			JoinRetryMaxInterval: 30 * time.Second,
			ReconnectAttempts:    10,
			ReconnectInterval:    time.Second,
			StoreTimeout:         10 * time.Second,
		},
		RateLimit: &RateLimitConfig{
			CommandsPerMinute: 100,
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Feed == nil || c.Sync == nil || c.RateLimit == nil {
		return errors.New("all configuration sections are required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	switch c.Feed.Driver {
	case "memory":
	case "redis":
		if c.Feed.RedisAddr == "" {
			return fmt.Errorf("redis feed requires an address")
		}
	default:
		return fmt.Errorf("unknown feed driver %q", c.Feed.Driver)
	}
	if c.Feed.BufferSize <= 0 {
		return fmt.Errorf("feed buffer size must be positive")
	}

	if c.Sync.JoinRetryAttempts <= 0 || c.Sync.ReconnectAttempts <= 0 {
		return fmt.Errorf("retry attempts must be positive")
	}
	if c.Sync.JoinRetryInterval <= 0 || c.Sync.ReconnectInterval <= 0 {
		return fmt.Errorf("retry intervals must be positive")
	}
	if c.Sync.JoinRetryMultiplier < 1 {
		return fmt.Errorf("join retry multiplier must be at least 1")
	}
	if c.Sync.JoinRetryMaxInterval < c.Sync.JoinRetryInterval {
		return fmt.Errorf("join retry max interval must not be below the interval")
	}
	if c.Sync.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}

	if c.RateLimit.CommandsPerMinute <= 0 {
		return fmt.Errorf("commands per minute must be positive")
	}

	return nil
}

// LoadDotEnv loads SLIDESYNC_ENV_FILE (default .env) into the process
// environment when it exists; variables already set are not overridden
func LoadDotEnv() error {
	path := os.Getenv(EnvPrefix + "ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	log.Printf("Loaded environment from %s", path)
	return nil
}

// LoadFromEnv applies SLIDESYNC_* environment variables over the defaults
// FUNCTIONAL DISCOVERY: Unparseable values are ignored so a typo falls back to the default
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(c *Config) {
	envString("DATABASE_PATH", &c.Database.Path)
	envString("DATABASE_MIGRATIONS_PATH", &c.Database.MigrationsPath)
	envDuration("DATABASE_TIMEOUT", &c.Database.Timeout)

	envInt("HTTP_PORT", &c.HTTP.Port)
	envString("HTTP_HOST", &c.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	if v, ok := lookup("WEBSOCKET_MAX_MESSAGE_SIZE"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.WebSocket.MaxMessageSize = n
		}
	}

	envString("FEED_DRIVER", &c.Feed.Driver)
	envString("FEED_REDIS_ADDR", &c.Feed.RedisAddr)
	envString("FEED_REDIS_PASSWORD", &c.Feed.RedisPassword)
	envInt("FEED_REDIS_DB", &c.Feed.RedisDB)
	envInt("FEED_BUFFER_SIZE", &c.Feed.BufferSize)

	envBool("SYNC_COURSE_SESSIONS", &c.Sync.CourseSessions)
	envInt("SYNC_JOIN_RETRY_ATTEMPTS", &c.Sync.JoinRetryAttempts)
	envDuration("SYNC_JOIN_RETRY_INTERVAL", &c.Sync.JoinRetryInterval)
	envDuration("SYNC_JOIN_RETRY_MAX_INTERVAL", &c.Sync.JoinRetryMaxInterval)
	if v, ok := lookup("SYNC_JOIN_RETRY_MULTIPLIER"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Sync.JoinRetryMultiplier = f
		}
	}
	envInt("SYNC_RECONNECT_ATTEMPTS", &c.Sync.ReconnectAttempts)
	envDuration("SYNC_RECONNECT_INTERVAL", &c.Sync.ReconnectInterval)
	envDuration("SYNC_STORE_TIMEOUT", &c.Sync.StoreTimeout)

	envInt("RATE_LIMIT_COMMANDS_PER_MINUTE", &c.RateLimit.CommandsPerMinute)
}

func lookup(name string) (string, bool) {
	v := os.Getenv(EnvPrefix + name)
	return v, v != ""
}

func envString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := lookup(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v, ok := lookup(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v, ok := lookup(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings;
// pointer and empty values mean "keep the lower-precedence setting"
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Feed      *FeedConfigFile      `json:"feed"`
	Sync      *SyncConfigFile      `json:"sync"`
	RateLimit *RateLimitConfig     `json:"rate_limit"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	MigrationsPath string `json:"migrations_path"`
	Timeout        string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port            int    `json:"port"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
	Host            string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type FeedConfigFile struct {
	Driver        string `json:"driver"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       *int   `json:"redis_db"`
	BufferSize    int    `json:"buffer_size"`
}

type SyncConfigFile struct {
	CourseSessions       *bool   `json:"course_sessions"`
	JoinRetryAttempts    int     `json:"join_retry_attempts"`
	JoinRetryInterval    string  `json:"join_retry_interval"`
	JoinRetryMultiplier  float64 `json:"join_retry_multiplier"`
	JoinRetryMaxInterval string  `json:"join_retry_max_interval"`
	ReconnectAttempts    int     `json:"reconnect_attempts"`
	ReconnectInterval    string  `json:"reconnect_interval"`
	StoreTimeout         string  `json:"store_timeout"`
}

// LoadFromFile reads a JSON config file over the defaults
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(c *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var f ConfigFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var errs []error
	duration := func(field, v string, dst *time.Duration) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}

	if f.Database != nil {
		setString(&c.Database.Path, f.Database.Path)
		setString(&c.Database.MigrationsPath, f.Database.MigrationsPath)
		duration("database.timeout", f.Database.Timeout, &c.Database.Timeout)
	}

	if f.HTTP != nil {
		setInt(&c.HTTP.Port, f.HTTP.Port)
		setString(&c.HTTP.Host, f.HTTP.Host)
		duration("http.read_timeout", f.HTTP.ReadTimeout, &c.HTTP.ReadTimeout)
		duration("http.write_timeout", f.HTTP.WriteTimeout, &c.HTTP.WriteTimeout)
		duration("http.shutdown_timeout", f.HTTP.ShutdownTimeout, &c.HTTP.ShutdownTimeout)
	}

	if f.WebSocket != nil {
		duration("websocket.ping_interval", f.WebSocket.PingInterval, &c.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.WebSocket.ReadTimeout, &c.WebSocket.ReadTimeout)
		if f.WebSocket.MaxMessageSize > 0 {
			c.WebSocket.MaxMessageSize = f.WebSocket.MaxMessageSize
		}
	}

	if f.Feed != nil {
		setString(&c.Feed.Driver, f.Feed.Driver)
		setString(&c.Feed.RedisAddr, f.Feed.RedisAddr)
		setString(&c.Feed.RedisPassword, f.Feed.RedisPassword)
		if f.Feed.RedisDB != nil {
			c.Feed.RedisDB = *f.Feed.RedisDB
		}
		setInt(&c.Feed.BufferSize, f.Feed.BufferSize)
	}

	if f.Sync != nil {
		if f.Sync.CourseSessions != nil {
			c.Sync.CourseSessions = *f.Sync.CourseSessions
		}
		setInt(&c.Sync.JoinRetryAttempts, f.Sync.JoinRetryAttempts)
		duration("sync.join_retry_interval", f.Sync.JoinRetryInterval, &c.Sync.JoinRetryInterval)
		duration("sync.join_retry_max_interval", f.Sync.JoinRetryMaxInterval, &c.Sync.JoinRetryMaxInterval)
		if f.Sync.JoinRetryMultiplier > 0 {
			c.Sync.JoinRetryMultiplier = f.Sync.JoinRetryMultiplier
		}
		setInt(&c.Sync.ReconnectAttempts, f.Sync.ReconnectAttempts)
		duration("sync.reconnect_interval", f.Sync.ReconnectInterval, &c.Sync.ReconnectInterval)
		duration("sync.store_timeout", f.Sync.StoreTimeout, &c.Sync.StoreTimeout)
	}

	if f.RateLimit != nil {
		setInt(&c.RateLimit.CommandsPerMinute, f.RateLimit.CommandsPerMinute)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %w", filepath, errors.Join(errs...))
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// LoadConfigWithPrecedence resolves configuration as file > environment > defaults.
// The .env file is loaded into the environment first.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	config := LoadFromEnv()
	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
