// Package config loads server settings from defaults, a .env file, the
// environment and an optional JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	dbconfig "livepoll/pkg/database"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Archive   *ArchiveConfig   `json:"archive"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Poll      *PollConfig      `json:"poll"`
}

// ArchiveConfig selects the optional write-behind archive
type ArchiveConfig struct {
	Enabled bool          `json:"enabled"`
	Driver  string        `json:"driver"`
	DSN     string        `json:"dsn"`
	Timeout time.Duration `json:"timeout"`
}

// DatabaseConfig returns the pool settings for the archive driver
func (a *ArchiveConfig) DatabaseConfig() *dbconfig.Config {
	config := dbconfig.DefaultConfig()
	config.Driver = a.Driver
	config.DSN = a.DSN
	return config
}

// HTTPConfig covers the listener and CORS origin
type HTTPConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	ClientOrigin string        `json:"client_origin"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// PollConfig holds the session limits
type PollConfig struct {
	HistoryLimit    int           `json:"history_limit"`
	ChatLimit       int           `json:"chat_limit"`
	ChatMaxLength   int           `json:"chat_max_length"`
	NameMaxLength   int           `json:"name_max_length"`
	DefaultDuration time.Duration `json:"default_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	MinOptions      int           `json:"min_options"`
	MaxOptions      int           `json:"max_options"`
	RateLimit       int           `json:"rate_limit"` // commands per connection per minute
	QueueSize       int           `json:"queue_size"`
}

// DefaultConfig returns classroom defaults. The archive is on, backed by a local SQLite file.
func DefaultConfig() *Config {
	return &Config{
		Archive: &ArchiveConfig{
			Enabled: true,
			Driver:  dbconfig.DriverSQLite,
			DSN:     "./data/livepoll.db",
			Timeout: 15 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         4000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			ClientOrigin: "*",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Poll: &PollConfig{
			HistoryLimit:    25,
			ChatLimit:       100,
			ChatMaxLength:   280,
			NameMaxLength:   40,
			DefaultDuration: 60 * time.Second,
			MinDuration:     10 * time.Second,
			MaxDuration:     120 * time.Second,
			MinOptions:      2,
			MaxOptions:      6,
			RateLimit:       100,
			QueueSize:       1000,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Archive == nil {
		return fmt.Errorf("archive configuration is required")
	}
	if c.Archive.Enabled {
		if err := c.Archive.DatabaseConfig().Validate(); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		if c.Archive.Timeout <= 0 {
			return fmt.Errorf("archive timeout must be positive")
		}
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// Port 0 binds a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ClientOrigin == "" {
		return fmt.Errorf("client origin cannot be empty, use * to allow any")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	return c.Poll.validate()
}

func (p *PollConfig) validate() error {
	if p == nil {
		return fmt.Errorf("poll configuration is required")
	}
	positive := map[string]int{
		"history limit":   p.HistoryLimit,
		"chat limit":      p.ChatLimit,
		"chat max length": p.ChatMaxLength,
		"name max length": p.NameMaxLength,
		"rate limit":      p.RateLimit,
		"queue size":      p.QueueSize,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("poll %s must be positive", name)
		}
	}
	if p.MinDuration <= 0 {
		return fmt.Errorf("poll minimum duration must be positive")
	}
	if p.MinDuration > p.DefaultDuration || p.DefaultDuration > p.MaxDuration {
		return fmt.Errorf("poll durations must satisfy min <= default <= max")
	}
	if p.MinOptions < 2 || p.MaxOptions < p.MinOptions {
		return fmt.Errorf("poll options must satisfy 2 <= min <= max")
	}
	return nil
}

// LoadDotEnv loads a .env file into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, filename := range filenames {
		if err := godotenv.Load(filename); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", filename, err)
		}
		log.Printf("Loaded environment from %s", filename)
	}
	return nil
}

// lookup returns the first non-empty variable among names
func lookup(names ...string) (string, bool) {
	for _, name := range names {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value, true
		}
	}
	return "", false
}

func envInt(target *int, names ...string) {
	if value, ok := lookup(names...); ok {
		if n, err := strconv.Atoi(value); err == nil {
			*target = n
		}
	}
}

func envDuration(target *time.Duration, names ...string) {
	if value, ok := lookup(names...); ok {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		}
	}
}

func envString(target *string, names ...string) {
	if value, ok := lookup(names...); ok {
		*target = value
	}
}

// LoadFromEnv overrides defaults with LIVEPOLL_* variables.
// PORT and CLIENT_ORIGIN are honoured as fallbacks for hosted deployments.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	envInt(&config.HTTP.Port, "LIVEPOLL_HTTP_PORT", "PORT")
	envString(&config.HTTP.Host, "LIVEPOLL_HTTP_HOST")
	envDuration(&config.HTTP.ReadTimeout, "LIVEPOLL_HTTP_READ_TIMEOUT")
	envDuration(&config.HTTP.WriteTimeout, "LIVEPOLL_HTTP_WRITE_TIMEOUT")
	envString(&config.HTTP.ClientOrigin, "LIVEPOLL_CLIENT_ORIGIN", "CLIENT_ORIGIN")

	if enabled, ok := lookup("LIVEPOLL_ARCHIVE_ENABLED"); ok {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Archive.Enabled = b
		}
	}
	envString(&config.Archive.Driver, "LIVEPOLL_ARCHIVE_DRIVER")
	envString(&config.Archive.DSN, "LIVEPOLL_ARCHIVE_DSN")
	envDuration(&config.Archive.Timeout, "LIVEPOLL_ARCHIVE_TIMEOUT")

	envDuration(&config.WebSocket.PingInterval, "LIVEPOLL_WEBSOCKET_PING_INTERVAL")
	envDuration(&config.WebSocket.ReadTimeout, "LIVEPOLL_WEBSOCKET_READ_TIMEOUT")
	envDuration(&config.WebSocket.WriteTimeout, "LIVEPOLL_WEBSOCKET_WRITE_TIMEOUT")
	envInt(&config.WebSocket.BufferSize, "LIVEPOLL_WEBSOCKET_BUFFER_SIZE")

	envInt(&config.Poll.HistoryLimit, "LIVEPOLL_POLL_HISTORY_LIMIT")
	envInt(&config.Poll.ChatLimit, "LIVEPOLL_POLL_CHAT_LIMIT")
	envInt(&config.Poll.RateLimit, "LIVEPOLL_POLL_RATE_LIMIT")

	return config
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Archive   *ArchiveConfigFile   `json:"archive"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Poll      *PollConfigFile      `json:"poll"`
}

type ArchiveConfigFile struct {
	Enabled *bool  `json:"enabled"`
	Driver  string `json:"driver"`
	DSN     string `json:"dsn"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	ClientOrigin string `json:"client_origin"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type PollConfigFile struct {
	HistoryLimit    int    `json:"history_limit"`
	ChatLimit       int    `json:"chat_limit"`
	ChatMaxLength   int    `json:"chat_max_length"`
	NameMaxLength   int    `json:"name_max_length"`
	DefaultDuration string `json:"default_duration"`
	MinDuration     string `json:"min_duration"`
	MaxDuration     string `json:"max_duration"`
	MinOptions      int    `json:"min_options"`
	MaxOptions      int    `json:"max_options"`
	RateLimit       int    `json:"rate_limit"`
	QueueSize       int    `json:"queue_size"`
}

func setDuration(target *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*target = d
	return nil
}

func setInt(target *int, value int) {
	if value > 0 {
		*target = value
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// LoadFromFile reads a JSON config file over the defaults. Durations are strings like "30s".
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()
	var errs []error

	if a := configFile.Archive; a != nil {
		if a.Enabled != nil {
			config.Archive.Enabled = *a.Enabled
		}
		setString(&config.Archive.Driver, a.Driver)
		setString(&config.Archive.DSN, a.DSN)
		errs = append(errs, setDuration(&config.Archive.Timeout, a.Timeout, "archive.timeout"))
	}

	if h := configFile.HTTP; h != nil {
		setInt(&config.HTTP.Port, h.Port)
		setString(&config.HTTP.Host, h.Host)
		setString(&config.HTTP.ClientOrigin, h.ClientOrigin)
		errs = append(errs,
			setDuration(&config.HTTP.ReadTimeout, h.ReadTimeout, "http.read_timeout"),
			setDuration(&config.HTTP.WriteTimeout, h.WriteTimeout, "http.write_timeout"),
		)
	}

	if w := configFile.WebSocket; w != nil {
		setInt(&config.WebSocket.BufferSize, w.BufferSize)
		errs = append(errs,
			setDuration(&config.WebSocket.PingInterval, w.PingInterval, "websocket.ping_interval"),
			setDuration(&config.WebSocket.ReadTimeout, w.ReadTimeout, "websocket.read_timeout"),
			setDuration(&config.WebSocket.WriteTimeout, w.WriteTimeout, "websocket.write_timeout"),
		)
	}

	if p := configFile.Poll; p != nil {
		setInt(&config.Poll.HistoryLimit, p.HistoryLimit)
		setInt(&config.Poll.ChatLimit, p.ChatLimit)
		setInt(&config.Poll.ChatMaxLength, p.ChatMaxLength)
		setInt(&config.Poll.NameMaxLength, p.NameMaxLength)
		setInt(&config.Poll.MinOptions, p.MinOptions)
		setInt(&config.Poll.MaxOptions, p.MaxOptions)
		setInt(&config.Poll.RateLimit, p.RateLimit)
		setInt(&config.Poll.QueueSize, p.QueueSize)
		errs = append(errs,
			setDuration(&config.Poll.DefaultDuration, p.DefaultDuration, "poll.default_duration"),
			setDuration(&config.Poll.MinDuration, p.MinDuration, "poll.min_duration"),
			setDuration(&config.Poll.MaxDuration, p.MaxDuration, "poll.max_duration"),
		)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid duration in %s: %w", filepath, err)
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults.
// A file that fails to load is logged and the environment config is used.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		fileConfig, err := LoadFromFile(filepath)
		if err != nil {
			log.Printf("Ignoring config file: %v", err)
			return config
		}
		config = fileConfig
	}

	return config
}
