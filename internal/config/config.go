package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPingInterval       = 30 * time.Second
	defaultReconnectBaseDelay = 1 * time.Second
	defaultReconnectMaxDelay  = 30 * time.Second
	defaultMaxReconnects      = 5
	defaultTypingTTL          = 8 * time.Second
	defaultRequestTimeout     = 30 * time.Second
	defaultRequestsPerSecond  = 10
	defaultRequestBurst       = 20
)

// Config is shared by the console, the reference backend and the load
// generator. Each binary reads the fields it needs.
type Config struct {
	// Client side
	APIBaseURL   string `yaml:"api_base_url"`
	WebSocketURL string `yaml:"websocket_url"`
	DataDir      string `yaml:"data_dir"`

	PingInterval         time.Duration `yaml:"ping_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	TypingTTL            time.Duration `yaml:"typing_ttl"`

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RequestBurst      int           `yaml:"request_burst"`

	RedisURL    string `yaml:"redis_url"`
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// Reference backend
	ServerAddress  string   `yaml:"server_address"`
	DatabaseURL    string   `yaml:"database_url"`
	JWTSecret      string   `yaml:"jwt_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Seeded as an admin agent when the agents table is empty.
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// LoadDotEnv loads a .env file if present. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	dataDir := filepath.Join(cwd, "data")
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".sozuri")
	}

	dbPath := filepath.Join(cwd, "data", "chatd.db")

	return &Config{
		APIBaseURL:   getEnv("SOZURI_API_URL", "http://localhost:8080"),
		WebSocketURL: getEnv("SOZURI_WS_URL", "ws://localhost:8080/v1/chat/ws"),
		DataDir:      getEnv("SOZURI_DATA_DIR", dataDir),

		PingInterval:         getDuration("SOZURI_PING_INTERVAL", defaultPingInterval),
		ReconnectBaseDelay:   getDuration("SOZURI_RECONNECT_BASE_DELAY", defaultReconnectBaseDelay),
		ReconnectMaxDelay:    getDuration("SOZURI_RECONNECT_MAX_DELAY", defaultReconnectMaxDelay),
		MaxReconnectAttempts: getInt("SOZURI_MAX_RECONNECT_ATTEMPTS", defaultMaxReconnects),
		TypingTTL:            getDuration("SOZURI_TYPING_TTL", defaultTypingTTL),

		RequestTimeout:    getDuration("SOZURI_REQUEST_TIMEOUT", defaultRequestTimeout),
		RequestsPerSecond: getFloat("SOZURI_REQUESTS_PER_SECOND", defaultRequestsPerSecond),
		RequestBurst:      getInt("SOZURI_REQUEST_BURST", defaultRequestBurst),

		RedisURL:    getEnv("REDIS_URL", ""),
		MetricsAddr: getEnv("SOZURI_METRICS_ADDR", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnv("LOG_PRETTY", "true") == "true",

		ServerAddress:  getEnv("SERVER_ADDRESS", ":8080"),
		DatabaseURL:    getEnv("DATABASE_URL", "sqlite://"+dbPath),
		JWTSecret:      getEnv("JWT_SECRET", "your-secret-key"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		AdminEmail:     getEnv("SOZURI_ADMIN_EMAIL", "admin@sozuri.local"),
		AdminPassword:  getEnv("SOZURI_ADMIN_PASSWORD", ""),
	}, nil
}

// ApplyFile overlays values from a YAML file. Keys absent from the file keep
// their current value.
func (c *Config) ApplyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate fills zero values with defaults and rejects impossible settings.
func (c *Config) Validate() error {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("reconnect_max_delay (%s) is below reconnect_base_delay (%s)",
			c.ReconnectMaxDelay, c.ReconnectBaseDelay)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must be >= 0, got %d", c.MaxReconnectAttempts)
	}
	if c.TypingTTL < 0 {
		return fmt.Errorf("typing_ttl must be >= 0, got %s", c.TypingTTL)
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = defaultRequestBurst
	}
	if c.APIBaseURL == "" {
		return errors.New("api_base_url is required")
	}
	if c.WebSocketURL == "" {
		return errors.New("websocket_url is required")
	}
	return nil
}

// TokenStorePath is the directory of the persisted session store.
func (c *Config) TokenStorePath() string {
	return filepath.Join(c.DataDir, "session")
}

// CleanDatabasePath returns a clean filesystem path from a database URL
func (c *Config) CleanDatabasePath() string {
	dbPath := strings.TrimPrefix(c.DatabaseURL, "sqlite://")

	if !filepath.IsAbs(dbPath) {
		if cwd, err := os.Getwd(); err == nil {
			dbPath = filepath.Join(cwd, dbPath)
		}
	}

	return dbPath
}

// UpdateDatabasePath updates the database path, maintaining the sqlite:// prefix if it was present
func (c *Config) UpdateDatabasePath(newPath string) {
	if strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		c.DatabaseURL = "sqlite://" + newPath
	} else {
		c.DatabaseURL = newPath
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
