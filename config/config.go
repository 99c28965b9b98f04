package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
)

const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: nil keeps decision logs in the process log only
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Cache         CacheConfig
	Breaker       BreakerConfig
	Model         ModelConfig
	OpenAI        OpenAIConfig
	Telemetry     TelemetryConfig
	Observability ObservabilityConfig
	PromptsFile   string
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds the bearer token secret. An empty key disables auth.
type AuthConfig struct {
	APIKey string
	Issuer string
}

// Enabled reports whether the filter route requires a token
func (a AuthConfig) Enabled() bool {
	return a.APIKey != ""
}

// RateLimitConfig holds the per-identity admission budget
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// CacheConfig holds decision cache limits
type CacheConfig struct {
	MaxEntries          int
	MaxAge              time.Duration
	HotThreshold        int
	WarmThreshold       int
	SimilarityThreshold float64
	CleanupInterval     time.Duration
	SnapshotFile        string
}

// BreakerConfig holds circuit breaker settings shared by every model endpoint
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// ModelConfig holds model names and invocation parameters
type ModelConfig struct {
	Primary          string
	Alternate        string
	MaxTokens        int
	Temperature      float64
	Timeout          time.Duration
	AlternateTimeout time.Duration
	ConnectTimeout   time.Duration
	ChunkSize        int
}

// OpenAIConfig holds OpenAI provider configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// Configured reports whether an API key is present
func (o OpenAIConfig) Configured() bool {
	return o.APIKey != ""
}

// TelemetryConfig holds async decision log settings
type TelemetryConfig struct {
	BufferSize  int
	WorkerCount int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 45*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 40*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			APIKey: getEnv("API_AUTH_KEY", ""),
			Issuer: getEnv("API_AUTH_ISSUER", "doom-blocker"),
		},
		RateLimit: RateLimitConfig{
			Window:      getEnvAsDuration("RATE_LIMIT_WINDOW", time.Hour),
			MaxRequests: getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 3000),
		},
		Cache: CacheConfig{
			MaxEntries:          getEnvAsInt("CACHE_MAX_ENTRIES", 100),
			MaxAge:              getEnvAsDuration("CACHE_MAX_AGE", 5*time.Minute),
			HotThreshold:        getEnvAsInt("CACHE_HOT_THRESHOLD", 10),
			WarmThreshold:       getEnvAsInt("CACHE_WARM_THRESHOLD", 3),
			SimilarityThreshold: getEnvAsFloat("CACHE_SIMILARITY_THRESHOLD", 0.8),
			CleanupInterval:     getEnvAsDuration("CACHE_CLEANUP_INTERVAL", time.Minute),
			SnapshotFile:        getEnv("CACHE_SNAPSHOT_FILE", ""),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
			ResetTimeout:     getEnvAsDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		},
		Model: ModelConfig{
			Primary:          getEnv("MODEL_PRIMARY", "gpt-4o-mini"),
			Alternate:        getEnv("MODEL_ALTERNATE", "gpt-3.5-turbo"),
			MaxTokens:        getEnvAsInt("MODEL_MAX_TOKENS", 256),
			Temperature:      getEnvAsFloat("MODEL_TEMPERATURE", 0.6),
			Timeout:          getEnvAsDuration("MODEL_TIMEOUT", 30*time.Second),
			AlternateTimeout: getEnvAsDuration("MODEL_ALTERNATE_TIMEOUT", 10*time.Second),
			ConnectTimeout:   getEnvAsDuration("MODEL_CONNECT_TIMEOUT", 5*time.Second),
			ChunkSize:        getEnvAsInt("MODEL_CHUNK_SIZE", 0),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		},
		Telemetry: TelemetryConfig{
			BufferSize:  getEnvAsInt("TELEMETRY_BUFFER_SIZE", 256),
			WorkerCount: getEnvAsInt("TELEMETRY_WORKERS", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", LogFormatJSON),
		},
		PromptsFile: getEnv("PROMPTS_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks ranges and the settings required in production
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Environment, validation.Required),
		validation.Field(&c.Server, validation.By(func(value interface{}) error {
			sc, ok := value.(ServerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ServerConfig")
			}
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Port, validation.Required, validation.Min(1), validation.Max(65535)),
				validation.Field(&sc.RequestTimeout, validation.Required),
			)
		})),
		validation.Field(&c.RateLimit, validation.By(func(value interface{}) error {
			rc, ok := value.(RateLimitConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a RateLimitConfig")
			}
			return validation.ValidateStruct(&rc,
				validation.Field(&rc.Window, validation.Required),
				validation.Field(&rc.MaxRequests, validation.Required, validation.Min(1)),
			)
		})),
		validation.Field(&c.Cache, validation.By(func(value interface{}) error {
			cc, ok := value.(CacheConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a CacheConfig")
			}
			return validation.ValidateStruct(&cc,
				validation.Field(&cc.MaxEntries, validation.Required, validation.Min(1)),
				validation.Field(&cc.MaxAge, validation.Required),
				validation.Field(&cc.HotThreshold, validation.Min(cc.WarmThreshold)),
				validation.Field(&cc.SimilarityThreshold, validation.Min(0.0), validation.Max(1.0)),
			)
		})),
		validation.Field(&c.Breaker, validation.By(func(value interface{}) error {
			bc, ok := value.(BreakerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
			}
			return validation.ValidateStruct(&bc,
				validation.Field(&bc.FailureThreshold, validation.Required, validation.Min(1)),
				validation.Field(&bc.ResetTimeout, validation.Required),
			)
		})),
		validation.Field(&c.Model, validation.By(func(value interface{}) error {
			mc, ok := value.(ModelConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ModelConfig")
			}
			return validation.ValidateStruct(&mc,
				validation.Field(&mc.Primary, validation.Required),
				validation.Field(&mc.Alternate, validation.Required),
				validation.Field(&mc.MaxTokens, validation.Required, validation.Min(1)),
				validation.Field(&mc.Temperature, validation.Min(0.0), validation.Max(2.0)),
				validation.Field(&mc.Timeout, validation.Required),
				validation.Field(&mc.ChunkSize, validation.Min(0)),
			)
		})),
		validation.Field(&c.OpenAI, validation.By(func(value interface{}) error {
			oc, ok := value.(OpenAIConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be an OpenAIConfig")
			}
			return validation.ValidateStruct(&oc,
				validation.Field(&oc.BaseURL, validation.Required, is.URL),
			)
		})),
		validation.Field(&c.Observability, validation.By(func(value interface{}) error {
			oc, ok := value.(ObservabilityConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be an ObservabilityConfig")
			}
			return validation.ValidateStruct(&oc,
				validation.Field(&oc.LogLevel, validation.Required, validation.In("debug", "info", "warn", "error")),
				validation.Field(&oc.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
			)
		})),
	); err != nil {
		return err
	}

	if c.IsProduction() {
		if !c.OpenAI.Configured() {
			return fmt.Errorf("OPENAI_API_KEY is required in production")
		}
		if !c.Auth.Enabled() {
			return fmt.Errorf("API_AUTH_KEY is required in production")
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig reads DATABASE_URL, or DB_* when DB_HOST is set.
// Returns nil when neither is present.
func loadDatabaseConfig() *DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return &pool
	}
	if host := getEnv("DB_HOST", ""); host != "" {
		pool.Host = host
		pool.Port = getEnvAsInt("DB_PORT", 5432)
		pool.User = getEnv("DB_USER", "doomblocker")
		pool.Password = getEnv("DB_PASSWORD", "")
		pool.Database = getEnv("DB_NAME", "doomblocker")
		pool.SSLMode = getEnv("DB_SSLMODE", "disable")
		return &pool
	}
	return nil
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
