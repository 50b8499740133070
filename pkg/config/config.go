package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the settings shared by the API server and the document worker
type Config struct {
	// Azure Document Intelligence
	AzureEndpoint            string        `mapstructure:"azure_endpoint" validate:"required,url"`
	AzureKey                 string        `mapstructure:"azure_key" validate:"required"`
	AzureClassificationModel string        `mapstructure:"azure_classification_model" validate:"required"`
	AzureTransportModel      string        `mapstructure:"azure_transport_model" validate:"required"`
	AzureInvoiceModel        string        `mapstructure:"azure_invoice_model" validate:"required"`
	AzureAPIVersion          string        `mapstructure:"azure_api_version" validate:"required"`
	AzurePollInterval        time.Duration `mapstructure:"azure_poll_interval" validate:"gt=0"`
	AzureTimeout             time.Duration `mapstructure:"azure_timeout" validate:"gt=0"`

	// SGD
	SGDBaseURL     string        `mapstructure:"sgd_base_url" validate:"required,url"`
	SGDBearerToken string        `mapstructure:"sgd_bearer_token"`
	SGDTimeout     time.Duration `mapstructure:"sgd_timeout" validate:"gt=0"`

	// JWT
	JWTSecretKey                string `mapstructure:"jwt_secret_key" validate:"required"`
	JWTAlgorithm                string `mapstructure:"jwt_algorithm" validate:"oneof=HS256 HS384 HS512"`
	JWTAccessTokenExpireMinutes int    `mapstructure:"jwt_access_token_expire_minutes" validate:"gt=0"`

	// Redis
	RedisURL string `mapstructure:"redis_url" validate:"required"`

	// Rate limiting
	RateLimitCalls  int `mapstructure:"rate_limit_calls" validate:"gt=0"`
	RateLimitPeriod int `mapstructure:"rate_limit_period" validate:"gt=0"`

	// HTTP
	HTTPPort           int      `mapstructure:"http_port" validate:"gt=0,lte=65535"`
	MaxUploadMB        int64    `mapstructure:"max_upload_mb" validate:"gt=0"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSize    int    `mapstructure:"log_max_size" validate:"gte=0"`
	LogMaxBackups int    `mapstructure:"log_max_backups" validate:"gte=0"`
	LogMaxAge     int    `mapstructure:"log_max_age" validate:"gte=0"`

	// Cache and processing
	CacheTTL            time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	ResultTTL           time.Duration `mapstructure:"result_ttl" validate:"gt=0"`
	ClassifyConcurrency int           `mapstructure:"classify_concurrency" validate:"gt=0"`

	// Worker
	WorkerConcurrency int    `mapstructure:"worker_concurrency" validate:"gt=0"`
	ConsumerGroup     string `mapstructure:"consumer_group"`
	ConsumerName      string `mapstructure:"consumer_name"`
	MetricsPort       int    `mapstructure:"metrics_port" validate:"gte=0,lte=65535"`
}

// SetDefaults registers every key with its default value so that
// environment variables are picked up by Unmarshal
func SetDefaults(v *viper.Viper) {
	v.SetDefault("azure_endpoint", "")
	v.SetDefault("azure_key", "")
	v.SetDefault("azure_classification_model", "doctype_01")
	v.SetDefault("azure_transport_model", "transport_01")
	v.SetDefault("azure_invoice_model", "inovice_01")
	v.SetDefault("azure_api_version", "2023-07-31")
	v.SetDefault("azure_poll_interval", time.Second)
	v.SetDefault("azure_timeout", 120*time.Second)

	v.SetDefault("sgd_base_url", "")
	v.SetDefault("sgd_bearer_token", "")
	v.SetDefault("sgd_timeout", 30*time.Second)

	v.SetDefault("jwt_secret_key", "")
	v.SetDefault("jwt_algorithm", "HS256")
	v.SetDefault("jwt_access_token_expire_minutes", 30)

	v.SetDefault("redis_url", "redis://localhost:6379/0")

	v.SetDefault("rate_limit_calls", 100)
	v.SetDefault("rate_limit_period", 60)

	v.SetDefault("http_port", 8000)
	v.SetDefault("max_upload_mb", 50)
	v.SetDefault("cors_allowed_origins", []string{"*"})

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "api.log")
	v.SetDefault("log_max_size", 10)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age", 28)

	v.SetDefault("cache_ttl", 300*time.Second)
	v.SetDefault("result_ttl", time.Hour)
	v.SetDefault("classify_concurrency", 4)

	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("consumer_group", "doc_workers")
	v.SetDefault("consumer_name", "doc_worker")
	v.SetDefault("metrics_port", 9091)
}

// NewViper builds a viper instance reading, in increasing precedence,
// defaults, config.yaml, the .env file and the process environment
func NewViper(envFile string) (*viper.Viper, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/docproc/")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// Load unmarshals the viper state into a Config without validating it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks all settings needed by the API server
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validation failed for Config: %w", err)
	}
	return nil
}

// ValidateWorker checks the settings needed by the document worker,
// which never issues or verifies tokens
func (c *Config) ValidateWorker() error {
	if err := validator.New().StructExcept(c, "JWTSecretKey"); err != nil {
		return fmt.Errorf("validation failed for Config: %w", err)
	}
	return nil
}

// AccessTokenTTL returns the lifetime of issued access tokens
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWTAccessTokenExpireMinutes) * time.Minute
}

// RateLimitWindow returns the rate limit window
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitPeriod) * time.Second
}

// MaxUploadBytes returns the request body limit for uploads
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
