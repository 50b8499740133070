package autoscale

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the autoscaler settings
type Config struct {
	Namespace     string        `mapstructure:"namespace" validate:"required"`
	RedisURL      string        `mapstructure:"redis_url" validate:"required"`
	CheckInterval time.Duration `mapstructure:"check_interval" validate:"gt=0"`
	MetricsPort   int           `mapstructure:"metrics_port" validate:"gte=0,lte=65535"`
	LogLevel      string        `mapstructure:"log_level"`

	Workers Params `mapstructure:"doc_workers"`
}

// Params are the scaling parameters of one Deployment
type Params struct {
	DeploymentName   string  `mapstructure:"deployment_name" validate:"required"`
	MinReplicas      int32   `mapstructure:"min_replicas" validate:"gte=0"`
	MaxReplicas      int32   `mapstructure:"max_replicas" validate:"gtefield=MinReplicas"`
	TargetQueueDepth int     `mapstructure:"target_queue_depth" validate:"gt=0"`
	TargetCPU        float64 `mapstructure:"target_cpu" validate:"gt=0"`
	TargetMemory     float64 `mapstructure:"target_memory" validate:"gt=0"`

	// Per-pod limits used to turn usage into utilization
	CPULimitCores    float64 `mapstructure:"cpu_limit_cores" validate:"gt=0"`
	MemoryLimitBytes float64 `mapstructure:"memory_limit_bytes" validate:"gt=0"`

	Kp float64 `mapstructure:"kp"`
	Ki float64 `mapstructure:"ki"`
	Kd float64 `mapstructure:"kd"`
}

// SetDefaults registers the autoscaler defaults
func SetDefaults(v *viper.Viper) {
	v.SetDefault("namespace", "docproc")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("check_interval", 30*time.Second)
	v.SetDefault("metrics_port", 9093)
	v.SetDefault("log_level", "info")

	v.SetDefault("doc_workers.deployment_name", "doc-worker")
	v.SetDefault("doc_workers.min_replicas", 1)
	v.SetDefault("doc_workers.max_replicas", 10)
	v.SetDefault("doc_workers.target_queue_depth", 5)
	v.SetDefault("doc_workers.target_cpu", 0.7)
	v.SetDefault("doc_workers.target_memory", 0.8)
	v.SetDefault("doc_workers.cpu_limit_cores", 1.0)
	v.SetDefault("doc_workers.memory_limit_bytes", float64(2<<30))
	v.SetDefault("doc_workers.kp", 0.6)
	v.SetDefault("doc_workers.ki", 0.15)
	v.SetDefault("doc_workers.kd", 0.1)
}

// NewViper builds a viper instance for the autoscaler. Environment variables
// use the AUTOSCALER_ prefix, e.g. AUTOSCALER_DOC_WORKERS_MAX_REPLICAS.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("AUTOSCALER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("autoscaler")
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

// LoadConfig unmarshals and validates the autoscaler configuration
func LoadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed for Config: %w", err)
	}
	return &cfg, nil
}
