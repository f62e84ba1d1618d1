package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds Redis connection configuration.
// Redis backs both the job metadata store and the task state backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TranscribeConfig holds whisper.cpp invocation and upload handling settings
type TranscribeConfig struct {
	UploadDir         string        `yaml:"upload_dir"`
	ModelsDir         string        `yaml:"models_dir"`
	WhisperBin        string        `yaml:"whisper_bin"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	AllowedExtensions []string      `yaml:"allowed_extensions"`
	Threads           int           `yaml:"threads"`
	DefaultModel      string        `yaml:"default_model"`
	SyncTimeout       time.Duration `yaml:"sync_timeout"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	JobResultExpiry   time.Duration `yaml:"job_result_expiry"`
	TaskResultExpiry  time.Duration `yaml:"task_result_expiry"`
	DownloadTimeout   time.Duration `yaml:"download_timeout"`
}

// SweeperConfig holds metadata TTL sweeper settings
type SweeperConfig struct {
	Interval   time.Duration `yaml:"interval"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in values that are safe to leave out of the YAML file
func (c *Config) applyDefaults() {
	if c.Transcribe.DefaultModel == "" {
		c.Transcribe.DefaultModel = "base.en"
	}
	if c.Transcribe.MaxUploadBytes <= 0 {
		c.Transcribe.MaxUploadBytes = 500 * 1024 * 1024
	}
	if len(c.Transcribe.AllowedExtensions) == 0 {
		c.Transcribe.AllowedExtensions = []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".wma", ".aac", ".webm"}
	}
	if c.Transcribe.Threads <= 0 {
		c.Transcribe.Threads = 4
	}
	if c.Transcribe.SyncTimeout <= 0 {
		c.Transcribe.SyncTimeout = 10 * time.Minute
	}
	if c.Transcribe.JobTimeout <= 0 {
		c.Transcribe.JobTimeout = 30 * time.Minute
	}
	if c.Transcribe.JobResultExpiry <= 0 {
		c.Transcribe.JobResultExpiry = 24 * time.Hour
	}
	if c.Transcribe.TaskResultExpiry <= 0 {
		c.Transcribe.TaskResultExpiry = time.Hour
	}
	if c.Transcribe.DownloadTimeout <= 0 {
		c.Transcribe.DownloadTimeout = time.Hour
	}
	if c.Sweeper.Interval <= 0 {
		c.Sweeper.Interval = 10 * time.Minute
	}
	if c.Sweeper.DefaultTTL <= 0 {
		c.Sweeper.DefaultTTL = 24 * time.Hour
	}
}

// ValidateAPIConfig checks the configuration required by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Transcribe.UploadDir == "" {
		return fmt.Errorf("transcribe upload_dir is required")
	}

	if c.Transcribe.ModelsDir == "" {
		return fmt.Errorf("transcribe models_dir is required")
	}

	return nil
}

// ValidateWorkerConfig checks the configuration required by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Transcribe.WhisperBin == "" {
		return fmt.Errorf("transcribe whisper_bin is required")
	}

	if c.Transcribe.ModelsDir == "" {
		return fmt.Errorf("transcribe models_dir is required")
	}

	if c.Transcribe.JobTimeout <= 0 {
		return fmt.Errorf("transcribe job_timeout must be greater than 0")
	}

	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper interval must be greater than 0")
	}

	return nil
}
