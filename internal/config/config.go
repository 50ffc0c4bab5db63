package config

import "time"

// Config holds all application configuration, organized into logical
// groups.
type Config struct {
	Server ServerConfig `mapstructure:"server" validate:"required"`
	Engine EngineConfig `mapstructure:"engine" validate:"required"`
	Store  StoreConfig  `mapstructure:"store"  validate:"required"`
}

// ServerConfig contains the HTTP control surface settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// EngineConfig contains the task runner settings.
type EngineConfig struct {
	// Concurrency is the number of parallel worker slots.
	Concurrency int `mapstructure:"concurrency" validate:"required,gt=0,lte=256"`

	// MaxAttempts is the default retry ceiling per task.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gt=0"`

	// BaseDelay seeds the exponential backoff between retries.
	BaseDelay time.Duration `mapstructure:"base_delay" validate:"required,gt=0"`

	// MaxDelay caps the backoff. Zero means uncapped.
	MaxDelay time.Duration `mapstructure:"max_delay" validate:"gte=0"`

	// Jitter randomizes retry delays by up to this fraction.
	Jitter float64 `mapstructure:"jitter" validate:"gte=0,lte=1"`

	// TaskTimeout bounds a single handler execution. Zero disables it.
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"gte=0"`

	// ShutdownTimeout is how long a forced stop waits for in-flight work.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of file, memory, bolt, postgres, redis.
	Backend string `mapstructure:"backend" validate:"required,oneof=file memory bolt postgres redis"`

	// Path is the state file location for the file and bolt backends.
	Path string `mapstructure:"path" validate:"required_if=Backend file,required_if=Backend bolt"`

	// FlushInterval batches the file backend's durable writes. Zero
	// writes synchronously on every mutation.
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gte=0"`

	// DSN is the connection string for the postgres backend.
	DSN string `mapstructure:"dsn" validate:"required_if=Backend postgres"`

	// Addr is the host:port for the redis backend.
	Addr string `mapstructure:"addr" validate:"required_if=Backend redis"`
}
