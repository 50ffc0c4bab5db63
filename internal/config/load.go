package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// batchq.yaml in the working directory. Environment variables use the
// BATCHQ_ prefix with underscores for nesting (BATCHQ_ENGINE_CONCURRENCY)
// and take precedence over file values. Returns a validated Config or an
// error describing what failed.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("batchq")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults and environment apply.
	}

	v.SetEnvPrefix("BATCHQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("engine.concurrency", 3)
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.base_delay", "5s")
	v.SetDefault("engine.max_delay", "5m")
	v.SetDefault("engine.jitter", 0.1)
	v.SetDefault("engine.task_timeout", "0s")
	v.SetDefault("engine.shutdown_timeout", "30s")

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "batchq_state.json")
	v.SetDefault("store.flush_interval", "0s")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.addr", "")
}

// validate checks the unmarshalled config against its struct tags and
// returns a readable error listing every violated constraint.
func validate(cfg *Config) error {
	vd := validator.New()
	if err := vd.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
