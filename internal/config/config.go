package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPHost string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort string `envconfig:"HTTP_PORT" default:"8080" validate:"required,numeric"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`

	PathToFiles   string        `envconfig:"PATH_TO_FILES" default:"test_photos" validate:"required,dir"`
	Throttling    bool          `envconfig:"THROTTLING" default:"false"`
	ThrottleDelay time.Duration `envconfig:"THROTTLE_DELAY" default:"1s" validate:"gte=0"`
	ChunkSize     int           `envconfig:"CHUNK_SIZE" default:"102400" validate:"gte=1"`

	ArchiverBin string `envconfig:"ARCHIVER_BIN" default:"zip" validate:"required"`
	FlatNames   bool   `envconfig:"FLAT_NAMES" default:"true"`
	IndexPath   string `envconfig:"INDEX_PATH" default:"index.html"`

	MaxActiveStreams  int           `envconfig:"MAX_ACTIVE_STREAMS" default:"0" validate:"gte=0"`
	ChunkWriteTimeout time.Duration `envconfig:"CHUNK_WRITE_TIMEOUT" default:"0s" validate:"gte=0"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s" validate:"gte=0"`
}

// Load reads the configuration from the environment. The result is not
// validated yet so that command line flags can still be applied on top.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось прочитать конфигурацию из окружения: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("некорректная конфигурация: %w", err)
	}
	return nil
}
