package config

import (
	"fmt"
	"net"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	FillZero   = "zero"
	FillRandom = "random"
)

type Config struct {
	LogLevel  string    `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort  string    `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	Authority Authority `yaml:"authority"`
	Grid      Grid      `yaml:"grid"`
	Redis     Redis     `yaml:"redis"`
	Client    Client    `yaml:"client"`
}

type Authority struct {
	Host            string        `yaml:"host" env:"AUTHORITY_HOST" env-default:"localhost"`
	Port            string        `yaml:"port" env:"AUTHORITY_PORT" env-default:"5555"`
	ReadTimeout     time.Duration `yaml:"read-timeout" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write-timeout" env-default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout" env-default:"5s"`
}

type Grid struct {
	Rows    int    `yaml:"rows" env:"GRID_ROWS" env-default:"32"`
	Columns int    `yaml:"columns" env:"GRID_COLUMNS" env-default:"32"`
	Fill    string `yaml:"fill" env:"GRID_FILL" env-default:"zero"`
	Seed    uint64 `yaml:"seed" env-default:"1"`
}

type Redis struct {
	Enabled bool   `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Host    string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port    string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Channel string `yaml:"channel" env:"REDIS_CHANNEL" env-default:"tilegrid:changes"`
}

type Client struct {
	RequestTimeout   time.Duration `yaml:"request-timeout" env:"CLIENT_REQUEST_TIMEOUT" env-default:"5s"`
	MaxBackoff       time.Duration `yaml:"max-backoff" env-default:"30s"`
	SubscriberBuffer int           `yaml:"subscriber-buffer" env-default:"256"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

// LoadEnv - load configuration from environment variables and defaults only.
func LoadEnv() (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("unable to read environment: %w", err)
	}

	return config, nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}

func (that *Authority) GetAddr() string {
	return net.JoinHostPort(that.Host, that.Port)
}

// ListenAddr - address the authority binds to, all interfaces.
func (that *Authority) ListenAddr() string {
	return ":" + that.Port
}
