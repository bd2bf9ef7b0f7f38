package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/AlexKenbo/book-club/pkg/kafka"
	"github.com/AlexKenbo/book-club/pkg/logger"
	"github.com/AlexKenbo/book-club/pkg/postgres"

	"github.com/AlexKenbo/book-club/internal/replication"
)

type HTTPServer struct {
	Host         string        `yaml:"host" envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port         string        `yaml:"port" envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"readTimeout" envconfig:"HTTP_READ" default:"30s"`
	WriteTimeout time.Duration
}

type Store struct {
	Path string `envconfig:"STORE_PATH" default:"data/bookclub.db"`
}

type Upload struct {
	Dir     string `envconfig:"UPLOAD_DIR" default:"data/uploads"`
	BaseURL string `envconfig:"UPLOAD_BASE_URL" default:"http://localhost:8080/uploads"`
}

type Config struct {
	Server      HTTPServer `yaml:"server"`
	Database    postgres.Config
	Kafka       kafka.Config
	Store       Store
	Upload      Upload
	Replication replication.Config
	Log         logger.Log `yaml:"log"`
}

var (
	once sync.Once
	cfg  *Config
)

type Option func(*Config)

func WithLogLevel(level zapcore.Level) Option {
	return func(c *Config) {
		c.Log.LogLevel = level
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Server.WriteTimeout = d
	}
}

// NewConfig reads config from environment.
func NewConfig(ops ...Option) *Config {
	once.Do(func() {
		var config Config
		if err := envconfig.Process("", &config); err != nil {
			log.Fatal("NewConfig ", err)
		}
		for _, op := range ops {
			op(&config)
		}
		cfg = &config
		printConfig(cfg)
	})

	return cfg
}

func printConfig(cfg *Config) {
	jscfg, _ := json.MarshalIndent(cfg, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}
