package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Channel   ChannelConfig   `yaml:"channel"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	CORS      CORSConfig      `yaml:"cors"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// ChannelConfig selects and tunes the message channel driver.
type ChannelConfig struct {
	Driver            string        `yaml:"driver"` // pubsub, kafka, redis or memory
	Topic             string        `yaml:"topic"`
	Subscription      string        `yaml:"subscription"`
	DeadLetterTopic   string        `yaml:"dead_letter_topic"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxDeliveries     int           `yaml:"max_deliveries"`
	Breaker           BreakerConfig `yaml:"breaker"`
	Kafka             KafkaConfig   `yaml:"kafka"`
	Redis             RedisConfig   `yaml:"redis"`
	PubSub            PubSubConfig  `yaml:"pubsub"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PubSubConfig struct {
	ProjectID       string `yaml:"project_id"`
	EmulatorHost    string `yaml:"emulator_host"`
	CredentialsJSON string `yaml:"credentials_json"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
}

// DeadLetter returns the dead-letter topic, derived from the subscription when unset.
func (c ChannelConfig) DeadLetter() string {
	if c.DeadLetterTopic != "" {
		return c.DeadLetterTopic
	}
	return c.Subscription + ".dead-letter"
}

// Default returns the configuration used when the file leaves a field empty.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 3003, ShutdownTimeout: 10 * time.Second},
		Log:    LogConfig{Level: "info"},
		Postgres: PostgresConfig{
			DSN: "host=localhost user=postgres dbname=name_pipeline port=5432 sslmode=disable",
		},
		Channel: ChannelConfig{
			Driver:            "pubsub",
			Topic:             "name-topic",
			Subscription:      "name-subscription",
			VisibilityTimeout: 30 * time.Second,
			MaxDeliveries:     5,
			Breaker:           BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second},
			Kafka:             KafkaConfig{Brokers: []string{"localhost:9092"}},
			Redis:             RedisConfig{Addr: "localhost:6379"},
			PubSub:            PubSubConfig{ProjectID: "your-project-id"},
		},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
		CORS:      CORSConfig{AllowOrigins: []string{"*"}},
	}
}

// Load reads yaml file on top of Default and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Postgres.DSN = dsn
	} else if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		// key/value DSN only
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		cfg.Server.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CHANNEL_DRIVER"); v != "" {
		cfg.Channel.Driver = v
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		cfg.Channel.PubSub.ProjectID = v
	}
	if v := os.Getenv("GCP_PUBSUB_TOPIC"); v != "" {
		cfg.Channel.Topic = v
	}
	if v := os.Getenv("GCP_PUBSUB_SUBSCRIPTION"); v != "" {
		cfg.Channel.Subscription = v
	}
	if v := os.Getenv("GCP_CREDENTIALS_JSON"); v != "" {
		cfg.Channel.PubSub.CredentialsJSON = v
	}
	if v := os.Getenv("PUBSUB_EMULATOR_HOST"); v != "" {
		cfg.Channel.PubSub.EmulatorHost = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Channel.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Channel.Redis.Addr = v
	}
}
