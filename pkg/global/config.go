package global

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Driver      string        `yaml:"driver"`
	DSN         string        `yaml:"dsn"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type RedisConfig struct {
	Address    string        `yaml:"address"`
	Password   string        `yaml:"password"`
	CartTTL    time.Duration `yaml:"cart_ttl"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	NotificationTopic string   `yaml:"notification_topic"`
}

type PaymentConfig struct {
	APIURL    string        `yaml:"api_url"`
	ShopID    string        `yaml:"shop_id"`
	SecretKey string        `yaml:"secret_key"`
	ReturnURL string        `yaml:"return_url"`
	Currency  string        `yaml:"currency"`
	Timeout   time.Duration `yaml:"timeout"`
}

type CheckoutConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type EventsConfig struct {
	Workers int `yaml:"workers"`
	Buffer  int `yaml:"buffer"`
}

// Config is assembled from defaults, an optional YAML file named by
// CONFIG_FILE, and finally the environment.
type Config struct {
	Service             string         `yaml:"service"`
	Env                 string         `yaml:"env"`
	Port                string         `yaml:"port"`
	LogLevel            string         `yaml:"log_level"`
	CORSOrigins         []string       `yaml:"cors_origins"`
	AdminToken          string         `yaml:"admin_token"`
	WebhookAllowedCIDRs []string       `yaml:"webhook_allowed_cidrs"`
	TrustedProxies      []string       `yaml:"trusted_proxies"`
	Database            DatabaseConfig `yaml:"database"`
	Redis               RedisConfig    `yaml:"redis"`
	Mongo               MongoConfig    `yaml:"mongo"`
	Kafka               KafkaConfig    `yaml:"kafka"`
	Payment             PaymentConfig  `yaml:"payment"`
	Checkout            CheckoutConfig `yaml:"checkout"`
	Events              EventsConfig   `yaml:"events"`
}

func DefaultConfig() Config {
	return Config{
		Service:     "megamart",
		Env:         "development",
		Port:        "8000",
		LogLevel:    "info",
		CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		Database: DatabaseConfig{
			Driver:      "postgres",
			LockTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Address:    "localhost:6379",
			CartTTL:    24 * time.Hour,
			SessionTTL: 30 * 24 * time.Hour,
		},
		Mongo: MongoConfig{
			Database: "megamart",
		},
		Kafka: KafkaConfig{
			NotificationTopic: "order-notifications",
		},
		Payment: PaymentConfig{
			APIURL:   "https://api.yookassa.ru/v3",
			Currency: "RUB",
			Timeout:  10 * time.Second,
		},
		Checkout: CheckoutConfig{
			MaxAttempts:  3,
			RetryBackoff: 50 * time.Millisecond,
		},
		Events: EventsConfig{
			Workers: 4,
			Buffer:  256,
		},
	}
}

func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Service = GetEnvOrDefault("SERVICE_NAME", cfg.Service)
	cfg.Env = GetEnvOrDefault("ENV", cfg.Env)
	cfg.Port = GetEnvOrDefault("PORT", cfg.Port)
	cfg.LogLevel = GetEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.CORSOrigins = GetEnvList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.AdminToken = GetEnvOrDefault("ADMIN_TOKEN", cfg.AdminToken)
	cfg.WebhookAllowedCIDRs = GetEnvList("WEBHOOK_ALLOWED_CIDRS", cfg.WebhookAllowedCIDRs)
	cfg.TrustedProxies = GetEnvList("TRUSTED_PROXIES", cfg.TrustedProxies)

	cfg.Database.Driver = GetEnvOrDefault("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = GetEnvOrDefault("DATABASE_DSN", cfg.Database.DSN)
	cfg.Database.LockTimeout = GetEnvDuration("DB_LOCK_TIMEOUT", cfg.Database.LockTimeout)

	cfg.Redis.Address = GetEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = GetEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.CartTTL = GetEnvDuration("CART_TTL", cfg.Redis.CartTTL)
	cfg.Redis.SessionTTL = GetEnvDuration("SESSION_TTL", cfg.Redis.SessionTTL)

	cfg.Mongo.URI = GetEnvOrDefault("MONGODB_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = GetEnvOrDefault("MONGODB_DATABASE", cfg.Mongo.Database)

	cfg.Kafka.Brokers = GetEnvList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.NotificationTopic = GetEnvOrDefault("KAFKA_NOTIFICATION_TOPIC", cfg.Kafka.NotificationTopic)

	cfg.Payment.APIURL = GetEnvOrDefault("PAYMENT_API_URL", cfg.Payment.APIURL)
	cfg.Payment.ShopID = GetEnvOrDefault("PAYMENT_SHOP_ID", cfg.Payment.ShopID)
	cfg.Payment.SecretKey = GetEnvOrDefault("PAYMENT_SECRET_KEY", cfg.Payment.SecretKey)
	cfg.Payment.ReturnURL = GetEnvOrDefault("PAYMENT_RETURN_URL", cfg.Payment.ReturnURL)
	cfg.Payment.Currency = GetEnvOrDefault("PAYMENT_CURRENCY", cfg.Payment.Currency)
	cfg.Payment.Timeout = GetEnvDuration("PAYMENT_TIMEOUT", cfg.Payment.Timeout)

	cfg.Checkout.MaxAttempts = GetEnvInt("CHECKOUT_MAX_ATTEMPTS", cfg.Checkout.MaxAttempts)
	cfg.Checkout.RetryBackoff = GetEnvDuration("CHECKOUT_RETRY_BACKOFF", cfg.Checkout.RetryBackoff)

	cfg.Events.Workers = GetEnvInt("EVENT_WORKERS", cfg.Events.Workers)
	cfg.Events.Buffer = GetEnvInt("EVENT_BUFFER", cfg.Events.Buffer)
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for driver %q", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Checkout.MaxAttempts < 1 {
		return errors.New("CHECKOUT_MAX_ATTEMPTS must be at least 1")
	}
	if c.Events.Workers < 1 || c.Events.Buffer < 1 {
		return errors.New("EVENT_WORKERS and EVENT_BUFFER must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}
