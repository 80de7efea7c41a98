package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Webhook  WebhookConfig
	Retry    RetryConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RabbitMQConfig configures the optional status-change notifier.
// Leaving URL empty disables publishing entirely.
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

type WebhookConfig struct {
	// Secret is the shared HMAC signing secret. May be empty at startup;
	// the receiver answers 500 until an operator configures it.
	Secret string
	// SignatureHeader carries the HMAC digest of the raw request body.
	SignatureHeader string
}

// RetryConfig holds the retry-policy constants for the durable queue
// and the periodic scheduler.
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	BatchLimit     int
	Interval       time.Duration
	ItemTimeout    time.Duration
	QueueRetention time.Duration
	LogRetention   time.Duration
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:        os.Getenv("RABBITMQ_URL"),
			Exchange:   envOr("RABBITMQ_EXCHANGE", "orders"),
			RoutingKey: envOr("RABBITMQ_ROUTING_KEY", "order.status_changed"),
		},
		Webhook: WebhookConfig{
			Secret:          os.Getenv("WEBHOOK_SECRET"),
			SignatureHeader: envOr("WEBHOOK_SIGNATURE_HEADER", "X-Carrier-Signature"),
		},
		Retry: RetryConfig{
			MaxRetries:     envInt("RETRY_MAX_RETRIES", 3),
			BaseDelay:      envDuration("RETRY_BASE_DELAY", 5*time.Minute),
			BatchLimit:     envInt("RETRY_BATCH_LIMIT", 10),
			Interval:       envDuration("RETRY_INTERVAL", time.Hour),
			ItemTimeout:    envDuration("RETRY_ITEM_TIMEOUT", 30*time.Second),
			QueueRetention: envDuration("RETRY_QUEUE_RETENTION", 7*24*time.Hour),
			LogRetention:   envDuration("ATTEMPT_LOG_RETENTION", 30*24*time.Hour),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

// DSN returns a connection string for GORM.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// URL returns a postgres:// URL for the migration runner.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// Enabled reports whether the notifier should publish at all.
func (c *RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
