package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Auth     AuthConfig
	Ledger   LedgerConfig
	Sweep    SweepConfig
	Tickets  TicketsConfig
}

type ServerConfig struct {
	Port        string
	ReadTimeout time.Duration
	// No write timeout: check-in streams stay open.
	IdleTimeout time.Duration
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver       string
	DSN          string
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	RefundIntents     string
	RefundDeadLetters string
	CheckIns          string
}

type StripeConfig struct {
	SecretKey string
}

type AuthConfig struct {
	IssuerURL string
	// Insecure trusts the bearer token's sub claim without verification.
	// Local development only.
	Insecure bool
}

type LedgerConfig struct {
	CheckInRetries int
}

type TicketsConfig struct {
	QRSize int
}

type SweepConfig struct {
	Workers int
	LockTTL time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", ":8080"),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			DSN:          getEnv("DATABASE_URL", ""),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "marketplace"),
			Password:     getEnv("DB_PASSWORD", "marketplace"),
			Database:     getEnv("DB_NAME", "marketplace"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			GroupID: getEnv("KAFKA_GROUP_ID", "marketplace-refunds"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				RefundIntents:     getEnv("KAFKA_TOPIC_REFUND_INTENTS", "refund-intents"),
				RefundDeadLetters: getEnv("KAFKA_TOPIC_REFUND_DEAD_LETTERS", "refund-intents-dead"),
				CheckIns:          getEnv("KAFKA_TOPIC_CHECKINS", "ticket-checkins"),
			},
		},
		Stripe: StripeConfig{
			SecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		},
		Auth: AuthConfig{
			IssuerURL: getEnv("OIDC_ISSUER_URL", "http://localhost:8088/realms/marketplace"),
			Insecure:  getEnvBool("AUTH_INSECURE", false),
		},
		Ledger: LedgerConfig{
			CheckInRetries: getEnvInt("CHECKIN_RETRY_ATTEMPTS", 5),
		},
		Sweep: SweepConfig{
			Workers: getEnvInt("SWEEP_WORKERS", 8),
			LockTTL: time.Duration(getEnvInt("SWEEP_LOCK_TTL_SECONDS", 300)) * time.Second,
		},
		Tickets: TicketsConfig{
			QRSize: getEnvInt("TICKET_QR_SIZE", 256),
		},
	}
}

// PostgresDSN returns DATABASE_URL when set, otherwise a DSN built from the
// individual DB_* settings.
func (c DatabaseConfig) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
