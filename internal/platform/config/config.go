// Package config loads and validates process configuration from environment
// variables, in the style shared by both services: every setting has a
// default where one is safe, required settings fail fast, and all
// violations are aggregated into a single startup error instead of
// failing on the first one encountered.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BrokerConfig describes how to reach the Kafka cluster and which topics
// and consumer group this process participates in.
type BrokerConfig struct {
	Brokers          []string
	GPSTopic         string
	TollEventTopic   string
	PaymentTopic     string
	ErrorTopic       string
	ConsumerGroupID  string
	PollTimeout      time.Duration
	BatchSize        int
}

// StateStoreConfig describes the Redis-class keyed state store.
type StateStoreConfig struct {
	Addr       string
	Password   string
	DB         int
	TTL        time.Duration
	DialTimeout time.Duration
}

// DBConfig describes the transactional Postgres store.
type DBConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnectTimeout  time.Duration
}

// PaymentConfig configures the payment gateway client. MockFailRate is
// dev/test only and has no effect against a real gateway implementation.
type PaymentConfig struct {
	Timeout      time.Duration
	MockFailRate float64
}

// ServiceConfig carries cross-cutting settings that apply regardless of
// which of the two binaries is running.
type ServiceConfig struct {
	LogLevel        string
	HTTPAddr        string
	APIKey          string
	ShutdownTimeout time.Duration
}

// Config aggregates every sub-configuration loaded at startup.
type Config struct {
	Broker  BrokerConfig
	State   StateStoreConfig
	DB      DBConfig
	Payment PaymentConfig
	Service ServiceConfig
}

// Validate aggregates every configuration violation into one error so an
// operator sees the full set of problems on the first failed startup
// instead of fixing them one at a time.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Broker.Brokers) == 0 {
		errs = append(errs, "BROKER_ADDRESS must be set")
	}
	if c.Broker.GPSTopic == "" {
		errs = append(errs, "GPS_TOPIC must be set")
	}
	if c.Broker.TollEventTopic == "" {
		errs = append(errs, "TOLL_EVENT_TOPIC must be set")
	}
	if c.Broker.PaymentTopic == "" {
		errs = append(errs, "PAYMENT_EVENT_TOPIC must be set")
	}
	if c.Broker.ErrorTopic == "" {
		errs = append(errs, "ERROR_TOPIC must be set")
	}
	if c.Broker.ConsumerGroupID == "" {
		errs = append(errs, "CONSUMER_GROUP_ID must be set")
	}
	if c.Broker.PollTimeout <= 0 {
		errs = append(errs, "BROKER_POLL_TIMEOUT_MS must be a positive duration")
	}
	if c.Broker.BatchSize <= 0 {
		errs = append(errs, "BROKER_BATCH_SIZE must be positive")
	}

	if c.State.Addr == "" {
		errs = append(errs, "REDIS_ADDR must be set")
	}
	if c.State.TTL <= 0 {
		errs = append(errs, "VEHICLE_STATE_TTL_SECONDS must be a positive duration")
	}

	if c.DB.DSN == "" {
		errs = append(errs, "DATABASE_DSN must be set")
	}
	if c.DB.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}

	if c.Payment.Timeout <= 0 {
		errs = append(errs, "PAYMENT_GATEWAY_TIMEOUT_SECONDS must be a positive duration")
	}
	if c.Payment.MockFailRate < 0 || c.Payment.MockFailRate > 1 {
		errs = append(errs, "MOCK_PAYMENT_FAIL_RATE must be between 0 and 1")
	}

	if c.Service.ShutdownTimeout <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT_SECONDS must be a positive duration")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getEnvWithDefault returns the trimmed value of key, or defaultValue if
// the variable is unset or empty.
func getEnvWithDefault(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := getEnvWithDefault(key, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	raw := getEnvWithDefault(key, "")
	if raw == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDurationMillis(key string, defaultValue time.Duration) time.Duration {
	raw := getEnvWithDefault(key, "")
	if raw == "" {
		return defaultValue
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnvDurationSeconds(key string, defaultValue time.Duration) time.Duration {
	raw := getEnvWithDefault(key, "")
	if raw == "" {
		return defaultValue
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return time.Duration(secs) * time.Second
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadConfig reads every environment variable this pipeline recognizes and
// applies defaults for anything optional. Callers must still call
// Validate before trusting the result.
func LoadConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Brokers:         splitAndTrim(getEnvWithDefault("BROKER_ADDRESS", "localhost:9092")),
			GPSTopic:        getEnvWithDefault("GPS_TOPIC", "gps.fixes"),
			TollEventTopic:  getEnvWithDefault("TOLL_EVENT_TOPIC", "toll.events"),
			PaymentTopic:    getEnvWithDefault("PAYMENT_EVENT_TOPIC", "payment.results"),
			ErrorTopic:      getEnvWithDefault("ERROR_TOPIC", "pipeline.errors"),
			ConsumerGroupID: getEnvWithDefault("CONSUMER_GROUP_ID", "smarttoll"),
			PollTimeout:     getEnvDurationMillis("BROKER_POLL_TIMEOUT_MS", 1000*time.Millisecond),
			BatchSize:       getEnvInt("BROKER_BATCH_SIZE", 100),
		},
		State: StateStoreConfig{
			Addr:        getEnvWithDefault("REDIS_ADDR", "localhost:6379"),
			Password:    getEnvWithDefault("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			TTL:         getEnvDurationSeconds("VEHICLE_STATE_TTL_SECONDS", 6*time.Hour),
			DialTimeout: getEnvDurationSeconds("REDIS_DIAL_TIMEOUT_SECONDS", 5*time.Second),
		},
		DB: DBConfig{
			DSN:            getEnvWithDefault("DATABASE_DSN", ""),
			MaxConns:       int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:       int32(getEnvInt("DB_MIN_CONNS", 2)),
			ConnectTimeout: getEnvDurationSeconds("DB_CONNECT_TIMEOUT_SECONDS", 10*time.Second),
		},
		Payment: PaymentConfig{
			Timeout:      getEnvDurationSeconds("PAYMENT_GATEWAY_TIMEOUT_SECONDS", 30*time.Second),
			MockFailRate: getEnvFloat("MOCK_PAYMENT_FAIL_RATE", 0.1),
		},
		Service: ServiceConfig{
			LogLevel:        getEnvWithDefault("LOG_LEVEL", "info"),
			HTTPAddr:        getEnvWithDefault("HTTP_ADDR", ":8080"),
			APIKey:          getEnvWithDefault("API_KEY", ""),
			ShutdownTimeout: getEnvDurationSeconds("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
	}
}
