package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Brokers:         []string{"localhost:9092"},
			GPSTopic:        "gps.fixes",
			TollEventTopic:  "toll.events",
			PaymentTopic:    "payment.results",
			ErrorTopic:      "pipeline.errors",
			ConsumerGroupID: "smarttoll",
			PollTimeout:     time.Second,
			BatchSize:       100,
		},
		State: StateStoreConfig{
			Addr: "localhost:6379",
			TTL:  6 * time.Hour,
		},
		DB: DBConfig{
			DSN:      "postgres://localhost/smarttoll",
			MaxConns: 10,
		},
		Payment: PaymentConfig{
			Timeout:      30 * time.Second,
			MockFailRate: 0.1,
		},
		Service: ServiceConfig{
			ShutdownTimeout: 15 * time.Second,
		},
	}
}

func TestConfigValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfigValidateAggregatesAllViolations(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	assert.Error(t, err)

	for _, want := range []string{
		"BROKER_ADDRESS", "GPS_TOPIC", "TOLL_EVENT_TOPIC", "PAYMENT_EVENT_TOPIC",
		"ERROR_TOPIC", "CONSUMER_GROUP_ID", "BROKER_POLL_TIMEOUT_MS", "BROKER_BATCH_SIZE",
		"REDIS_ADDR", "VEHICLE_STATE_TTL_SECONDS", "DATABASE_DSN", "DB_MAX_CONNS",
		"PAYMENT_GATEWAY_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT_SECONDS",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestConfigValidateRejectsOutOfRangeMockFailRate(t *testing.T) {
	cfg := validConfig()
	cfg.Payment.MockFailRate = 1.5
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MOCK_PAYMENT_FAIL_RATE")
}

func TestLoadConfigAppliesDefaultsWhenEnvUnset(t *testing.T) {
	cfg := LoadConfig()
	assert.Equal(t, "gps.fixes", cfg.Broker.GPSTopic)
	assert.Equal(t, 6*time.Hour, cfg.State.TTL)
	assert.Equal(t, 30*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, 100, cfg.Broker.BatchSize)
}

func TestLoadConfigReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("GPS_TOPIC", "custom.gps")
	t.Setenv("BROKER_ADDRESS", "broker1:9092,broker2:9092")
	t.Setenv("VEHICLE_STATE_TTL_SECONDS", "120")

	cfg := LoadConfig()
	assert.Equal(t, "custom.gps", cfg.Broker.GPSTopic)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Broker.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.State.TTL)
}
