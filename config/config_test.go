package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	cfg := Load()

	assert.Equal(t, 15*time.Minute, cfg.Payment.RequestLifetime)
	assert.Equal(t, "0.01", cfg.Payment.AmountTolerance)
	assert.Equal(t, "payment.settled", cfg.Kafka.SettlementTopic)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PAYMENT_REQUEST_LIFETIME", "5m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("DB_MAX_IDLE_CONNS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 5*time.Minute, cfg.Payment.RequestLifetime)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 7, cfg.Database.MaxOpenConns)
	assert.Equal(t, 10, cfg.Database.MaxIdleConns)
}
