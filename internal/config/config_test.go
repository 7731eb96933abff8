package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5.0, cfg.Dispatch.RadiusNormalKm)
	assert.Equal(t, 7.5, cfg.Dispatch.RadiusHighKm)
	assert.Equal(t, 10.0, cfg.Dispatch.RadiusUrgentKm)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.RetryNormal)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.RetryUrgent)
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.Freshness)
	assert.Equal(t, 5*time.Minute, cfg.Bidding.Window)
	assert.Equal(t, int64(500), cfg.Bidding.RaiseIncrement)
	assert.Equal(t, 3, cfg.Bidding.MaxRounds)
	assert.Equal(t, 2*time.Minute, cfg.Arrival.MinElapsed)
	assert.Equal(t, 100.0, cfg.Arrival.MaxDistanceM)
	assert.Equal(t, 5, cfg.Arrival.LowCreditBalance)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 50, cfg.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 20, cfg.Redis.PoolSize)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DISPATCH_RADIUS_URGENT_KM", "12.5")
	t.Setenv("BIDDING_WINDOW", "90s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("DB_NAME", "dispatch_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12.5, cfg.Dispatch.RadiusUrgentKm)
	assert.Equal(t, 90*time.Second, cfg.Bidding.Window)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "dispatch_test", cfg.Database.DBName)
}

func TestLoad_RejectsShrinkingRadius(t *testing.T) {
	t.Setenv("DISPATCH_RADIUS_URGENT_KM", "3")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not shrink")
}

func TestLoad_RejectsIdlePoolLargerThanOpen(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "10")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_MAX_IDLE_CONNS")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Bidding.MaxRounds = 0
	cfg.Sweep.Interval = 0
	cfg.Arrival.MaxDistanceM = -1

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BIDDING_MAX_ROUNDS")
	assert.Contains(t, err.Error(), "SWEEP_INTERVAL")
	assert.Contains(t, err.Error(), "arrival thresholds")
}
