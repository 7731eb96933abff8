package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Log      LogConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Dispatch DispatchConfig
	Bidding  BiddingConfig
	Arrival  ArrivalConfig
	Sweep    SweepConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string
}

// KafkaConfig holds the event publisher configuration. No brokers means events are only logged.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// StripeConfig holds the funding gateway configuration. An empty key disables the gateway.
type StripeConfig struct {
	SecretKey string
}

// DispatchConfig holds search and assignment parameters.
type DispatchConfig struct {
	RadiusNormalKm  float64
	RadiusHighKm    float64
	RadiusUrgentKm  float64
	RetryNormal     time.Duration
	RetryHigh       time.Duration
	RetryUrgent     time.Duration
	CandidateLimit  int
	Freshness       time.Duration
	NotificationTTL time.Duration
	AvgSpeedKmh     float64
	DriverLockTTL   time.Duration
}

// BiddingConfig holds negotiation parameters.
type BiddingConfig struct {
	Window         time.Duration
	RaiseIncrement int64
	MaxRounds      int
}

// ArrivalConfig holds arrival verification parameters.
type ArrivalConfig struct {
	MinElapsed       time.Duration
	MaxDistanceM     float64
	LowCreditBalance int
}

// SweepConfig holds expiry sweeper parameters.
type SweepConfig struct {
	Interval time.Duration
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"server.port":               "SERVER_PORT",
	"server.read_timeout":       "SERVER_READ_TIMEOUT",
	"server.write_timeout":      "SERVER_WRITE_TIMEOUT",
	"database.host":             "DB_HOST",
	"database.port":             "DB_PORT",
	"database.user":             "DB_USER",
	"database.password":         "DB_PASSWORD",
	"database.name":             "DB_NAME",
	"database.sslmode":          "DB_SSLMODE",
	"database.max_open_conns":   "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":   "DB_MAX_IDLE_CONNS",
	"database.conn_lifetime":    "DB_CONN_MAX_LIFETIME",
	"database.conn_idle_time":   "DB_CONN_MAX_IDLE_TIME",
	"redis.addr":                "REDIS_ADDR",
	"redis.password":            "REDIS_PASSWORD",
	"redis.db":                  "REDIS_DB",
	"redis.pool_size":           "REDIS_POOL_SIZE",
	"newrelic.app_name":         "NEW_RELIC_APP_NAME",
	"newrelic.license_key":      "NEW_RELIC_LICENSE_KEY",
	"newrelic.enabled":          "NEW_RELIC_ENABLED",
	"log.level":                 "LOG_LEVEL",
	"kafka.brokers":             "KAFKA_BROKERS",
	"kafka.topic":               "KAFKA_TOPIC",
	"stripe.secret_key":         "STRIPE_SECRET_KEY",
	"dispatch.radius_normal_km": "DISPATCH_RADIUS_NORMAL_KM",
	"dispatch.radius_high_km":   "DISPATCH_RADIUS_HIGH_KM",
	"dispatch.radius_urgent_km": "DISPATCH_RADIUS_URGENT_KM",
	"dispatch.retry_normal":     "DISPATCH_RETRY_NORMAL",
	"dispatch.retry_high":       "DISPATCH_RETRY_HIGH",
	"dispatch.retry_urgent":     "DISPATCH_RETRY_URGENT",
	"dispatch.candidate_limit":  "DISPATCH_CANDIDATE_LIMIT",
	"dispatch.freshness":        "DRIVER_FRESHNESS",
	"dispatch.notification_ttl": "DRIVER_NOTIFICATION_TTL",
	"dispatch.avg_speed_kmh":    "DRIVER_AVG_SPEED_KMH",
	"dispatch.driver_lock_ttl":  "DRIVER_LOCK_TTL",
	"bidding.window":            "BIDDING_WINDOW",
	"bidding.raise_increment":   "BIDDING_RAISE_INCREMENT",
	"bidding.max_rounds":        "BIDDING_MAX_ROUNDS",
	"arrival.min_elapsed":       "ARRIVAL_MIN_ELAPSED",
	"arrival.max_distance_m":    "ARRIVAL_MAX_DISTANCE_M",
	"arrival.low_credit":        "CREDIT_LOW_BALANCE",
	"sweep.interval":            "SWEEP_INTERVAL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "dispatch")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_idle_time", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("newrelic.app_name", "dispatch-engine")
	v.SetDefault("newrelic.license_key", "")
	v.SetDefault("newrelic.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "dispatch.events")
	v.SetDefault("stripe.secret_key", "")

	v.SetDefault("dispatch.radius_normal_km", 5.0)
	v.SetDefault("dispatch.radius_high_km", 7.5)
	v.SetDefault("dispatch.radius_urgent_km", 10.0)
	v.SetDefault("dispatch.retry_normal", 30*time.Second)
	v.SetDefault("dispatch.retry_high", 15*time.Second)
	v.SetDefault("dispatch.retry_urgent", 10*time.Second)
	v.SetDefault("dispatch.candidate_limit", 50)
	v.SetDefault("dispatch.freshness", 2*time.Minute)
	v.SetDefault("dispatch.notification_ttl", 2*time.Minute)
	v.SetDefault("dispatch.avg_speed_kmh", 30.0)
	v.SetDefault("dispatch.driver_lock_ttl", 10*time.Second)

	v.SetDefault("bidding.window", 5*time.Minute)
	v.SetDefault("bidding.raise_increment", 500)
	v.SetDefault("bidding.max_rounds", 3)

	v.SetDefault("arrival.min_elapsed", 2*time.Minute)
	v.SetDefault("arrival.max_distance_m", 100.0)
	v.SetDefault("arrival.low_credit", 5)

	v.SetDefault("sweep.interval", 30*time.Second)
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetString("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.name"),
			SSLMode:  v.GetString("database.sslmode"),

			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_lifetime"),
			ConnMaxIdleTime: v.GetDuration("database.conn_idle_time"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			PoolSize: v.GetInt("redis.pool_size"),
		},
		NewRelic: NewRelicConfig{
			AppName:    v.GetString("newrelic.app_name"),
			LicenseKey: v.GetString("newrelic.license_key"),
			Enabled:    v.GetBool("newrelic.enabled"),
		},
		Log:    LogConfig{Level: v.GetString("log.level")},
		Kafka:  KafkaConfig{Brokers: splitList(v.GetString("kafka.brokers")), Topic: v.GetString("kafka.topic")},
		Stripe: StripeConfig{SecretKey: v.GetString("stripe.secret_key")},
		Dispatch: DispatchConfig{
			RadiusNormalKm:  v.GetFloat64("dispatch.radius_normal_km"),
			RadiusHighKm:    v.GetFloat64("dispatch.radius_high_km"),
			RadiusUrgentKm:  v.GetFloat64("dispatch.radius_urgent_km"),
			RetryNormal:     v.GetDuration("dispatch.retry_normal"),
			RetryHigh:       v.GetDuration("dispatch.retry_high"),
			RetryUrgent:     v.GetDuration("dispatch.retry_urgent"),
			CandidateLimit:  v.GetInt("dispatch.candidate_limit"),
			Freshness:       v.GetDuration("dispatch.freshness"),
			NotificationTTL: v.GetDuration("dispatch.notification_ttl"),
			AvgSpeedKmh:     v.GetFloat64("dispatch.avg_speed_kmh"),
			DriverLockTTL:   v.GetDuration("dispatch.driver_lock_ttl"),
		},
		Bidding: BiddingConfig{
			Window:         v.GetDuration("bidding.window"),
			RaiseIncrement: v.GetInt64("bidding.raise_increment"),
			MaxRounds:      v.GetInt("bidding.max_rounds"),
		},
		Arrival: ArrivalConfig{
			MinElapsed:       v.GetDuration("arrival.min_elapsed"),
			MaxDistanceM:     v.GetFloat64("arrival.max_distance_m"),
			LowCreditBalance: v.GetInt("arrival.low_credit"),
		},
		Sweep: SweepConfig{Interval: v.GetDuration("sweep.interval")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks engine parameters and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	d := c.Dispatch
	if d.RadiusNormalKm <= 0 {
		errs = append(errs, errors.New("DISPATCH_RADIUS_NORMAL_KM must be positive"))
	}
	if d.RadiusHighKm < d.RadiusNormalKm || d.RadiusUrgentKm < d.RadiusHighKm {
		errs = append(errs, errors.New("dispatch radius must not shrink as priority rises"))
	}
	if d.RetryNormal <= 0 || d.RetryHigh <= 0 || d.RetryUrgent <= 0 {
		errs = append(errs, errors.New("dispatch retry backoffs must be positive"))
	}
	if d.CandidateLimit <= 0 {
		errs = append(errs, errors.New("DISPATCH_CANDIDATE_LIMIT must be positive"))
	}
	if d.Freshness <= 0 || d.NotificationTTL <= 0 || d.DriverLockTTL <= 0 {
		errs = append(errs, errors.New("driver freshness, notification and lock TTLs must be positive"))
	}
	if d.AvgSpeedKmh <= 0 {
		errs = append(errs, errors.New("DRIVER_AVG_SPEED_KMH must be positive"))
	}

	b := c.Bidding
	if b.Window <= 0 {
		errs = append(errs, errors.New("BIDDING_WINDOW must be positive"))
	}
	if b.RaiseIncrement <= 0 {
		errs = append(errs, errors.New("BIDDING_RAISE_INCREMENT must be positive"))
	}
	if b.MaxRounds <= 0 {
		errs = append(errs, errors.New("BIDDING_MAX_ROUNDS must be positive"))
	}

	a := c.Arrival
	if a.MinElapsed < 0 || a.MaxDistanceM <= 0 || a.LowCreditBalance < 0 {
		errs = append(errs, errors.New("arrival thresholds are out of range"))
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, errors.New("DB_MAX_IDLE_CONNS must not exceed DB_MAX_OPEN_CONNS"))
	}

	if c.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
