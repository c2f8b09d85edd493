package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Kafka         KafkaConfig
	Outbox        OutboxConfig
	Orders        OrdersConfig
	Notifications NotificationsConfig
	Cron          CronConfig
	RateLimit     RateLimitConfig
	Realtime      RealtimeConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(cfg.Kafka); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FULFILLMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"FULFILLMENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FULFILLMENT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"FULFILLMENT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"FULFILLMENT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FULFILLMENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FULFILLMENT_DB_DSN"`
	Driver string `envconfig:"FULFILLMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FULFILLMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"FULFILLMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FULFILLMENT_DB_USER"`
	LegacyPassword string `envconfig:"FULFILLMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"FULFILLMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"FULFILLMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FULFILLMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FULFILLMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// TxRetries bounds how often a transaction is rerun after a
	// serialization failure or deadlock.
	TxRetries int `envconfig:"FULFILLMENT_DB_TX_RETRIES" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FULFILLMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FULFILLMENT_REDIS_ADDR"`
	Password     string        `envconfig:"FULFILLMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"FULFILLMENT_REDIS_DB" default:"0"`
	Namespace    string        `envconfig:"FULFILLMENT_REDIS_NAMESPACE" default:"ff"`
	PoolSize     int           `envconfig:"FULFILLMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FULFILLMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FULFILLMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FULFILLMENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FULFILLMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FULFILLMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

// TokenTTL returns the access token lifetime.
func (j JWTConfig) TokenTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FULFILLMENT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"FULFILLMENT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	// IdempotencyLeaseTTL bounds how long a crashed consumer keeps an event
	// marked in flight.
	IdempotencyLeaseTTL time.Duration `envconfig:"FULFILLMENT_EVENTING_IDEMPOTENCY_LEASE_TTL" default:"2m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FULFILLMENT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"FULFILLMENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FULFILLMENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"FULFILLMENT_PUBSUB_ORDERS_TOPIC" default:"ff-order-events"`
	OrdersSubscription string `envconfig:"FULFILLMENT_PUBSUB_ORDERS_SUBSCRIPTION" default:"ff-order-events-realtime"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"FULFILLMENT_KAFKA_BROKERS"`
	OrdersTopic  string        `envconfig:"FULFILLMENT_KAFKA_ORDERS_TOPIC" default:"order-events"`
	WriteTimeout time.Duration `envconfig:"FULFILLMENT_KAFKA_WRITE_TIMEOUT" default:"10s"`
}

type OutboxConfig struct {
	Sink           string        `envconfig:"FULFILLMENT_OUTBOX_SINK" default:"pubsub"`
	BatchSize      int           `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"FULFILLMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"FULFILLMENT_OUTBOX_RETENTION" default:"168h"`
}

func (o OutboxConfig) validate(kafka KafkaConfig) error {
	switch strings.ToLower(o.Sink) {
	case OutboxSinkPubSub:
		return nil
	case OutboxSinkKafka:
		if len(kafka.Brokers) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvOutboxSink, OutboxSinkKafka)
		}
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvOutboxSink, o.Sink)
	}
}

// OrdersConfig carries the flat delivery fee schedule as decimal strings.
type OrdersConfig struct {
	DeliveryFee string `envconfig:"FULFILLMENT_ORDERS_DELIVERY_FEE" default:"15.00"`
	PickupFee   string `envconfig:"FULFILLMENT_ORDERS_PICKUP_FEE" default:"0"`
	DineInFee   string `envconfig:"FULFILLMENT_ORDERS_DINE_IN_FEE" default:"0"`
}

// NotificationsConfig holds the three independent garbage collection thresholds.
type NotificationsConfig struct {
	VeryOldAfter    time.Duration `envconfig:"FULFILLMENT_NOTIFICATIONS_VERY_OLD_AFTER" default:"24h"`
	BulkPurgeWindow time.Duration `envconfig:"FULFILLMENT_NOTIFICATIONS_BULK_PURGE_WINDOW" default:"1h"`
	FetchHorizon    time.Duration `envconfig:"FULFILLMENT_NOTIFICATIONS_FETCH_HORIZON" default:"72h"`
}

type CronConfig struct {
	Schedule string        `envconfig:"FULFILLMENT_CRON_SCHEDULE" default:"*/15 * * * *"`
	LockTTL  time.Duration `envconfig:"FULFILLMENT_CRON_LOCK_TTL" default:"10m"`
}

// RateLimitConfig bounds driver claim attempts. The redis backend shares one
// fixed window per driver across API replicas; memory keeps a token bucket
// per process.
type RateLimitConfig struct {
	Backend        string  `envconfig:"FULFILLMENT_RATE_LIMIT_BACKEND" default:"memory"`
	ClaimPerSecond float64 `envconfig:"FULFILLMENT_RATE_LIMIT_CLAIM_PER_SECOND" default:"2"`
	ClaimBurst     int     `envconfig:"FULFILLMENT_RATE_LIMIT_CLAIM_BURST" default:"4"`
}

type RealtimeConfig struct {
	MaxReconnectAttempts int           `envconfig:"FULFILLMENT_REALTIME_MAX_RECONNECT_ATTEMPTS" default:"5"`
	ReconnectBaseDelay   time.Duration `envconfig:"FULFILLMENT_REALTIME_RECONNECT_BASE_DELAY" default:"500ms"`
	ReconnectCooldown    time.Duration `envconfig:"FULFILLMENT_REALTIME_RECONNECT_COOLDOWN" default:"30s"`
	WriteTimeout         time.Duration `envconfig:"FULFILLMENT_REALTIME_WRITE_TIMEOUT" default:"10s"`
	PingInterval         time.Duration `envconfig:"FULFILLMENT_REALTIME_PING_INTERVAL" default:"30s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
