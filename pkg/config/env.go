package config

const EnvPrefix = "FULFILLMENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	OutboxSinkPubSub = "pubsub"
	OutboxSinkKafka  = "kafka"
)

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

const (
	EnvAppEnv       = "FULFILLMENT_APP_ENV"
	EnvPort         = "FULFILLMENT_APP_PORT"
	EnvDBDSN        = "FULFILLMENT_DB_DSN"
	EnvDBHost       = "FULFILLMENT_DB_HOST"
	EnvDBUser       = "FULFILLMENT_DB_USER"
	EnvDBPassword   = "FULFILLMENT_DB_PASSWORD"
	EnvDBName       = "FULFILLMENT_DB_NAME"
	EnvRedisURL     = "FULFILLMENT_REDIS_URL"
	EnvJWTSecret    = "FULFILLMENT_JWT_SECRET"
	EnvJWTIssuer    = "FULFILLMENT_JWT_ISSUER"
	EnvKafkaBrokers = "FULFILLMENT_KAFKA_BROKERS"
	EnvOutboxSink   = "FULFILLMENT_OUTBOX_SINK"
	EnvDeliveryFee  = "FULFILLMENT_ORDERS_DELIVERY_FEE"
	EnvVeryOldAfter = "FULFILLMENT_NOTIFICATIONS_VERY_OLD_AFTER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
