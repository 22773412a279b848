package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "MUZAFEY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv             = "MUZAFEY_APP_ENV"
	EnvPort               = "MUZAFEY_APP_PORT"
	EnvFrontendURL        = "MUZAFEY_FRONTEND_URL"
	EnvDBDSN              = "MUZAFEY_DB_DSN"
	EnvDBHost             = "MUZAFEY_DB_HOST"
	EnvDBUser             = "MUZAFEY_DB_USER"
	EnvDBName             = "MUZAFEY_DB_NAME"
	EnvRedisURL           = "MUZAFEY_REDIS_URL"
	EnvJWTSecret          = "MUZAFEY_JWT_SECRET"
	EnvJWTIssuer          = "MUZAFEY_JWT_ISSUER"
	EnvPesapalBaseURL     = "MUZAFEY_PESAPAL_BASE_URL"
	EnvPesapalKey         = "MUZAFEY_PESAPAL_CONSUMER_KEY"
	EnvPesapalSecret      = "MUZAFEY_PESAPAL_CONSUMER_SECRET"
	EnvPesapalCallbackURL = "MUZAFEY_PESAPAL_CALLBACK_URL"
	EnvPesapalTimeout     = "MUZAFEY_PESAPAL_TIMEOUT"
	EnvOutboxSink         = "MUZAFEY_OUTBOX_SINK"
	EnvKafkaBrokers       = "MUZAFEY_KAFKA_BROKERS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

const (
	OutboxSinkPubSub = "pubsub"
	OutboxSinkKafka  = "kafka"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Pesapal      PesapalConfig
	Email        EmailConfig
	Reconcile    ReconcileConfig
	FeatureFlags FeatureFlagsConfig
	Outbox       OutboxConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MUZAFEY_APP_ENV" required:"true"`
	Port         string `envconfig:"MUZAFEY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MUZAFEY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MUZAFEY_LOG_WARN_STACK" default:"false"`
	FrontendURL  string `envconfig:"MUZAFEY_FRONTEND_URL" default:"https://muzafey.online"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MUZAFEY_DB_DSN"`
	Driver string `envconfig:"MUZAFEY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MUZAFEY_DB_HOST"`
	LegacyPort     int    `envconfig:"MUZAFEY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MUZAFEY_DB_USER"`
	LegacyPassword string `envconfig:"MUZAFEY_DB_PASSWORD"`
	LegacyName     string `envconfig:"MUZAFEY_DB_NAME"`
	LegacySSLMode  string `envconfig:"MUZAFEY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MUZAFEY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MUZAFEY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MUZAFEY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MUZAFEY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MUZAFEY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MUZAFEY_REDIS_ADDR"`
	Password     string        `envconfig:"MUZAFEY_REDIS_PASSWORD"`
	DB           int           `envconfig:"MUZAFEY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MUZAFEY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MUZAFEY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MUZAFEY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MUZAFEY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MUZAFEY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MUZAFEY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MUZAFEY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MUZAFEY_JWT_EXPIRATION_MINUTES" default:"60"`
}

// PesapalConfig is handed to the gateway client constructor; nothing reads these
// variables at call sites.
type PesapalConfig struct {
	BaseURL        string        `envconfig:"MUZAFEY_PESAPAL_BASE_URL" required:"true"`
	ConsumerKey    string        `envconfig:"MUZAFEY_PESAPAL_CONSUMER_KEY" required:"true"`
	ConsumerSecret string        `envconfig:"MUZAFEY_PESAPAL_CONSUMER_SECRET" required:"true"`
	CallbackURL    string        `envconfig:"MUZAFEY_PESAPAL_CALLBACK_URL" required:"true"`
	IPNID          string        `envconfig:"MUZAFEY_PESAPAL_IPN_ID"`
	Currency       string        `envconfig:"MUZAFEY_PESAPAL_CURRENCY" default:"KES"`
	Description    string        `envconfig:"MUZAFEY_PESAPAL_DESCRIPTION" default:"E-commerce Order Payment"`
	Timeout        time.Duration `envconfig:"MUZAFEY_PESAPAL_TIMEOUT" default:"10s"`
}

type EmailConfig struct {
	SendgridAPIKey string        `envconfig:"MUZAFEY_SENDGRID_API_KEY"`
	FromAddress    string        `envconfig:"MUZAFEY_EMAIL_FROM" default:"no-reply@muzafey.online"`
	FromName       string        `envconfig:"MUZAFEY_EMAIL_FROM_NAME" default:"Muzafey"`
	SMTPHost       string        `envconfig:"MUZAFEY_SMTP_HOST"`
	SMTPPort       int           `envconfig:"MUZAFEY_SMTP_PORT" default:"587"`
	SMTPUser       string        `envconfig:"MUZAFEY_SMTP_USER"`
	SMTPPassword   string        `envconfig:"MUZAFEY_SMTP_PASSWORD"`
	SendTimeout    time.Duration `envconfig:"MUZAFEY_EMAIL_SEND_TIMEOUT" default:"15s"`
}

type ReconcileConfig struct {
	OrderLockTTL    time.Duration `envconfig:"MUZAFEY_RECONCILE_ORDER_LOCK_TTL" default:"30s"`
	PendingOrderTTL time.Duration `envconfig:"MUZAFEY_RECONCILE_PENDING_ORDER_TTL" default:"72h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MUZAFEY_AUTO_MIGRATE" default:"false"`
}

type OutboxConfig struct {
	Sink           string `envconfig:"MUZAFEY_OUTBOX_SINK" default:"pubsub"`
	BatchSize      int    `envconfig:"MUZAFEY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"MUZAFEY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"MUZAFEY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (o OutboxConfig) validate(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(o.Sink)) {
	case OutboxSinkPubSub:
		return nil
	case OutboxSinkKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvOutboxSink, OutboxSinkKafka)
		}
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvOutboxSink, OutboxSinkPubSub, OutboxSinkKafka)
	}
}

type PubSubConfig struct {
	ProjectID   string `envconfig:"MUZAFEY_GCP_PROJECT_ID"`
	OrdersTopic string `envconfig:"MUZAFEY_PUBSUB_ORDERS_TOPIC" default:"muzafey-order-events"`
}

type KafkaConfig struct {
	Brokers     []string `envconfig:"MUZAFEY_KAFKA_BROKERS"`
	OrdersTopic string   `envconfig:"MUZAFEY_KAFKA_ORDERS_TOPIC" default:"order-events"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"MUZAFEY_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"MUZAFEY_CRON_LOCK_TTL" default:"4m"`
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
