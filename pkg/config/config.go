package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Outbox     OutboxConfig
	Eventing   EventingConfig
	Wallet     WalletConfig
	Commission CommissionConfig
	Referral   ReferralConfig
	Withdrawal WithdrawalConfig
	Reconcile  ReconcileConfig
	Features   FeatureFlags
}

// FeatureFlags gates optional behavior per environment.
type FeatureFlags struct {
	AutoMigrate bool `envconfig:"MERCANTA_FEATURE_AUTO_MIGRATE" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Referral.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MERCANTA_APP_ENV" required:"true"`
	Port         string `envconfig:"MERCANTA_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MERCANTA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MERCANTA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MERCANTA_SERVICE_KIND" default:"worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"MERCANTA_DB_DSN"`
	Driver string `envconfig:"MERCANTA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MERCANTA_DB_HOST"`
	LegacyPort     int    `envconfig:"MERCANTA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MERCANTA_DB_USER"`
	LegacyPassword string `envconfig:"MERCANTA_DB_PASSWORD"`
	LegacyName     string `envconfig:"MERCANTA_DB_NAME"`
	LegacySSLMode  string `envconfig:"MERCANTA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MERCANTA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MERCANTA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MERCANTA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MERCANTA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MERCANTA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MERCANTA_REDIS_ADDR"`
	Password     string        `envconfig:"MERCANTA_REDIS_PASSWORD"`
	DB           int           `envconfig:"MERCANTA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MERCANTA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MERCANTA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MERCANTA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MERCANTA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MERCANTA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MERCANTA_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"MERCANTA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MERCANTA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	WalletTopic              string `envconfig:"MERCANTA_PUBSUB_WALLET_TOPIC" default:"mc-wallet-events"`
	CommissionTopic          string `envconfig:"MERCANTA_PUBSUB_COMMISSION_TOPIC" default:"mc-commission-events"`
	WithdrawalTopic          string `envconfig:"MERCANTA_PUBSUB_WITHDRAWAL_TOPIC" default:"mc-withdrawal-events"`
	NotificationSubscription string `envconfig:"MERCANTA_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MERCANTA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MERCANTA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MERCANTA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"MERCANTA_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// WalletConfig carries the wallet engine thresholds.
type WalletConfig struct {
	LowBalanceThresholdCents int64 `envconfig:"MERCANTA_WALLET_LOW_BALANCE_THRESHOLD_CENTS" default:"100000"`
}

// CommissionConfig carries commission approval and payout thresholds.
type CommissionConfig struct {
	AutoApprove             bool  `envconfig:"MERCANTA_COMMISSION_AUTO_APPROVE" default:"true"`
	AutoApproveCeilingCents int64 `envconfig:"MERCANTA_COMMISSION_AUTO_APPROVE_CEILING_CENTS" default:"500000"`
	MinBulkPayoutCents      int64 `envconfig:"MERCANTA_COMMISSION_MIN_BULK_PAYOUT_CENTS" default:"100000"`
	RegistrationBonusCents  int64 `envconfig:"MERCANTA_COMMISSION_REGISTRATION_BONUS_CENTS" default:"0"`
}

// ReferralConfig holds the tier step function over cumulative referral count.
// Labels has one more entry than Thresholds: label[i] applies below
// thresholds[i], the final label applies at or above the last threshold.
type ReferralConfig struct {
	TierThresholds []int    `envconfig:"MERCANTA_REFERRAL_TIER_THRESHOLDS" default:"5,20,50"`
	TierLabels     []string `envconfig:"MERCANTA_REFERRAL_TIER_LABELS" default:"standard,bronze,silver,gold"`
}

func (r ReferralConfig) validate() error {
	if len(r.TierLabels) != len(r.TierThresholds)+1 {
		return fmt.Errorf("referral tier labels must have exactly one more entry than thresholds (got %d labels, %d thresholds)",
			len(r.TierLabels), len(r.TierThresholds))
	}
	for i := 1; i < len(r.TierThresholds); i++ {
		if r.TierThresholds[i] <= r.TierThresholds[i-1] {
			return fmt.Errorf("referral tier thresholds must be strictly increasing")
		}
	}
	return nil
}

// TierFor resolves the tier label for a cumulative referral count.
func (r ReferralConfig) TierFor(referralCount int) string {
	for i, threshold := range r.TierThresholds {
		if referralCount < threshold {
			return r.TierLabels[i]
		}
	}
	return r.TierLabels[len(r.TierLabels)-1]
}

// WithdrawalConfig bounds user withdrawal requests.
type WithdrawalConfig struct {
	MinAmountCents int64         `envconfig:"MERCANTA_WITHDRAWAL_MIN_AMOUNT_CENTS" default:"50000"`
	PayoutTimeout  time.Duration `envconfig:"MERCANTA_WITHDRAWAL_PAYOUT_TIMEOUT" default:"30s"`
}

// ReconcileConfig drives the ledger reconciliation sweep.
type ReconcileConfig struct {
	Interval  time.Duration `envconfig:"MERCANTA_RECONCILE_INTERVAL" default:"1h"`
	LockTTL   time.Duration `envconfig:"MERCANTA_RECONCILE_LOCK_TTL" default:"50m"`
	BatchSize int           `envconfig:"MERCANTA_RECONCILE_BATCH_SIZE" default:"200"`
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
