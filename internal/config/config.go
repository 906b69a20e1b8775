package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the AgentBazaar server.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Payment   PaymentConfig
	Advisor   AdvisorConfig
	Notify    NotifyConfig
	Market    MarketConfig
	Sweep     SweepConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port                 int
	Env                  string
	RateLimitPerMin      int
	RegistrationCooldown time.Duration
	// BootstrapKey, when set, is stored as an admin API key at startup so
	// the first real keys can be issued.
	BootstrapKey         string
	BootstrapOwner       string
}

type StoreConfig struct {
	Backend string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig is optional. With an empty URL the cache and locker run in
// process memory.
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

type PaymentConfig struct {
	Gateway       string
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	EscrowAccount string
}

type AdvisorConfig struct {
	Provider    string
	BaseURL     string
	Timeout     time.Duration
	StaticScore float64
}

type NotifyConfig struct {
	Sink         string
	WebhookURLs  []string
	RedisChannel string
}

type MarketConfig struct {
	MaxRounds         int
	ApprovalThreshold decimal.Decimal
	PartialRatio      decimal.Decimal
	BidWindow         time.Duration
	DefaultDeadline   time.Duration
	DefaultMinScore   float64
	QualityThreshold  float64
}

type SweepConfig struct {
	Interval           time.Duration
	HeartbeatStale     time.Duration
	AutoAward          bool
	AutoAwardMinRating float64
	AutoAwardMinConf   float64
}

type TelemetryConfig struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

var validBackends = map[string]bool{
	"postgres": true,
	"mongo":    true,
	"memory":   true,
}

var validGateways = map[string]bool{
	"simulated": true,
	"http":      true,
}

var validAdvisors = map[string]bool{
	"policy": true,
	"http":   true,
	"static": true,
}

var validSinks = map[string]bool{
	"none":    true,
	"webhook": true,
	"redis":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	threshold, err := envDecimal("APPROVAL_THRESHOLD", "10.00")
	if err != nil {
		return nil, err
	}
	partial, err := envDecimal("PARTIAL_RELEASE_RATIO", "0.5")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:                 envInt("BAZAAR_PORT", 8080),
			Env:                  envString("BAZAAR_ENV", "development"),
			RateLimitPerMin:      envInt("RATE_LIMIT_PER_MIN", 60),
			RegistrationCooldown: envDuration("REGISTRATION_COOLDOWN", 5*time.Minute),
			BootstrapKey:         os.Getenv("BOOTSTRAP_ADMIN_KEY"),
			BootstrapOwner:       envString("BOOTSTRAP_ADMIN_OWNER", "admin"),
		},
		Store: StoreConfig{
			Backend: envString("STORE_BACKEND", "postgres"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGO_URI"),
			Database: envString("MONGO_DATABASE", "agentbazaar"),
		},
		Redis: RedisConfig{
			URL:     os.Getenv("REDIS_URL"),
			LockTTL: envDuration("LOCK_TTL", 15*time.Second),
		},
		Payment: PaymentConfig{
			Gateway:       envString("PAYMENT_GATEWAY", "simulated"),
			BaseURL:       os.Getenv("PAYMENT_GATEWAY_URL"),
			APIKey:        os.Getenv("PAYMENT_GATEWAY_API_KEY"),
			Timeout:       envDuration("PAYMENT_TIMEOUT", 10*time.Second),
			EscrowAccount: envString("ESCROW_ACCOUNT", "bazaar-escrow"),
		},
		Advisor: AdvisorConfig{
			Provider:    envString("ADVISOR_PROVIDER", "policy"),
			BaseURL:     os.Getenv("ADVISOR_BASE_URL"),
			Timeout:     envDurationSecs("ADVISOR_TIMEOUT_SECS", 30*time.Second),
			StaticScore: envFloat("QUALITY_STATIC_SCORE", 0.5),
		},
		Notify: NotifyConfig{
			Sink:         envString("NOTIFY_SINK", "none"),
			WebhookURLs:  envList("NOTIFY_WEBHOOK_URLS"),
			RedisChannel: envString("NOTIFY_REDIS_CHANNEL", "bazaar.events"),
		},
		Market: MarketConfig{
			MaxRounds:         envInt("MAX_NEGOTIATION_ROUNDS", 5),
			ApprovalThreshold: threshold,
			PartialRatio:      partial,
			BidWindow:         envDuration("BID_WINDOW", 5*time.Minute),
			DefaultDeadline:   envDuration("DEFAULT_DEADLINE", 10*time.Minute),
			DefaultMinScore:   envFloat("DEFAULT_MIN_CAPABILITY_SCORE", 0.7),
			QualityThreshold:  envFloat("QUALITY_THRESHOLD", 0.7),
		},
		Sweep: SweepConfig{
			Interval:           envDuration("SWEEP_INTERVAL", time.Minute),
			HeartbeatStale:     envDuration("HEARTBEAT_STALE_AFTER", 5*time.Minute),
			AutoAward:          envBool("AUTO_AWARD_ENABLED", false),
			AutoAwardMinRating: envFloat("AUTO_AWARD_MIN_RATING", 4.0),
			AutoAwardMinConf:   envFloat("AUTO_AWARD_MIN_CONFIDENCE", 0.8),
		},
		Telemetry: TelemetryConfig{
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName: envString("OTEL_SERVICE_NAME", "agentbazaar"),
			Insecure:    envBool("OTEL_INSECURE", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("STORE_BACKEND must be one of postgres, mongo, memory; got %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}
	if c.Store.Backend == "mongo" && c.Mongo.URI == "" {
		return fmt.Errorf("MONGO_URI is required when STORE_BACKEND is mongo")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validGateways[c.Payment.Gateway] {
		return fmt.Errorf("PAYMENT_GATEWAY must be one of simulated, http; got %q", c.Payment.Gateway)
	}
	if c.Payment.Gateway == "http" && c.Payment.BaseURL == "" {
		return fmt.Errorf("PAYMENT_GATEWAY_URL is required when PAYMENT_GATEWAY is http")
	}

	if !validAdvisors[c.Advisor.Provider] {
		return fmt.Errorf("ADVISOR_PROVIDER must be one of policy, http, static; got %q", c.Advisor.Provider)
	}
	if c.Advisor.Provider == "http" && c.Advisor.BaseURL == "" {
		return fmt.Errorf("ADVISOR_BASE_URL is required when ADVISOR_PROVIDER is http")
	}

	if !validSinks[c.Notify.Sink] {
		return fmt.Errorf("NOTIFY_SINK must be one of none, webhook, redis; got %q", c.Notify.Sink)
	}
	if c.Notify.Sink == "webhook" && len(c.Notify.WebhookURLs) == 0 {
		return fmt.Errorf("NOTIFY_WEBHOOK_URLS is required when NOTIFY_SINK is webhook")
	}
	if c.Notify.Sink == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when NOTIFY_SINK is redis")
	}

	if c.Server.BootstrapKey != "" && (len(c.Server.BootstrapKey) < 16 || len(c.Server.BootstrapKey) > 72) {
		return fmt.Errorf("BOOTSTRAP_ADMIN_KEY must be 16 to 72 characters")
	}

	if c.Market.MaxRounds < 1 {
		return fmt.Errorf("MAX_NEGOTIATION_ROUNDS must be at least 1, got %d", c.Market.MaxRounds)
	}
	if !c.Market.ApprovalThreshold.IsPositive() {
		return fmt.Errorf("APPROVAL_THRESHOLD must be positive, got %s", c.Market.ApprovalThreshold)
	}
	if !c.Market.PartialRatio.IsPositive() || c.Market.PartialRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("PARTIAL_RELEASE_RATIO must be in (0, 1], got %s", c.Market.PartialRatio)
	}
	if c.Market.DefaultMinScore < 0 || c.Market.DefaultMinScore > 1 {
		return fmt.Errorf("DEFAULT_MIN_CAPABILITY_SCORE must be in [0, 1], got %v", c.Market.DefaultMinScore)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// envDecimal is strict: a malformed amount is a config error, not a silent default.
func envDecimal(key, defaultVal string) (decimal.Decimal, error) {
	v := envString(key, defaultVal)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s must be a decimal amount, got %q", key, v)
	}
	return d, nil
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
