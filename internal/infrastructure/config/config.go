package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Confirmation mail policies for subscribers loaded without an address.
const (
	RequireMailStrict = "strict"
	RequireMailLax    = "lax"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Spool         SpoolConfig         `mapstructure:"spool"`
	Mailer        MailerConfig        `mapstructure:"mailer"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Confirmation  ConfirmationConfig  `mapstructure:"confirmation"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	// MailRateLimit caps subscription requests per address and hour.
	MailRateLimit   int           `mapstructure:"mail_rate_limit"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	ConnectRetries  uint          `mapstructure:"connect_retries"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type SpoolConfig struct {
	// ProgressExpiration is how long an in-progress lease is honoured before
	// the entry becomes claimable again.
	ProgressExpiration time.Duration `mapstructure:"progress_expiration"`
	// RetentionDays keeps terminal entries this many days; 0 purges them on
	// the next cleanup run.
	RetentionDays      int           `mapstructure:"retention_days"`
	LockName           string        `mapstructure:"lock_name"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
}

type MailerConfig struct {
	// Throttle caps the entries claimed per spool run; 0 means unlimited.
	Throttle         int           `mapstructure:"throttle"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Concurrency      int           `mapstructure:"concurrency"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	FromAddress      string        `mapstructure:"from_address"`
	FromName         string        `mapstructure:"from_name"`
	SiteName         string        `mapstructure:"site_name"`
	Transport        string        `mapstructure:"transport"`
	ImmediateSend    bool          `mapstructure:"immediate_send"`
	BaseURL          string        `mapstructure:"base_url"`
	NewsletterFooter string        `mapstructure:"newsletter_footer"`
}

type TransportConfig struct {
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	SES     SESConfig     `mapstructure:"ses"`
	Resend  ResendConfig  `mapstructure:"resend"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Retries  uint   `mapstructure:"retries"`
}

type SESConfig struct {
	Region           string `mapstructure:"region"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	ConfigurationSet string `mapstructure:"configuration_set"`
}

type ResendConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

type ConfirmationConfig struct {
	Secret         string        `mapstructure:"secret"`
	HashExpiration time.Duration `mapstructure:"hash_expiration"`
	RequireMail    string        `mapstructure:"require_mail"`
	Messages       MessageConfig `mapstructure:"messages"`
}

// MessageConfig holds the liquid templates of confirmation mails.
type MessageConfig struct {
	CombinedSubject             string `mapstructure:"combined_subject"`
	CombinedBody                string `mapstructure:"combined_body"`
	CombinedBodyUnchanged       string `mapstructure:"combined_body_unchanged"`
	LineSubscribeUnsubscribed   string `mapstructure:"line_subscribe_unsubscribed"`
	LineSubscribeSubscribed     string `mapstructure:"line_subscribe_subscribed"`
	LineUnsubscribeSubscribed   string `mapstructure:"line_unsubscribe_subscribed"`
	LineUnsubscribeUnsubscribed string `mapstructure:"line_unsubscribe_unsubscribed"`
	SubscribeSubject            string `mapstructure:"subscribe_subject"`
	SubscribeBody               string `mapstructure:"subscribe_body"`
	UnsubscribeSubject          string `mapstructure:"unsubscribe_subject"`
	UnsubscribeBody             string `mapstructure:"unsubscribe_body"`
}

type WorkerConfig struct {
	BatchSize       int64         `mapstructure:"batch_size"`
	BlockDuration   time.Duration `mapstructure:"block_duration"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	ConsumerGroup   string        `mapstructure:"consumer_group"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDatabase reads the configuration but only checks the database
// section, for tools such as the migrator that need nothing else.
func LoadDatabase() (*DatabaseConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Host == "" || cfg.Database.Database == "" {
		return nil, errors.New("invalid config: database.host and database.database are required")
	}
	return &cfg.Database, nil
}

func read() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("NEWSLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/newsletter")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Spool.ProgressExpiration <= 0 {
		errs = append(errs, fmt.Errorf("spool.progress_expiration must be positive"))
	}
	if c.Spool.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("spool.retention_days cannot be negative"))
	}
	if c.Spool.LockName == "" {
		errs = append(errs, fmt.Errorf("spool.lock_name is required"))
	}
	if c.Spool.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("spool.lock_ttl must be positive"))
	}
	if c.Mailer.Throttle < 0 {
		errs = append(errs, fmt.Errorf("mailer.throttle cannot be negative"))
	}
	if c.Mailer.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("mailer.concurrency must be positive"))
	}
	if c.Mailer.FromAddress == "" {
		errs = append(errs, fmt.Errorf("mailer.from_address is required"))
	}
	switch c.Mailer.Transport {
	case "log", "smtp", "ses", "resend":
	default:
		errs = append(errs, fmt.Errorf("mailer.transport must be one of log, smtp, ses, resend, got %q", c.Mailer.Transport))
	}
	if c.Mailer.Transport == "smtp" && c.Transport.SMTP.Host == "" {
		errs = append(errs, fmt.Errorf("transport.smtp.host is required for the smtp transport"))
	}
	if c.Mailer.Transport == "ses" && c.Transport.SES.Region == "" {
		errs = append(errs, fmt.Errorf("transport.ses.region is required for the ses transport"))
	}
	if c.Mailer.Transport == "resend" && c.Transport.Resend.APIKey == "" {
		errs = append(errs, fmt.Errorf("transport.resend.api_key is required for the resend transport"))
	}
	if c.Confirmation.Secret == "" {
		errs = append(errs, fmt.Errorf("confirmation.secret is required"))
	} else if len(c.Confirmation.Secret) < 32 {
		errs = append(errs, fmt.Errorf("confirmation.secret must be at least 32 characters"))
	}
	if c.Confirmation.RequireMail != RequireMailStrict && c.Confirmation.RequireMail != RequireMailLax {
		errs = append(errs, fmt.Errorf("confirmation.require_mail must be %q or %q", RequireMailStrict, RequireMailLax))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.poll_interval must be positive"))
	}
	if c.Worker.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.cleanup_interval must be positive"))
	}

	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Mailer.Transport == "log" {
			errs = append(errs, fmt.Errorf("mailer.transport log is not allowed in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 30)
	v.SetDefault("server.mail_rate_limit", 5)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "newsletter")
	v.SetDefault("database.database", "newsletter")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.connect_retries", 5)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Spool defaults
	v.SetDefault("spool.progress_expiration", "10m")
	v.SetDefault("spool.retention_days", 0)
	v.SetDefault("spool.lock_name", "newsletter_acquire_mail")
	v.SetDefault("spool.lock_ttl", "30s")

	// Mailer defaults
	v.SetDefault("mailer.throttle", 20)
	v.SetDefault("mailer.rate_per_second", 0)
	v.SetDefault("mailer.concurrency", 4)
	v.SetDefault("mailer.send_timeout", "30s")
	v.SetDefault("mailer.from_address", "newsletter@localhost")
	v.SetDefault("mailer.from_name", "Newsletter")
	v.SetDefault("mailer.site_name", "Newsletter")
	v.SetDefault("mailer.transport", "log")
	v.SetDefault("mailer.immediate_send", false)
	v.SetDefault("mailer.base_url", "http://localhost:8080")
	v.SetDefault("mailer.newsletter_footer", "Unsubscribe from this newsletter: {{ unsubscribe_url }}")

	// Transport defaults
	v.SetDefault("transport.smtp.host", "")
	v.SetDefault("transport.smtp.port", 587)
	v.SetDefault("transport.smtp.username", "")
	v.SetDefault("transport.smtp.password", "")
	v.SetDefault("transport.ses.region", "")
	v.SetDefault("transport.ses.access_key_id", "")
	v.SetDefault("transport.ses.secret_access_key", "")
	v.SetDefault("transport.ses.configuration_set", "")
	v.SetDefault("transport.resend.api_key", "")
	v.SetDefault("transport.smtp.retries", 3)
	v.SetDefault("transport.breaker.max_requests", 5)
	v.SetDefault("transport.breaker.interval", "60s")
	v.SetDefault("transport.breaker.timeout", "30s")
	v.SetDefault("transport.breaker.min_requests", 10)
	v.SetDefault("transport.breaker.failure_ratio", 0.6)

	// Confirmation defaults
	v.SetDefault("confirmation.secret", "")
	v.SetDefault("confirmation.hash_expiration", "720h")
	v.SetDefault("confirmation.require_mail", RequireMailStrict)
	v.SetDefault("confirmation.messages.combined_subject", "Confirmation for {{ site_name }}")
	v.SetDefault("confirmation.messages.combined_body",
		"We have received a request for the following subscription changes for {{ mail }} at {{ site_name }}:\n\n{{ changes_list }}\nTo confirm please use the link below.\n\n{{ confirm_url }}")
	v.SetDefault("confirmation.messages.combined_body_unchanged",
		"We have received a request for the following subscription changes for {{ mail }} at {{ site_name }}:\n\n{{ changes_list }}\nNo confirmation necessary because all requested changes equal the current state.")
	v.SetDefault("confirmation.messages.line_subscribe_unsubscribed", "Subscribe to {{ newsletter_name }}")
	v.SetDefault("confirmation.messages.line_subscribe_subscribed", "Already subscribed to {{ newsletter_name }}")
	v.SetDefault("confirmation.messages.line_unsubscribe_subscribed", "Unsubscribe from {{ newsletter_name }}")
	v.SetDefault("confirmation.messages.line_unsubscribe_unsubscribed", "Already unsubscribed from {{ newsletter_name }}")
	v.SetDefault("confirmation.messages.subscribe_subject", "Confirmation for {{ newsletter_name }} at {{ site_name }}")
	v.SetDefault("confirmation.messages.subscribe_body",
		"We have received a request to subscribe {{ mail }} to {{ newsletter_name }} at {{ site_name }}. To confirm please use the link below.\n\n{{ confirm_url }}")
	v.SetDefault("confirmation.messages.unsubscribe_subject", "Confirmation for {{ newsletter_name }} at {{ site_name }}")
	v.SetDefault("confirmation.messages.unsubscribe_body",
		"We have received a request to remove {{ mail }} from {{ newsletter_name }} at {{ site_name }}. To confirm please use the link below.\n\n{{ confirm_url }}")

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.poll_interval", "1m")
	v.SetDefault("worker.cleanup_interval", "1h")
	v.SetDefault("worker.consumer_group", "newsletter-senders")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Keys without a useful default still need registering so env
	// overrides reach Unmarshal.
	v.SetDefault("database.password", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("instance_id", "newsletter-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrateURL returns the connection string in URL form for golang-migrate.
func (c *DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
