package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "test",
			Password: "test",
			Database: "test_db",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Spool: SpoolConfig{
			ProgressExpiration: 10 * time.Minute,
			LockName:           "newsletter_acquire_mail",
			LockTTL:            30 * time.Second,
		},
		Mailer: MailerConfig{
			Concurrency: 4,
			FromAddress: "news@example.com",
			Transport:   "log",
		},
		Confirmation: ConfirmationConfig{
			Secret:         "0123456789abcdef0123456789abcdef",
			HashExpiration: 24 * time.Hour,
			RequireMail:    RequireMailStrict,
		},
		Worker: WorkerConfig{
			BatchSize:       10,
			PollInterval:    time.Minute,
			CleanupInterval: time.Hour,
		},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_InvalidServerPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"port too low", 0},
		{"port negative", -1},
		{"port too high", 99999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestConfig_Validate_Fields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero progress expiration", func(c *Config) { c.Spool.ProgressExpiration = 0 }, "spool.progress_expiration"},
		{"negative retention", func(c *Config) { c.Spool.RetentionDays = -1 }, "spool.retention_days"},
		{"missing lock name", func(c *Config) { c.Spool.LockName = "" }, "spool.lock_name"},
		{"negative throttle", func(c *Config) { c.Mailer.Throttle = -5 }, "mailer.throttle"},
		{"zero concurrency", func(c *Config) { c.Mailer.Concurrency = 0 }, "mailer.concurrency"},
		{"unknown transport", func(c *Config) { c.Mailer.Transport = "pigeon" }, "mailer.transport"},
		{"smtp without host", func(c *Config) { c.Mailer.Transport = "smtp" }, "transport.smtp.host"},
		{"ses without region", func(c *Config) { c.Mailer.Transport = "ses" }, "transport.ses.region"},
		{"resend without key", func(c *Config) { c.Mailer.Transport = "resend" }, "transport.resend.api_key"},
		{"missing secret", func(c *Config) { c.Confirmation.Secret = "" }, "confirmation.secret is required"},
		{"short secret", func(c *Config) { c.Confirmation.Secret = "short" }, "at least 32 characters"},
		{"bad require mail", func(c *Config) { c.Confirmation.RequireMail = "maybe" }, "confirmation.require_mail"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "auth.jwt_secret"},
		{"zero batch size", func(c *Config) { c.Worker.BatchSize = 0 }, "worker.batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Database.Host = ""
	cfg.Spool.LockTTL = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "database.host")
	assert.Contains(t, err.Error(), "spool.lock_ttl")
}

func TestConfig_Validate_Production(t *testing.T) {
	t.Setenv("ENV", "production")

	cfg := validConfig()
	cfg.Database.Password = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.password")
	assert.Contains(t, err.Error(), "mailer.transport log")
}

func TestLoad_DefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("NEWSLETTER_CONFIRMATION_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("NEWSLETTER_SPOOL_RETENTION_DAYS", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Spool.ProgressExpiration)
	assert.Equal(t, 7, cfg.Spool.RetentionDays)
	assert.Equal(t, "newsletter_acquire_mail", cfg.Spool.LockName)
	assert.Equal(t, "log", cfg.Mailer.Transport)
	assert.Equal(t, RequireMailStrict, cfg.Confirmation.RequireMail)
	assert.Contains(t, cfg.Confirmation.Messages.CombinedBody, "{{ confirm_url }}")
}

func TestLoad_MissingSecret(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirmation.secret")
}

func TestLoadDatabase_IgnoresOtherSections(t *testing.T) {
	t.Setenv("NEWSLETTER_DATABASE_HOST", "db")
	t.Setenv("NEWSLETTER_DATABASE_DATABASE", "news")

	db, err := LoadDatabase()
	require.NoError(t, err)
	assert.Equal(t, "db", db.Host)
	assert.Contains(t, db.MigrateURL(), "@db:5432/news?")
}

func TestDatabaseConfig_URLs(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "news", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=news sslmode=disable", cfg.DatabaseDSN())
	assert.Equal(t, "postgres://u:p@db:5432/news?sslmode=disable", cfg.MigrateURL())
}
