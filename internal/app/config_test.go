package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/atelier.sqlite", cfg.Database.Path)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 5*time.Second, cfg.Cache.Redis.Timeout)
	require.False(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, 587, cfg.Email.SMTP.Port)
	require.False(t, cfg.Storage.S3.Enabled)
	require.Equal(t, "us-east-1", cfg.Storage.S3.Region)
	require.Equal(t, int64(10), cfg.Limits.InvitationCreate.Max)
	require.Equal(t, time.Hour, cfg.Limits.InvitationCreate.Window)
	require.Equal(t, int64(5), cfg.Limits.InvitationResend.Max)
	require.Equal(t, 10*time.Minute, cfg.Limits.InvitationResend.Window)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "require", cfg.Database.Postgres.SSLMode)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "redis.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.True(t, cfg.Cache.Redis.TLS)
	require.Equal(t, 3*time.Second, cfg.Cache.Redis.Timeout)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)

	require.True(t, cfg.Storage.S3.Enabled)
	require.Equal(t, "atelier-attachments", cfg.Storage.S3.Bucket)
	require.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	require.Equal(t, "https://cdn.example.com", cfg.Storage.S3.PublicBaseURL)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("ATELIER_SERVER_PORT", "7070")
	t.Setenv("ATELIER_CACHE_REDIS_ADDRESS", "override:6379")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "override:6379", cfg.Cache.Redis.Address)
}

func TestConfigAdapters(t *testing.T) {
	cfg := Config{
		Cache: CacheConfig{Redis: RedisCacheConfig{
			Address: " redis:6379 ",
			DB:      1,
			Timeout: 2 * time.Second,
		}},
		Email: EmailConfig{SMTP: SMTPConfig{
			Enabled: true,
			Host:    "smtp.example.com",
			Port:    587,
			From:    "no-reply@example.com",
		}},
		Storage: StorageConfig{S3: S3StorageConfig{
			Bucket: " attachments ",
			Region: "us-east-1",
		}},
	}

	redis := cfg.Cache.RedisStoreConfig()
	require.Equal(t, "redis:6379", redis.Address)
	require.Equal(t, 1, redis.DB)
	require.Equal(t, 2*time.Second, redis.Timeout)

	smtp := cfg.Email.SMTPSettings()
	require.True(t, smtp.Enabled)
	require.Equal(t, "no-reply@example.com", smtp.From)

	s3 := cfg.Storage.ObjectStoreConfig()
	require.Equal(t, "attachments", s3.Bucket)
	require.Equal(t, "us-east-1", s3.Region)

	require.Empty(t, LimitsConfig{}.LimiterOptions())
	require.Len(t, LimitsConfig{
		InvitationCreate: RateLimitRule{Max: 3, Window: time.Minute},
	}.LimiterOptions(), 1)
}
