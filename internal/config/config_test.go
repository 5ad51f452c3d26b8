package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/notifyhub/modqueue-notifier/internal/config"
	"github.com/notifyhub/modqueue-notifier/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("FLUSH_INTERVAL", "")
	t.Setenv("BUFFER_TTL", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreBackend != config.BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.StoreBackend)
	}
	if cfg.StaleThresholdMinutes != 45 || cfg.OverflowThreshold != 5 || cfg.OverflowCooldown != time.Hour {
		t.Fatalf("unexpected threshold defaults %+v", cfg)
	}
	if cfg.GiphyTag != "waiting in line" {
		t.Fatalf("unexpected giphy tag %q", cfg.GiphyTag)
	}
}

func TestLoad_PostgresRequiresURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := config.Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestLoad_FlushMustBeShorterThanBufferTTL(t *testing.T) {
	t.Setenv("FLUSH_INTERVAL", "15m")
	t.Setenv("BUFFER_TTL", "10m")

	if _, err := config.Load(); err == nil || !strings.Contains(err.Error(), "BUFFER_TTL") {
		t.Fatalf("expected flush/ttl validation error, got %v", err)
	}
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestSettings_Mapping(t *testing.T) {
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.test/hook")
	t.Setenv("DISCORD_ROLE_ID", "123")
	t.Setenv("ENABLE_SLACK", "true")
	t.Setenv("SLACK_WEBHOOK_URL", "https://slack.test/hook")
	t.Setenv("ENABLE_COMMENT_NOTIFICATIONS", "false")
	t.Setenv("BOT_NAME", "Queue Bot")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	s := cfg.Settings()

	if s.Discord.RoleID != "123" || s.Discord.Username != "Queue Bot" {
		t.Fatalf("unexpected discord settings %+v", s.Discord)
	}
	if s.EnableCommentNotifications {
		t.Fatal("expected comment notifications disabled")
	}
	if got := s.EnabledPlatforms(); len(got) != 2 || got[1] != domain.PlatformSlack {
		t.Fatalf("expected discord and slack enabled, got %v", got)
	}
}
