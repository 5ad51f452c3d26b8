package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL is required only for the
// postgres store backend.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Store
	StoreBackend  string
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	MigrationsDir string

	// Upstream HTTP
	ProviderTimeout time.Duration
	RedditBaseURL   string
	GiphyBaseURL    string
	GiphyEndpoint   string
	UserAgent       string

	// Background workers
	FlushInterval time.Duration
	BufferTTL     time.Duration
	SweepInterval time.Duration

	// Spacing between consecutive requests to one platform
	InterBatchDelay time.Duration

	// Notification settings handed to every pipeline call
	Subreddit     string
	BotName       string
	BotAvatarURL  string
	DiscordURL    string
	DiscordRoleID string
	SlackURL      string
	SlackMention  string

	StaleThresholdMinutes int
	OverflowThreshold     int
	OverflowCooldown      time.Duration
	GiphyAPIKey           string
	GiphyTag              string

	EnableDiscord     bool
	EnableSlack       bool
	EnableSubmissions bool
	EnableComments    bool
	EnableStaleAlerts bool
	EnableOverflow    bool
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBMaxConns:    int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:    int32(getInt("DB_MIN_CONNS", 2)),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 10*time.Second),
		RedditBaseURL:   getEnv("REDDIT_BASE_URL", "https://www.reddit.com"),
		GiphyBaseURL:    getEnv("GIPHY_BASE_URL", "https://api.giphy.com"),
		GiphyEndpoint:   getEnv("GIPHY_ENDPOINT", "search"),
		UserAgent:       getEnv("USER_AGENT", "modqueue-notifier/1.0"),

		FlushInterval: getDuration("FLUSH_INTERVAL", time.Minute),
		BufferTTL:     getDuration("BUFFER_TTL", 10*time.Minute),
		SweepInterval: getDuration("SWEEP_INTERVAL", 5*time.Minute),

		InterBatchDelay: getDuration("INTER_BATCH_DELAY", time.Second),

		Subreddit:     getEnv("SUBREDDIT", ""),
		BotName:       getEnv("BOT_NAME", "QBert"),
		BotAvatarURL:  getEnv("BOT_AVATAR_URL", ""),
		DiscordURL:    getEnv("DISCORD_WEBHOOK_URL", ""),
		DiscordRoleID: getEnv("DISCORD_ROLE_ID", ""),
		SlackURL:      getEnv("SLACK_WEBHOOK_URL", ""),
		SlackMention:  getEnv("SLACK_MENTION_ID", ""),

		StaleThresholdMinutes: getInt("STALE_THRESHOLD_MINUTES", 45),
		OverflowThreshold:     getInt("OVERFLOW_THRESHOLD", 5),
		OverflowCooldown:      getDuration("OVERFLOW_COOLDOWN", time.Hour),
		GiphyAPIKey:           getEnv("GIPHY_API_KEY", ""),
		GiphyTag:              getEnv("GIPHY_TAG", "waiting in line"),

		EnableDiscord:     getBool("ENABLE_DISCORD", true),
		EnableSlack:       getBool("ENABLE_SLACK", false),
		EnableSubmissions: getBool("ENABLE_SUBMISSION_NOTIFICATIONS", true),
		EnableComments:    getBool("ENABLE_COMMENT_NOTIFICATIONS", true),
		EnableStaleAlerts: getBool("ENABLE_STALE_ALERTS", true),
		EnableOverflow:    getBool("ENABLE_OVERFLOW_ALERTS", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL must be positive")
	}
	// Buffered items expire after BUFFER_TTL; a slower flush would lose them.
	if c.FlushInterval >= c.BufferTTL {
		return fmt.Errorf("FLUSH_INTERVAL (%s) must be shorter than BUFFER_TTL (%s)", c.FlushInterval, c.BufferTTL)
	}
	if c.StaleThresholdMinutes < 0 || c.OverflowThreshold < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	return nil
}

// Settings converts the loaded configuration into the value passed to every
// pipeline entry point.
func (c *Config) Settings() domain.Settings {
	return domain.Settings{
		Subreddit: c.Subreddit,
		Discord: domain.DiscordSettings{
			Enabled:    c.EnableDiscord,
			WebhookURL: c.DiscordURL,
			RoleID:     c.DiscordRoleID,
			Username:   c.BotName,
			AvatarURL:  c.BotAvatarURL,
		},
		Slack: domain.SlackSettings{
			Enabled:    c.EnableSlack,
			WebhookURL: c.SlackURL,
			MentionID:  c.SlackMention,
		},
		StaleThresholdMinutes:         c.StaleThresholdMinutes,
		OverflowThreshold:             c.OverflowThreshold,
		OverflowCooldown:              c.OverflowCooldown,
		GiphyAPIKey:                   c.GiphyAPIKey,
		GiphyTag:                      c.GiphyTag,
		EnableSubmissionNotifications: c.EnableSubmissions,
		EnableCommentNotifications:    c.EnableComments,
		EnableStaleAlerts:             c.EnableStaleAlerts,
		EnableOverflowAlerts:          c.EnableOverflow,
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
