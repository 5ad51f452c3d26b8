package domain

import "time"

// Platform identifies a chat webhook target.
type Platform string

const (
	PlatformDiscord Platform = "discord"
	PlatformSlack   Platform = "slack"
)

// DiscordSettings configures the multi-embed webhook target.
type DiscordSettings struct {
	Enabled    bool
	WebhookURL string
	RoleID     string
	Username   string
	AvatarURL  string
}

// SlackSettings configures the block-structured webhook target.
type SlackSettings struct {
	Enabled    bool
	WebhookURL string
	MentionID  string
}

// Settings is the per-installation notification configuration.
// It is read-only to the pipeline and passed whole into every entry point.
type Settings struct {
	Subreddit string

	Discord DiscordSettings
	Slack   SlackSettings

	StaleThresholdMinutes int
	OverflowThreshold     int
	OverflowCooldown      time.Duration

	GiphyAPIKey string
	GiphyTag    string

	EnableSubmissionNotifications bool
	EnableCommentNotifications    bool
	EnableStaleAlerts             bool
	EnableOverflowAlerts          bool
}

// EnabledPlatforms lists targets that are switched on and have an endpoint.
func (s Settings) EnabledPlatforms() []Platform {
	var out []Platform
	if s.Discord.Enabled && s.Discord.WebhookURL != "" {
		out = append(out, PlatformDiscord)
	}
	if s.Slack.Enabled && s.Slack.WebhookURL != "" {
		out = append(out, PlatformSlack)
	}
	return out
}

// Endpoint returns the webhook URL configured for p.
func (s Settings) Endpoint(p Platform) string {
	switch p {
	case PlatformDiscord:
		return s.Discord.WebhookURL
	case PlatformSlack:
		return s.Slack.WebhookURL
	}
	return ""
}

// ShouldNotify applies the per-type toggles. Stale items are governed by the
// stale-alert toggle alone; fresh items by their kind's toggle.
func (s Settings) ShouldNotify(item QueueItem) bool {
	if item.IsStale {
		return s.EnableStaleAlerts
	}
	switch item.Kind {
	case KindSubmission:
		return s.EnableSubmissionNotifications
	case KindComment:
		return s.EnableCommentNotifications
	}
	return false
}
