package render

import (
	"time"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
)

// Discord field limits; longer values make the webhook reject the request.
const (
	discordTitleMax       = 256
	discordDescriptionMax = 4096
)

type DiscordPayload struct {
	Username  string         `json:"username"`
	AvatarURL string         `json:"avatar_url"`
	Content   string         `json:"content,omitempty"`
	Embeds    []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	URL         string        `json:"url,omitempty"`
	Color       int           `json:"color"`
	Timestamp   string        `json:"timestamp"`
	Thumbnail   *DiscordImage `json:"thumbnail,omitempty"`
}

type DiscordImage struct {
	URL string `json:"url"`
}

func discordPayload(s domain.DiscordSettings, content string, embeds []DiscordEmbed) DiscordPayload {
	return DiscordPayload{
		Username:  s.Username,
		AvatarURL: s.AvatarURL,
		Content:   content,
		Embeds:    embeds,
	}
}

func discordEmbed(m Message, deco Decoration, now time.Time) DiscordEmbed {
	e := DiscordEmbed{
		Title:       truncate(m.Title, discordTitleMax),
		Description: truncate(m.Description, discordDescriptionMax),
		URL:         m.URL,
		Color:       m.Color,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	if deco.GifURL != "" {
		e.Thumbnail = &DiscordImage{URL: deco.GifURL}
	}
	return e
}
