// Package render turns queue items and overflow events into platform
// message bodies. Rendering is pure: the only input that varies between
// calls with equal arguments is the supplied render time.
package render

import (
	"fmt"
	"time"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
)

// Embed colors.
const (
	ColorSubmission = 0x57F287
	ColorComment    = 0x3498DB
	ColorStale      = 0xED4245
	ColorOverflow   = 0x9B59B6
)

const (
	OverflowTitle = "You had one job! Stop shootin' the shit and check the damn queue!"

	// DiscordEmbedCap is the maximum number of embeds per webhook request.
	DiscordEmbedCap = 10
)

// Decoration is shared across every message of one flush batch.
type Decoration struct {
	GifURL string
}

// Message is the platform-neutral text of one notification.
type Message struct {
	Title       string
	Description string
	URL         string
	Author      string
	Color       int
}

// ItemMessage applies the kind × staleness templates.
func ItemMessage(item domain.QueueItem) Message {
	m := Message{URL: item.URL, Author: item.Author}
	since := item.CreatedAt.UTC().Format(time.RFC3339)

	switch item.Kind {
	case domain.KindComment:
		m.Title = fmt.Sprintf("%s has commented on \"%s\"", item.Author, parentTitle(item))
		if item.IsStale {
			m.Description = fmt.Sprintf(
				"There is a Stale Comment in the ModQueue from %s!\nComment has been waiting since %s",
				item.Author, since)
		} else {
			m.Description = "New comment in the ModQueue!"
		}
		m.Color = ColorComment
	default:
		m.Title = item.Title
		if item.IsStale {
			m.Description = fmt.Sprintf(
				"There is a Stale Post in the ModQueue from %s!\nPost has been waiting since %s",
				item.Author, since)
		} else {
			m.Description = fmt.Sprintf("New Post in the ModQueue from %s!", item.Author)
		}
		m.Color = ColorSubmission
	}

	if item.IsStale {
		m.Color = ColorStale
	}
	return m
}

// OverflowMessage is the alert text for a queue holding count items.
func OverflowMessage(count int) Message {
	return Message{
		Title:       OverflowTitle,
		Description: fmt.Sprintf("There are %d items in the queue!!!", count),
		Color:       ColorOverflow,
	}
}

// RenderItem builds one payload per enabled platform for a single item.
func RenderItem(item domain.QueueItem, deco Decoration, s domain.Settings, now time.Time) map[domain.Platform]any {
	out := make(map[domain.Platform]any)
	for _, p := range s.EnabledPlatforms() {
		switch p {
		case domain.PlatformDiscord:
			out[p] = discordPayload(s.Discord, "", []DiscordEmbed{discordEmbed(ItemMessage(item), deco, now)})
		case domain.PlatformSlack:
			out[p] = slackPayload(ItemMessage(item), deco, "", now)
		}
	}
	return out
}

// RenderOverflow builds one overflow alert per enabled platform, mentioning
// the configured role or group where one is set.
func RenderOverflow(count int, s domain.Settings, now time.Time) map[domain.Platform]any {
	msg := OverflowMessage(count)
	out := make(map[domain.Platform]any)
	for _, p := range s.EnabledPlatforms() {
		switch p {
		case domain.PlatformDiscord:
			var content string
			if s.Discord.RoleID != "" {
				content = fmt.Sprintf("<@&%s>", s.Discord.RoleID)
			}
			out[p] = discordPayload(s.Discord, content, []DiscordEmbed{discordEmbed(msg, Decoration{}, now)})
		case domain.PlatformSlack:
			var mention string
			if s.Slack.MentionID != "" {
				mention = fmt.Sprintf("<!subteam^%s>", s.Slack.MentionID)
			}
			out[p] = slackPayload(msg, Decoration{}, mention, now)
		}
	}
	return out
}

// DiscordBatches packs items into as few requests as the embed cap allows.
func DiscordBatches(items []domain.QueueItem, deco Decoration, s domain.Settings, now time.Time) []DiscordPayload {
	embeds := make([]DiscordEmbed, len(items))
	for i, it := range items {
		embeds[i] = discordEmbed(ItemMessage(it), deco, now)
	}
	groups := Chunk(embeds, DiscordEmbedCap)
	out := make([]DiscordPayload, len(groups))
	for i, g := range groups {
		out[i] = discordPayload(s.Discord, "", g)
	}
	return out
}

// SlackMessages emits one payload per item; the block format has no
// multi-item batching.
func SlackMessages(items []domain.QueueItem, deco Decoration, now time.Time) []SlackPayload {
	out := make([]SlackPayload, len(items))
	for i, it := range items {
		out[i] = slackPayload(ItemMessage(it), deco, "", now)
	}
	return out
}

// Chunk splits items into consecutive groups of at most capacity elements.
func Chunk[T any](items []T, capacity int) [][]T {
	if capacity <= 0 {
		capacity = 1
	}
	var out [][]T
	for start := 0; start < len(items); start += capacity {
		end := min(start+capacity, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

func parentTitle(item domain.QueueItem) string {
	if item.ParentTitle == "" {
		return domain.UnknownPostTitle
	}
	return item.ParentTitle
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
