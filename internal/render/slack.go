package render

import (
	"fmt"
	"strings"
	"time"
)

// Slack rejects header text longer than this.
const slackHeaderMax = 150

type SlackPayload struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks"`
}

type SlackBlock struct {
	Type      string          `json:"type"`
	Text      *SlackText      `json:"text,omitempty"`
	Elements  []SlackText     `json:"elements,omitempty"`
	Accessory *SlackAccessory `json:"accessory,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type SlackAccessory struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
	AltText  string `json:"alt_text"`
}

// slackPayload renders header, section and context blocks. Text is the
// notification fallback shown by clients that cannot display blocks.
func slackPayload(m Message, deco Decoration, mention string, now time.Time) SlackPayload {
	body := m.Description
	if mention != "" {
		body = mention + " " + body
	}
	if m.URL != "" {
		body += fmt.Sprintf("\n<%s|Open in Reddit>", m.URL)
	}

	section := SlackBlock{
		Type: "section",
		Text: &SlackText{Type: "mrkdwn", Text: body},
	}
	if deco.GifURL != "" {
		section.Accessory = &SlackAccessory{Type: "image", ImageURL: deco.GifURL, AltText: "waiting"}
	}

	var ctx []string
	if m.Author != "" {
		ctx = append(ctx, "Author: "+m.Author)
	}
	ctx = append(ctx, "Rendered at "+now.UTC().Format(time.RFC3339))

	return SlackPayload{
		Text: m.Title,
		Blocks: []SlackBlock{
			{Type: "header", Text: &SlackText{Type: "plain_text", Text: truncate(m.Title, slackHeaderMax)}},
			section,
			{Type: "context", Elements: []SlackText{{Type: "mrkdwn", Text: strings.Join(ctx, " | ")}}},
		},
	}
}
