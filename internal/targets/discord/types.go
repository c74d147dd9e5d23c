package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Go-555/github-actions-note/internal"
	"github.com/Go-555/github-actions-note/internal/types"
)

const (
	embedColor     = 0x41c9b4
	maxTitleLength = 256
	maxFieldLength = 1024
)

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

var (
	_ internal.From[*types.Post]              = (*Embed)(nil)
	_ internal.Into[*discordgo.MessageEmbed] = (*Embed)(nil)
)

func (e *Embed) From(post *types.Post) {
	e.Title = truncate(post.Title, maxTitleLength)
	e.URL = post.URL
	e.Color = embedColor

	if !post.PostedAt.IsZero() {
		e.Timestamp = post.PostedAt.Format(time.RFC3339)
	}

	if post.Summary != "" {
		e.Fields = append(e.Fields, EmbedField{
			Name:  "Summary",
			Value: truncate(post.Summary, maxFieldLength),
		})
	}

	if len(post.Tags) > 0 {
		tags := make([]string, len(post.Tags))
		for i, tag := range post.Tags {
			tags[i] = "#" + strings.TrimPrefix(tag, "#")
		}
		e.Fields = append(e.Fields, EmbedField{
			Name:   "Tags",
			Value:  truncate(strings.Join(tags, " "), maxFieldLength),
			Inline: true,
		})
	}

	e.Footer = &EmbedFooter{
		Text: fmt.Sprintf("Posted: %s", post.Name),
	}
}

func (e *Embed) Into() *discordgo.MessageEmbed {
	dgEmbed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
		Timestamp:   e.Timestamp,
	}

	for _, field := range e.Fields {
		dgEmbed.Fields = append(dgEmbed.Fields, &discordgo.MessageEmbedField{
			Name:   field.Name,
			Value:  field.Value,
			Inline: field.Inline,
		})
	}

	if e.Footer != nil {
		dgEmbed.Footer = &discordgo.MessageEmbedFooter{
			Text:    e.Footer.Text,
			IconURL: e.Footer.IconURL,
		}
	}

	return dgEmbed
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
