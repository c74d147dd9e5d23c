package platforms

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Go-555/github-actions-note/internal/config"
)

// Sender is the slice of the Discord REST API the announcement target uses.
type Sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ForumThreadStartEmbed(channelID, threadName string, archiveDuration int, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

type DiscordPlatform struct {
	botToken string
	sleep    time.Duration
	session  *discordgo.Session
}

func NewDiscordPlatform(settings map[string]interface{}, sleepStr string) (*DiscordPlatform, error) {
	token := config.GetString(settings, "bot_token", "")
	if token == "" {
		return nil, fmt.Errorf("discord platform: bot_token is required")
	}

	sleep := 1 * time.Second
	if sleepStr != "" {
		if s, err := time.ParseDuration(sleepStr); err == nil {
			sleep = s
		}
	}

	return &DiscordPlatform{
		botToken: token,
		sleep:    sleep,
	}, nil
}

// Initialize creates a REST session. Announcements never need the gateway,
// so the websocket is not opened.
func (p *DiscordPlatform) Initialize(ctx context.Context) error {
	session, err := discordgo.New("Bot " + p.botToken)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}

	p.session = session
	return nil
}

func (p *DiscordPlatform) Close(ctx context.Context) error {
	if p.session != nil {
		return p.session.Close()
	}
	return nil
}

func (p *DiscordPlatform) Session() *discordgo.Session {
	return p.session
}

func (p *DiscordPlatform) Sender() Sender {
	if p.session == nil {
		return nil
	}
	return p.session
}

func (p *DiscordPlatform) SleepDuration() time.Duration {
	return p.sleep
}
