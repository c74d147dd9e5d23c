package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/Go-555/github-actions-note/internal/platforms"
	"github.com/Go-555/github-actions-note/internal/types"
)

const (
	ChannelText  = "text"
	ChannelForum = "forum"

	// minutes before an idle forum thread is archived
	forumArchiveMinutes = 1440
	maxThreadName       = 100
)

type Target struct {
	name        string
	sender      platforms.Sender
	channelID   string
	channelType string
	sleep       time.Duration
}

func New(name, channelID, channelType string, sender platforms.Sender, sleep time.Duration) *Target {
	if channelType == "" {
		channelType = ChannelText
	}
	return &Target{
		name:        name,
		sender:      sender,
		channelID:   channelID,
		channelType: channelType,
		sleep:       sleep,
	}
}

func (d *Target) Name() string {
	return d.name
}

func (d *Target) Initialize(ctx context.Context) error {
	if d.sender == nil {
		return fmt.Errorf("discord target %s: platform not configured", d.name)
	}
	if d.channelID == "" {
		return fmt.Errorf("discord target %s: channel_id is required", d.name)
	}
	switch d.channelType {
	case ChannelText, ChannelForum:
		return nil
	default:
		return fmt.Errorf("discord target %s: unsupported channel type: %s", d.name, d.channelType)
	}
}

// Sleep spaces out consecutive sends to stay clear of rate limits.
func (d *Target) Sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.sleep):
		return nil
	}
}

func (d *Target) Publish(ctx context.Context, post *types.Post) (*types.PublishResult, error) {
	var embed Embed
	embed.From(post)

	var messageID string
	var err error

	switch d.channelType {
	case ChannelForum:
		messageID, err = d.createForumThread(post, &embed)
	default:
		messageID, err = d.sendMessage(&embed)
	}

	if err != nil {
		return &types.PublishResult{
			Success:   false,
			Target:    d.name,
			ItemID:    post.ID,
			Timestamp: time.Now(),
			Error:     err,
		}, err
	}

	return &types.PublishResult{
		Success:   true,
		Target:    d.name,
		ItemID:    post.ID,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"message_id": messageID,
			"channel_id": d.channelID,
		},
	}, nil
}

func (d *Target) createForumThread(post *types.Post, embed *Embed) (string, error) {
	title := post.Title
	if title == "" {
		title = "Untitled"
	}

	thread, err := d.sender.ForumThreadStartEmbed(d.channelID, truncate(title, maxThreadName), forumArchiveMinutes, embed.Into())
	if err != nil {
		return "", fmt.Errorf("failed to create forum thread: %w", err)
	}

	return thread.ID, nil
}

func (d *Target) sendMessage(embed *Embed) (string, error) {
	msg, err := d.sender.ChannelMessageSendEmbed(d.channelID, embed.Into())
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	return msg.ID, nil
}

func (d *Target) Shutdown(ctx context.Context) error {
	return nil
}
