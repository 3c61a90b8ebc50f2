package bot

import (
	"context"
	"errors"
	"strings"

	"astromech/internal/relay"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"
)

// sessionPlatform adapts a discordgo session to the narrow interfaces the
// relay pipeline consumes.
type sessionPlatform struct {
	session *discordgo.Session
}

func (p *sessionPlatform) ChannelByName(guildID, name string) (relay.Channel, bool) {
	guild, err := p.session.State.Guild(guildID)
	if err != nil || guild == nil {
		return relay.Channel{}, false
	}
	for _, channel := range guild.Channels {
		if channel == nil {
			continue
		}
		if channel.Type != discordgo.ChannelTypeGuildText && channel.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		if strings.EqualFold(channel.Name, name) {
			return relay.Channel{ID: channel.ID, Name: channel.Name}, true
		}
	}
	return relay.Channel{}, false
}

func (p *sessionPlatform) CanManageWebhooks(channelID string) bool {
	if p.session.State.User == nil {
		return false
	}
	perms, err := p.session.State.UserChannelPermissions(p.session.State.User.ID, channelID)
	if err != nil {
		return false
	}
	return perms&discordgo.PermissionManageWebhooks != 0
}

func (p *sessionPlatform) SendMessage(ctx context.Context, channelID, content string) error {
	_, err := p.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return err
}

func (p *sessionPlatform) CreateWebhook(ctx context.Context, channelID, name string) (string, string, error) {
	webhook, err := p.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return "", "", err
	}
	return webhook.ID, webhook.Token, nil
}

func (p *sessionPlatform) SendWebhook(ctx context.Context, id, token, name, avatarURL, content string) error {
	_, err := p.session.WebhookExecute(id, token, true, &discordgo.WebhookParams{
		Content:   content,
		Username:  name,
		AvatarURL: avatarURL,
	}, discordgo.WithContext(ctx))
	if err != nil && !isRetryable(err) {
		return backoff.Permanent(err)
	}
	return err
}

func (p *sessionPlatform) DeleteWebhook(ctx context.Context, id string) error {
	return p.session.WebhookDelete(id, discordgo.WithContext(ctx))
}

func (p *sessionPlatform) MessageHistory(ctx context.Context, channelID string, limit int) ([]relay.HistoryMessage, error) {
	messages, err := p.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	history := make([]relay.HistoryMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil || msg.Author == nil {
			continue
		}
		history = append(history, relay.HistoryMessage{ID: msg.ID, AuthorID: msg.Author.ID})
	}
	return history, nil
}

func (p *sessionPlatform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return p.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

// isRetryable classifies REST failures for the webhook retry policy. Only
// rate limits and server-side errors are worth a second attempt.
func isRetryable(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		return code == 429 || code >= 500
	}
	// Transport-level failures (timeouts, resets) stay retryable.
	return true
}
