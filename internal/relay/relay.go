package relay

import (
	"context"
	"fmt"
	"time"

	"astromech/internal/audit"
	"astromech/internal/rules"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Channel is the slice of platform channel state the pipeline needs.
type Channel struct {
	ID   string
	Name string
}

// HistoryMessage is one entry of a channel history scan.
type HistoryMessage struct {
	ID       string
	AuthorID string
}

// The pipeline talks to the chat platform only through these capability
// interfaces, so it can run against fakes in tests.
type ChannelFinder interface {
	ChannelByName(guildID, name string) (Channel, bool)
}

type CapabilityProber interface {
	CanManageWebhooks(channelID string) bool
}

type MessageSender interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

type WebhookSender interface {
	CreateWebhook(ctx context.Context, channelID, name string) (id, token string, err error)
	SendWebhook(ctx context.Context, id, token, name, avatarURL, content string) error
	DeleteWebhook(ctx context.Context, id string) error
}

type HistoryAccess interface {
	MessageHistory(ctx context.Context, channelID string, limit int) ([]HistoryMessage, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type Platform interface {
	ChannelFinder
	CapabilityProber
	MessageSender
	WebhookSender
	HistoryAccess
}

// Deletion is a message-deleted notification, flattened to what the state
// machine consumes.
type Deletion struct {
	MessageID      string
	GuildID        string
	ChannelID      string
	ChannelName    string
	Content        string
	AuthorID       string
	AuthorUsername string
	AuthorDisplay  string
	AuthorAvatar   string
	AuthorRoles    []string
}

func (d Deletion) mention() string {
	return "<@" + d.AuthorID + ">"
}

// Outcome is the terminal disposition of one deletion event.
type Outcome int

const (
	OutcomeSuppressed Outcome = iota
	OutcomeExempt
	OutcomeRelayed
	OutcomeFallback
	OutcomeFailed
)

// Pipeline decides, per message-deleted event, whether to suppress, log,
// and re-post the deleted content under a temporary webhook identity.
type Pipeline struct {
	platform    Platform
	rules       *rules.Store
	suppressed  *Suppressed
	audit       *audit.Logger
	logger      *zap.Logger
	logsChannel string
	callTimeout time.Duration
	selfID      string
}

func NewPipeline(platform Platform, ruleStore *rules.Store, suppressed *Suppressed, auditLogger *audit.Logger, logger *zap.Logger, logsChannel string, callTimeout time.Duration) *Pipeline {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Pipeline{
		platform:    platform,
		rules:       ruleStore,
		suppressed:  suppressed,
		audit:       auditLogger,
		logger:      logger,
		logsChannel: logsChannel,
		callTimeout: callTimeout,
	}
}

// SetSelf records the bot's own user id once the session is ready; the
// bot's own deletions are never relayed.
func (p *Pipeline) SetSelf(userID string) {
	p.selfID = userID
}

func (p *Pipeline) Suppressed() *Suppressed {
	return p.suppressed
}

// HandleDelete runs the relay state machine for one deletion. Order:
// self-suppression, then exemption, then the webhook capability branch.
func (p *Pipeline) HandleDelete(ctx context.Context, d Deletion) Outcome {
	if p.suppressed.Consume(d.MessageID) {
		p.audit.Log(ctx, d.GuildID, d.AuthorID, audit.EventDeleteSuppressed, "message_id="+d.MessageID)
		return OutcomeSuppressed
	}

	if d.AuthorID == p.selfID {
		return OutcomeExempt
	}
	if p.rules.Snapshot().Whitelist.IsLoggingExempt(d.AuthorUsername, d.AuthorRoles) {
		return OutcomeExempt
	}

	if !p.platform.CanManageWebhooks(d.ChannelID) {
		// No impersonation capability: quote the author in place instead.
		content := fmt.Sprintf("<%s> %q", d.mention(), d.Content)
		if err := p.platform.SendMessage(ctx, d.ChannelID, content); err != nil {
			p.logger.Warn("fallback log failed", zap.String("channel_id", d.ChannelID), zap.Error(err))
			return OutcomeFailed
		}
		return OutcomeFallback
	}

	if logs, ok := p.platform.ChannelByName(d.GuildID, p.logsChannel); ok {
		content := fmt.Sprintf("%s: %q", d.mention(), d.Content)
		if err := p.platform.SendMessage(ctx, logs.ID, content); err != nil {
			p.logger.Warn("logs channel write failed", zap.String("channel_id", logs.ID), zap.Error(err))
		}
	}

	target, ok := p.platform.ChannelByName(d.GuildID, d.ChannelName)
	if !ok {
		return OutcomeFailed
	}
	name := IdentityName(d.AuthorUsername, d.AuthorDisplay)
	if err := p.Impersonate(ctx, target.ID, name, d.AuthorAvatar, d.Content); err != nil {
		// Deliberately no fall-through to the plain branch: a failed
		// webhook relay leaves the deletion unlogged in that channel.
		p.logger.Warn("webhook relay failed", zap.String("channel_id", target.ID), zap.Error(err))
		return OutcomeFailed
	}

	p.audit.Log(ctx, d.GuildID, d.AuthorID, audit.EventMessageRelayed, "channel="+d.ChannelName)
	return OutcomeRelayed
}

// IdentityName is the display identity of a webhook re-post: the account
// name alone when it matches the display name, otherwise both.
func IdentityName(username, display string) string {
	if username == display || display == "" {
		return username
	}
	return username + " (" + display + ")"
}

// Impersonate re-posts content under a temporary webhook identity. The
// webhook is scoped create → send → delete; teardown runs on every path,
// including send failure. The send is retried once; the platform adapter
// marks non-retryable errors permanent.
func (p *Pipeline) Impersonate(ctx context.Context, channelID, name, avatarURL, content string) error {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	id, token, err := p.platform.CreateWebhook(ctx, channelID, name)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	defer func() {
		// Teardown gets its own deadline so a timed-out send cannot
		// leave the webhook behind.
		delCtx, delCancel := context.WithTimeout(context.Background(), p.callTimeout)
		defer delCancel()
		if err := p.platform.DeleteWebhook(delCtx, id); err != nil {
			p.logger.Warn("webhook teardown failed", zap.String("webhook_id", id), zap.Error(err))
		}
	}()

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 1), ctx)
	send := func() error {
		return p.platform.SendWebhook(ctx, id, token, name, avatarURL, content)
	}
	if err := backoff.Retry(send, policy); err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	return nil
}
