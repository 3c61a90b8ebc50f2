package bot

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"astromech/internal/analytics"
	"astromech/internal/audit"
	"astromech/internal/config"
	"astromech/internal/filter"
	"astromech/internal/leveling"
	"astromech/internal/relay"
	"astromech/internal/rules"
	"astromech/internal/storage"
	"astromech/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	rules     *rules.Store
	leveling  *leveling.Module
	audit     *audit.Logger
	analytics *analytics.Service
	pipeline  *relay.Pipeline
	session   *discordgo.Session

	filterMu sync.RWMutex
	filter   *filter.Filter

	boomWindow *utils.SlidingWindow
	startedAt  time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

var beepReplies = []string{
	"Beep boop!",
	"Bwoop bweep bweep!",
	"Dweet deet doot?",
	"Vrrrrp beep!",
	"Boop boop dweeeo!",
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, ruleStore *rules.Store, levelingModule *leveling.Module, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	// Deleted messages can only be relayed while their content is still in
	// the state cache.
	session.State.MaxMessageCount = 2000

	b := &Bot{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		rules:      ruleStore,
		leveling:   levelingModule,
		audit:      auditLogger,
		analytics:  analyticsService,
		session:    session,
		filter:     filter.New(ruleStore.Snapshot(), logger),
		boomWindow: utils.NewSlidingWindow(time.Duration(cfg.Boom.RateWindowSeconds) * time.Second),
		startedAt:  time.Now(),
		stopped:    make(chan struct{}),
	}

	b.pipeline = relay.NewPipeline(
		&sessionPlatform{session: session},
		ruleStore,
		relay.NewSuppressed(),
		auditLogger,
		logger,
		cfg.Channels.Logs,
		time.Duration(cfg.Relay.CallTimeoutSeconds)*time.Second,
	)

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageDelete)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

// Done is closed when the shutdown command asks the process to exit.
func (b *Bot) Done() <-chan struct{} {
	return b.stopped
}

func (b *Bot) stop() {
	b.stopOnce.Do(func() { close(b.stopped) })
}

func (b *Bot) currentFilter() *filter.Filter {
	b.filterMu.RLock()
	defer b.filterMu.RUnlock()
	return b.filter
}

func (b *Bot) reloadFilter() {
	f := filter.New(b.rules.Snapshot(), b.logger)
	b.filterMu.Lock()
	b.filter = f
	b.filterMu.Unlock()
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.pipeline.SetSelf(session.State.User.ID)
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Guild.Unavailable {
		return
	}
	if b.hasAdminPermission(event.Guild) {
		return
	}
	channelID := b.staffChannelID(event.Guild.ID)
	if channelID == "" {
		return
	}
	msg := "I am missing the Administrator permission in this server. Some moderation commands will not work."
	if _, err := session.ChannelMessageSend(channelID, msg); err != nil {
		b.logger.Warn("admin warning failed", zap.String("guild_id", event.Guild.ID), zap.Error(err))
	}
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}

	ctx := context.Background()

	if b.mentionsBot(msg.Message) {
		reply := beepReplies[rand.Intn(len(beepReplies))]
		if _, err := session.ChannelMessageSend(msg.ChannelID, reply); err != nil {
			b.logger.Warn("beep reply failed", zap.Error(err))
		}
		return
	}

	if blocked, rule := b.currentFilter().Evaluate(msg.Content); blocked {
		b.removeFilteredMessage(ctx, session, msg, rule)
		return
	}

	result, err := b.leveling.AwardXP(ctx, msg.Author.ID)
	if err != nil {
		b.logger.Warn("xp award failed", zap.String("user_id", msg.Author.ID), zap.Error(err))
		return
	}
	if result.LeveledUp {
		announcement := fmt.Sprintf("Congrats <@%s>! You reached **Level %d**!", msg.Author.ID, result.Level)
		if _, err := session.ChannelMessageSend(msg.ChannelID, announcement); err != nil {
			b.logger.Warn("level announcement failed", zap.Error(err))
		}
	}
}

func (b *Bot) removeFilteredMessage(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, rule string) {
	// Mark before the delete so the relay swallows the resulting event.
	b.pipeline.Suppressed().Mark(msg.ID)
	if err := session.ChannelMessageDelete(msg.ChannelID, msg.ID); err != nil {
		b.pipeline.Suppressed().Unmark(msg.ID)
		b.logger.Warn("filtered message delete failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	notice := fmt.Sprintf("Removed a message from <@%s> (rule: %s).", msg.Author.ID, rule)
	if _, err := session.ChannelMessageSend(msg.ChannelID, notice); err != nil {
		b.logger.Warn("removal notice failed", zap.Error(err))
	}
	b.audit.Log(ctx, msg.GuildID, msg.Author.ID, audit.EventFilterBlock, "rule="+rule)
}

func (b *Bot) onMessageDelete(session *discordgo.Session, event *discordgo.MessageDelete) {
	if event.GuildID == "" {
		return
	}

	cached := event.BeforeDelete
	if cached == nil || cached.Author == nil {
		// Content already evicted from the cache; the suppression set still
		// needs to be drained for our own deletes.
		b.pipeline.Suppressed().Consume(event.ID)
		return
	}

	channelName := ""
	if channel, err := session.State.Channel(event.ChannelID); err == nil && channel != nil {
		channelName = channel.Name
	}

	d := relay.Deletion{
		MessageID:      event.ID,
		GuildID:        event.GuildID,
		ChannelID:      event.ChannelID,
		ChannelName:    channelName,
		Content:        cached.Content,
		AuthorID:       cached.Author.ID,
		AuthorUsername: cached.Author.Username,
		AuthorDisplay:  b.displayName(event.GuildID, cached.Author),
		AuthorAvatar:   cached.Author.AvatarURL(""),
		AuthorRoles:    b.memberRoleNames(event.GuildID, cached.Author.ID),
	}
	b.pipeline.HandleDelete(context.Background(), d)
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	general, ok := b.channelByName(event.GuildID, b.cfg.Channels.General)
	if !ok {
		return
	}

	guildName := ""
	if guild, err := session.State.Guild(event.GuildID); err == nil && guild != nil {
		guildName = guild.Name
	}
	welcome := welcomeMessage(guildName, event.User.ID)
	if _, err := session.ChannelMessageSend(general, welcome); err != nil {
		b.logger.Warn("welcome message failed", zap.String("guild_id", event.GuildID), zap.Error(err))
	}
}

// welcomeMessage greets new members; the open circle fleet gets its ship
// greeting.
func welcomeMessage(guildName, userID string) string {
	if strings.EqualFold(guildName, "the open circle fleet") {
		return fmt.Sprintf("Welcome aboard the Negotiator, <@%s>!", userID)
	}
	return fmt.Sprintf("Welcome, <@%s>! Glad to have you here.", userID)
}

func (b *Bot) mentionsBot(msg *discordgo.Message) bool {
	if b.session.State.User == nil {
		return false
	}
	selfID := b.session.State.User.ID
	for _, user := range msg.Mentions {
		if user != nil && user.ID == selfID {
			return true
		}
	}
	return false
}

func (b *Bot) displayName(guildID string, user *discordgo.User) string {
	if member, err := b.session.State.Member(guildID, user.ID); err == nil && member != nil && member.Nick != "" {
		return member.Nick
	}
	return user.Username
}

func (b *Bot) memberRoleNames(guildID, userID string) []string {
	guild, err := b.session.State.Guild(guildID)
	if err != nil || guild == nil {
		return nil
	}
	member, err := b.session.State.Member(guildID, userID)
	if err != nil || member == nil {
		member, _ = b.session.GuildMember(guildID, userID)
	}
	if member == nil {
		return nil
	}

	byID := make(map[string]string, len(guild.Roles))
	for _, role := range guild.Roles {
		if role != nil {
			byID[role.ID] = role.Name
		}
	}
	names := make([]string, 0, len(member.Roles))
	for _, roleID := range member.Roles {
		if name, ok := byID[roleID]; ok {
			names = append(names, name)
		}
	}
	return names
}

func (b *Bot) channelByName(guildID, name string) (string, bool) {
	guild, err := b.session.State.Guild(guildID)
	if err != nil || guild == nil {
		return "", false
	}
	for _, channel := range guild.Channels {
		if channel == nil {
			continue
		}
		if channel.Type != discordgo.ChannelTypeGuildText && channel.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		if strings.EqualFold(channel.Name, name) {
			return channel.ID, true
		}
	}
	return "", false
}

// staffChannelID resolves the moderators channel with the general channel as
// fallback.
func (b *Bot) staffChannelID(guildID string) string {
	if id, ok := b.channelByName(guildID, b.cfg.Channels.Moderators); ok {
		return id
	}
	if id, ok := b.channelByName(guildID, b.cfg.Channels.General); ok {
		return id
	}
	return ""
}

func (b *Bot) hasAdminPermission(guild *discordgo.Guild) bool {
	if b.session.State.User == nil {
		return false
	}
	var member *discordgo.Member
	for _, m := range guild.Members {
		if m != nil && m.User != nil && m.User.ID == b.session.State.User.ID {
			member = m
			break
		}
	}
	if member == nil {
		member, _ = b.session.GuildMember(guild.ID, b.session.State.User.ID)
	}
	if member == nil {
		return false
	}

	perms := int64(0)
	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		if role == nil {
			continue
		}
		roleMap[role.ID] = role
		if role.ID == guild.ID {
			perms |= role.Permissions
		}
	}
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms&discordgo.PermissionAdministrator != 0
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		b.logger.Warn("interaction response failed", zap.Error(err))
	}
}
