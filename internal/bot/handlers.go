package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"astromech/internal/analytics"
	"astromech/internal/audit"
	"astromech/internal/leveling"
	"astromech/internal/relay"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		b.respond(session, interaction, "This command only works inside a server.", true)
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "wipe":
		b.handleWipe(ctx, session, interaction)
	case "terminate":
		b.handleTerminate(ctx, session, interaction, data.Options)
	case "mute":
		b.handleMute(ctx, session, interaction, data.Options)
	case "boom":
		b.handleBoom(ctx, session, interaction, data.Options)
	case "bypass":
		b.handleBypass(ctx, session, interaction, data.Options)
	case "config_reload":
		b.handleConfigReload(ctx, session, interaction)
	case "debug_info":
		b.handleDebugInfo(ctx, session, interaction)
	case "checkrank":
		b.handleCheckRank(ctx, session, interaction)
	case "shutdown":
		b.handleShutdown(ctx, session, interaction)
	default:
		b.respond(session, interaction, "Unknown command.", true)
	}
}

func (b *Bot) invokerIsStaff(interaction *discordgo.InteractionCreate) bool {
	username := interaction.Member.User.Username
	roles := b.roleNames(interaction.GuildID, interaction.Member.Roles)
	return b.rules.Snapshot().Whitelist.IsStaff(username, roles)
}

func (b *Bot) roleNames(guildID string, roleIDs []string) []string {
	guild, err := b.session.State.Guild(guildID)
	if err != nil || guild == nil {
		return nil
	}
	byID := make(map[string]string, len(guild.Roles))
	for _, role := range guild.Roles {
		if role != nil {
			byID[role.ID] = role.Name
		}
	}
	names := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

func (b *Bot) handleWipe(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	selfID := ""
	if session.State.User != nil {
		selfID = session.State.User.ID
	}
	perms, err := session.State.UserChannelPermissions(selfID, interaction.ChannelID)
	if err != nil || perms&discordgo.PermissionManageMessages == 0 {
		b.respond(session, interaction, "I need the Manage Messages permission in this channel.", true)
		return
	}

	// History scans can outlive the three-second interaction window.
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		b.logger.Warn("wipe defer failed", zap.Error(err))
		return
	}

	deleted, err := b.pipeline.Wipe(ctx, interaction.GuildID, interaction.ChannelID, interaction.Member.User.ID, b.cfg.Wipe.ScanLimit)
	content := fmt.Sprintf("Deleted %d of your messages.", deleted)
	if err != nil {
		b.logger.Warn("wipe failed", zap.Error(err))
		content = "Could not scan the channel history."
	}
	if _, err := session.FollowupMessageCreate(interaction.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		b.logger.Warn("wipe followup failed", zap.Error(err))
	}
}

func (b *Bot) handleTerminate(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.invokerIsStaff(interaction) {
		b.respond(session, interaction, "You are not authorized to use this command.", true)
		return
	}
	target := userOption(session, options, "member")
	if target == nil {
		b.respond(session, interaction, "No member given.", true)
		return
	}

	reason := "terminated by " + interaction.Member.User.Username
	if err := session.GuildMemberDeleteWithReason(interaction.GuildID, target.ID, reason); err != nil {
		switch restStatus(err) {
		case 403:
			b.respond(session, interaction, "I am not allowed to kick that member.", true)
		case 404:
			b.respond(session, interaction, "That member is not in this server.", true)
		default:
			b.logger.Warn("terminate failed", zap.String("user_id", target.ID), zap.Error(err))
			b.respond(session, interaction, "Kick failed.", true)
		}
		return
	}

	b.audit.Log(ctx, interaction.GuildID, target.ID, audit.EventTerminate, "by="+interaction.Member.User.ID)
	b.respond(session, interaction, fmt.Sprintf("**%s** has been terminated.", target.Username), false)
}

func (b *Bot) handleMute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.invokerIsStaff(interaction) {
		b.respond(session, interaction, "You are not authorized to use this command.", true)
		return
	}
	target := userOption(session, options, "member")
	if target == nil {
		b.respond(session, interaction, "No member given.", true)
		return
	}

	until := time.Now().Add(10 * time.Minute)
	if err := session.GuildMemberTimeout(interaction.GuildID, target.ID, &until); err != nil {
		if restStatus(err) == 403 {
			b.respond(session, interaction, "I am not allowed to mute that member.", true)
			return
		}
		b.logger.Warn("mute failed", zap.String("user_id", target.ID), zap.Error(err))
		b.respond(session, interaction, "Mute failed.", true)
		return
	}

	b.audit.Log(ctx, interaction.GuildID, target.ID, audit.EventMute, "minutes=10 by="+interaction.Member.User.ID)
	b.respond(session, interaction, fmt.Sprintf("**%s** is muted for 10 minutes.", target.Username), false)
}

func (b *Bot) handleBoom(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.invokerIsStaff(interaction) {
		b.respond(session, interaction, "You are not authorized to use this command.", true)
		return
	}

	amount := 1
	added := ""
	for _, opt := range options {
		switch opt.Name {
		case "amount":
			amount = int(opt.IntValue())
		case "added_message":
			added = opt.StringValue()
		}
	}
	if amount < 1 {
		amount = 1
	}
	if amount > b.cfg.Boom.MaxCount {
		amount = b.cfg.Boom.MaxCount
	}

	if b.boomWindow.Add(time.Now()) > b.cfg.Boom.RateLimitBursts {
		b.respond(session, interaction, "Too many booms, slow down.", true)
		return
	}

	b.respond(session, interaction, fmt.Sprintf("Boom x%d incoming.", amount), true)

	line := "@everyone"
	if added != "" {
		line += " " + added
	}
	for i := 0; i < amount; i++ {
		if _, err := session.ChannelMessageSend(interaction.ChannelID, line); err != nil {
			b.logger.Warn("boom send failed", zap.Error(err))
			break
		}
	}
	b.audit.Log(ctx, interaction.GuildID, interaction.Member.User.ID, audit.EventBoom, fmt.Sprintf("amount=%d", amount))
}

func (b *Bot) handleBypass(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	content := ""
	for _, opt := range options {
		if opt.Name == "content" {
			content = opt.StringValue()
		}
	}
	if content == "" {
		b.respond(session, interaction, "Nothing to post.", true)
		return
	}

	user := interaction.Member.User
	name := relay.IdentityName(user.Username, b.displayName(interaction.GuildID, user))
	if err := b.pipeline.Impersonate(ctx, interaction.ChannelID, name, user.AvatarURL(""), content); err != nil {
		b.logger.Warn("bypass failed", zap.String("user_id", user.ID), zap.Error(err))
		b.respond(session, interaction, "Could not post through a webhook here.", true)
		return
	}
	b.respond(session, interaction, "Posted.", true)
}

func (b *Bot) handleConfigReload(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if !b.invokerIsStaff(interaction) {
		b.respond(session, interaction, "You are not authorized to use this command.", true)
		return
	}

	if err := b.rules.Load(); err != nil {
		b.logger.Warn("rules reload failed", zap.Error(err))
		b.respond(session, interaction, "Reload failed; previous rules remain active.", true)
		return
	}
	b.reloadFilter()

	b.audit.Log(ctx, interaction.GuildID, interaction.Member.User.ID, audit.EventConfigReload, "")
	b.respond(session, interaction, "Rules reloaded.", true)
}

func (b *Bot) handleDebugInfo(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	report, err := b.analytics.Report(ctx, interaction.GuildID, time.Now().Add(-24*time.Hour))
	if err != nil {
		b.logger.Warn("debug report failed", zap.Error(err))
	}

	lines := []string{
		fmt.Sprintf("Uptime: %s", time.Since(b.startedAt).Round(time.Second)),
		fmt.Sprintf("Guilds: %d", len(session.State.Guilds)),
		fmt.Sprintf("Pending suppressions: %d", b.pipeline.Suppressed().Len()),
		"Last 24h: " + formatReport(report),
	}
	b.respond(session, interaction, strings.Join(lines, "\n"), true)
}

func (b *Bot) handleCheckRank(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	userID := interaction.Member.User.ID
	level, ok, err := b.leveling.Level(ctx, userID)
	if err != nil {
		b.logger.Warn("rank lookup failed", zap.String("user_id", userID), zap.Error(err))
		b.respond(session, interaction, "Rank lookup failed.", true)
		return
	}
	if !ok {
		b.respond(session, interaction, "You have no XP yet. Rank: **Ensign**.", true)
		return
	}
	b.respond(session, interaction, fmt.Sprintf("Level %d. Rank: **%s**.", level, leveling.RankName(level)), true)
}

func (b *Bot) handleShutdown(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if b.cfg.OwnerID == "" || interaction.Member.User.ID != b.cfg.OwnerID {
		b.respond(session, interaction, "Only the bot owner can do that.", true)
		return
	}

	b.respond(session, interaction, "Shutting down.", true)
	b.audit.Log(ctx, interaction.GuildID, interaction.Member.User.ID, audit.EventShutdown, "")

	for _, guild := range session.State.Guilds {
		if guild == nil {
			continue
		}
		channelID := b.staffChannelID(guild.ID)
		if channelID == "" {
			continue
		}
		if _, err := session.ChannelMessageSend(channelID, "Astromech is powering down. Back soon."); err != nil {
			b.logger.Warn("shutdown notice failed", zap.String("guild_id", guild.ID), zap.Error(err))
		}
	}

	b.stop()
}

func userOption(session *discordgo.Session, options []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.User {
	for _, opt := range options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionUser {
			return opt.UserValue(session)
		}
	}
	return nil
}

func restStatus(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode
	}
	return 0
}

func formatReport(report analytics.Report) string {
	if report.Total == 0 {
		return "no recorded events"
	}
	events := make([]string, 0, len(report.ByEvent))
	for event := range report.ByEvent {
		events = append(events, event)
	}
	sort.Strings(events)

	parts := make([]string, 0, len(events)+1)
	parts = append(parts, fmt.Sprintf("total %d", report.Total))
	for _, event := range events {
		parts = append(parts, fmt.Sprintf("%s %d", event, report.ByEvent[event]))
	}
	return strings.Join(parts, " | ")
}
