package bot

import "github.com/bwmarrin/discordgo"

func (b *Bot) registerCommands() error {
	minAmount := float64(1)
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "wipe",
			Description: "Delete your recent messages in this channel",
		},
		{
			Name:        "terminate",
			Description: "Kick a member from the server",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "member",
					Description: "member to kick",
					Required:    true,
				},
			},
		},
		{
			Name:        "mute",
			Description: "Time a member out for ten minutes",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "member",
					Description: "member to mute",
					Required:    true,
				},
			},
		},
		{
			Name:        "boom",
			Description: "Ping everyone, repeatedly",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "number of pings (max 20)",
					Required:    false,
					MinValue:    &minAmount,
					MaxValue:    20,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "added_message",
					Description: "message to attach to each ping",
					Required:    false,
				},
			},
		},
		{
			Name:        "bypass",
			Description: "Re-post content under your own webhook identity",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "content",
					Description: "content to post",
					Required:    true,
				},
			},
		},
		{
			Name:        "config_reload",
			Description: "Reload the moderation rule files",
		},
		{
			Name:        "debug_info",
			Description: "Show runtime and moderation statistics",
		},
		{
			Name:        "checkrank",
			Description: "Show your current rank",
		},
		{
			Name:        "shutdown",
			Description: "Shut the bot down (owner only)",
		},
	}

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}

	for _, guild := range b.session.State.Guilds {
		if guild == nil {
			continue
		}
		guildCmds, err := b.session.ApplicationCommands(appID, guild.ID)
		if err != nil {
			continue
		}
		for _, cmd := range guildCmds {
			if _, ok := desired[cmd.Name]; ok {
				continue
			}
			_ = b.session.ApplicationCommandDelete(appID, guild.ID, cmd.ID)
		}
	}
	return nil
}
