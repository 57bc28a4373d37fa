package banter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Slash command names.
const (
	CommandActivate   = "activate"
	CommandDeactivate = "deactivate"
	CommandBlocklist  = "blocklist"
	CommandChannels   = "channels"
	CommandTrigger    = "trigger"
	CommandReviveChat = "revivechat"
	CommandWelcome    = "welcome"
	CommandSay        = "say"
)

const commandTimeout = 15 * time.Second

// applicationCommands returns the bot's full slash command set, sent to
// the bulk overwrite endpoint on startup.
func applicationCommands() []*discordgo.ApplicationCommand {
	dmPermission := false
	manageServer := int64(discordgo.PermissionManageServer)

	return []*discordgo.ApplicationCommand{
		{
			Name:                     CommandActivate,
			Description:              "Respond to every message in this channel",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageServer,
		},
		{
			Name:                     CommandDeactivate,
			Description:              "Stop responding to every message in this channel",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageServer,
		},
		{
			Name:                     CommandBlocklist,
			Description:              "Manage users the bot ignores",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Ignore a user",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "User to ignore",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Stop ignoring a user",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "User to stop ignoring",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:                     CommandChannels,
			Description:              "Manage where the bot responds",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "blacklist",
					Description: "Exclude a channel (switches the server to blacklist mode)",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Channel to exclude",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "whitelist",
					Description: "Allow only listed channels (switches the server to whitelist mode)",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Channel to allow",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove a channel from both lists",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Channel to remove",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "clear",
					Description: "Clear both channel lists",
				},
			},
		},
		{
			Name:                     CommandTrigger,
			Description:              "Manage trigger words for this server",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Add a trigger word",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "word",
							Description: "Word that makes the bot respond",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove a trigger word",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "word",
							Description: "Word to remove",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List this server's trigger words",
				},
			},
		},
		{
			Name:                     CommandReviveChat,
			Description:              "Periodically post a message to spark conversation",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Enable scheduled revival messages",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Channel to post in",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "interval",
							Description: "How often, e.g. 1h30m (1m to 24h)",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "Role to mention",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Disable scheduled revival messages",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "status",
					Description: "Show the current revival schedule",
				},
			},
		},
		{
			Name:                     CommandWelcome,
			Description:              "Welcome new members with a generated message",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Enable welcome messages",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Channel to welcome new members in",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Disable welcome messages",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "status",
					Description: "Show the welcome message configuration",
				},
			},
		},
		{
			Name:                     CommandSay,
			Description:              "Make the bot say something",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message",
					Description: "What to say",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel to say it in (defaults to here)",
				},
			},
		},
	}
}

// CommandHandler executes slash commands against storage and the revive
// manager, answering with ephemeral messages.
type CommandHandler struct {
	db      *Database
	discord *Discord
	revive  *ReviveManager
	logger  *slog.Logger
}

func newCommandHandler(
	db *Database,
	discord *Discord,
	revive *ReviveManager,
	logger *slog.Logger,
) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandHandler{
		db:      db,
		discord: discord,
		revive:  revive,
		logger:  logger.With(loggerNameKey, "commands"),
	}
}

func (h *CommandHandler) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		name := i.ApplicationCommandData().Name
		log := h.logger.With(
			"command", name,
			"guild_id", i.GuildID,
			"channel_id", i.ChannelID,
		)
		ctx = WithLogger(ctx, log)

		if i.GuildID == "" {
			h.respondText(i, "This command only works in a server.")
			return
		}
		if !memberCanManageServer(i) {
			h.respondText(i, "You need the Manage Server permission for that.")
			return
		}

		var reply string
		var err error
		switch name {
		case CommandActivate:
			reply, err = h.handleActivate(ctx, i)
		case CommandDeactivate:
			reply, err = h.handleDeactivate(ctx, i)
		case CommandBlocklist:
			reply, err = h.handleBlocklist(ctx, i)
		case CommandChannels:
			reply, err = h.handleChannels(ctx, i)
		case CommandTrigger:
			reply, err = h.handleTrigger(ctx, i)
		case CommandReviveChat:
			reply, err = h.handleReviveChat(ctx, i)
		case CommandWelcome:
			reply, err = h.handleWelcome(ctx, i)
		case CommandSay:
			reply, err = h.handleSay(ctx, i)
		default:
			log.Warn("unknown command")
			return
		}
		if err != nil {
			log.Error("command failed", tint.Err(err))
			reply = "Something went wrong, try again in a moment."
		}
		h.respondText(i, reply)
	}
}

func memberCanManageServer(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	return i.Member.Permissions&discordgo.PermissionManageServer != 0 ||
		i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func (h *CommandHandler) respondText(i *discordgo.InteractionCreate, content string) {
	err := h.discord.session.InteractionRespond(
		i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		h.logger.Error("error responding to interaction", tint.Err(err))
	}
}

func (h *CommandHandler) handleActivate(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	changed, err := h.db.ActivateChannel(ctx, i.GuildID, i.ChannelID)
	if err != nil {
		return "", err
	}
	if !changed {
		return "I'm already active in this channel.", nil
	}
	return "I'll respond to every message in this channel now.", nil
}

func (h *CommandHandler) handleDeactivate(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	changed, err := h.db.DeactivateChannel(ctx, i.GuildID, i.ChannelID)
	if err != nil {
		return "", err
	}
	if !changed {
		return "I wasn't active in this channel.", nil
	}
	return "Back to mentions, replies and trigger words only.", nil
}

func (h *CommandHandler) handleBlocklist(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	sub := i.ApplicationCommandData().Options[0]
	opts := subcommandOptions(sub)
	user := opts["user"].UserValue(nil)
	if user == nil {
		return "No user given.", nil
	}

	switch sub.Name {
	case "add":
		added, err := h.db.BlockUser(ctx, i.GuildID, user.ID)
		if err != nil {
			return "", err
		}
		if !added {
			return "Already ignoring them.", nil
		}
		return fmt.Sprintf("Ignoring <@%s> from now on.", user.ID), nil
	case "remove":
		removed, err := h.db.UnblockUser(ctx, i.GuildID, user.ID)
		if err != nil {
			return "", err
		}
		if !removed {
			return "They weren't on the blocklist.", nil
		}
		return fmt.Sprintf("<@%s> can talk to me again.", user.ID), nil
	default:
		return "Unknown subcommand.", nil
	}
}

func (h *CommandHandler) handleChannels(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	sub := i.ApplicationCommandData().Options[0]
	opts := subcommandOptions(sub)

	channelID := ""
	if opt, ok := opts["channel"]; ok {
		if ch := opt.ChannelValue(nil); ch != nil {
			channelID = ch.ID
		}
	}

	switch sub.Name {
	case "blacklist":
		if err := h.db.SetChannelList(
			ctx, i.GuildID, channelID, ChannelListBlacklist,
		); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"<#%s> is now excluded. The server is in blacklist mode.", channelID,
		), nil
	case "whitelist":
		if err := h.db.SetChannelList(
			ctx, i.GuildID, channelID, ChannelListWhitelist,
		); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"I'll only respond in whitelisted channels now, including <#%s>.",
			channelID,
		), nil
	case "remove":
		removed, err := h.db.RemoveChannelFromLists(ctx, i.GuildID, channelID)
		if err != nil {
			return "", err
		}
		if !removed {
			return "That channel wasn't on either list.", nil
		}
		return fmt.Sprintf("<#%s> removed from the channel lists.", channelID), nil
	case "clear":
		if err := h.db.ClearChannelLists(ctx, i.GuildID); err != nil {
			return "", err
		}
		return "Channel lists cleared.", nil
	default:
		return "Unknown subcommand.", nil
	}
}

func (h *CommandHandler) handleTrigger(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	sub := i.ApplicationCommandData().Options[0]
	opts := subcommandOptions(sub)

	word := ""
	if opt, ok := opts["word"]; ok {
		word = opt.StringValue()
	}

	switch sub.Name {
	case "add":
		added, err := h.db.AddTriggerWord(ctx, i.GuildID, word)
		if err != nil {
			return "", err
		}
		if !added {
			return fmt.Sprintf("%q is already a trigger word.", word), nil
		}
		return fmt.Sprintf("I'll respond whenever someone says %q.", word), nil
	case "remove":
		removed, err := h.db.RemoveTriggerWord(ctx, i.GuildID, word)
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("%q wasn't a trigger word.", word), nil
		}
		return fmt.Sprintf("%q removed.", word), nil
	case "list":
		words, err := h.db.GuildTriggerWords(ctx, i.GuildID)
		if err != nil {
			return "", err
		}
		if len(words) == 0 {
			return "No trigger words set for this server.", nil
		}
		return "Trigger words: " + strings.Join(words, ", "), nil
	default:
		return "Unknown subcommand.", nil
	}
}

func (h *CommandHandler) handleReviveChat(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	sub := i.ApplicationCommandData().Options[0]
	opts := subcommandOptions(sub)

	switch sub.Name {
	case "enable":
		ch := opts["channel"].ChannelValue(nil)
		if ch == nil {
			return "No channel given.", nil
		}
		interval, err := ParseReviveInterval(opts["interval"].StringValue())
		if err != nil {
			return fmt.Sprintf(
				"That interval doesn't work: %s. Use something like `45m` or `1h30m`, between 1m and 24h.",
				err,
			), nil
		}
		roleID := ""
		if opt, ok := opts["role"]; ok {
			if role := opt.RoleValue(nil, i.GuildID); role != nil {
				roleID = role.ID
			}
		}
		if err = h.revive.Enable(ctx, i.GuildID, ch.ID, roleID, interval); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"Revive chat enabled: I'll post in <#%s> every %s.", ch.ID, interval,
		), nil
	case "disable":
		disabled, err := h.revive.Disable(ctx, i.GuildID)
		if err != nil {
			return "", err
		}
		if !disabled {
			return "Revive chat wasn't enabled.", nil
		}
		return "Revive chat disabled.", nil
	case "status":
		settings, err := h.db.GetGuildSettings(ctx, i.GuildID)
		if err != nil {
			return "", err
		}
		if !settings.ReviveEnabled {
			return "Revive chat is disabled.", nil
		}
		next := time.UnixMilli(settings.ReviveNextSend)
		return fmt.Sprintf(
			"Revive chat posts in <#%s> every %s. Next message <t:%d:R>.",
			settings.ReviveChannelID,
			settings.ReviveInterval,
			next.Unix(),
		), nil
	default:
		return "Unknown subcommand.", nil
	}
}

func (h *CommandHandler) handleWelcome(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	sub := i.ApplicationCommandData().Options[0]
	opts := subcommandOptions(sub)

	settings, err := h.db.GetGuildSettings(ctx, i.GuildID)
	if err != nil {
		return "", err
	}

	switch sub.Name {
	case "enable":
		ch := opts["channel"].ChannelValue(nil)
		if ch == nil {
			return "No channel given.", nil
		}
		settings.WelcomeEnabled = true
		settings.WelcomeChannelID = ch.ID
		if err = h.db.SaveGuildSettings(ctx, &settings); err != nil {
			return "", err
		}
		return fmt.Sprintf("I'll welcome new members in <#%s>.", ch.ID), nil
	case "disable":
		if !settings.WelcomeEnabled {
			return "Welcome messages weren't enabled.", nil
		}
		settings.WelcomeEnabled = false
		if err = h.db.SaveGuildSettings(ctx, &settings); err != nil {
			return "", err
		}
		return "Welcome messages disabled.", nil
	case "status":
		if !settings.WelcomeEnabled {
			return "Welcome messages are disabled.", nil
		}
		return fmt.Sprintf(
			"New members get welcomed in <#%s>.", settings.WelcomeChannelID,
		), nil
	default:
		return "Unknown subcommand.", nil
	}
}

func (h *CommandHandler) handleSay(
	_ context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	opts := discordInteractionOptions(i)
	message := opts["message"].StringValue()

	channelID := i.ChannelID
	if opt, ok := opts["channel"]; ok {
		if ch := opt.ChannelValue(nil); ch != nil {
			channelID = ch.ID
		}
	}

	if err := h.discord.ChannelMessageSend(channelID, message); err != nil {
		return "", err
	}
	return "Said it.", nil
}
