package banter

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommandHandler(t *testing.T) (*CommandHandler, *stubSession) {
	t.Helper()
	db := newTestDB(t)
	session := &stubSession{}
	discord := newTestDiscord(session)

	revive := NewReviveManager(db, nil, discord, ReviveConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(
		func() {
			cancel()
			revive.Stop()
		},
	)
	require.NoError(t, revive.Start(ctx))

	return newCommandHandler(db, discord, revive, nil), session
}

type interactionOption struct {
	name      string
	optType   discordgo.ApplicationCommandOptionType
	value     any
	subOption bool
}

func commandInteraction(
	command string,
	subcommand string,
	permissions int64,
	options ...interactionOption,
) *discordgo.InteractionCreate {
	var dataOptions []*discordgo.ApplicationCommandInteractionDataOption

	var subOptions []*discordgo.ApplicationCommandInteractionDataOption
	for _, opt := range options {
		o := &discordgo.ApplicationCommandInteractionDataOption{
			Name:  opt.name,
			Type:  opt.optType,
			Value: opt.value,
		}
		if opt.subOption {
			subOptions = append(subOptions, o)
		} else {
			dataOptions = append(dataOptions, o)
		}
	}
	if subcommand != "" {
		dataOptions = append(
			dataOptions, &discordgo.ApplicationCommandInteractionDataOption{
				Name:    subcommand,
				Type:    discordgo.ApplicationCommandOptionSubCommand,
				Options: subOptions,
			},
		)
	}

	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "guild-1",
			ChannelID: "chan-1",
			Member: &discordgo.Member{
				User:        &discordgo.User{ID: "admin-1"},
				Permissions: permissions,
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    command,
				Options: dataOptions,
			},
		},
	}
}

func interactionContent(t *testing.T, session *stubSession) string {
	t.Helper()
	resp := session.lastInteractionResponse()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Data)
	return resp.Data.Content
}

func TestCommandRequiresManageServer(t *testing.T) {
	handler, session := newTestCommandHandler(t)

	i := commandInteraction(CommandActivate, "", 0)
	handler.handlerInteractionCreate()(nil, i)

	assert.Contains(t, interactionContent(t, session), "Manage Server")

	activated, err := handler.db.ChannelActivated(
		context.Background(), "guild-1", "chan-1",
	)
	require.NoError(t, err)
	assert.False(t, activated)
}

func TestCommandActivateDeactivate(t *testing.T) {
	handler, _ := newTestCommandHandler(t)
	handle := handler.handlerInteractionCreate()

	handle(
		nil,
		commandInteraction(
			CommandActivate, "", discordgo.PermissionManageServer,
		),
	)
	activated, err := handler.db.ChannelActivated(
		context.Background(), "guild-1", "chan-1",
	)
	require.NoError(t, err)
	assert.True(t, activated)

	handle(
		nil,
		commandInteraction(
			CommandDeactivate, "", discordgo.PermissionManageServer,
		),
	)
	activated, err = handler.db.ChannelActivated(
		context.Background(), "guild-1", "chan-1",
	)
	require.NoError(t, err)
	assert.False(t, activated)
}

func TestCommandBlocklist(t *testing.T) {
	handler, _ := newTestCommandHandler(t)
	handle := handler.handlerInteractionCreate()

	handle(
		nil,
		commandInteraction(
			CommandBlocklist, "add", discordgo.PermissionManageServer,
			interactionOption{
				name:      "user",
				optType:   discordgo.ApplicationCommandOptionUser,
				value:     "user-9",
				subOption: true,
			},
		),
	)
	blocked, err := handler.db.UserBlocked(context.Background(), "guild-1", "user-9")
	require.NoError(t, err)
	assert.True(t, blocked)

	handle(
		nil,
		commandInteraction(
			CommandBlocklist, "remove", discordgo.PermissionManageServer,
			interactionOption{
				name:      "user",
				optType:   discordgo.ApplicationCommandOptionUser,
				value:     "user-9",
				subOption: true,
			},
		),
	)
	blocked, err = handler.db.UserBlocked(context.Background(), "guild-1", "user-9")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestCommandTriggerAddList(t *testing.T) {
	handler, session := newTestCommandHandler(t)
	handle := handler.handlerInteractionCreate()

	handle(
		nil,
		commandInteraction(
			CommandTrigger, "add", discordgo.PermissionManageServer,
			interactionOption{
				name:      "word",
				optType:   discordgo.ApplicationCommandOptionString,
				value:     "pizza",
				subOption: true,
			},
		),
	)

	handle(
		nil,
		commandInteraction(
			CommandTrigger, "list", discordgo.PermissionManageServer,
		),
	)
	assert.Contains(t, interactionContent(t, session), "pizza")
}

func TestCommandReviveChatEnableBadInterval(t *testing.T) {
	handler, session := newTestCommandHandler(t)
	handle := handler.handlerInteractionCreate()

	handle(
		nil,
		commandInteraction(
			CommandReviveChat, "enable", discordgo.PermissionManageServer,
			interactionOption{
				name:      "channel",
				optType:   discordgo.ApplicationCommandOptionChannel,
				value:     "chan-2",
				subOption: true,
			},
			interactionOption{
				name:      "interval",
				optType:   discordgo.ApplicationCommandOptionString,
				value:     "30s",
				subOption: true,
			},
		),
	)
	assert.Contains(t, interactionContent(t, session), "interval")

	settings, err := handler.db.GetGuildSettings(context.Background(), "guild-1")
	require.NoError(t, err)
	assert.False(t, settings.ReviveEnabled)
}

func TestCommandReviveChatEnableDisable(t *testing.T) {
	handler, session := newTestCommandHandler(t)
	handle := handler.handlerInteractionCreate()

	handle(
		nil,
		commandInteraction(
			CommandReviveChat, "enable", discordgo.PermissionManageServer,
			interactionOption{
				name:      "channel",
				optType:   discordgo.ApplicationCommandOptionChannel,
				value:     "chan-2",
				subOption: true,
			},
			interactionOption{
				name:      "interval",
				optType:   discordgo.ApplicationCommandOptionString,
				value:     "1h30m",
				subOption: true,
			},
		),
	)

	settings, err := handler.db.GetGuildSettings(context.Background(), "guild-1")
	require.NoError(t, err)
	assert.True(t, settings.ReviveEnabled)
	assert.Equal(t, "chan-2", settings.ReviveChannelID)
	assert.Equal(t, "1h30m0s", settings.ReviveInterval)
	assert.True(t, handler.revive.Running("guild-1"))

	handle(
		nil,
		commandInteraction(
			CommandReviveChat, "status", discordgo.PermissionManageServer,
		),
	)
	assert.Contains(t, interactionContent(t, session), "chan-2")

	handle(
		nil,
		commandInteraction(
			CommandReviveChat, "disable", discordgo.PermissionManageServer,
		),
	)
	settings, err = handler.db.GetGuildSettings(context.Background(), "guild-1")
	require.NoError(t, err)
	assert.False(t, settings.ReviveEnabled)

	require.Eventually(
		t,
		func() bool { return !handler.revive.Running("guild-1") },
		5*time.Second,
		10*time.Millisecond,
	)
}

func TestCommandWelcomeEnableDisable(t *testing.T) {
	handler, session := newTestCommandHandler(t)
	handle := handler.handlerInteractionCreate()

	handle(
		nil,
		commandInteraction(
			CommandWelcome, "enable", discordgo.PermissionManageServer,
			interactionOption{
				name:      "channel",
				optType:   discordgo.ApplicationCommandOptionChannel,
				value:     "chan-3",
				subOption: true,
			},
		),
	)
	settings, err := handler.db.GetGuildSettings(context.Background(), "guild-1")
	require.NoError(t, err)
	assert.True(t, settings.WelcomeEnabled)
	assert.Equal(t, "chan-3", settings.WelcomeChannelID)

	handle(
		nil,
		commandInteraction(
			CommandWelcome, "status", discordgo.PermissionManageServer,
		),
	)
	assert.Contains(t, interactionContent(t, session), "chan-3")

	handle(
		nil,
		commandInteraction(
			CommandWelcome, "disable", discordgo.PermissionManageServer,
		),
	)
	settings, err = handler.db.GetGuildSettings(context.Background(), "guild-1")
	require.NoError(t, err)
	assert.False(t, settings.WelcomeEnabled)
}

func TestCommandSay(t *testing.T) {
	handler, session := newTestCommandHandler(t)
	handle := handler.handlerInteractionCreate()

	handle(
		nil,
		commandInteraction(
			CommandSay, "", discordgo.PermissionManageServer,
			interactionOption{
				name:    "message",
				optType: discordgo.ApplicationCommandOptionString,
				value:   "hello everyone",
			},
		),
	)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "chan-1", sent[0].channelID)
	assert.Equal(t, "hello everyone", sent[0].content)
}

func TestCommandRejectedInDM(t *testing.T) {
	handler, session := newTestCommandHandler(t)

	i := commandInteraction(CommandActivate, "", discordgo.PermissionManageServer)
	i.GuildID = ""
	i.Member = nil
	handler.handlerInteractionCreate()(nil, i)

	assert.Contains(t, interactionContent(t, session), "server")
}

func TestApplicationCommandsComplete(t *testing.T) {
	commands := applicationCommands()
	names := make(map[string]bool, len(commands))
	for _, c := range commands {
		names[c.Name] = true
	}
	for _, expected := range []string{
		CommandActivate,
		CommandDeactivate,
		CommandBlocklist,
		CommandChannels,
		CommandTrigger,
		CommandReviveChat,
		CommandWelcome,
		CommandSay,
	} {
		assert.True(t, names[expected], "missing command %s", expected)
	}
}
