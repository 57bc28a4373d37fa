package banter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// DiscordSessionHandler is the subset of *discordgo.Session the bot uses,
// extracted so tests can substitute a stub session.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSend sends a message to a specified channel
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendComplex sends a message with reply references,
	// mention controls and embeds
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelTyping shows the typing indicator in the channel
	ChannelTyping(channelID string, opts ...discordgo.RequestOption) error

	// ApplicationCommandBulkOverwrite overwrites Discord application
	// commands in bulk
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// SetLogLevel sets the discordgo library's log level
	SetLogLevel(level slog.Level) error
}

// DiscordSession wraps *discordgo.Session to satisfy
// DiscordSessionHandler.
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendComplex(channelID, data, opts...)
}

func (d DiscordSession) ChannelTyping(
	channelID string,
	opts ...discordgo.RequestOption,
) error {
	return d.session.ChannelTyping(channelID, opts...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) SetLogLevel(level slog.Level) error {
	switch level {
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("unknown log level: %s", level)
	}
	return nil
}

// Discord owns the gateway session and dispatches incoming messages and
// interactions into the bot.
type Discord struct {
	session DiscordSessionHandler
	config  *DiscordConfig
	logger  *slog.Logger

	connected             atomic.Bool
	metricConnects        atomic.Int64
	metricDisconnects     atomic.Int64
	metricMessagesHandled atomic.Int64

	botUserID atomic.Value

	discordgoRemoveHandlerFuncs []func()

	bot *Banter
}

// newDiscord initializes a new Discord instance with the provided
// configuration.
func newDiscord(config *DiscordConfig, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		config:                      config,
		logger:                      logger.With(loggerNameKey, "discord"),
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

// newSession initializes the underlying discordgo session.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = false
	disc.StateEnabled = true
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(d.config.DiscordGoLogLevel),
	)
	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// Connected reports whether the gateway connection is currently up.
func (d *Discord) Connected() bool {
	return d.connected.Load()
}

// BotUserID returns the bot's own user ID, known once the gateway sends
// the ready event.
func (d *Discord) BotUserID() string {
	id, _ := d.botUserID.Load().(string)
	return id
}

// Typing best-effort shows the typing indicator. Failures are logged,
// never propagated: a missing indicator shouldn't abort a response.
func (d *Discord) Typing(ctx context.Context, channelID string) {
	if err := d.session.ChannelTyping(channelID); err != nil {
		loggerOrDefault(ctx, d.logger).Warn(
			"error sending typing indicator",
			"channel_id", channelID,
			tint.Err(err),
		)
	}
}

// SendReply delivers content for the given message using the reply style.
func (d *Discord) SendReply(
	ctx context.Context,
	msg Message,
	content string,
	style ReplyStyle,
) error {
	_ = ctx
	switch style {
	case ReplyStyleMentionReply, ReplyStyleQuietReply:
		data := &discordgo.MessageSend{
			Content: content,
			Reference: &discordgo.MessageReference{
				MessageID: msg.ID,
				ChannelID: msg.ChannelID,
				GuildID:   msg.GuildID,
			},
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{
					discordgo.AllowedMentionTypeUsers,
				},
			},
		}
		if style == ReplyStyleQuietReply {
			data.AllowedMentions.RepliedUser = false
		} else {
			data.AllowedMentions.RepliedUser = true
		}
		_, err := d.session.ChannelMessageSendComplex(msg.ChannelID, data)
		return err
	default:
		_, err := d.session.ChannelMessageSend(msg.ChannelID, content)
		return err
	}
}

// ChannelMessageSend sends the given message to the given channel ID.
func (d *Discord) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			d.botUserID.Store(r.User.ID)
		}
		d.logger.Info(
			"ready",
			"session_id", r.SessionID,
			"user_id", d.BotUserID(),
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				d.botUserID.Store(s.State.User.ID)
			}
		}
		d.logger.Info("connected", "session_id", sessionID)

		if d.config.NotificationChannelID != "" && d.config.StartupMessage != "" {
			if sendErr := d.ChannelMessageSend(
				d.config.NotificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

// handlerMessageCreate routes every gateway message through admissibility
// and into the scheduler.
func (d *Discord) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m == nil || m.Author == nil {
			return
		}
		if m.Author.ID == d.BotUserID() {
			return
		}
		d.metricMessagesHandled.Add(1)
		d.bot.handleMessage(NewMessageSnapshot(m))
	}
}

// handlerGuildMemberAdd greets new members in guilds with welcome
// messages enabled. Bot accounts don't get welcomed.
func (d *Discord) handlerGuildMemberAdd() func(
	s *discordgo.Session,
	m *discordgo.GuildMemberAdd,
) {
	return func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m == nil || m.Member == nil || m.User == nil || m.User.Bot {
			return
		}
		d.bot.handleMemberJoin(
			m.GuildID,
			m.User.ID,
			displayName(m.User, m.Member),
		)
	}
}

// registerHandlers attaches the gateway handlers, retaining their remove
// funcs for shutdown.
func (d *Discord) registerHandlers() {
	d.discordgoRemoveHandlerFuncs = append(
		d.discordgoRemoveHandlerFuncs,
		d.session.AddHandler(d.handlerReady()),
		d.session.AddHandler(d.handlerConnect()),
		d.session.AddHandler(d.handlerDisconnect()),
		d.session.AddHandler(d.handlerMessageCreate()),
		d.session.AddHandler(d.handlerGuildMemberAdd()),
		d.session.AddHandler(d.bot.commandHandler.handlerInteractionCreate()),
	)
}

// registerCommands sends the bot's slash commands to the discord bulk
// overwrite endpoint.
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		applicationCommands(),
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("created command", "command_name", c.Name)
	}
	return created, nil
}

// close removes gateway handlers and closes the websocket.
func (d *Discord) close() error {
	for _, removeFunc := range d.discordgoRemoveHandlerFuncs {
		removeFunc()
	}
	d.discordgoRemoveHandlerFuncs = []func(){}
	return d.session.Close()
}
