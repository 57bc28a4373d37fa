package banter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

// Banter is the bot: it owns the Discord session, the completion API
// client, storage, the response scheduler and the revive loops, and ties
// their lifecycles together.
type Banter struct {
	config *Config
	logger *slog.Logger

	db        *Database
	discord   *Discord
	llm       *LLMClient
	tracker   *RateTracker
	delays    *DelayPolicy
	scheduler *ResponseScheduler
	decider   *ResponseDecider
	responder *ChatResponder
	revive    *ReviveManager
	welcomer  *Welcomer
	api       *API

	commandHandler *CommandHandler

	startedAt time.Time

	runCtx    context.Context
	runCancel context.CancelFunc

	shutdownOnce sync.Once
}

// New validates the config and assembles the bot. Nothing connects or
// listens until Run.
func New(config *Config) (*Banter, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}

	var errs []error
	if err := ValidateConfig(config); err != nil {
		errs = append(errs, err)
	}
	if config.ResponsePolicy == nil {
		errs = append(errs, errors.New("missing response_policy config"))
	}
	if config.LLM == nil {
		errs = append(errs, errors.New("missing llm config"))
	}
	if config.Discord == nil {
		errs = append(errs, errors.New("missing discord config"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if config.HTTPClient != nil {
		config.LLM.httpClient = config.HTTPClient
		config.Discord.httpClient = config.HTTPClient
	}

	logger := slog.New(newLogHandler(config.LogLevel))
	slog.SetDefault(logger)

	b := &Banter{
		config: config,
		logger: logger,
	}

	b.tracker = NewRateTracker(*config.ResponsePolicy, logger)
	b.delays = NewDelayPolicy(*config.ResponsePolicy)
	b.llm = NewLLMClient(
		*config.LLM,
		b.tracker,
		slog.New(newLogHandler(config.LLM.LogLevel)),
	)
	b.discord = newDiscord(
		config.Discord,
		slog.New(newLogHandler(config.Discord.LogLevel)),
	)
	b.discord.bot = b
	b.responder = NewChatResponder(b.llm, b.discord, b.delays, *config.Discord, logger)

	return b, nil
}

// Run connects everything and blocks until ctx is cancelled, then shuts
// down gracefully within ShutdownTimeout.
func (b *Banter) Run(ctx context.Context) error {
	b.startedAt = time.Now()
	b.runCtx, b.runCancel = context.WithCancel(ctx)
	defer b.runCancel()

	startupCtx, startupCancel := context.WithTimeout(
		b.runCtx, b.config.StartupTimeout,
	)
	defer startupCancel()

	db, err := CreateDB(
		startupCtx,
		b.config.DatabaseType,
		b.config.Database,
		newGORMLogger(
			newLogHandler(b.config.DatabaseLogLevel),
			b.config.DatabaseSlowThreshold,
		),
		b.logger,
	)
	if err != nil {
		return fmt.Errorf("error creating database: %w", err)
	}
	b.db = db

	b.decider = NewResponseDecider(
		b.discord.BotUserID,
		b.config.ResponsePolicy.TriggerWords,
		b.db,
		b.logger,
	)
	b.scheduler = NewResponseScheduler(
		b.runCtx,
		b.tracker,
		b.delays,
		b.responder,
		b.logger,
	)
	b.revive = NewReviveManager(b.db, b.llm, b.discord, *b.config.Revive, b.logger)
	welcomeConfig := WelcomeConfig{}
	if b.config.Welcome != nil {
		welcomeConfig = *b.config.Welcome
	}
	b.welcomer = NewWelcomer(b.db, b.llm, b.discord, welcomeConfig, b.logger)
	b.commandHandler = newCommandHandler(b.db, b.discord, b.revive, b.logger)
	if b.config.API != nil && b.config.API.Enabled {
		b.api = newAPI(
			b.config.API,
			b,
			slog.New(newLogHandler(b.config.API.LogLevel)),
		)
	}

	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session
	b.discord.registerHandlers()

	if err = b.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if _, err = b.discord.registerCommands(); err != nil {
		b.logger.Error("error registering commands", tint.Err(err))
	}

	if err = b.revive.Start(b.runCtx); err != nil {
		b.logger.Error("error starting revive loops", tint.Err(err))
	}

	b.logger.Info("bot running", "config", b.config)

	group, groupCtx := errgroup.WithContext(b.runCtx)
	if b.api != nil {
		group.Go(
			func() error {
				return b.api.Serve(groupCtx)
			},
		)
	}
	group.Go(
		func() error {
			<-groupCtx.Done()
			return groupCtx.Err()
		},
	)

	err = group.Wait()
	b.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown stops accepting work and drains what's in flight: revive loops
// first, then pending scheduled responses, then the gateway connection.
func (b *Banter) shutdown() {
	b.shutdownOnce.Do(
		func() {
			b.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), b.config.ShutdownTimeout,
			)
			defer cancel()

			b.revive.Stop()

			if err := b.scheduler.Shutdown(shutdownCtx); err != nil {
				b.logger.Warn(
					"timed out waiting for pending responses", tint.Err(err),
				)
			}

			if err := b.discord.close(); err != nil {
				b.logger.Warn("error closing discord session", tint.Err(err))
			}
			b.logger.Info("shutdown complete")
		},
	)
}

// handleMessage runs admissibility on a snapshot and hands admitted work
// to the scheduler. Called from the gateway event handler.
func (b *Banter) handleMessage(msg Message) {
	ctx := WithLogger(b.runCtx, b.logger)

	decision := b.decider.Decide(ctx, msg)
	log := b.logger.With(
		"channel_id", msg.ChannelID,
		"message_id", msg.ID,
		"reason", decision.Reason,
	)
	if !decision.Respond {
		log.Debug("not responding")
		return
	}
	log.Info("responding", "bot_conversation", decision.BotConversation)

	b.scheduler.Schedule(
		ResponseCommand{
			Message:         msg,
			BotConversation: decision.BotConversation,
		},
	)
}

// handleMemberJoin greets a new guild member. Called from the gateway
// event handler.
func (b *Banter) handleMemberJoin(guildID, userID, memberName string) {
	ctx, cancel := context.WithTimeout(b.runCtx, commandTimeout)
	defer cancel()
	ctx = WithLogger(ctx, b.logger)

	if err := b.welcomer.Greet(ctx, guildID, userID, memberName); err != nil {
		b.logger.Warn(
			"error welcoming new member",
			"guild_id", guildID,
			"user_id", userID,
			tint.Err(err),
		)
	}
}
