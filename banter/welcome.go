package banter

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const defaultWelcomePrompt = "A new member just joined the Discord server. " +
	"Write one short, friendly welcome message for them. Include their " +
	"name, keep it under 200 characters, and don't mention any rules or " +
	"channels. Don't include a mention token, that gets added separately. " +
	"Reply with the message only."

var defaultWelcomeFallbacks = []string{
	"Welcome! Glad to have you here.",
	"Hey, welcome aboard! Hope you enjoy your stay.",
	"Welcome! Looking forward to chatting with you.",
	"Hey there, welcome! Make yourself at home.",
	"Welcome! The place just got a little more interesting.",
}

// Welcomer greets new guild members with an LLM-generated message,
// falling back to a canned one when the API is unavailable. Whether a
// guild gets welcome messages at all, and where they go, is per-guild
// state managed by the welcome slash command.
type Welcomer struct {
	db      *Database
	llm     *LLMClient
	discord *Discord
	config  WelcomeConfig

	mu   sync.Mutex
	rand *rand.Rand

	logger *slog.Logger
}

// NewWelcomer wires a welcomer from its collaborators.
func NewWelcomer(
	db *Database,
	llm *LLMClient,
	discord *Discord,
	config WelcomeConfig,
	logger *slog.Logger,
) *Welcomer {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Prompt == "" {
		config.Prompt = defaultWelcomePrompt
	}
	if len(config.FallbackMessages) == 0 {
		config.FallbackMessages = defaultWelcomeFallbacks
	}
	return &Welcomer{
		db:      db,
		llm:     llm,
		discord: discord,
		config:  config,
		//nolint:gosec // fallback message selection only
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.With(loggerNameKey, "welcome"),
	}
}

// Greet sends a welcome message for the new member if the guild has
// welcome messages enabled. The member mention is appended to whatever
// the model (or a fallback) produced.
func (w *Welcomer) Greet(
	ctx context.Context,
	guildID string,
	userID string,
	memberName string,
) error {
	settings, err := w.db.GetGuildSettings(ctx, guildID)
	if err != nil {
		return fmt.Errorf("error loading guild settings: %w", err)
	}
	if !settings.WelcomeEnabled || settings.WelcomeChannelID == "" {
		return nil
	}

	message := fmt.Sprintf(
		"%s <@%s>",
		w.generateMessage(ctx, memberName),
		userID,
	)
	if err = w.discord.ChannelMessageSend(
		settings.WelcomeChannelID, message,
	); err != nil {
		return fmt.Errorf("error sending welcome message: %w", err)
	}
	w.logger.Info(
		"sent welcome message",
		"guild_id", guildID,
		"user_id", userID,
		"channel_id", settings.WelcomeChannelID,
	)
	return nil
}

func (w *Welcomer) generateMessage(ctx context.Context, memberName string) string {
	prompt := fmt.Sprintf("%s\n\nNew member: %s", w.config.Prompt, memberName)
	reply, err := w.llm.Complete(ctx, remoteLimitKeyDefault, prompt)
	if err != nil {
		logCompletionError(loggerOrDefault(ctx, w.logger), err)
		return w.fallbackMessage()
	}
	// models sometimes wrap the message in quotes
	reply = strings.Trim(strings.TrimSpace(reply), `"'`)
	if reply == "" {
		return w.fallbackMessage()
	}
	return truncate(reply, discordMaxMessageLength)
}

func (w *Welcomer) fallbackMessage() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.config.FallbackMessages[w.rand.Intn(len(w.config.FallbackMessages))]
}
