package banter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// replyContextLimit caps how much of a replied-to message is included
	// in the prompt.
	replyContextLimit = 50

	barePingPrompt = "%s pinged you without saying anything. Say hello and ask what's up."
)

// ChatResponder turns an admitted message into a delivered reply: builds
// the prompt, calls the completion API, simulates typing and sends the
// result using the configured reply style.
//
// Human-directed failures get a user-facing message; bot conversations
// fail silently so two bots can't spiral into error loops.
type ChatResponder struct {
	llm     *LLMClient
	discord *Discord
	delays  *DelayPolicy

	replyStyle       ReplyStyle
	errorMessage     string
	rateLimitMessage string

	logger *slog.Logger
}

// NewChatResponder wires a responder from its collaborators.
func NewChatResponder(
	llm *LLMClient,
	discord *Discord,
	delays *DelayPolicy,
	cfg DiscordConfig,
	logger *slog.Logger,
) *ChatResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatResponder{
		llm:              llm,
		discord:          discord,
		delays:           delays,
		replyStyle:       cfg.ReplyStyle,
		errorMessage:     cfg.ErrorMessage,
		rateLimitMessage: cfg.RateLimitMessage,
		logger:           logger.With(loggerNameKey, "responder"),
	}
}

// Respond implements Responder.
func (r *ChatResponder) Respond(ctx context.Context, cmd ResponseCommand) error {
	log := loggerOrDefault(ctx, r.logger)
	msg := cmd.Message

	limitKey := remoteLimitKeyDefault
	if !cmd.BotConversation {
		limitKey = UserLimitKey(msg.AuthorID)
	}

	prompt := BuildPrompt(msg, r.discord.BotUserID())

	reply, err := r.llm.Complete(ctx, limitKey, prompt)
	if err != nil {
		logCompletionError(log, err)

		if cmd.BotConversation {
			// never send failure chatter into a bot conversation
			return nil
		}
		var rateLimited ErrRateLimited
		notice := r.errorMessage
		if errors.As(err, &rateLimited) {
			notice = r.rateLimitMessage
			if rateLimited.Wait > 0 {
				notice = fmt.Sprintf(
					"%s Try again in %.1f seconds.",
					r.rateLimitMessage,
					rateLimited.Wait.Seconds(),
				)
			}
		}
		if sendErr := r.deliver(ctx, msg, notice); sendErr != nil {
			return fmt.Errorf("error sending failure notice: %w", sendErr)
		}
		return nil
	}

	if err = r.simulateTyping(ctx, msg.ChannelID, reply); err != nil {
		return err
	}

	return r.deliver(ctx, msg, reply)
}

// simulateTyping shows the typing indicator for a duration proportional
// to the reply length. Returns ctx.Err if cancelled mid-wait.
func (r *ChatResponder) simulateTyping(
	ctx context.Context,
	channelID string,
	reply string,
) error {
	r.discord.Typing(ctx, channelID)

	delay := r.delays.TypingDelay(reply)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// deliver splits content under the Discord message limit and sends every
// chunk. Only the first chunk carries the reply reference.
func (r *ChatResponder) deliver(ctx context.Context, msg Message, content string) error {
	chunks := splitMessage(content, discordMaxMessageLength)
	for i, chunk := range chunks {
		var err error
		if i == 0 {
			err = r.discord.SendReply(ctx, msg, chunk, r.replyStyle)
		} else {
			err = r.discord.SendReply(ctx, msg, chunk, ReplyStyleChannelSend)
		}
		if err != nil {
			return fmt.Errorf("error sending reply chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// BuildPrompt renders a message snapshot as the completion prompt:
// resolved mentions, truncated reply context and a "Name: content" frame.
// A bare ping (mention with nothing else) gets a special prompt asking
// the model to open the conversation.
func BuildPrompt(msg Message, botUserID string) string {
	content := resolveMentions(msg, botUserID)

	if strings.TrimSpace(content) == "" && msg.MentionsUser(botUserID) {
		return fmt.Sprintf(barePingPrompt, promptName(msg))
	}

	var b strings.Builder
	if msg.Reply != nil && msg.Reply.Content != "" {
		quoted := truncate(strings.TrimSpace(msg.Reply.Content), replyContextLimit)
		fmt.Fprintf(&b, "(replying to: %q)\n", quoted)
	}
	fmt.Fprintf(&b, "%s: %s", promptName(msg), content)
	return b.String()
}

func promptName(msg Message) string {
	if msg.AuthorDisplayName != "" {
		return msg.AuthorDisplayName
	}
	return msg.AuthorID
}

// resolveMentions replaces raw <@id> tokens with readable @Name forms.
// The bot's own mention is removed rather than named, so the model isn't
// prompted to talk about itself in the third person.
func resolveMentions(msg Message, botUserID string) string {
	content := msg.Content
	for _, mention := range msg.Mentions {
		tokens := []string{
			"<@" + mention.ID + ">",
			"<@!" + mention.ID + ">",
		}
		replacement := "@" + mention.DisplayName
		if mention.ID == botUserID {
			replacement = ""
		}
		for _, token := range tokens {
			content = strings.ReplaceAll(content, token, replacement)
		}
	}
	return strings.TrimSpace(content)
}
