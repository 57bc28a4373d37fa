package banter

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lmittmann/tint"
)

// GuildConfigReader is the read side of per-guild configuration consumed
// when deciding whether to respond to a message. *Database implements it.
type GuildConfigReader interface {
	UserBlocked(ctx context.Context, guildID string, userID string) (bool, error)
	ChannelAllowed(ctx context.Context, guildID string, channelID string) (bool, error)
	ChannelActivated(ctx context.Context, guildID string, channelID string) (bool, error)
	GuildTriggerWords(ctx context.Context, guildID string) ([]string, error)
}

// Decision is the outcome of admissibility evaluation for one message.
type Decision struct {
	Respond         bool
	BotConversation bool

	// Reason is a short machine-friendly label for logging
	Reason string
}

// ResponseDecider decides whether an incoming message should get a
// response. It is a pure function over the message snapshot plus read-only
// per-guild configuration; any storage error fails closed (no response).
type ResponseDecider struct {
	// botUserID is resolved lazily: the bot's own ID isn't known until
	// the gateway connection is up
	botUserID    func() string
	triggerWords []string
	guilds       GuildConfigReader
	logger       *slog.Logger
}

// NewResponseDecider returns a decider for the bot whose user ID is
// returned by botUserID. globalTriggers apply in every guild, on top of
// per-guild trigger words.
func NewResponseDecider(
	botUserID func() string,
	globalTriggers []string,
	guilds GuildConfigReader,
	logger *slog.Logger,
) *ResponseDecider {
	if logger == nil {
		logger = slog.Default()
	}
	lowered := make([]string, 0, len(globalTriggers))
	for _, w := range globalTriggers {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			lowered = append(lowered, w)
		}
	}
	return &ResponseDecider{
		botUserID:    botUserID,
		triggerWords: lowered,
		guilds:       guilds,
		logger:       logger.With(loggerNameKey, "decision"),
	}
}

// Decide evaluates the message. Messages authored by the bot itself are
// never admitted.
func (d *ResponseDecider) Decide(ctx context.Context, msg Message) Decision {
	botID := d.botUserID()
	if msg.AuthorID == botID {
		return Decision{Reason: "self"}
	}

	if msg.DM {
		if msg.AuthorBot {
			return Decision{Reason: "bot_dm"}
		}
		return Decision{Respond: true, Reason: "dm"}
	}

	blocked, err := d.guilds.UserBlocked(ctx, msg.GuildID, msg.AuthorID)
	if err != nil {
		d.failClosed(ctx, msg, "user_blocked", err)
		return Decision{Reason: "storage_error"}
	}
	if blocked {
		return Decision{Reason: "blocked_user"}
	}

	allowed, err := d.guilds.ChannelAllowed(ctx, msg.GuildID, msg.ChannelID)
	if err != nil {
		d.failClosed(ctx, msg, "channel_allowed", err)
		return Decision{Reason: "storage_error"}
	}
	if !allowed {
		return Decision{Reason: "channel_excluded"}
	}

	activated, err := d.guilds.ChannelActivated(ctx, msg.GuildID, msg.ChannelID)
	if err != nil {
		d.failClosed(ctx, msg, "channel_activated", err)
		return Decision{Reason: "storage_error"}
	}
	if activated {
		// even in an activated channel, stay out of a reply thread
		// directed at someone else unless the message pulls the bot in
		if msg.Reply != nil && msg.Reply.AuthorID != botID && !msg.MentionsUser(botID) {
			words, wordsErr := d.allTriggerWords(ctx, msg.GuildID)
			if wordsErr != nil {
				d.failClosed(ctx, msg, "trigger_words", wordsErr)
				return Decision{Reason: "storage_error"}
			}
			if !ContainsTriggerWord(msg.Content, words) {
				return Decision{Reason: "reply_to_other"}
			}
		}
		return Decision{
			Respond:         true,
			BotConversation: msg.AuthorBot,
			Reason:          "channel_activated",
		}
	}

	if msg.MentionsUser(botID) {
		return Decision{
			Respond:         true,
			BotConversation: msg.AuthorBot,
			Reason:          "mention",
		}
	}

	if msg.RepliesTo(botID) {
		return Decision{
			Respond:         true,
			BotConversation: msg.AuthorBot,
			Reason:          "reply",
		}
	}

	words, err := d.allTriggerWords(ctx, msg.GuildID)
	if err != nil {
		d.failClosed(ctx, msg, "trigger_words", err)
		return Decision{Reason: "storage_error"}
	}
	if ContainsTriggerWord(msg.Content, words) {
		return Decision{
			Respond:         true,
			BotConversation: msg.AuthorBot,
			Reason:          "trigger_word",
		}
	}

	return Decision{Reason: "no_trigger"}
}

// allTriggerWords merges the global trigger words with the guild's own.
func (d *ResponseDecider) allTriggerWords(
	ctx context.Context,
	guildID string,
) ([]string, error) {
	guildWords, err := d.guilds.GuildTriggerWords(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if len(guildWords) == 0 {
		return d.triggerWords, nil
	}
	return append(append([]string{}, d.triggerWords...), guildWords...), nil
}

func (d *ResponseDecider) failClosed(
	ctx context.Context,
	msg Message,
	check string,
	err error,
) {
	loggerOrDefault(ctx, d.logger).Warn(
		"admissibility check failed, not responding",
		"check", check,
		"guild_id", msg.GuildID,
		"channel_id", msg.ChannelID,
		"message_id", msg.ID,
		tint.Err(err),
	)
}

// ContainsTriggerWord reports whether any of words appears in content as a
// whole word, case-insensitively, ignoring matches that fall inside a URL.
func ContainsTriggerWord(content string, words []string) bool {
	if content == "" || len(words) == 0 {
		return false
	}
	lowered := strings.ToLower(content)
	spans := urlSpans(lowered)

	for _, word := range words {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		if containsWholeWord(lowered, word, spans) {
			return true
		}
	}
	return false
}

type span struct{ start, end int }

func (s span) contains(start, end int) bool {
	return start >= s.start && end <= s.end
}

// urlSpans returns the byte ranges of URL-like tokens: anything with a
// scheme, a www. prefix, or a bare host.tld shape.
func urlSpans(text string) []span {
	var spans []span
	i := 0
	for i < len(text) {
		// skip whitespace
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		start := i
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		token := text[start:i]
		if isURLToken(token) {
			spans = append(spans, span{start: start, end: i})
		}
	}
	return spans
}

func isURLToken(token string) bool {
	token = strings.Trim(token, ",;:!?()[]<>\"'")
	if token == "" {
		return false
	}
	if strings.Contains(token, "://") || strings.HasPrefix(token, "www.") {
		return true
	}
	// bare host.tld: at least one dot with word characters on both sides
	// and a plausible alphabetic TLD
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 || dot == len(token)-1 {
		return false
	}
	rest := token[dot+1:]
	// strip a path if present
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	if len(rest) < 2 {
		return false
	}
	for _, r := range rest {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	prev, _ := utf8.DecodeLastRuneInString(token[:dot])
	return isWordRune(prev)
}

func containsWholeWord(text string, word string, urls []span) bool {
	offset := 0
	for {
		idx := strings.Index(text[offset:], word)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(word)

		boundaryBefore := start == 0
		if !boundaryBefore {
			r, _ := utf8.DecodeLastRuneInString(text[:start])
			boundaryBefore = !isWordRune(r)
		}
		boundaryAfter := end == len(text)
		if !boundaryAfter {
			r, _ := utf8.DecodeRuneInString(text[end:])
			boundaryAfter = !isWordRune(r)
		}

		if boundaryBefore && boundaryAfter {
			inURL := false
			for _, s := range urls {
				if s.contains(start, end) {
					inURL = true
					break
				}
			}
			if !inURL {
				return true
			}
		}
		offset = start + 1
	}
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
