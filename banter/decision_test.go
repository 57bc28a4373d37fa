package banter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testBotID = "bot-self"

// fakeGuildConfig is an in-memory GuildConfigReader.
type fakeGuildConfig struct {
	blockedUsers      map[string]bool
	excludedChannels  map[string]bool
	activatedChannels map[string]bool
	triggerWords      []string
	err               error
}

func (f *fakeGuildConfig) UserBlocked(
	_ context.Context, _ string, userID string,
) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.blockedUsers[userID], nil
}

func (f *fakeGuildConfig) ChannelAllowed(
	_ context.Context, _ string, channelID string,
) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.excludedChannels[channelID], nil
}

func (f *fakeGuildConfig) ChannelActivated(
	_ context.Context, _ string, channelID string,
) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.activatedChannels[channelID], nil
}

func (f *fakeGuildConfig) GuildTriggerWords(
	_ context.Context, _ string,
) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.triggerWords, nil
}

func newTestDecider(guilds *fakeGuildConfig, globalTriggers ...string) *ResponseDecider {
	return NewResponseDecider(
		func() string { return testBotID },
		globalTriggers,
		guilds,
		nil,
	)
}

func guildMessage(content string) Message {
	return Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		AuthorID:  "user-1",
		Content:   content,
	}
}

func TestDecideIgnoresSelf(t *testing.T) {
	decider := newTestDecider(&fakeGuildConfig{})
	msg := guildMessage("hello")
	msg.AuthorID = testBotID

	decision := decider.Decide(context.Background(), msg)
	assert.False(t, decision.Respond)
	assert.Equal(t, "self", decision.Reason)
}

func TestDecideDMAlwaysResponds(t *testing.T) {
	decider := newTestDecider(&fakeGuildConfig{})
	msg := Message{
		ID:        "msg-1",
		ChannelID: "dm-chan",
		AuthorID:  "user-1",
		Content:   "hey",
		DM:        true,
	}

	decision := decider.Decide(context.Background(), msg)
	assert.True(t, decision.Respond)
	assert.Equal(t, "dm", decision.Reason)
	assert.False(t, decision.BotConversation)
}

func TestDecideBlockedUser(t *testing.T) {
	decider := newTestDecider(
		&fakeGuildConfig{blockedUsers: map[string]bool{"user-1": true}},
	)
	msg := guildMessage("<@" + testBotID + "> hello")
	msg.Mentions = []Mention{{ID: testBotID, DisplayName: "Banter"}}

	decision := decider.Decide(context.Background(), msg)
	assert.False(t, decision.Respond)
	assert.Equal(t, "blocked_user", decision.Reason)
}

func TestDecideExcludedChannel(t *testing.T) {
	decider := newTestDecider(
		&fakeGuildConfig{excludedChannels: map[string]bool{"chan-1": true}},
	)
	msg := guildMessage("hello")
	msg.Mentions = []Mention{{ID: testBotID, DisplayName: "Banter"}}

	decision := decider.Decide(context.Background(), msg)
	assert.False(t, decision.Respond)
	assert.Equal(t, "channel_excluded", decision.Reason)
}

func TestDecideActivatedChannel(t *testing.T) {
	decider := newTestDecider(
		&fakeGuildConfig{activatedChannels: map[string]bool{"chan-1": true}},
	)

	decision := decider.Decide(context.Background(), guildMessage("anything at all"))
	assert.True(t, decision.Respond)
	assert.Equal(t, "channel_activated", decision.Reason)
}

func TestDecideActivatedChannelReplyToOtherUser(t *testing.T) {
	decider := newTestDecider(
		&fakeGuildConfig{activatedChannels: map[string]bool{"chan-1": true}},
	)
	msg := guildMessage("no, you're wrong")
	msg.Reply = &ReplyReference{
		MessageID: "msg-0",
		AuthorID:  "some-other-human",
		Content:   "I think so",
	}

	// a reply aimed at someone else doesn't get butted into, even in an
	// activated channel
	decision := decider.Decide(context.Background(), msg)
	assert.False(t, decision.Respond)
	assert.Equal(t, "reply_to_other", decision.Reason)

	// unless the bot is mentioned
	msg.Mentions = []Mention{{ID: testBotID, DisplayName: "Banter"}}
	msg.Content = "<@" + testBotID + "> no, you're wrong"
	decision = decider.Decide(context.Background(), msg)
	assert.True(t, decision.Respond)
	assert.Equal(t, "channel_activated", decision.Reason)
}

func TestDecideActivatedChannelReplyWithTriggerWord(t *testing.T) {
	decider := newTestDecider(
		&fakeGuildConfig{
			activatedChannels: map[string]bool{"chan-1": true},
			triggerWords:      []string{"pizza"},
		},
	)
	msg := guildMessage("sure, pizza works for me")
	msg.Reply = &ReplyReference{
		MessageID: "msg-0",
		AuthorID:  "some-other-human",
		Content:   "dinner plans?",
	}

	decision := decider.Decide(context.Background(), msg)
	assert.True(t, decision.Respond)
	assert.Equal(t, "channel_activated", decision.Reason)
}

func TestDecideActivatedChannelReplyToBot(t *testing.T) {
	decider := newTestDecider(
		&fakeGuildConfig{activatedChannels: map[string]bool{"chan-1": true}},
	)
	msg := guildMessage("good point")
	msg.Reply = &ReplyReference{
		MessageID: "msg-0",
		AuthorID:  testBotID,
		AuthorBot: true,
		Content:   "my hot take",
	}

	decision := decider.Decide(context.Background(), msg)
	assert.True(t, decision.Respond)
	assert.Equal(t, "channel_activated", decision.Reason)
}

func TestDecideMention(t *testing.T) {
	decider := newTestDecider(&fakeGuildConfig{})
	msg := guildMessage("<@" + testBotID + "> what's up")
	msg.Mentions = []Mention{{ID: testBotID, DisplayName: "Banter"}}

	decision := decider.Decide(context.Background(), msg)
	assert.True(t, decision.Respond)
	assert.Equal(t, "mention", decision.Reason)
}

func TestDecideReplyToBot(t *testing.T) {
	decider := newTestDecider(&fakeGuildConfig{})
	msg := guildMessage("I disagree")
	msg.Reply = &ReplyReference{
		MessageID: "msg-0",
		AuthorID:  testBotID,
		AuthorBot: true,
		Content:   "my hot take",
	}

	decision := decider.Decide(context.Background(), msg)
	assert.True(t, decision.Respond)
	assert.Equal(t, "reply", decision.Reason)
}

func TestDecideBotConversationFlag(t *testing.T) {
	decider := newTestDecider(&fakeGuildConfig{})
	msg := guildMessage("<@" + testBotID + "> hello")
	msg.AuthorID = "other-bot"
	msg.AuthorBot = true
	msg.Mentions = []Mention{{ID: testBotID, DisplayName: "Banter"}}

	decision := decider.Decide(context.Background(), msg)
	assert.True(t, decision.Respond)
	assert.True(t, decision.BotConversation)
}

func TestDecideGuildTriggerWords(t *testing.T) {
	decider := newTestDecider(
		&fakeGuildConfig{triggerWords: []string{"pizza"}},
	)

	decision := decider.Decide(context.Background(), guildMessage("who wants pizza tonight"))
	assert.True(t, decision.Respond)
	assert.Equal(t, "trigger_word", decision.Reason)

	decision = decider.Decide(context.Background(), guildMessage("nothing relevant"))
	assert.False(t, decision.Respond)
	assert.Equal(t, "no_trigger", decision.Reason)
}

func TestDecideFailsClosedOnStorageError(t *testing.T) {
	decider := newTestDecider(
		&fakeGuildConfig{err: errors.New("database is on fire")},
	)
	msg := guildMessage("<@" + testBotID + "> hello")
	msg.Mentions = []Mention{{ID: testBotID, DisplayName: "Banter"}}

	decision := decider.Decide(context.Background(), msg)
	assert.False(t, decision.Respond)
	assert.Equal(t, "storage_error", decision.Reason)
}

func TestContainsTriggerWord(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		words    []string
		expected bool
	}{
		{
			name:     "whole word match",
			content:  "say com now",
			words:    []string{"com"},
			expected: true,
		},
		{
			name:     "case insensitive",
			content:  "SAY COM NOW",
			words:    []string{"com"},
			expected: true,
		},
		{
			name:     "substring is not a word",
			content:  "I love coms",
			words:    []string{"com"},
			expected: false,
		},
		{
			name:     "inside bare domain",
			content:  "check example.com site",
			words:    []string{"com"},
			expected: false,
		},
		{
			name:     "inside full url",
			content:  "see https://example.com/path for details",
			words:    []string{"com", "example"},
			expected: false,
		},
		{
			name:     "inside www url",
			content:  "www.pizza.org has it",
			words:    []string{"pizza"},
			expected: false,
		},
		{
			name:     "word outside url, same word inside",
			content:  "pizza is at https://pizza.example.com",
			words:    []string{"pizza"},
			expected: true,
		},
		{
			name:     "punctuation boundary",
			content:  "want pizza?",
			words:    []string{"pizza"},
			expected: true,
		},
		{
			name:     "start and end of message",
			content:  "pizza",
			words:    []string{"pizza"},
			expected: true,
		},
		{
			name:     "no words",
			content:  "anything",
			words:    nil,
			expected: false,
		},
		{
			name:     "empty content",
			content:  "",
			words:    []string{"pizza"},
			expected: false,
		},
		{
			name:     "underscore is a word character",
			content:  "try pizza_time",
			words:    []string{"pizza"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				assert.Equal(
					t,
					tt.expected,
					ContainsTriggerWord(tt.content, tt.words),
				)
			},
		)
	}
}
