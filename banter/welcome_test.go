package banter

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWelcomer(
	t *testing.T,
	session *stubSession,
	responses ...stubResponse,
) (*Welcomer, *Database) {
	t.Helper()
	db := newTestDB(t)
	tracker := NewRateTracker(
		ResponsePolicyConfig{
			BotResponseLimit:  20,
			BotResponseWindow: time.Minute,
		}, nil,
	)
	llm, _ := newTestLLM(t, tracker, responses...)
	discord := newTestDiscord(session)

	welcomer := NewWelcomer(
		db, llm, discord,
		WelcomeConfig{FallbackMessages: []string{"welcome, friend!"}},
		nil,
	)
	return welcomer, db
}

func enableWelcome(t *testing.T, db *Database, guildID, channelID string) {
	t.Helper()
	ctx := context.Background()
	settings, err := db.GetGuildSettings(ctx, guildID)
	require.NoError(t, err)
	settings.WelcomeEnabled = true
	settings.WelcomeChannelID = channelID
	require.NoError(t, db.SaveGuildSettings(ctx, &settings))
}

func TestWelcomeDisabledByDefault(t *testing.T) {
	session := &stubSession{}
	welcomer, _ := newTestWelcomer(t, session)

	err := welcomer.Greet(context.Background(), "guild-1", "user-9", "Ada")
	require.NoError(t, err)
	assert.Empty(t, session.sentMessages())
}

func TestWelcomeSendsGeneratedMessage(t *testing.T) {
	session := &stubSession{}
	welcomer, db := newTestWelcomer(
		t, session,
		stubResponse{
			status: http.StatusOK,
			body:   completionBody(`"Welcome, Ada!"`),
		},
	)
	enableWelcome(t, db, "guild-1", "chan-w")

	err := welcomer.Greet(context.Background(), "guild-1", "user-9", "Ada")
	require.NoError(t, err)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "chan-w", sent[0].channelID)
	// wrapping quotes are stripped and the mention appended
	assert.Equal(t, "Welcome, Ada! <@user-9>", sent[0].content)
}

func TestWelcomeFallsBackWhenLLMFails(t *testing.T) {
	session := &stubSession{}
	welcomer, db := newTestWelcomer(
		t, session,
		stubResponse{
			status: http.StatusInternalServerError,
			body:   `{"error":{"message":"boom","type":"server_error"}}`,
		},
	)
	enableWelcome(t, db, "guild-1", "chan-w")

	err := welcomer.Greet(context.Background(), "guild-1", "user-9", "Ada")
	require.NoError(t, err)

	sent := session.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "welcome, friend! <@user-9>", sent[0].content)
}
