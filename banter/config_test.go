package banter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validTestConfig returns defaults with the required secrets filled in.
func validTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.LLM.Token = "llm-token"
	cfg.Discord.Token = "discord-token"
	cfg.Discord.ApplicationID = "app-1"
	return cfg
}

func TestValidateConfigDefaults(t *testing.T) {
	assert.NoError(t, ValidateConfig(validTestConfig()))
}

func TestValidateConfigMissingTokens(t *testing.T) {
	cfg := validTestConfig()
	cfg.LLM.Token = ""
	assert.Error(t, ValidateConfig(cfg))

	cfg = validTestConfig()
	cfg.Discord.Token = ""
	assert.Error(t, ValidateConfig(cfg))

	cfg = validTestConfig()
	cfg.Discord.ApplicationID = ""
	assert.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigDatabaseType(t *testing.T) {
	cfg := validTestConfig()
	cfg.DatabaseType = "mysql"
	assert.Error(t, ValidateConfig(cfg))

	cfg.DatabaseType = dbTypePostgres
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfigReplyStyle(t *testing.T) {
	cfg := validTestConfig()
	cfg.Discord.ReplyStyle = ReplyStyle(4)
	assert.Error(t, ValidateConfig(cfg))

	cfg.Discord.ReplyStyle = ReplyStyleQuietReply
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfigResponsePolicy(t *testing.T) {
	for name, mutate := range map[string]func(*ResponsePolicyConfig){
		"negative limit":     func(p *ResponsePolicyConfig) { p.BotResponseLimit = -1 },
		"zero window":        func(p *ResponsePolicyConfig) { p.BotResponseWindow = 0 },
		"negative min gap":   func(p *ResponsePolicyConfig) { p.BotResponseMinGap = -time.Second },
		"inverted bot delay": func(p *ResponsePolicyConfig) { p.BotDelayMin = time.Minute; p.BotDelayMax = time.Second },
		"zero typing speed":  func(p *ResponsePolicyConfig) { p.TypingCharsPerMinute = 0 },
		"jitter out of range": func(p *ResponsePolicyConfig) {
			p.TypingJitter = 1.5
		},
		"inverted typing delay": func(p *ResponsePolicyConfig) {
			p.TypingDelayMin = time.Minute
			p.TypingDelayMax = time.Second
		},
	} {
		t.Run(
			name, func(t *testing.T) {
				cfg := validTestConfig()
				mutate(cfg.ResponsePolicy)
				assert.Error(t, ValidateConfig(cfg))
			},
		)
	}
}

func TestValidateConfigZeroLimitAllowed(t *testing.T) {
	// a zero bot response limit disables bot conversations, it isn't an error
	cfg := validTestConfig()
	cfg.ResponsePolicy.BotResponseLimit = 0
	assert.NoError(t, ValidateConfig(cfg))
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg.ResponsePolicy)
	assert.Equal(t, DefaultBotResponseLimit, cfg.ResponsePolicy.BotResponseLimit)
	assert.Equal(t, DefaultBotResponseWindow, cfg.ResponsePolicy.BotResponseWindow)
	assert.Equal(t, DefaultBotResponseMinGap, cfg.ResponsePolicy.BotResponseMinGap)

	require.NotNil(t, cfg.Discord)
	assert.Equal(t, DefaultReplyStyle, cfg.Discord.ReplyStyle)

	require.NotNil(t, cfg.LLM)
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)

	require.NotNil(t, cfg.API)
	assert.False(t, cfg.API.Enabled)
}
