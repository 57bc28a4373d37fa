//nolint:lll // struct tags can't be split
package banter

import (
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "BANTER_ENV_PREFIX"
	DefaultEnvPrefix   = "BANTER"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "banter.sqlite3"
	DefaultLogLevel              = slog.LevelInfo
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 60 * time.Second
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultLLMLogLevel           = slog.LevelInfo
	DefaultSchedulerLogLevel     = slog.LevelInfo
	DefaultAPILogLevel           = slog.LevelInfo

	// Sliding-window bot response policy defaults. Up to
	// DefaultBotResponseLimit responses per channel per
	// DefaultBotResponseWindow, never closer together than
	// DefaultBotResponseMinGap.
	DefaultBotResponseLimit  = 20
	DefaultBotResponseWindow = 60 * time.Second
	DefaultBotResponseMinGap = 10 * time.Second

	// Bot-to-bot conversation pacing defaults.
	DefaultBotDelayMin = 10 * time.Second
	DefaultBotDelayMax = 30 * time.Second

	// Simulated typing defaults: characters per minute, and the clamp
	// applied to the resulting duration.
	DefaultTypingCharsPerMinute = 200
	DefaultTypingJitter         = 0.2
	DefaultTypingDelayMin       = 1 * time.Second
	DefaultTypingDelayMax       = 8 * time.Second

	DefaultLLMMaxRequestsPerSecond = 1
	DefaultLLMRequestTimeout       = 2 * time.Minute
	DefaultLLMModel                = "gpt-4o-mini"

	DefaultDiscordErrorMessage     = "sorry, something went wrong!"
	DefaultDiscordRateLimitMessage = "I'm a bit overwhelmed right now, give me a minute!"
	DefaultDiscordStartupMessage   = "I'm here!"
	DefaultDiscordGatewayIntent    = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentMessageContent | discordgo.IntentGuildMembers

	discordMaxMessageLength = 2000

	DefaultReplyStyle = ReplyStyleMentionReply

	DefaultAPIListen            = "127.0.0.1:5000"
	defaultListenNetwork        = "tcp"
	DefaultAPIReadTimeout       = 5 * time.Second
	DefaultAPIReadHeaderTimeout = 5 * time.Second
	DefaultAPIWriteTimeout      = 10 * time.Second
	DefaultAPIIdleTimeout       = 30 * time.Second

	DefaultReviveIntervalMin      = time.Minute
	DefaultReviveIntervalMax      = 24 * time.Hour
	DefaultReviveReconcileEvery   = time.Minute
	DefaultReviveRateLimitRetries = 3
)

// ReplyStyle selects how LLM replies are delivered back to the channel.
type ReplyStyle int

const (
	// ReplyStyleMentionReply replies to the triggering message and pings
	// its author.
	ReplyStyleMentionReply ReplyStyle = 1

	// ReplyStyleQuietReply replies to the triggering message without a ping.
	ReplyStyleQuietReply ReplyStyle = 2

	// ReplyStyleChannelSend posts to the channel without a reply reference.
	ReplyStyleChannelSend ReplyStyle = 3
)

// Config is the top-level bot configuration, loaded by cmd via
// viper/godotenv and validated with ValidateConfig before use.
type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// ResponsePolicy configures the per-channel bot-to-bot response budget
	// and conversational pacing
	ResponsePolicy *ResponsePolicyConfig `yaml:"response_policy" mapstructure:"response_policy" json:"response_policy"`

	// LLM configures the completion API client
	LLM *LLMConfig `yaml:"llm" mapstructure:"llm" json:"llm"`

	// API configures the status/health HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Revive configures scheduled chat-revival messages
	Revive *ReviveConfig `yaml:"revive" mapstructure:"revive" json:"revive"`

	// Welcome configures member-join welcome messages
	Welcome *WelcomeConfig `yaml:"welcome" mapstructure:"welcome" json:"welcome"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// ResponsePolicyConfig bounds how often, and how quickly, the bot answers
// other bots in a channel.
type ResponsePolicyConfig struct {
	// BotResponseLimit is the maximum number of bot-conversation responses
	// allowed per channel within BotResponseWindow. 0 disables
	// bot conversations entirely.
	BotResponseLimit int `yaml:"bot_response_limit" mapstructure:"bot_response_limit" json:"bot_response_limit"`

	// BotResponseWindow is the sliding window the limit applies over
	BotResponseWindow time.Duration `yaml:"bot_response_window" mapstructure:"bot_response_window" json:"bot_response_window"`

	// BotResponseMinGap is the minimum spacing between two responses in the
	// same channel, regardless of window occupancy
	BotResponseMinGap time.Duration `yaml:"bot_response_min_gap" mapstructure:"bot_response_min_gap" json:"bot_response_min_gap"`

	// BotDelayMin/BotDelayMax bound the randomized pause taken before
	// answering another bot
	BotDelayMin time.Duration `yaml:"bot_delay_min" mapstructure:"bot_delay_min" json:"bot_delay_min"`
	BotDelayMax time.Duration `yaml:"bot_delay_max" mapstructure:"bot_delay_max" json:"bot_delay_max"`

	// TypingCharsPerMinute sets the simulated typing speed used to hold the
	// typing indicator before sending
	TypingCharsPerMinute int `yaml:"typing_chars_per_minute" mapstructure:"typing_chars_per_minute" json:"typing_chars_per_minute"`

	// TypingJitter is the +/- fraction applied to the computed typing time
	TypingJitter float64 `yaml:"typing_jitter" mapstructure:"typing_jitter" json:"typing_jitter"`

	// TypingDelayMin/TypingDelayMax clamp the simulated typing time
	TypingDelayMin time.Duration `yaml:"typing_delay_min" mapstructure:"typing_delay_min" json:"typing_delay_min"`
	TypingDelayMax time.Duration `yaml:"typing_delay_max" mapstructure:"typing_delay_max" json:"typing_delay_max"`

	// TriggerWords always admit a message for response when one appears as
	// a whole word outside a URL, in any channel the bot can read
	TriggerWords []string `yaml:"trigger_words" mapstructure:"trigger_words" json:"trigger_words"`
}

func validateResponsePolicyConfig(field reflect.Value) any {
	if value, ok := field.Interface().(ResponsePolicyConfig); ok {
		if value.BotResponseLimit < 0 {
			return "bot_response_limit must be >= 0"
		}
		if value.BotResponseWindow <= 0 {
			return "bot_response_window must be > 0"
		}
		if value.BotResponseMinGap < 0 {
			return "bot_response_min_gap must be >= 0"
		}
		if value.BotDelayMin < 0 || value.BotDelayMax < value.BotDelayMin {
			return "bot_delay bounds must satisfy 0 <= min <= max"
		}
		if value.TypingCharsPerMinute <= 0 {
			return "typing_chars_per_minute must be > 0"
		}
		if value.TypingJitter < 0 || value.TypingJitter >= 1 {
			return "typing_jitter must be in [0, 1)"
		}
		if value.TypingDelayMin <= 0 || value.TypingDelayMax < value.TypingDelayMin {
			return "typing_delay bounds must satisfy 0 < min <= max"
		}
	}
	return nil
}

// LLMConfig configures the OpenAI-compatible completion API client.
//
//nolint:lll // can't break tags
type LLMConfig struct {
	// Token is the API key
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// BaseURL overrides the API endpoint, for OpenAI-compatible providers.
	// Leave empty for the OpenAI default.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`

	// Model is the completion model name
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// SystemPrompt is prepended to every completion request, if set
	SystemPrompt string `yaml:"system_prompt" mapstructure:"system_prompt" json:"system_prompt"`

	// MaxRequestsPerSecond caps outbound API requests
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"gte=1"`

	// RequestTimeout bounds a single completion request
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"required"`

	// LogLevel for the LLM client
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	httpClient *http.Client
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// NotificationChannelID, if set, receives StartupMessage whenever the
	// bot connects to the gateway
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// StartupMessage is sent to NotificationChannelID on gateway connect
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// ErrorMessage is the user-facing reply when a completion fails
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message" binding:"required"`

	// RateLimitMessage is the user-facing reply when the completion API is
	// rate limited. Bot-authored conversations never receive it.
	RateLimitMessage string `yaml:"rate_limit_message" mapstructure:"rate_limit_message" json:"rate_limit_message" binding:"required"`

	// ReplyStyle selects mention-reply, quiet-reply or plain channel send
	ReplyStyle ReplyStyle `yaml:"reply_style" mapstructure:"reply_style" json:"reply_style" binding:"gte=1,lte=3"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// ReviveConfig configures the scheduled chat-revival loops.
type ReviveConfig struct {
	// ReconcileInterval is how often persisted revive schedules are compared
	// against running loops, restarting any lost to a reconnect or restart
	ReconcileInterval time.Duration `yaml:"reconcile_interval" mapstructure:"reconcile_interval" json:"reconcile_interval"`

	// Prompt is sent to the LLM to generate a revival message
	Prompt string `yaml:"prompt" mapstructure:"prompt" json:"prompt"`

	// FallbackMessages are used when the LLM is unavailable
	FallbackMessages []string `yaml:"fallback_messages" mapstructure:"fallback_messages" json:"fallback_messages"`
}

// WelcomeConfig configures member-join welcome messages. Per-guild
// enablement and the target channel live in GuildSettings; this only
// shapes the message itself.
type WelcomeConfig struct {
	// Prompt is sent to the LLM to generate a welcome message. The new
	// member's display name is appended as context.
	Prompt string `yaml:"prompt" mapstructure:"prompt" json:"prompt"`

	// FallbackMessages are used when the LLM is unavailable
	FallbackMessages []string `yaml:"fallback_messages" mapstructure:"fallback_messages" json:"fallback_messages"`
}

// APIConfig configures the read-only status HTTP server.
//
//nolint:lll // can't break tags
type APIConfig struct {
	// Enabled determines whether the status server runs at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Listen address (e.g. "127.0.0.1:5000")
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// DefaultConfig returns a Config with all defaults populated. Secrets
// (tokens) are left empty and must come from the environment or config file.
func DefaultConfig() *Config {
	logLevel := &slog.LevelVar{}
	logLevel.Set(DefaultLogLevel)

	dbLogLevel := &slog.LevelVar{}
	dbLogLevel.Set(DefaultDatabaseLogLevel)

	discordLogLevel := &slog.LevelVar{}
	discordLogLevel.Set(DefaultDiscordLogLevel)

	discordgoLogLevel := &slog.LevelVar{}
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)

	llmLogLevel := &slog.LevelVar{}
	llmLogLevel.Set(DefaultLLMLogLevel)

	apiLogLevel := &slog.LevelVar{}
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		Database:              DefaultDatabase,
		DatabaseType:          DefaultDatabaseType,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              logLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		ResponsePolicy: &ResponsePolicyConfig{
			BotResponseLimit:     DefaultBotResponseLimit,
			BotResponseWindow:    DefaultBotResponseWindow,
			BotResponseMinGap:    DefaultBotResponseMinGap,
			BotDelayMin:          DefaultBotDelayMin,
			BotDelayMax:          DefaultBotDelayMax,
			TypingCharsPerMinute: DefaultTypingCharsPerMinute,
			TypingJitter:         DefaultTypingJitter,
			TypingDelayMin:       DefaultTypingDelayMin,
			TypingDelayMax:       DefaultTypingDelayMax,
		},
		LLM: &LLMConfig{
			Model:                DefaultLLMModel,
			MaxRequestsPerSecond: DefaultLLMMaxRequestsPerSecond,
			RequestTimeout:       DefaultLLMRequestTimeout,
			LogLevel:             llmLogLevel,
		},
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
			ErrorMessage:      DefaultDiscordErrorMessage,
			RateLimitMessage:  DefaultDiscordRateLimitMessage,
			ReplyStyle:        DefaultReplyStyle,
			GatewayIntents:    DefaultDiscordGatewayIntent,
		},
		Revive: &ReviveConfig{
			ReconcileInterval: DefaultReviveReconcileEvery,
			Prompt:            defaultRevivePrompt,
			FallbackMessages:  defaultReviveFallbacks,
		},
		Welcome: &WelcomeConfig{
			Prompt:           defaultWelcomePrompt,
			FallbackMessages: defaultWelcomeFallbacks,
		},
		API: &APIConfig{
			Enabled:           false,
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultAPIReadTimeout,
			ReadHeaderTimeout: DefaultAPIReadHeaderTimeout,
			WriteTimeout:      DefaultAPIWriteTimeout,
			IdleTimeout:       DefaultAPIIdleTimeout,
		},
	}
}

// ValidateConfig validates the given config with `binding` tags plus the
// custom struct-level checks, returning all violations found.
func ValidateConfig(config *Config) error {
	validate := validator.New()
	validate.SetTagName("binding")
	validate.RegisterCustomTypeFunc(
		validateResponsePolicyConfig,
		ResponsePolicyConfig{},
	)

	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if config.ResponsePolicy != nil {
		if msg := validateResponsePolicyConfig(
			reflect.ValueOf(*config.ResponsePolicy),
		); msg != nil {
			return fmt.Errorf("invalid config: response_policy: %v", msg)
		}
	}
	return nil
}
