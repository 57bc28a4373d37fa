package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/banterbot/banter/banter"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = banter.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "banter [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("could not load env from %s", configFile)
		}
	}

	viper.SetDefault("database", banter.DefaultDatabase)
	viper.SetDefault("database_type", banter.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		banter.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		banter.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", banter.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", banter.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", banter.DefaultShutdownTimeout)

	// Response policy
	viper.SetDefault(
		"response_policy.bot_response_limit",
		banter.DefaultBotResponseLimit,
	)
	viper.SetDefault(
		"response_policy.bot_response_window",
		banter.DefaultBotResponseWindow,
	)
	viper.SetDefault(
		"response_policy.bot_response_min_gap",
		banter.DefaultBotResponseMinGap,
	)
	viper.SetDefault("response_policy.bot_delay_min", banter.DefaultBotDelayMin)
	viper.SetDefault("response_policy.bot_delay_max", banter.DefaultBotDelayMax)
	viper.SetDefault(
		"response_policy.typing_chars_per_minute",
		banter.DefaultTypingCharsPerMinute,
	)
	viper.SetDefault("response_policy.typing_jitter", banter.DefaultTypingJitter)
	viper.SetDefault(
		"response_policy.typing_delay_min",
		banter.DefaultTypingDelayMin,
	)
	viper.SetDefault(
		"response_policy.typing_delay_max",
		banter.DefaultTypingDelayMax,
	)
	viper.SetDefault("response_policy.trigger_words", []string{})

	// LLM config
	viper.SetDefault("llm.token", "")
	viper.SetDefault("llm.base_url", "")
	viper.SetDefault("llm.model", banter.DefaultLLMModel)
	viper.SetDefault("llm.system_prompt", "")
	viper.SetDefault(
		"llm.max_requests_per_second",
		banter.DefaultLLMMaxRequestsPerSecond,
	)
	viper.SetDefault("llm.request_timeout", banter.DefaultLLMRequestTimeout)
	viper.SetDefault("llm.log_level", banter.DefaultLLMLogLevel.String())

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		banter.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		banter.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		banter.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.startup_message", banter.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.error_message", banter.DefaultDiscordErrorMessage)
	viper.SetDefault(
		"discord.rate_limit_message",
		banter.DefaultDiscordRateLimitMessage,
	)
	viper.SetDefault("discord.reply_style", int(banter.DefaultReplyStyle))

	// Revive config
	viper.SetDefault(
		"revive.reconcile_interval",
		banter.DefaultReviveReconcileEvery,
	)
	viper.SetDefault("revive.prompt", "")
	viper.SetDefault("revive.fallback_messages", []string{})

	// Welcome config
	viper.SetDefault("welcome.prompt", "")
	viper.SetDefault("welcome.fallback_messages", []string{})

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", banter.DefaultAPIListen)
	viper.SetDefault("api.log_level", banter.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", banter.DefaultAPIReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		banter.DefaultAPIReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", banter.DefaultAPIWriteTimeout)
	viper.SetDefault("api.idle_timeout", banter.DefaultAPIIdleTimeout)

	envPrefix := os.Getenv(banter.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = banter.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// space-separated env values become slices; only coerce raw strings
	// so reruns (tests, multiple commands) don't clobber fresh env values
	// with a stale override
	for _, key := range []string{
		"response_policy.trigger_words",
		"revive.fallback_messages",
		"welcome.fallback_messages",
	} {
		if _, ok := viper.Get(key).(string); ok {
			viper.Set(key, viper.GetStringSlice(key))
		}
	}
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load before reading the environment",
	)
}
