package banter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const defaultRevivePrompt = "The chat has been quiet for a while. Write one " +
	"short, casual message to get people talking again. Ask a fun question " +
	"or drop an interesting thought. No more than two sentences."

var defaultReviveFallbacks = []string{
	"It's quiet in here... what's everyone been up to?",
	"Random question: what's the best thing you've eaten this week?",
	"If you could instantly master one skill, what would it be?",
	"Hot take time. Share yours, I'll share mine.",
	"What's a movie you can rewatch forever without getting bored?",
}

// ParseReviveInterval parses a "1h30m"-style duration and enforces the
// allowed range.
func ParseReviveInterval(value string) (time.Duration, error) {
	interval, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	if interval < DefaultReviveIntervalMin {
		return 0, fmt.Errorf("interval must be at least %s", DefaultReviveIntervalMin)
	}
	if interval > DefaultReviveIntervalMax {
		return 0, fmt.Errorf("interval must be at most %s", DefaultReviveIntervalMax)
	}
	return interval, nil
}

type reviveLoop struct {
	guildID string
	cancel  context.CancelFunc
}

// ReviveManager runs one loop per guild with revive chat enabled, posting
// an LLM-generated conversation starter on the configured interval. The
// next send time is persisted so schedules survive restarts, and a
// reconciler ticker restarts loops lost to transient failures.
type ReviveManager struct {
	mu    sync.Mutex
	loops map[string]*reviveLoop

	db      *Database
	llm     *LLMClient
	discord *Discord
	config  ReviveConfig

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	rand   *rand.Rand
	logger *slog.Logger
}

// NewReviveManager wires a manager; Start must be called before Enable.
func NewReviveManager(
	db *Database,
	llm *LLMClient,
	discord *Discord,
	config ReviveConfig,
	logger *slog.Logger,
) *ReviveManager {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Prompt == "" {
		config.Prompt = defaultRevivePrompt
	}
	if len(config.FallbackMessages) == 0 {
		config.FallbackMessages = defaultReviveFallbacks
	}
	if config.ReconcileInterval <= 0 {
		config.ReconcileInterval = DefaultReviveReconcileEvery
	}
	return &ReviveManager{
		loops:   map[string]*reviveLoop{},
		db:      db,
		llm:     llm,
		discord: discord,
		config:  config,
		//nolint:gosec // fallback message selection only
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.With(loggerNameKey, "revive"),
	}
}

// Start launches loops for every persisted schedule and the reconciler.
func (m *ReviveManager) Start(ctx context.Context) error {
	m.rootCtx, m.cancel = context.WithCancel(ctx)

	schedules, err := m.db.ReviveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("error loading revive schedules: %w", err)
	}
	for _, settings := range schedules {
		m.startLoop(settings)
	}

	m.wg.Add(1)
	go m.reconcile()
	return nil
}

// Stop cancels every loop and waits for them to exit.
func (m *ReviveManager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Enable persists the schedule and (re)starts the guild's loop. The first
// message is due one full interval from now.
func (m *ReviveManager) Enable(
	ctx context.Context,
	guildID string,
	channelID string,
	roleID string,
	interval time.Duration,
) error {
	settings, err := m.db.GetGuildSettings(ctx, guildID)
	if err != nil {
		return err
	}
	settings.ReviveEnabled = true
	settings.ReviveChannelID = channelID
	settings.ReviveRoleID = roleID
	settings.ReviveInterval = interval.String()
	settings.ReviveNextSend = time.Now().Add(interval).UnixMilli()
	if err = m.db.SaveGuildSettings(ctx, &settings); err != nil {
		return err
	}

	m.stopLoop(guildID)
	m.startLoop(settings)
	return nil
}

// Disable stops the guild's loop and persists the disabled state.
// Reports whether revive chat was enabled.
func (m *ReviveManager) Disable(ctx context.Context, guildID string) (bool, error) {
	settings, err := m.db.GetGuildSettings(ctx, guildID)
	if err != nil {
		return false, err
	}
	wasEnabled := settings.ReviveEnabled
	settings.ReviveEnabled = false
	if err = m.db.SaveGuildSettings(ctx, &settings); err != nil {
		return wasEnabled, err
	}
	m.stopLoop(guildID)
	return wasEnabled, nil
}

// Running reports whether a loop is active for the guild.
func (m *ReviveManager) Running(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[guildID]
	return ok
}

func (m *ReviveManager) startLoop(settings GuildSettings) {
	if m.rootCtx == nil || m.rootCtx.Err() != nil {
		return
	}
	interval, err := ParseReviveInterval(settings.ReviveInterval)
	if err != nil {
		m.logger.Warn(
			"skipping revive schedule with bad interval",
			"guild_id", settings.GuildID,
			"interval", settings.ReviveInterval,
			tint.Err(err),
		)
		return
	}

	loopCtx, cancel := context.WithCancel(m.rootCtx)
	loop := &reviveLoop{guildID: settings.GuildID, cancel: cancel}

	m.mu.Lock()
	if _, exists := m.loops[settings.GuildID]; exists {
		m.mu.Unlock()
		cancel()
		return
	}
	m.loops[settings.GuildID] = loop
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(loopCtx, loop, settings, interval)
}

func (m *ReviveManager) stopLoop(guildID string) {
	m.mu.Lock()
	loop, ok := m.loops[guildID]
	if ok {
		delete(m.loops, guildID)
	}
	m.mu.Unlock()
	if ok {
		loop.cancel()
	}
}

func (m *ReviveManager) run(
	ctx context.Context,
	loop *reviveLoop,
	settings GuildSettings,
	interval time.Duration,
) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if m.loops[loop.guildID] == loop {
			delete(m.loops, loop.guildID)
		}
		m.mu.Unlock()
	}()

	log := m.logger.With(
		"guild_id", settings.GuildID,
		"channel_id", settings.ReviveChannelID,
		"interval", interval,
	)

	nextSend := time.UnixMilli(settings.ReviveNextSend)
	if settings.ReviveNextSend == 0 {
		nextSend = time.Now().Add(interval)
	}

	for {
		wait := time.Until(nextSend)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		message := m.generateMessage(ctx)
		if ctx.Err() != nil {
			return
		}
		if settings.ReviveRoleID != "" {
			message = fmt.Sprintf("<@&%s> %s", settings.ReviveRoleID, message)
		}
		if err := m.discord.ChannelMessageSend(
			settings.ReviveChannelID, message,
		); err != nil {
			log.Error("error sending revive message", tint.Err(err))
		} else {
			log.Info("sent revive message")
		}

		nextSend = time.Now().Add(interval)
		settings.ReviveNextSend = nextSend.UnixMilli()
		if err := m.db.SaveGuildSettings(ctx, &settings); err != nil {
			log.Error("error persisting next send time", tint.Err(err))
		}
	}
}

// generateMessage asks the LLM for a conversation starter, retrying on
// rate limits, and falls back to a canned message when the API is down.
func (m *ReviveManager) generateMessage(ctx context.Context) string {
	for attempt := 0; attempt <= DefaultReviveRateLimitRetries; attempt++ {
		reply, err := m.llm.Complete(ctx, remoteLimitKeyDefault, m.config.Prompt)
		if err == nil {
			return truncate(reply, discordMaxMessageLength)
		}

		var rateLimited ErrRateLimited
		if !errors.As(err, &rateLimited) {
			m.logger.Warn("revive message generation failed", tint.Err(err))
			break
		}
		wait := rateLimited.Wait
		if wait > time.Minute {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return m.fallbackMessage()
		case <-timer.C:
		}
	}
	return m.fallbackMessage()
}

func (m *ReviveManager) fallbackMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.FallbackMessages[m.rand.Intn(len(m.config.FallbackMessages))]
}

// reconcile periodically compares persisted schedules to running loops,
// restarting any that died.
func (m *ReviveManager) reconcile() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.rootCtx.Done():
			return
		case <-ticker.C:
		}

		schedules, err := m.db.ReviveSchedules(m.rootCtx)
		if err != nil {
			m.logger.Warn("reconcile: error loading schedules", tint.Err(err))
			continue
		}
		for _, settings := range schedules {
			if !m.Running(settings.GuildID) {
				m.logger.Info(
					"reconcile: restarting revive loop",
					"guild_id", settings.GuildID,
				)
				m.startLoop(settings)
			}
		}
	}
}
