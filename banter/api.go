package banter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// API is the read-only status server: health, runtime counters and
// per-guild settings. It carries no auth and should be bound to loopback
// or a private interface.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	engine     *gin.Engine
	logger     *slog.Logger
	bot        *Banter
}

func newAPI(config *APIConfig, bot *Banter, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(loggerNameKey, "api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	a := &API{
		config: config,
		engine: engine,
		logger: logger,
		bot:    bot,
	}
	a.registerRoutes()

	a.httpServer = &http.Server{
		Handler:           engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return a
}

func (a *API) registerRoutes() {
	a.engine.GET("/healthz", a.getHealth)
	a.engine.GET("/status", a.getStatus)
	a.engine.GET("/guilds/:guild_id/settings", a.getGuildSettings)
}

func (a *API) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	Uptime             string         `json:"uptime"`
	DiscordConnected   bool           `json:"discord_connected"`
	DiscordConnects    int64          `json:"discord_connects"`
	DiscordDisconnects int64          `json:"discord_disconnects"`
	MessagesHandled    int64          `json:"messages_handled"`
	PendingResponses   int            `json:"pending_responses"`
	WindowOccupancy    map[string]int `json:"window_occupancy"`
}

func (a *API) getStatus(c *gin.Context) {
	c.JSON(
		http.StatusOK, statusResponse{
			Uptime:             time.Since(a.bot.startedAt).Round(time.Second).String(),
			DiscordConnected:   a.bot.discord.Connected(),
			DiscordConnects:    a.bot.discord.metricConnects.Load(),
			DiscordDisconnects: a.bot.discord.metricDisconnects.Load(),
			MessagesHandled:    a.bot.discord.metricMessagesHandled.Load(),
			PendingResponses:   a.bot.scheduler.PendingCount(),
			WindowOccupancy:    a.bot.tracker.ChannelOccupancy(),
		},
	)
}

func (a *API) getGuildSettings(c *gin.Context) {
	guildID := c.Param("guild_id")
	settings, err := a.bot.db.GetGuildSettings(c.Request.Context(), guildID)
	if err != nil {
		a.logger.Error("error loading guild settings", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error loading guild settings"},
		)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// Serve listens on the configured address until ctx is cancelled.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	a.logger.Info("api listening", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.Serve(listener)
	}()

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	}
}
