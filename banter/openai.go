package banter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Rate limit headers returned by the completion API on 429 responses.
const (
	headerRateLimitReset     = "X-RateLimit-Reset-Time"
	headerRateLimitRemaining = "X-Ratelimit-Remaining"
)

const llmLimitKeyContextKey contextKey = "llm_limit_key"

// ErrRateLimited indicates the completion API is rate limited and when a
// retry is expected to succeed.
type ErrRateLimited struct {
	Wait time.Duration
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("completion API rate limited, retry in %s", e.Wait)
}

// UserLimitKey returns the remote-limit key for requests made on behalf
// of a specific user.
func UserLimitKey(userID string) string {
	if userID == "" {
		return remoteLimitKeyDefault
	}
	return "user_" + userID
}

// rateLimitCapture is an http.RoundTripper that watches completion API
// responses for 429s and feeds the advertised reset time and remaining
// quota into the RateTracker, keyed by the limit key carried on the
// request context.
type rateLimitCapture struct {
	base    http.RoundTripper
	tracker *RateTracker
	logger  *slog.Logger
}

func (rt *rateLimitCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}

	key, _ := req.Context().Value(llmLimitKeyContextKey).(string)
	resetAt := parseResetTime(resp.Header.Get(headerRateLimitReset))
	remaining := 0
	if v := resp.Header.Get(headerRateLimitRemaining); v != "" {
		if n, e := strconv.Atoi(strings.TrimSpace(v)); e == nil {
			remaining = n
		}
	}
	if resetAt.IsZero() {
		// no usable reset header, assume a short backoff
		resetAt = time.Now().Add(time.Minute)
	}
	rt.tracker.SetRemoteLimit(key, resetAt, remaining)
	rt.logger.Warn(
		"completion API rate limited",
		"key", key,
		"reset_at", resetAt,
		"remaining", remaining,
	)
	return resp, nil
}

// parseResetTime accepts either an RFC3339 timestamp or a unix epoch in
// seconds (optionally fractional).
func parseResetTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	if epoch, err := strconv.ParseFloat(value, 64); err == nil && epoch > 0 {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec)
	}
	return time.Time{}
}

// LLMClient wraps the completion API client with outbound request pacing
// and remote rate limit awareness.
type LLMClient struct {
	client         *openai.Client
	requestLimiter *rate.Limiter
	tracker        *RateTracker
	model          string
	systemPrompt   string
	requestTimeout time.Duration
	logger         *slog.Logger
}

// NewLLMClient builds an LLMClient from config. The tracker receives
// remote limits captured from 429 responses.
func NewLLMClient(
	cfg LLMConfig,
	tracker *RateTracker,
	logger *slog.Logger,
) *LLMClient {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(loggerNameKey, "llm")

	clientConfig := openai.DefaultConfig(cfg.Token)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	// shallow copy so we don't mutate a shared client
	wrapped := *httpClient
	wrapped.Transport = &rateLimitCapture{
		base:    base,
		tracker: tracker,
		logger:  logger,
	}
	clientConfig.HTTPClient = &wrapped

	return &LLMClient{
		client:         openai.NewClientWithConfig(clientConfig),
		requestLimiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1),
		tracker:        tracker,
		model:          cfg.Model,
		systemPrompt:   cfg.SystemPrompt,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
	}
}

// Complete sends the prompt to the completion API and returns the reply
// text. limitKey scopes remote rate limits ("default" or a per-user key).
// Returns ErrRateLimited without sending when the API is known to be
// limited for the key, or after receiving a 429.
func (c *LLMClient) Complete(
	ctx context.Context,
	limitKey string,
	prompt string,
) (string, error) {
	if limitKey == "" {
		limitKey = remoteLimitKeyDefault
	}
	log := loggerOrDefault(ctx, c.logger)

	if wait := c.tracker.RemoteWait(limitKey); wait > 0 {
		return "", ErrRateLimited{Wait: wait}
	}

	if err := c.requestLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("error waiting for request limiter: %w", err)
	}

	ctx = context.WithValue(ctx, llmLimitKeyContextKey, limitKey)
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if c.systemPrompt != "" {
		messages = append(
			messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: c.systemPrompt,
			},
		)
	}
	messages = append(
		messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		},
	)

	started := time.Now()
	resp, err := c.client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: messages,
		},
	)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			wait := c.tracker.RemoteWait(limitKey)
			if wait <= 0 {
				wait = time.Minute
			}
			return "", ErrRateLimited{Wait: wait}
		}
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("completion response had no choices")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	log.Debug(
		"completion finished",
		"model", c.model,
		"duration", time.Since(started),
		"prompt_chars", len(prompt),
		"reply_chars", len(reply),
	)
	if reply == "" {
		return "", errors.New("completion response was empty")
	}
	return reply, nil
}

// logCompletionError logs at a level appropriate to the error type.
func logCompletionError(log *slog.Logger, err error) {
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		log.Info("completion rate limited", "wait", rateLimited.Wait)
		return
	}
	log.Error("completion failed", tint.Err(err))
}
