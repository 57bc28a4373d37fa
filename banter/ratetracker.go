package banter

import (
	"log/slog"
	"sync"
	"time"
)

// remoteLimitKeyDefault tracks completion API limits that aren't scoped to
// a particular user.
const remoteLimitKeyDefault = "default"

// remoteLimit is a provider-reported rate limit, captured from 429
// response headers.
type remoteLimit struct {
	resetAt   time.Time
	remaining int
}

// RateTracker enforces the per-channel bot-conversation budget: at most
// limit responses within window, never two responses closer together than
// minGap. It also tracks rate limits reported by the completion API so
// callers can back off before sending a doomed request.
//
// All state is owned by the tracker and guarded by a single mutex. Stale
// window entries are evicted lazily whenever a channel is touched; a
// channel whose window empties is deleted outright so idle channels cost
// nothing.
type RateTracker struct {
	mu sync.Mutex

	limit  int
	window time.Duration
	minGap time.Duration

	// responses holds send timestamps per channel, oldest first
	responses map[string][]time.Time

	// remote holds provider-reported limits by key ("default" or a
	// per-user key)
	remote map[string]remoteLimit

	now    func() time.Time
	logger *slog.Logger
}

// NewRateTracker returns a RateTracker enforcing the given policy.
func NewRateTracker(cfg ResponsePolicyConfig, logger *slog.Logger) *RateTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateTracker{
		limit:     cfg.BotResponseLimit,
		window:    cfg.BotResponseWindow,
		minGap:    cfg.BotResponseMinGap,
		responses: map[string][]time.Time{},
		remote:    map[string]remoteLimit{},
		now:       time.Now,
		logger:    logger.With(loggerNameKey, "rate_tracker"),
	}
}

// CanRespond reports whether a bot-conversation response is currently
// allowed in the channel, and if not, how long until one would be. The
// check does not reserve capacity; call RecordResponse after the response
// is actually sent.
func (r *RateTracker) CanRespond(channelID string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	sent := r.evictLocked(channelID, now)

	if r.limit <= 0 {
		return false, r.window
	}

	if len(sent) >= r.limit {
		wait := sent[0].Add(r.window).Sub(now)
		if wait < 0 {
			wait = 0
		}
		return false, wait
	}

	if r.minGap > 0 && len(sent) > 0 {
		last := sent[len(sent)-1]
		if gap := now.Sub(last); gap < r.minGap {
			return false, r.minGap - gap
		}
	}

	return true, 0
}

// RecordResponse records that a response was sent to the channel now.
// Call it exactly once per response actually delivered.
func (r *RateTracker) RecordResponse(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	sent := r.evictLocked(channelID, now)
	r.responses[channelID] = append(sent, now)
}

// WindowOccupancy returns how many responses currently count against the
// channel's window.
func (r *RateTracker) WindowOccupancy(channelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.evictLocked(channelID, r.now()))
}

// ChannelOccupancy returns the current window occupancy for every channel
// with at least one response in its window.
func (r *RateTracker) ChannelOccupancy() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make(map[string]int, len(r.responses))
	for channelID := range r.responses {
		if sent := r.evictLocked(channelID, now); len(sent) > 0 {
			out[channelID] = len(sent)
		}
	}
	return out
}

// evictLocked drops window entries older than the window for the channel
// and returns the surviving slice. Channels with no surviving entries are
// removed from the map. Callers must hold r.mu.
func (r *RateTracker) evictLocked(channelID string, now time.Time) []time.Time {
	sent := r.responses[channelID]
	if len(sent) == 0 {
		return nil
	}
	cutoff := now.Add(-r.window)
	keep := 0
	for keep < len(sent) && !sent[keep].After(cutoff) {
		keep++
	}
	if keep == 0 {
		return sent
	}
	sent = sent[keep:]
	if len(sent) == 0 {
		delete(r.responses, channelID)
		return nil
	}
	r.responses[channelID] = sent
	return sent
}

// SetRemoteLimit records a rate limit reported by the completion API.
// A zero resetAt with remaining > 0 clears the limit for the key.
func (r *RateTracker) SetRemoteLimit(key string, resetAt time.Time, remaining int) {
	if key == "" {
		key = remoteLimitKeyDefault
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if remaining > 0 && resetAt.IsZero() {
		delete(r.remote, key)
		return
	}
	r.remote[key] = remoteLimit{resetAt: resetAt, remaining: remaining}
	r.logger.Debug(
		"remote limit recorded",
		"key", key,
		"reset_at", resetAt,
		"remaining", remaining,
	)
}

// RemoteWait returns how long until the completion API is expected to
// accept a request for the given key. Zero means no known limit.
func (r *RateTracker) RemoteWait(key string) time.Duration {
	if key == "" {
		key = remoteLimitKeyDefault
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	lim, ok := r.remote[key]
	if !ok {
		return 0
	}
	if lim.remaining > 0 {
		return 0
	}
	wait := lim.resetAt.Sub(r.now())
	if wait <= 0 {
		delete(r.remote, key)
		return 0
	}
	return wait
}

// RemoteLimited reports whether the completion API is currently limited
// for the given key.
func (r *RateTracker) RemoteLimited(key string) bool {
	return r.RemoteWait(key) > 0
}

// setNow overrides the tracker's clock. Tests only.
func (r *RateTracker) setNow(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
