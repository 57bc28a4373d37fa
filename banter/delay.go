package banter

import (
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"
)

// DelayPolicy produces the randomized pauses that make bot-to-bot
// conversations read like a person is on the other end: a pre-response
// pause, then a typing time proportional to the reply length.
type DelayPolicy struct {
	mu sync.Mutex

	botDelayMin time.Duration
	botDelayMax time.Duration

	charsPerMinute int
	jitter         float64
	typingMin      time.Duration
	typingMax      time.Duration

	rand *rand.Rand
}

// NewDelayPolicy returns a DelayPolicy using the given policy bounds and
// a time-seeded random source.
func NewDelayPolicy(cfg ResponsePolicyConfig) *DelayPolicy {
	return &DelayPolicy{
		botDelayMin:    cfg.BotDelayMin,
		botDelayMax:    cfg.BotDelayMax,
		charsPerMinute: cfg.TypingCharsPerMinute,
		jitter:         cfg.TypingJitter,
		typingMin:      cfg.TypingDelayMin,
		typingMax:      cfg.TypingDelayMax,
		//nolint:gosec // not used for anything security-sensitive
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// BotConversationDelay returns a uniformly random pause in
// [BotDelayMin, BotDelayMax].
func (d *DelayPolicy) BotConversationDelay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	spread := d.botDelayMax - d.botDelayMin
	if spread <= 0 {
		return d.botDelayMin
	}
	return d.botDelayMin + time.Duration(d.rand.Int63n(int64(spread)+1))
}

// TypingDelay returns how long to hold the typing indicator for a reply of
// the given content, based on the configured typing speed with +/- jitter,
// clamped to [TypingDelayMin, TypingDelayMax].
func (d *DelayPolicy) TypingDelay(content string) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	chars := utf8.RuneCountInString(content)
	base := time.Duration(
		float64(chars) / float64(d.charsPerMinute) * float64(time.Minute),
	)
	if d.jitter > 0 {
		factor := 1 + (d.rand.Float64()*2-1)*d.jitter
		base = time.Duration(float64(base) * factor)
	}
	if base < d.typingMin {
		return d.typingMin
	}
	if base > d.typingMax {
		return d.typingMax
	}
	return base
}

// setRand overrides the policy's random source. Tests only.
func (d *DelayPolicy) setRand(r *rand.Rand) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rand = r
}
