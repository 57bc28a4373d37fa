// Package banter implements a Discord chat bot that relays channel
// messages to an OpenAI-compatible completion API and sends the replies
// back, pacing itself so conversations with other bots stay readable
// instead of turning into an instant message flood.
//
// Incoming gateway messages are reduced to immutable snapshots and run
// through admissibility checks (DMs, blocked users, channel black/white
// lists, activated channels, mentions, replies, trigger words). Admitted
// messages become ResponseCommands handled by a ResponseScheduler, which
// delays bot-to-bot replies, replaces a pending reply when a newer
// message arrives in the same conversation, and enforces a per-channel
// sliding-window response budget via RateTracker. Per-guild settings are
// stored with gorm and managed through slash commands; optional revive
// loops post LLM-generated conversation starters into quiet channels.
package banter
