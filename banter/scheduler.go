package banter

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// conversationKey identifies a conversation for supersession purposes.
// Bot authors get a key per (channel, author) so two bots talking in the
// same channel don't cancel each other's pending replies; human-directed
// work is keyed by channel alone.
type conversationKey struct {
	ChannelID string
	AuthorID  string
}

func keyFor(msg Message) conversationKey {
	if msg.AuthorBot {
		return conversationKey{ChannelID: msg.ChannelID, AuthorID: msg.AuthorID}
	}
	return conversationKey{ChannelID: msg.ChannelID}
}

// ResponseCommand is a unit of deferred response work: the message
// snapshot to answer, and whether it belongs to a bot-to-bot conversation
// (which is paced and budgeted) or not.
type ResponseCommand struct {
	Message         Message
	BotConversation bool
}

// Responder executes a ResponseCommand: builds the prompt, calls the
// completion API and delivers the reply. Implementations must respect ctx
// cancellation at every blocking step.
type Responder interface {
	Respond(ctx context.Context, cmd ResponseCommand) error
}

type pendingTask struct {
	messageID string
	cancel    context.CancelFunc
}

// ResponseScheduler defers bot-conversation responses, replacing a pending
// response whenever a newer message arrives in the same conversation so
// the bot only ever answers the latest thing said.
//
// All map state is owned by the scheduler and guarded by one mutex;
// cancel-old and install-new happen under a single critical section so no
// interleaving can leave two live tasks for one key.
type ResponseScheduler struct {
	mu sync.Mutex

	pending map[conversationKey]*pendingTask
	latest  map[conversationKey]string

	tracker   *RateTracker
	delays    *DelayPolicy
	responder Responder

	rootCtx context.Context
	cancel  context.CancelFunc
	tasks   sync.WaitGroup

	logger *slog.Logger
}

// NewResponseScheduler returns a scheduler whose tasks are children of
// ctx. Cancelling ctx, or calling Shutdown, cancels all pending work.
func NewResponseScheduler(
	ctx context.Context,
	tracker *RateTracker,
	delays *DelayPolicy,
	responder Responder,
	logger *slog.Logger,
) *ResponseScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	rootCtx, cancel := context.WithCancel(ctx)
	return &ResponseScheduler{
		pending:   map[conversationKey]*pendingTask{},
		latest:    map[conversationKey]string{},
		tracker:   tracker,
		delays:    delays,
		responder: responder,
		rootCtx:   rootCtx,
		cancel:    cancel,
		logger:    logger.With(loggerNameKey, "scheduler"),
	}
}

// Schedule queues a deferred response for the command's conversation,
// superseding any response still pending for the same conversation. Bot
// conversations over the channel's response budget are dropped silently.
func (s *ResponseScheduler) Schedule(cmd ResponseCommand) {
	key := keyFor(cmd.Message)
	log := s.logger.With(
		"channel_id", cmd.Message.ChannelID,
		"author_id", cmd.Message.AuthorID,
		"message_id", cmd.Message.ID,
	)

	var delay time.Duration
	if cmd.BotConversation {
		ok, wait := s.tracker.CanRespond(cmd.Message.ChannelID)
		if !ok {
			log.Info("bot conversation over budget, dropping", "wait", wait)
			s.mu.Lock()
			s.latest[key] = cmd.Message.ID
			s.mu.Unlock()
			return
		}
		delay = s.delays.BotConversationDelay()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.rootCtx.Done():
		return
	default:
	}

	s.latest[key] = cmd.Message.ID

	if prev, ok := s.pending[key]; ok {
		log.Debug("superseding pending response", "superseded_id", prev.messageID)
		prev.cancel()
	}

	taskCtx, taskCancel := context.WithCancel(s.rootCtx)
	task := &pendingTask{messageID: cmd.Message.ID, cancel: taskCancel}
	s.pending[key] = task

	s.tasks.Add(1)
	go s.run(taskCtx, task, key, cmd, delay, log)
}

func (s *ResponseScheduler) run(
	ctx context.Context,
	task *pendingTask,
	key conversationKey,
	cmd ResponseCommand,
	delay time.Duration,
	log *slog.Logger,
) {
	defer s.tasks.Done()
	defer task.cancel()
	defer func() {
		s.mu.Lock()
		if s.pending[key] == task {
			delete(s.pending, key)
		}
		s.mu.Unlock()
	}()
	defer func() {
		if rc := recover(); rc != nil {
			log.Error(
				"recovered from panic in response task",
				"panic", rc,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			log.Debug("pending response cancelled during delay")
			return
		case <-timer.C:
		}
	}

	if cmd.BotConversation && !s.isLatest(key, cmd.Message.ID) {
		log.Debug("newer message arrived, abandoning response")
		return
	}

	if err := s.responder.Respond(WithLogger(ctx, log), cmd); err != nil {
		if ctx.Err() != nil {
			log.Debug("response cancelled", tint.Err(err))
			return
		}
		log.Warn("response failed", tint.Err(err))
		return
	}

	if cmd.BotConversation {
		s.tracker.RecordResponse(cmd.Message.ChannelID)
	}
}

func (s *ResponseScheduler) isLatest(key conversationKey, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[key] == messageID
}

// PendingCount returns the number of responses currently scheduled.
func (s *ResponseScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Shutdown cancels all pending responses and waits for their tasks to
// finish, or for ctx to expire.
func (s *ResponseScheduler) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
