package relay

import (
	"context"
	"errors"

	"knowledge-qa-be/internal/pkg/logger"

	"github.com/google/uuid"
)

// ErrConversationBusy is returned when another run is already in flight for
// the same conversation. Callers reject the request; they never queue it.
var ErrConversationBusy = errors.New("conversation already has an active stream")

// DisconnectPolicy decides what a client disconnect does to the upstream
// subscription.
type DisconnectPolicy int

const (
	// PolicyContinue keeps consuming and eventually persists in the
	// background, so a later history query still sees the full answer.
	PolicyContinue DisconnectPolicy = iota
	// PolicyAbort cancels the upstream subscription on disconnect; whatever
	// was accumulated so far is still persisted before closing.
	PolicyAbort
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateStreaming
	stateFinalizing
	stateSaved
	stateClosed
)

// sessionEvent is one item on the session's single-threaded event loop.
// Exactly one field is set.
type sessionEvent struct {
	env          Envelope
	transportErr error
	complete     bool
	clientAbort  bool
}

// SessionConfig wires one StreamSession. Lock is optional (agent-ask path
// only); OnSaveError is an optional hook invoked when persistence fails,
// after the failure has already been folded into the terminal envelope.
type SessionConfig struct {
	Request     *StreamRequest
	Subscriber  UpstreamSubscriber
	Gate        *PersistenceGate
	Channel     *ClientChannel
	Lock        *ConversationLock
	Policy      DisconnectPolicy
	Logger      logger.ILogger
	OnSaveError func(error)
}

// StreamSession orchestrates one run: it subscribes upstream, accumulates
// partial state, forwards envelopes while the client is connected, persists
// the outcome exactly once and always emits a terminal done envelope.
//
// All state below is owned by the event loop goroutine; callbacks and the
// transport only ever post events, which keeps per-session ordering strict
// while unrelated sessions progress independently.
type StreamSession struct {
	cfg    SessionConfig
	state  sessionState
	acc    AccumulatorState
	events chan sessionEvent
	cancel CancelHandle
	done   chan struct{}

	lockHeld bool

	// Result fields, readable after Done() is closed.
	sessionId  *uuid.UUID
	failed     bool
	failReason string
}

func NewStreamSession(cfg SessionConfig) *StreamSession {
	return &StreamSession{
		cfg:    cfg,
		state:  stateIdle,
		events: make(chan sessionEvent, 64),
		done:   make(chan struct{}),
	}
}

// Start acquires the conversation lock (when configured), opens the
// upstream subscription and launches the event loop. On ErrConversationBusy
// nothing was started and nothing is held.
func (s *StreamSession) Start(ctx context.Context) error {
	if s.cfg.Lock != nil && s.cfg.Request.ConversationId != "" {
		if !s.cfg.Lock.TryAcquire(s.cfg.Request.ConversationId) {
			return ErrConversationBusy
		}
		s.lockHeld = true
	}

	handle, err := s.cfg.Subscriber.Subscribe(ctx, s.cfg.Request, Callbacks{
		OnEvent:          func(env Envelope) { s.post(sessionEvent{env: env}) },
		OnTransportError: func(err error) { s.post(sessionEvent{transportErr: err}) },
		OnComplete:       func() { s.post(sessionEvent{complete: true}) },
	})
	if err != nil {
		s.releaseLock()
		return err
	}

	s.cancel = handle
	s.state = stateStreaming
	go s.loop(ctx)
	return nil
}

// Done is closed once the session reached Closed: outcome persisted (or
// deliberately skipped), terminal envelope forwarded, lock released.
func (s *StreamSession) Done() <-chan struct{} {
	return s.done
}

// SessionId returns the persisted row id, or nil when no row was created.
// Valid only after Done() is closed.
func (s *StreamSession) SessionId() *uuid.UUID {
	return s.sessionId
}

// Outcome reports the terminal failure flag and reason. Valid only after
// Done() is closed.
func (s *StreamSession) Outcome() (failed bool, reason string) {
	return s.failed, s.failReason
}

// ClientGone signals that the browser went away. The channel stops
// forwarding immediately; under PolicyAbort the upstream subscription is
// cancelled as well and the session finalizes with whatever accumulated.
func (s *StreamSession) ClientGone() {
	s.cfg.Channel.MarkDisconnected()
	if s.cfg.Policy == PolicyAbort {
		s.post(sessionEvent{clientAbort: true})
	}
}

// post hands an event to the loop. Events arriving after the session closed
// are dropped; the terminal state has already been decided by then.
func (s *StreamSession) post(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *StreamSession) loop(ctx context.Context) {
	for ev := range s.events {
		if s.handle(ctx, ev) {
			return
		}
	}
}

// handle advances the state machine by one event. Returns true once the
// session is closed.
func (s *StreamSession) handle(ctx context.Context, ev sessionEvent) bool {
	switch {
	case ev.clientAbort:
		// Detach first so no further envelopes race the save.
		s.cancel.Cancel()
		s.finalize(ctx)
		return true

	case ev.transportErr != nil:
		// Transport errors bypass OnEvent, so the accumulate-and-forward
		// bookkeeping happens here with a synthesized error envelope.
		s.recordFailure(ev.transportErr.Error())
		s.finalize(ctx)
		return true

	case ev.complete:
		s.finalize(ctx)
		return true
	}

	switch env := ev.env.(type) {
	case ContentEnvelope:
		s.acc.AppendAnswer(env.Text)
		s.cfg.Channel.Forward(env)
	case ReferencesEnvelope:
		s.acc.ReplaceReferences(env.References)
		s.cfg.Channel.Forward(env)
	case ToolCallEnvelope:
		s.cfg.Channel.Forward(env)
	case ToolResultEnvelope:
		s.cfg.Channel.Forward(env)
	case ErrorEnvelope:
		s.recordFailure(env.Message)
		s.finalize(ctx)
		return true
	case DoneEnvelope:
		// Upstream's own terminator. Not forwarded: the relay synthesizes
		// its terminal envelope with the persisted id during finalize.
		s.finalize(ctx)
		return true
	}
	return false
}

// recordFailure applies the shared failure bookkeeping: flag the state,
// keep the failure context inside the stored answer and let a still
// connected client see the error.
func (s *StreamSession) recordFailure(reason string) {
	s.acc.AppendAnswer(FailureNote(reason))
	s.acc.MarkFailed(reason)
	s.cfg.Channel.Forward(ErrorEnvelope{Message: reason})
}

// finalize runs Finalizing→Saved→Closed. A save failure is swallowed into
// the terminal envelope: the relay's contract is "always deliver a terminal
// event", even when durability failed.
func (s *StreamSession) finalize(ctx context.Context) {
	if s.state >= stateFinalizing {
		return
	}
	s.state = stateFinalizing

	id, err := s.cfg.Gate.Save(ctx, &s.acc)
	if err != nil {
		s.acc.MarkFailed(err.Error())
		s.logError("session save failed", err)
		if s.cfg.OnSaveError != nil {
			s.cfg.OnSaveError(err)
		}
	}
	s.state = stateSaved

	s.sessionId = id
	s.failed = s.acc.IsFailed()
	s.failReason = s.acc.FailReason()

	terminal := DoneEnvelope{IsFailed: s.failed, FailReason: s.failReason}
	if id != nil {
		terminal.SessionId = id.String()
	}
	s.cfg.Channel.Forward(terminal)

	s.releaseLock()
	if s.cancel != nil {
		s.cancel.Cancel()
	}

	s.state = stateClosed
	close(s.done)
}

func (s *StreamSession) releaseLock() {
	if s.lockHeld {
		s.cfg.Lock.Release(s.cfg.Request.ConversationId)
		s.lockHeld = false
	}
}

func (s *StreamSession) logError(msg string, err error) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Error("StreamSession", msg, map[string]interface{}{
		"conversation_id": s.cfg.Request.ConversationId,
		"error":           err.Error(),
	})
}
