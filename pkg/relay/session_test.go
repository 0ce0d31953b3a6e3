package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	mu        sync.Mutex
	cancelled bool
}

func (h *fakeHandle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
}

func (h *fakeHandle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

type fakeSubscriber struct {
	cb           Callbacks
	handle       *fakeHandle
	subscribeErr error
}

func (s *fakeSubscriber) Subscribe(_ context.Context, _ *StreamRequest, cb Callbacks) (CancelHandle, error) {
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.cb = cb
	s.handle = &fakeHandle{}
	return s.handle, nil
}

type recordSink struct {
	mu        sync.Mutex
	sent      []Envelope
	failAfter int // fail every Send once this many envelopes got through; -1 never
}

func (s *recordSink) Send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter >= 0 && len(s.sent) >= s.failAfter {
		return errors.New("write: broken pipe")
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *recordSink) Envelopes() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, len(s.sent))
	copy(out, s.sent)
	return out
}

func newRecordSink() *recordSink {
	return &recordSink{failAfter: -1}
}

type sessionFixture struct {
	sub   *fakeSubscriber
	sink  *recordSink
	store *memoryStore
	sess  *StreamSession
}

func newSessionFixture(t *testing.T, req *StreamRequest, mutate func(*SessionConfig)) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		sub:   &fakeSubscriber{},
		sink:  newRecordSink(),
		store: &memoryStore{},
	}

	cfg := SessionConfig{
		Request:    req,
		Subscriber: f.sub,
		Gate:       NewPersistenceGate(f.store, req),
		Channel:    nil,
		Policy:     PolicyContinue,
	}
	cfg.Channel = NewClientChannel(f.sink)
	if mutate != nil {
		mutate(&cfg)
	}

	f.sess = NewStreamSession(cfg)
	return f
}

func (f *sessionFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sess.Start(context.Background()))
}

func waitDone(t *testing.T, sess *StreamSession) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish in time")
	}
}

func TestSessionHappyPath(t *testing.T) {
	req := &StreamRequest{Question: "how does raft elect leaders", ConversationId: "conv-a"}
	f := newSessionFixture(t, req, nil)
	f.start(t)

	f.sub.cb.OnEvent(ContentEnvelope{Text: "Raft "})
	f.sub.cb.OnEvent(ContentEnvelope{Text: "elects "})
	f.sub.cb.OnEvent(ReferencesEnvelope{References: []Reference{{TopicId: "t1", Topic: "raft", Relevance: 0.9}}})
	f.sub.cb.OnEvent(ContentEnvelope{Text: "leaders by majority."})
	f.sub.cb.OnComplete()

	waitDone(t, f.sess)

	// One row, answer is the concatenation in arrival order.
	require.Len(t, f.store.inserts, 1)
	rec := f.store.inserts[0]
	assert.Equal(t, "Raft elects leaders by majority.", rec.Answer)
	assert.Equal(t, "how does raft elect leaders", rec.Title)
	assert.False(t, rec.IsFailed)
	require.Len(t, rec.References, 1)

	require.NotNil(t, f.sess.SessionId())
	failed, reason := f.sess.Outcome()
	assert.False(t, failed)
	assert.Empty(t, reason)

	// Client saw every envelope in order, then exactly one terminal done
	// carrying the persisted id.
	sent := f.sink.Envelopes()
	require.Len(t, sent, 5)
	assert.Equal(t, ContentEnvelope{Text: "Raft "}, sent[0])
	assert.Equal(t, ContentEnvelope{Text: "elects "}, sent[1])
	assert.IsType(t, ReferencesEnvelope{}, sent[2])
	assert.Equal(t, ContentEnvelope{Text: "leaders by majority."}, sent[3])

	done, ok := sent[4].(DoneEnvelope)
	require.True(t, ok)
	assert.Equal(t, f.sess.SessionId().String(), done.SessionId)
	assert.False(t, done.IsFailed)

	// Subscription is torn down on exit.
	assert.True(t, f.sub.handle.Cancelled())
}

func TestSessionUpstreamDoneNotForwarded(t *testing.T) {
	req := &StreamRequest{Question: "q"}
	f := newSessionFixture(t, req, nil)
	f.start(t)

	f.sub.cb.OnEvent(ContentEnvelope{Text: "answer"})
	f.sub.cb.OnEvent(DoneEnvelope{SessionId: "upstream-junk"})

	waitDone(t, f.sess)

	sent := f.sink.Envelopes()
	require.Len(t, sent, 2)

	done, ok := sent[1].(DoneEnvelope)
	require.True(t, ok)
	assert.NotEqual(t, "upstream-junk", done.SessionId, "relay must synthesize its own terminal envelope")
	assert.Equal(t, f.sess.SessionId().String(), done.SessionId)
}

func TestSessionUpstreamErrorMidStream(t *testing.T) {
	req := &StreamRequest{Question: "broken question"}
	f := newSessionFixture(t, req, nil)
	f.start(t)

	f.sub.cb.OnEvent(ContentEnvelope{Text: "partial answer"})
	f.sub.cb.OnEvent(ErrorEnvelope{Message: "rate limited"})

	waitDone(t, f.sess)

	require.Len(t, f.store.inserts, 1)
	rec := f.store.inserts[0]
	assert.Equal(t, "partial answer\n\n【生成失败】原因：rate limited", rec.Answer)
	assert.Equal(t, "【失败】broken question", rec.Title)
	assert.True(t, rec.IsFailed)
	assert.Equal(t, "rate limited", rec.FailReason)

	sent := f.sink.Envelopes()
	require.Len(t, sent, 3)
	assert.Equal(t, ErrorEnvelope{Message: "rate limited"}, sent[1])
	done := sent[2].(DoneEnvelope)
	assert.True(t, done.IsFailed)
	assert.Equal(t, "rate limited", done.FailReason)
}

func TestSessionErrorBeforeAnyContent(t *testing.T) {
	req := &StreamRequest{Question: "q"}
	f := newSessionFixture(t, req, nil)
	f.start(t)

	f.sub.cb.OnEvent(ErrorEnvelope{Message: "模型不可用"})

	waitDone(t, f.sess)

	// The failure alone is persistable; the note keeps its leading blank
	// line even with an empty answer buffer.
	require.Len(t, f.store.inserts, 1)
	rec := f.store.inserts[0]
	assert.Equal(t, "\n\n【生成失败】原因：模型不可用", rec.Answer)
	assert.True(t, rec.IsFailed)
}

func TestSessionTransportError(t *testing.T) {
	req := &StreamRequest{Question: "q"}
	f := newSessionFixture(t, req, nil)
	f.start(t)

	f.sub.cb.OnEvent(ContentEnvelope{Text: "partial"})
	f.sub.cb.OnTransportError(errors.New("connection reset by peer"))

	waitDone(t, f.sess)

	require.Len(t, f.store.inserts, 1)
	rec := f.store.inserts[0]
	assert.True(t, rec.IsFailed)
	assert.Equal(t, "connection reset by peer", rec.FailReason)
	assert.Contains(t, rec.Answer, "partial")
	assert.Contains(t, rec.Answer, "connection reset by peer")
}

func TestSessionTransportErrorWithZeroContent(t *testing.T) {
	req := &StreamRequest{Question: "q"}
	f := newSessionFixture(t, req, nil)
	f.start(t)

	f.sub.cb.OnTransportError(errors.New("EOF"))

	waitDone(t, f.sess)

	// The failure flag alone makes the run persistable.
	require.Len(t, f.store.inserts, 1)
	rec := f.store.inserts[0]
	assert.Equal(t, FailureNote("EOF"), rec.Answer)
	assert.True(t, rec.IsFailed)
	assert.Equal(t, "EOF", rec.FailReason)
}

func TestSessionEmptyStreamNotPersisted(t *testing.T) {
	req := &StreamRequest{Question: "q"}
	f := newSessionFixture(t, req, nil)
	f.start(t)

	f.sub.cb.OnComplete()

	waitDone(t, f.sess)

	assert.Empty(t, f.store.inserts)
	assert.Nil(t, f.sess.SessionId())

	// The terminal envelope still goes out, without a session id.
	sent := f.sink.Envelopes()
	require.Len(t, sent, 1)
	done := sent[0].(DoneEnvelope)
	assert.Empty(t, done.SessionId)
	assert.False(t, done.IsFailed)
}

func TestSessionClientDisconnectContinues(t *testing.T) {
	req := &StreamRequest{Question: "q"}
	f := newSessionFixture(t, req, nil)
	f.sink.failAfter = 1 // second write hits a dead socket
	f.start(t)

	f.sub.cb.OnEvent(ContentEnvelope{Text: "first "})
	f.sub.cb.OnEvent(ContentEnvelope{Text: "second "})
	f.sub.cb.OnEvent(ContentEnvelope{Text: "third"})
	f.sub.cb.OnComplete()

	waitDone(t, f.sess)

	// The client got one chunk; the run still accumulated and saved all.
	assert.Len(t, f.sink.Envelopes(), 1)
	require.Len(t, f.store.inserts, 1)
	assert.Equal(t, "first second third", f.store.inserts[0].Answer)
	assert.False(t, f.store.inserts[0].IsFailed)
}

func TestSessionDisconnectBeforeFirstChunk(t *testing.T) {
	req := &StreamRequest{Question: "q"}
	f := newSessionFixture(t, req, nil)
	f.start(t)

	// Browser goes away before upstream produced anything; continue policy
	// keeps consuming in the background.
	f.sess.ClientGone()
	f.sub.cb.OnEvent(ContentEnvelope{Text: "late "})
	f.sub.cb.OnEvent(ContentEnvelope{Text: "arrival"})
	f.sub.cb.OnComplete()

	waitDone(t, f.sess)

	assert.Empty(t, f.sink.Envelopes(), "nothing may reach a disconnected client")
	require.Len(t, f.store.inserts, 1)
	assert.Equal(t, "late arrival", f.store.inserts[0].Answer)
}

func TestSessionAbortPolicyOnClientGone(t *testing.T) {
	req := &StreamRequest{Question: "q"}
	f := newSessionFixture(t, req, func(cfg *SessionConfig) {
		cfg.Policy = PolicyAbort
	})
	f.start(t)

	f.sub.cb.OnEvent(ContentEnvelope{Text: "partial before disconnect"})
	f.sess.ClientGone()

	waitDone(t, f.sess)

	assert.True(t, f.sub.handle.Cancelled())
	require.Len(t, f.store.inserts, 1)
	rec := f.store.inserts[0]
	assert.Equal(t, "partial before disconnect", rec.Answer)
	assert.False(t, rec.IsFailed, "an aborted run is not a failed run")
}

func TestSessionConversationLockExclusive(t *testing.T) {
	lock := NewConversationLock()
	req := &StreamRequest{Question: "q", ConversationId: "conv-x"}

	first := newSessionFixture(t, req, func(cfg *SessionConfig) { cfg.Lock = lock })
	first.start(t)

	second := newSessionFixture(t, req, func(cfg *SessionConfig) { cfg.Lock = lock })
	err := second.sess.Start(context.Background())
	assert.ErrorIs(t, err, ErrConversationBusy)

	first.sub.cb.OnComplete()
	waitDone(t, first.sess)

	// The lock is free again once the first run closed.
	third := newSessionFixture(t, req, func(cfg *SessionConfig) { cfg.Lock = lock })
	third.start(t)
	third.sub.cb.OnComplete()
	waitDone(t, third.sess)
}

func TestSessionSubscribeFailureReleasesLock(t *testing.T) {
	lock := NewConversationLock()
	req := &StreamRequest{Question: "q", ConversationId: "conv-y"}

	f := newSessionFixture(t, req, func(cfg *SessionConfig) { cfg.Lock = lock })
	f.sub.subscribeErr = errors.New("dial tcp: connection refused")

	err := f.sess.Start(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConversationBusy)

	assert.True(t, lock.TryAcquire("conv-y"), "lock must not leak on failed start")
}

func TestSessionSaveFailureFoldedIntoDone(t *testing.T) {
	req := &StreamRequest{Question: "q"}
	saveErrs := make(chan error, 1)
	f := newSessionFixture(t, req, func(cfg *SessionConfig) {
		cfg.OnSaveError = func(err error) { saveErrs <- err }
	})
	f.store.err = errors.New("pq: connection refused")
	f.start(t)

	f.sub.cb.OnEvent(ContentEnvelope{Text: "answer"})
	f.sub.cb.OnComplete()

	waitDone(t, f.sess)

	assert.Nil(t, f.sess.SessionId())
	failed, reason := f.sess.Outcome()
	assert.True(t, failed)
	assert.Equal(t, "pq: connection refused", reason)

	sent := f.sink.Envelopes()
	done := sent[len(sent)-1].(DoneEnvelope)
	assert.True(t, done.IsFailed)
	assert.Empty(t, done.SessionId)

	select {
	case err := <-saveErrs:
		assert.Equal(t, "pq: connection refused", err.Error())
	case <-time.After(time.Second):
		t.Fatal("OnSaveError hook was not invoked")
	}
}

func TestSessionFailReasonKeepsUpstreamCause(t *testing.T) {
	// A save failure after an upstream failure must not overwrite the
	// original reason.
	req := &StreamRequest{Question: "q"}
	f := newSessionFixture(t, req, nil)
	f.store.err = errors.New("db down")
	f.start(t)

	f.sub.cb.OnEvent(ErrorEnvelope{Message: "upstream exploded"})

	waitDone(t, f.sess)

	failed, reason := f.sess.Outcome()
	assert.True(t, failed)
	assert.Equal(t, "upstream exploded", reason)
}
