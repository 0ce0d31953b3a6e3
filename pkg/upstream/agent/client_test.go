package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"knowledge-qa-be/pkg/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu        sync.Mutex
	events    []relay.Envelope
	errors    []error
	completed bool
	done      chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (c *collector) callbacks() relay.Callbacks {
	return relay.Callbacks{
		OnEvent: func(env relay.Envelope) {
			c.mu.Lock()
			c.events = append(c.events, env)
			c.mu.Unlock()
		},
		OnTransportError: func(err error) {
			c.mu.Lock()
			c.errors = append(c.errors, err)
			c.mu.Unlock()
			close(c.done)
		},
		OnComplete: func() {
			c.mu.Lock()
			c.completed = true
			c.mu.Unlock()
			close(c.done)
		},
	}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate in time")
	}
}

func sseBody(envelopes ...relay.Envelope) string {
	var out string
	for _, env := range envelopes {
		data, _ := relay.MarshalEnvelope(env)
		out += "data: " + string(data) + "\n\n"
	}
	return out
}

func TestSubscribeDeliversEnvelopesInOrder(t *testing.T) {
	var gotReq relay.StreamRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/agent/ask", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			relay.ContentEnvelope{Text: "Raft "},
			relay.ContentEnvelope{Text: "elects leaders."},
			relay.ReferencesEnvelope{References: []relay.Reference{{TopicId: "t1", Topic: "raft", Relevance: 0.9}}},
		))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	col := newCollector()

	_, err := client.Subscribe(context.Background(), &relay.StreamRequest{Question: "raft?", TopK: 5}, col.callbacks())
	require.NoError(t, err)

	col.wait(t)

	assert.Equal(t, "raft?", gotReq.Question)
	assert.Equal(t, 5, gotReq.TopK)

	require.Len(t, col.events, 3)
	assert.Equal(t, relay.ContentEnvelope{Text: "Raft "}, col.events[0])
	assert.Equal(t, relay.ContentEnvelope{Text: "elects leaders."}, col.events[1])
	assert.IsType(t, relay.ReferencesEnvelope{}, col.events[2])
	assert.True(t, col.completed)
	assert.Empty(t, col.errors)
}

func TestSubscribeIgnoresNonDataLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive comment\n")
		fmt.Fprint(w, "event: message\n")
		fmt.Fprint(w, sseBody(relay.ContentEnvelope{Text: "hello"}))
		fmt.Fprint(w, "data:\n\n") // empty data line
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	col := newCollector()

	_, err := client.Subscribe(context.Background(), &relay.StreamRequest{Question: "q"}, col.callbacks())
	require.NoError(t, err)

	col.wait(t)

	require.Len(t, col.events, 1)
	assert.Equal(t, relay.ContentEnvelope{Text: "hello"}, col.events[0])
	assert.True(t, col.completed)
}

func TestSubscribeRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	col := newCollector()

	_, err := client.Subscribe(context.Background(), &relay.StreamRequest{Question: "q"}, col.callbacks())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "agent overloaded")
}

func TestSubscribeMalformedFrameIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(relay.ContentEnvelope{Text: "good"}))
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, sseBody(relay.ContentEnvelope{Text: "after the break"}))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	col := newCollector()

	_, err := client.Subscribe(context.Background(), &relay.StreamRequest{Question: "q"}, col.callbacks())
	require.NoError(t, err)

	col.wait(t)

	// The good frame arrived, the bad frame killed the stream, and nothing
	// after it was dispatched.
	require.Len(t, col.events, 1)
	assert.Equal(t, relay.ContentEnvelope{Text: "good"}, col.events[0])
	require.Len(t, col.errors, 1)
	assert.Contains(t, col.errors[0].Error(), "malformed agent event")
	assert.False(t, col.completed)
}

func TestCancelStopsDispatch(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(relay.ContentEnvelope{Text: "first"}))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
		fmt.Fprint(w, sseBody(relay.ContentEnvelope{Text: "late"}))
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL)

	var mu sync.Mutex
	var events []relay.Envelope
	first := make(chan struct{}, 1)

	cb := relay.Callbacks{
		OnEvent: func(env relay.Envelope) {
			mu.Lock()
			events = append(events, env)
			mu.Unlock()
			select {
			case first <- struct{}{}:
			default:
			}
		},
		OnTransportError: func(error) {},
		OnComplete:       func() {},
	}

	handle, err := client.Subscribe(context.Background(), &relay.StreamRequest{Question: "q"}, cb)
	require.NoError(t, err)

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("never saw the first envelope")
	}

	handle.Cancel()
	handle.Cancel() // idempotent

	// Give the reader a moment; no further envelopes may arrive.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, events, 1)
}
