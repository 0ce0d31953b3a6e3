package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"knowledge-qa-be/pkg/relay"
)

// Client subscribes to the upstream agent service over HTTP SSE and
// implements relay.UpstreamSubscriber. One POST per run; the response body
// is an event stream of JSON envelopes, one per "data:" line.
type Client struct {
	BaseURL    string
	AskPath    string
	HTTPClient *http.Client
}

var _ relay.UpstreamSubscriber = &Client{}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		AskPath: "/api/agent/ask",
		// No overall timeout: session lifetime is bounded by upstream
		// completion, upstream error or explicit cancellation only.
		HTTPClient: &http.Client{},
	}
}

// cancelHandle detaches the subscription by cancelling the request context.
// A one-way flag suppresses callback dispatch after Cancel.
type cancelHandle struct {
	once      sync.Once
	cancelled atomic.Bool
	stop      context.CancelFunc
}

func (h *cancelHandle) Cancel() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		h.stop()
	})
}

func (c *Client) Subscribe(ctx context.Context, req *relay.StreamRequest, cb relay.Callbacks) (relay.CancelHandle, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	subCtx, stop := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(subCtx, http.MethodPost, c.BaseURL+c.AskPath, bytes.NewReader(payload))
	if err != nil {
		stop()
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		stop()
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		stop()
		return nil, fmt.Errorf("agent error: status %d, body: %s", resp.StatusCode, string(body))
	}

	handle := &cancelHandle{stop: stop}
	go c.readLoop(resp.Body, cb, handle)

	return handle, nil
}

// readLoop pumps the SSE body until clean end, transport failure or cancel.
// Envelope order is preserved exactly as received.
func (c *Client) readLoop(body io.ReadCloser, cb relay.Callbacks, handle *cancelHandle) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	// Answers can carry large content chunks
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if handle.cancelled.Load() {
			return
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		env, err := relay.UnmarshalEnvelope([]byte(data))
		if err != nil {
			// A frame we cannot decode is a protocol failure, not a
			// business error from upstream.
			cb.OnTransportError(fmt.Errorf("malformed agent event: %w", err))
			handle.Cancel()
			return
		}
		cb.OnEvent(env)
	}

	if handle.cancelled.Load() {
		return
	}

	if err := scanner.Err(); err != nil {
		cb.OnTransportError(fmt.Errorf("agent stream broken: %w", err))
		return
	}
	cb.OnComplete()
}
