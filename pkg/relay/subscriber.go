package relay

import "context"

// Callbacks receive the upstream event stream for one subscription.
//
// OnEvent delivers envelopes in the exact order received; nothing is
// reordered, dropped or deduplicated. OnTransportError fires for
// connection/protocol failures (an in-band error envelope is a business
// signal and arrives via OnEvent instead). OnComplete fires exactly once
// when the stream ends cleanly and never after OnTransportError.
type Callbacks struct {
	OnEvent          func(Envelope)
	OnTransportError func(error)
	OnComplete       func()
}

// CancelHandle detaches a subscription. After Cancel returns, no further
// callbacks fire. Cancelling is the only way to stop upstream consumption.
type CancelHandle interface {
	Cancel()
}

// UpstreamSubscriber opens a streaming answer subscription against the
// upstream agent service.
type UpstreamSubscriber interface {
	Subscribe(ctx context.Context, req *StreamRequest, cb Callbacks) (CancelHandle, error)
}
