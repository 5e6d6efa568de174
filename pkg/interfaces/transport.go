package interfaces

import "context"

// Receiver handles an inbound service invocation delivered by a
// transport. Payload is the raw string the peer sent.
type Receiver func(service, payload string)

// Transport moves service invocations between the two peers of one
// channel. Implementations differ by capability (native messaging,
// polling pages, relay pages) but present the same contract; selection
// happens in the negotiation layer and is invisible to callers.
type Transport interface {
	// Connect begins the transport's own handshake. onReady fires
	// exactly once when the peer link is established; there is no
	// upper bound on how long that takes. The peer may still be
	// loading and constructing its own side of the channel.
	Connect(ctx context.Context, onReady func()) error

	// Send transmits one service invocation to the peer. Asynchronous
	// and uncancelable; delivery ordering follows send ordering within
	// one transport.
	Send(service, payload string) error

	// SetReceiver installs the inbound dispatch callback. Must be set
	// before Connect.
	SetReceiver(r Receiver)

	// Dispose releases transport resources. Idempotent and safe to
	// call before Connect completes.
	Dispose() error
}
