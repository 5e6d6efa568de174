package channel

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"widgetbridge/pkg/interfaces"
)

// State tracks the channel lifecycle. Transitions only move forward:
// Unconnected → Connecting → Connected → Disposed. There is no
// transition out of Disposed.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Handler processes one inbound service invocation. It receives the
// raw string payload the peer sent and returns nothing; responses are
// modeled as separately named services invoked in the opposite
// direction.
type Handler func(payload string)

type bufferedSend struct {
	service string
	payload string
}

// Channel is the bidirectional named-service RPC abstraction between a
// host document and an embedded widget frame. Each side registers
// handlers by name and invokes the peer's handlers through Send. The
// underlying transport is chosen by the negotiation layer and is
// invisible here.
type Channel struct {
	name      string
	transport interfaces.Transport
	requests  *RequestTracker
	log       zerolog.Logger

	mu          sync.Mutex
	state       State
	services    map[string]Handler
	buffer      []bufferedSend
	onConnected func()

	disposeOnce sync.Once
}

// New creates a channel over the given transport. The channel installs
// itself as the transport's receiver; callers must not set their own.
func New(name string, transport interfaces.Transport, log zerolog.Logger) (*Channel, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	c := &Channel{
		name:      name,
		transport: transport,
		requests:  NewRequestTracker(),
		log:       log.With().Str("channel", name).Logger(),
		state:     StateUnconnected,
		services:  make(map[string]Handler),
	}
	transport.SetReceiver(c.dispatch)
	return c, nil
}

// Name returns the channel name shared by both peers.
func (c *Channel) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Requests exposes the in-flight request tracker for callers that
// correlate asynchronous request/response service pairs.
func (c *Channel) Requests() *RequestTracker { return c.requests }

// RegisterService stores the handler for a service name. Exactly one
// handler per name; re-registration overwrites. Registrations are not
// individually removable and are cleared only on disposal.
func (c *Channel) RegisterService(name string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisposed {
		return
	}
	c.services[name] = handler
}

// Send transmits a service invocation to the peer. Before the channel
// is connected the send is buffered and flushed in order once the
// transport handshake completes. After disposal Send fails with
// ErrChannelDisposed rather than panicking.
func (c *Channel) Send(service, payload string) error {
	c.mu.Lock()
	switch c.state {
	case StateDisposed:
		c.mu.Unlock()
		return ErrChannelDisposed
	case StateConnected:
		c.mu.Unlock()
		return c.transport.Send(service, payload)
	default:
		c.buffer = append(c.buffer, bufferedSend{service: service, payload: payload})
		c.mu.Unlock()
		return nil
	}
}

// SendRequest transmits a service invocation correlated to an eventual
// response under the given request ID. Issuing a second request under
// an ID already in flight is a programmer error and fails fast so a
// callback can never be silently lost. The response side resolves or
// fails the ID through Requests().
func (c *Channel) SendRequest(id, service, payload string, callback ResponseCallback) error {
	if err := c.requests.Add(id, callback); err != nil {
		return err
	}
	if err := c.Send(service, payload); err != nil {
		c.requests.Fail(id, err)
		return err
	}
	return nil
}

// Connect begins transport negotiation. onConnected fires exactly once
// when the chosen transport has completed its own handshake, which may
// be multi-step; there is no guaranteed upper bound on connect time. A
// transport connect failure returns the channel to Unconnected so the
// caller can retry.
func (c *Channel) Connect(ctx context.Context, onConnected func()) error {
	c.mu.Lock()
	switch c.state {
	case StateDisposed:
		c.mu.Unlock()
		return ErrChannelDisposed
	case StateConnecting, StateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnecting
	}
	c.state = StateConnecting
	c.onConnected = onConnected
	c.mu.Unlock()

	if err := c.transport.Connect(ctx, c.handleReady); err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateUnconnected
			c.onConnected = nil
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// handleReady runs when the transport handshake completes. Buffered
// sends flush in order before the state flips to Connected, so a Send
// racing with connect completion buffers behind the backlog instead of
// overtaking it, and the connected callback observes pre-connect
// traffic already on the wire. A repeated ready signal finds the
// channel no longer Connecting and is ignored.
func (c *Channel) handleReady() {
	c.mu.Lock()
	for c.state == StateConnecting && len(c.buffer) > 0 {
		pending := c.buffer
		c.buffer = nil
		c.mu.Unlock()
		for _, s := range pending {
			if err := c.transport.Send(s.service, s.payload); err != nil {
				c.log.Warn().Err(err).Str("service", s.service).Msg("flush of buffered send failed")
			}
		}
		c.mu.Lock()
	}
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	callback := c.onConnected
	c.onConnected = nil
	c.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// dispatch delivers one inbound message to its registered handler.
// Unknown service names are ignored; a handler panic is confined to
// the one message so a single bad payload cannot take down the
// channel.
func (c *Channel) dispatch(service, payload string) {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	handler, ok := c.services[service]
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("service", service).Msg("no handler registered, message ignored")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("service", service).Interface("panic", r).Msg("service handler panicked")
		}
	}()
	handler(payload)
}

// Dispose releases the transport, clears the service registry and
// fails all in-flight requests. Idempotent and safe to call before
// Connect completes; after disposal the channel accepts no traffic in
// either direction.
func (c *Channel) Dispose() error {
	var err error
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDisposed
		c.services = make(map[string]Handler)
		c.buffer = nil
		c.onConnected = nil
		c.mu.Unlock()

		c.requests.FailAll(ErrChannelDisposed)
		err = c.transport.Dispose()
	})
	return err
}
