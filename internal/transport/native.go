package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"widgetbridge/pkg/interfaces"
)

// Native is the preferred transport: one websocket connection per
// channel side to the hub's /channel/ws endpoint. The hub pairs the
// outer and inner connections of a channel name and relays frames
// between them. The connect handshake is symmetric: each side repeats
// SETUP frames until the peer answers, so neither side needs to be
// first up.
type Native struct {
	cfg  ChannelConfig
	side string
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	receiver interfaces.Receiver
	conn     *websocket.Conn
	ready    bool
	disposed bool
	onReady  func()

	sendCh chan *Frame
	done   chan struct{}
	seq    atomic.Uint64

	readyOnce   sync.Once
	disposeOnce sync.Once
}

// NewNative creates a native transport for one side of the channel.
func NewNative(cfg ChannelConfig, side string, opts Options) *Native {
	opts = opts.withDefaults()
	return &Native{
		cfg:    cfg,
		side:   side,
		opts:   opts,
		log:    opts.Logger.With().Str("transport", "native").Str("channel", cfg.ChannelName).Str("side", side).Logger(),
		sendCh: make(chan *Frame, 64),
		done:   make(chan struct{}),
	}
}

// SetReceiver installs the inbound dispatch callback.
func (t *Native) SetReceiver(r interfaces.Receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = r
}

// Connect dials the hub and runs the SETUP handshake. onReady fires
// exactly once when a SETUP or SETUP_ACK arrives from the peer, which
// may be arbitrarily later than the dial: the peer frame may still be
// loading and constructing its own side.
func (t *Native) Connect(ctx context.Context, onReady func()) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return ErrTransportDisposed
	}
	if t.receiver == nil {
		t.mu.Unlock()
		return ErrNoReceiver
	}
	t.onReady = onReady
	t.mu.Unlock()

	uri, err := wsEndpoint(t.cfg.PeerURI, t.cfg.ChannelName, t.side)
	if err != nil {
		return err
	}

	dialer := *t.opts.Dialer
	dialer.HandshakeTimeout = t.opts.DialTimeout
	conn, _, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}

	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrTransportDisposed
	}
	t.conn = conn
	t.mu.Unlock()

	go t.writePump()
	go t.readPump()
	go t.setupLoop()
	return nil
}

// Send transmits one service invocation. The write pump is the single
// writer on the websocket, matching gorilla's one-writer rule.
func (t *Native) Send(service, payload string) error {
	frame := &Frame{
		Channel: t.cfg.ChannelName,
		Kind:    KindMessage,
		Service: service,
		Payload: payload,
		Seq:     t.seq.Add(1),
	}
	return t.enqueue(frame)
}

// Dispose closes the connection and stops the pumps. Idempotent and
// safe before Connect completes.
func (t *Native) Dispose() error {
	t.disposeOnce.Do(func() {
		t.mu.Lock()
		t.disposed = true
		conn := t.conn
		t.mu.Unlock()

		close(t.done)
		if conn != nil {
			_ = conn.Close()
		}
	})
	return nil
}

func (t *Native) enqueue(frame *Frame) error {
	select {
	case <-t.done:
		return ErrTransportDisposed
	default:
	}
	select {
	case t.sendCh <- frame:
		return nil
	case <-t.done:
		return ErrTransportDisposed
	}
}

// writePump is the only goroutine writing on the connection.
func (t *Native) writePump() {
	for {
		select {
		case frame := <-t.sendCh:
			data, err := EncodeFrame(frame)
			if err != nil {
				t.log.Warn().Err(err).Msg("frame encode failed")
				continue
			}
			t.mu.Lock()
			conn := t.conn
			t.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *Native) readPump() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.log.Debug().Err(err).Msg("websocket read ended")
				_ = t.Dispose()
			}
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			t.log.Debug().Err(err).Msg("malformed frame dropped")
			continue
		}
		t.handleFrame(frame)
	}
}

// setupLoop repeats SETUP until the handshake completes. Both sides
// run the same loop, so whichever peer comes up second still sees at
// least one SETUP and answers it.
func (t *Native) setupLoop() {
	ticker := time.NewTicker(t.opts.SetupInterval)
	defer ticker.Stop()

	_ = t.enqueue(&Frame{Channel: t.cfg.ChannelName, Kind: KindSetup})
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			ready := t.ready
			t.mu.Unlock()
			if ready {
				return
			}
			_ = t.enqueue(&Frame{Channel: t.cfg.ChannelName, Kind: KindSetup})
		case <-t.done:
			return
		}
	}
}

func (t *Native) handleFrame(frame *Frame) {
	switch frame.Kind {
	case KindSetup:
		_ = t.enqueue(&Frame{Channel: t.cfg.ChannelName, Kind: KindSetupAck})
		t.markReady()
	case KindSetupAck:
		t.markReady()
	case KindMessage:
		t.mu.Lock()
		receiver := t.receiver
		t.mu.Unlock()
		if receiver != nil {
			receiver(frame.Service, frame.Payload)
		}
	default:
		t.log.Debug().Str("kind", frame.Kind).Msg("unknown frame kind dropped")
	}
}

func (t *Native) markReady() {
	t.readyOnce.Do(func() {
		t.mu.Lock()
		t.ready = true
		onReady := t.onReady
		t.mu.Unlock()
		if onReady != nil {
			onReady()
		}
	})
}

func wsEndpoint(peerURI, channelName, side string) (string, error) {
	u, err := url.Parse(peerURI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	q := u.Query()
	q.Set("channel", channelName)
	q.Set("side", side)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
