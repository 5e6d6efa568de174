package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"widgetbridge/pkg/interfaces"
)

// Polling is the first fallback transport: outbound frames are POSTed
// to the peer's poll endpoint and inbound frames are drained by
// periodic GETs of the local one. The poll interval starts at the
// floor and doubles while idle up to the ceiling, resetting whenever
// traffic arrives, so an active widget stays snappy without hammering
// an idle one.
type Polling struct {
	cfg  ChannelConfig
	side string
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	receiver interfaces.Receiver
	ready    bool
	disposed bool
	onReady  func()

	done chan struct{}
	seq  atomic.Uint64

	readyOnce   sync.Once
	disposeOnce sync.Once
}

// NewPolling creates a polling transport for one side of the channel.
func NewPolling(cfg ChannelConfig, side string, opts Options) *Polling {
	opts = opts.withDefaults()
	return &Polling{
		cfg:  cfg,
		side: side,
		opts: opts,
		log:  opts.Logger.With().Str("transport", "polling").Str("channel", cfg.ChannelName).Str("side", side).Logger(),
		done: make(chan struct{}),
	}
}

// SetReceiver installs the inbound dispatch callback.
func (t *Polling) SetReceiver(r interfaces.Receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = r
}

// Connect starts the setup and poll loops. onReady fires exactly once
// when the peer answers the SETUP exchange through its own mailbox.
func (t *Polling) Connect(ctx context.Context, onReady func()) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return ErrTransportDisposed
	}
	if t.receiver == nil {
		t.mu.Unlock()
		return ErrNoReceiver
	}
	if t.cfg.PeerPollURI == "" || t.cfg.LocalPollURI == "" {
		t.mu.Unlock()
		return ErrNoTransportAvailable
	}
	t.onReady = onReady
	t.mu.Unlock()

	go t.setupLoop()
	go t.pollLoop()
	return nil
}

// Send POSTs one service invocation to the peer's poll endpoint.
func (t *Polling) Send(service, payload string) error {
	select {
	case <-t.done:
		return ErrTransportDisposed
	default:
	}
	return t.post(&Frame{
		Channel: t.cfg.ChannelName,
		Kind:    KindMessage,
		Service: service,
		Payload: payload,
		Seq:     t.seq.Add(1),
	})
}

// Dispose stops both loops. Idempotent and safe before Connect.
func (t *Polling) Dispose() error {
	t.disposeOnce.Do(func() {
		t.mu.Lock()
		t.disposed = true
		t.mu.Unlock()
		close(t.done)
	})
	return nil
}

func (t *Polling) setupLoop() {
	ticker := time.NewTicker(t.opts.SetupInterval)
	defer ticker.Stop()

	t.postSetup()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			ready := t.ready
			t.mu.Unlock()
			if ready {
				return
			}
			t.postSetup()
		case <-t.done:
			return
		}
	}
}

func (t *Polling) postSetup() {
	if err := t.post(&Frame{Channel: t.cfg.ChannelName, Kind: KindSetup}); err != nil {
		t.log.Debug().Err(err).Msg("setup post failed, will retry")
	}
}

func (t *Polling) pollLoop() {
	interval := t.opts.PollMin
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			frames, err := drainMailbox(t.opts.HTTPClient, t.cfg.LocalPollURI, t.cfg.ChannelName, t.side)
			if err != nil {
				t.log.Debug().Err(err).Msg("poll drain failed")
			}
			if len(frames) > 0 {
				interval = t.opts.PollMin
				for _, frame := range frames {
					t.handleFrame(frame)
				}
			} else {
				interval *= 2
				if interval > t.opts.PollMax {
					interval = t.opts.PollMax
				}
			}
			timer.Reset(interval)
		case <-t.done:
			return
		}
	}
}

func (t *Polling) handleFrame(frame *Frame) {
	switch frame.Kind {
	case KindSetup:
		if err := t.post(&Frame{Channel: t.cfg.ChannelName, Kind: KindSetupAck}); err != nil {
			t.log.Debug().Err(err).Msg("setup ack post failed")
		}
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

func (t *Polling) markReady() {
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

func (t *Polling) post(frame *Frame) error {
	return postFrame(t.opts.HTTPClient, t.cfg.PeerPollURI, t.side, frame)
}

// postFrame submits one frame to a mailbox endpoint. The side query
// parameter names the sender; the hub files the frame in the opposite
// side's mailbox.
func postFrame(client *http.Client, endpoint, side string, frame *Frame) error {
	uri, err := mailboxEndpoint(endpoint, frame.Channel, side)
	if err != nil {
		return err
	}
	body, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	resp, err := client.Post(uri, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: mailbox returned %d", ErrPeerUnreachable, resp.StatusCode)
	}
	return nil
}

// drainMailbox fetches all frames queued for this side.
func drainMailbox(client *http.Client, endpoint, channelName, side string) ([]*Frame, error) {
	uri, err := mailboxEndpoint(endpoint, channelName, side)
	if err != nil {
		return nil, err
	}
	resp, err := client.Get(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: mailbox returned %d", ErrPeerUnreachable, resp.StatusCode)
	}
	var frames []*Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, err
	}
	return frames, nil
}

func mailboxEndpoint(endpoint, channelName, side string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	q := u.Query()
	q.Set("channel", channelName)
	q.Set("side", side)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
