package transport

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"widgetbridge/pkg/interfaces"
)

// FragmentSize is the largest payload a relay frame carries whole.
// Bigger payloads are split into sequenced fragments and reassembled
// on the receiving side.
const FragmentSize = 8192

// partialTTL bounds how long an incomplete fragment set is kept before
// it is discarded as abandoned.
const partialTTL = 30 * time.Second

// Relay is the most conservative fallback: every frame is POSTed to
// the peer's relay endpoint and picked up by the peer polling its own
// relay mailbox at a fixed interval. It trades latency for working in
// isolation configurations where even polling setup is constrained.
type Relay struct {
	cfg  ChannelConfig
	side string
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	receiver interfaces.Receiver
	ready    bool
	disposed bool
	onReady  func()
	partials map[uint64]*partial

	done chan struct{}
	seq  atomic.Uint64

	readyOnce   sync.Once
	disposeOnce sync.Once
}

type partial struct {
	service string
	pieces  []string
	got     int
	started time.Time
}

// NewRelay creates a relay transport for one side of the channel.
func NewRelay(cfg ChannelConfig, side string, opts Options) *Relay {
	opts = opts.withDefaults()
	return &Relay{
		cfg:      cfg,
		side:     side,
		opts:     opts,
		log:      opts.Logger.With().Str("transport", "relay").Str("channel", cfg.ChannelName).Str("side", side).Logger(),
		partials: make(map[uint64]*partial),
		done:     make(chan struct{}),
	}
}

// SetReceiver installs the inbound dispatch callback.
func (t *Relay) SetReceiver(r interfaces.Receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = r
}

// Connect starts the setup loop and the fixed-interval pickup loop.
func (t *Relay) Connect(ctx context.Context, onReady func()) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return ErrTransportDisposed
	}
	if t.receiver == nil {
		t.mu.Unlock()
		return ErrNoReceiver
	}
	if t.cfg.PeerRelayURI == "" || t.cfg.LocalRelayURI == "" {
		t.mu.Unlock()
		return ErrNoTransportAvailable
	}
	t.onReady = onReady
	t.mu.Unlock()

	go t.setupLoop()
	go t.pickupLoop()
	return nil
}

// Send POSTs the invocation to the peer's relay endpoint, fragmenting
// payloads larger than FragmentSize. All fragments of one message
// share a sequence number and the mailbox preserves their order.
func (t *Relay) Send(service, payload string) error {
	select {
	case <-t.done:
		return ErrTransportDisposed
	default:
	}

	seq := t.seq.Add(1)
	if len(payload) <= FragmentSize {
		return t.post(&Frame{
			Channel: t.cfg.ChannelName,
			Kind:    KindMessage,
			Service: service,
			Payload: payload,
			Seq:     seq,
		})
	}

	total := (len(payload) + FragmentSize - 1) / FragmentSize
	for i := 0; i < total; i++ {
		end := (i + 1) * FragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		err := t.post(&Frame{
			Channel:   t.cfg.ChannelName,
			Kind:      KindFragment,
			Service:   service,
			Payload:   payload[i*FragmentSize : end],
			Seq:       seq,
			FragIndex: i,
			FragTotal: total,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Dispose stops both loops and drops partial reassembly state.
func (t *Relay) Dispose() error {
	t.disposeOnce.Do(func() {
		t.mu.Lock()
		t.disposed = true
		t.partials = make(map[uint64]*partial)
		t.mu.Unlock()
		close(t.done)
	})
	return nil
}

func (t *Relay) setupLoop() {
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

func (t *Relay) postSetup() {
	if err := t.post(&Frame{Channel: t.cfg.ChannelName, Kind: KindSetup}); err != nil {
		t.log.Debug().Err(err).Msg("setup post failed, will retry")
	}
}

func (t *Relay) pickupLoop() {
	ticker := time.NewTicker(t.opts.RelayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			frames, err := drainMailbox(t.opts.HTTPClient, t.cfg.LocalRelayURI, t.cfg.ChannelName, t.side)
			if err != nil {
				t.log.Debug().Err(err).Msg("relay pickup failed")
				continue
			}
			for _, frame := range frames {
				t.handleFrame(frame)
			}
		case <-t.done:
			return
		}
	}
}

func (t *Relay) handleFrame(frame *Frame) {
	switch frame.Kind {
	case KindSetup:
		if err := t.post(&Frame{Channel: t.cfg.ChannelName, Kind: KindSetupAck}); err != nil {
			t.log.Debug().Err(err).Msg("setup ack post failed")
		}
		t.markReady()
	case KindSetupAck:
		t.markReady()
	case KindMessage:
		t.deliver(frame.Service, frame.Payload)
	case KindFragment:
		t.handleFragment(frame)
	default:
		t.log.Debug().Str("kind", frame.Kind).Msg("unknown frame kind dropped")
	}
}

// handleFragment reassembles a split payload. The set is delivered
// when every piece has arrived; incomplete sets older than partialTTL
// are discarded so an interrupted sender cannot pin memory.
func (t *Relay) handleFragment(frame *Frame) {
	if frame.FragTotal <= 0 || frame.FragIndex < 0 || frame.FragIndex >= frame.FragTotal {
		t.log.Debug().Uint64("seq", frame.Seq).Msg("invalid fragment dropped")
		return
	}

	t.mu.Lock()
	now := time.Now()
	for seq, p := range t.partials {
		if now.Sub(p.started) > partialTTL {
			delete(t.partials, seq)
		}
	}

	p, exists := t.partials[frame.Seq]
	if !exists {
		p = &partial{
			service: frame.Service,
			pieces:  make([]string, frame.FragTotal),
			started: now,
		}
		t.partials[frame.Seq] = p
	}
	if len(p.pieces) != frame.FragTotal {
		delete(t.partials, frame.Seq)
		t.mu.Unlock()
		t.log.Debug().Uint64("seq", frame.Seq).Msg("inconsistent fragment set dropped")
		return
	}
	if p.pieces[frame.FragIndex] == "" {
		p.pieces[frame.FragIndex] = frame.Payload
		p.got++
	}
	complete := p.got == len(p.pieces)
	if complete {
		delete(t.partials, frame.Seq)
	}
	t.mu.Unlock()

	if complete {
		t.deliver(p.service, strings.Join(p.pieces, ""))
	}
}

func (t *Relay) deliver(service, payload string) {
	t.mu.Lock()
	receiver := t.receiver
	t.mu.Unlock()
	if receiver != nil {
		receiver(service, payload)
	}
}

func (t *Relay) markReady() {
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

func (t *Relay) post(frame *Frame) error {
	return postFrame(t.opts.HTTPClient, t.cfg.PeerRelayURI, t.side, frame)
}
