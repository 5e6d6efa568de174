package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"widgetbridge/internal/transport"
)

// mailboxIdleTTL is how long an untouched mailbox survives before the
// janitor reclaims it. Five times the slowest poll ceiling gives a
// stalled but alive poller plenty of slack.
const mailboxIdleTTL = 5 * time.Minute

// Hub is the server side of every transport. For the native transport
// it pairs the outer and inner websocket connections of each named
// channel and relays frames between them; for the polling and relay
// transports it keeps per-channel, per-side mailboxes that buffer
// frames until the destination side drains them.
type Hub struct {
	log         zerolog.Logger
	limiter     *RateLimiter
	mailboxSize int

	mu        sync.RWMutex
	peers     map[string]map[string]*peer // channel -> side -> connection
	mailboxes map[string]*Mailbox         // namespace/channel/side
	running   bool
	done      chan struct{}
}

// peer is one websocket end of a channel. writeCh funnels all frames
// through a single writer goroutine, the only one allowed to touch the
// connection per gorilla's concurrency rules.
type peer struct {
	channel string
	side    string
	conn    *websocket.Conn
	writeCh chan []byte
	done    chan struct{}
	once    sync.Once
}

// Options configure a hub instance.
type Options struct {
	MailboxSize int
	Logger      zerolog.Logger
}

// New creates a hub.
func New(opts Options) *Hub {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 256
	}
	return &Hub{
		log:         opts.Logger.With().Str("component", "hub").Logger(),
		limiter:     NewRateLimiter(),
		mailboxSize: opts.MailboxSize,
		peers:       make(map[string]map[string]*peer),
		mailboxes:   make(map[string]*Mailbox),
	}
}

// Start launches the janitor that expires idle mailboxes and stale
// rate-limit state.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.done = make(chan struct{})
	h.mu.Unlock()

	go h.janitor()
	return nil
}

// Stop halts the janitor and closes every paired connection.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.done)

	var all []*peer
	for _, sides := range h.peers {
		for _, p := range sides {
			all = append(all, p)
		}
	}
	h.peers = make(map[string]map[string]*peer)
	h.mailboxes = make(map[string]*Mailbox)
	h.mu.Unlock()

	for _, p := range all {
		p.close()
	}
	return nil
}

// register adds a websocket peer for one side of a channel. A second
// connection for an occupied side is rejected; the first claim wins
// and the newcomer must pick a fresh channel name.
func (h *Hub) register(p *peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	sides, exists := h.peers[p.channel]
	if !exists {
		sides = make(map[string]*peer)
		h.peers[p.channel] = sides
	}
	if _, taken := sides[p.side]; taken {
		return ErrSideOccupied
	}
	sides[p.side] = p
	return nil
}

// unregister drops a peer and tears down the pairing: the surviving
// peer's connection is closed so it observes the disconnect instead of
// talking into a void.
func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	var survivor *peer
	if sides, exists := h.peers[p.channel]; exists {
		if sides[p.side] == p {
			delete(sides, p.side)
			survivor = sides[transport.OppositeSide(p.side)]
			delete(h.peers, p.channel)
		}
	}
	h.mu.Unlock()

	p.close()
	if survivor != nil {
		survivor.close()
	}
}

// forward relays one raw frame from a peer to its opposite number.
// With no opposite connected yet the frame is dropped; the transports'
// SETUP retry loop covers the startup race.
func (h *Hub) forward(from *peer, data []byte) {
	h.mu.RLock()
	var to *peer
	if sides, exists := h.peers[from.channel]; exists {
		to = sides[transport.OppositeSide(from.side)]
	}
	h.mu.RUnlock()

	if to == nil {
		return
	}
	select {
	case to.writeCh <- data:
	case <-to.done:
	default:
		h.log.Warn().Str("channel", from.channel).Str("side", from.side).Msg("peer write queue full, frame dropped")
	}
}

// mailbox returns the mailbox frames destined for (namespace, channel,
// side), creating it on first touch.
func (h *Hub) mailbox(namespace, channelName, side string) *Mailbox {
	key := namespace + "/" + channelName + "/" + side
	h.mu.Lock()
	defer h.mu.Unlock()
	mb, exists := h.mailboxes[key]
	if !exists {
		mb = NewMailbox(h.mailboxSize)
		h.mailboxes[key] = mb
	}
	return mb
}

func (h *Hub) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
			h.limiter.Cleanup()
		case <-h.done:
			return
		}
	}
}

func (h *Hub) sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for key, mb := range h.mailboxes {
		if now.Sub(mb.LastActive()) > mailboxIdleTTL {
			delete(h.mailboxes, key)
		}
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// writePump is the peer's single connection writer.
func (p *peer) writePump() {
	for {
		select {
		case data := <-p.writeCh:
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}
