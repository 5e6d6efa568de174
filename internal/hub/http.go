package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"widgetbridge/internal/transport"
	"widgetbridge/pkg/types"
)

// Origin checking is the embedding page's concern, not the hub's: a
// channel name is an unguessable capability and each side is claimable
// once.
var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Mailbox namespaces keep polling traffic and relay traffic of the
// same channel apart.
const (
	namespacePoll  = "poll"
	namespaceRelay = "relay"
)

// ServeWS upgrades a native-transport connection for one channel side
// and relays its frames to the opposite side until either end drops.
// A side of "probe" answers the negotiation layer's capability check:
// the upgrade succeeds and the connection closes immediately.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("side") == "probe" {
		if conn, err := upgrader.Upgrade(w, r, nil); err == nil {
			_ = conn.Close()
		}
		return
	}

	channelName, side, ok := channelParams(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	p := &peer{
		channel: channelName,
		side:    side,
		conn:    conn,
		writeCh: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	if err := h.register(p); err != nil {
		h.log.Debug().Err(err).Str("channel", channelName).Str("side", side).Msg("peer rejected")
		_ = conn.Close()
		return
	}

	h.log.Debug().Str("channel", channelName).Str("side", side).Msg("peer connected")
	go p.writePump()
	h.readLoop(p)
}

func (h *Hub) readLoop(p *peer) {
	defer h.unregister(p)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if frame, err := transport.DecodeFrame(data); err != nil || frame.Channel != p.channel {
			h.log.Debug().Str("channel", p.channel).Msg("malformed frame dropped")
			continue
		}
		h.forward(p, data)
	}
}

// ServePoll is the polling-transport mailbox endpoint: POST files a
// frame for the opposite side, GET drains the caller's own mailbox.
func (h *Hub) ServePoll(w http.ResponseWriter, r *http.Request) {
	h.serveMailbox(w, r, namespacePoll)
}

// ServeRelay is the relay-transport mailbox endpoint. Same mechanics
// as polling under a separate namespace, and the only endpoint that
// accepts fragment frames.
func (h *Hub) ServeRelay(w http.ResponseWriter, r *http.Request) {
	h.serveMailbox(w, r, namespaceRelay)
}

func (h *Hub) serveMailbox(w http.ResponseWriter, r *http.Request, namespace string) {
	channelName, side, ok := channelParams(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		frames := h.mailbox(namespace, channelName, side).Drain()
		if frames == nil {
			frames = []*transport.Frame{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(frames); err != nil {
			h.log.Debug().Err(err).Msg("mailbox drain encode failed")
		}

	case http.MethodPost:
		if !h.limiter.Allow(channelName + "/" + side) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		var frame transport.Frame
		if err := json.NewDecoder(r.Body).Decode(&frame); err != nil || frame.Channel != channelName {
			http.Error(w, "malformed frame", http.StatusBadRequest)
			return
		}
		if frame.Kind == transport.KindMessage && !types.IsValidServiceName(frame.Service) {
			http.Error(w, types.ErrInvalidService.Error(), http.StatusBadRequest)
			return
		}
		if frame.Kind == transport.KindFragment && namespace != namespaceRelay {
			http.Error(w, "fragments are relay-only", http.StatusBadRequest)
			return
		}
		dest := h.mailbox(namespace, channelName, transport.OppositeSide(side))
		if err := dest.Push(&frame); err != nil {
			http.Error(w, "mailbox full", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func channelParams(w http.ResponseWriter, r *http.Request) (channelName, side string, ok bool) {
	channelName = r.URL.Query().Get("channel")
	side = r.URL.Query().Get("side")
	if !types.IsValidWidgetID(channelName) {
		http.Error(w, "missing or invalid channel parameter", http.StatusBadRequest)
		return "", "", false
	}
	if side != transport.SideOuter && side != transport.SideInner {
		http.Error(w, "side must be outer or inner", http.StatusBadRequest)
		return "", "", false
	}
	return channelName, side, true
}
