package widget

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"widgetbridge/internal/channel"
	"widgetbridge/internal/transport"
	"widgetbridge/pkg/interfaces"
	"widgetbridge/pkg/types"
)

// Metrics measures the widget frame's content against its viewport.
// The embedding runtime supplies the real measurements; UpdateLayout
// only reports upward when content outgrows the viewport, so hosts are
// not churned with layout messages for content that already fits.
type Metrics interface {
	DocumentHeight() int
	ViewportHeight() int
	ViewportWidth() int
}

// SessionCallback receives the host's authoritative session push. It
// fires exactly once per client: this is the handshake result, not a
// recurring event.
type SessionCallback func(session types.SessionInfo)

// Client is the widget-side counterpart of the host controller, the
// thin library widget authors use inside the embedded frame.
type Client struct {
	channel *channel.Channel
	log     zerolog.Logger

	mu        sync.Mutex
	sessionID string
	hasSess   bool
	disposed  bool

	onSession     SessionCallback
	handshakeOnce sync.Once
	disposeOnce   sync.Once
}

// NewClient builds the widget end of the channel described by cfg over
// the given transport. onSession fires once when the host pushes the
// session. Tests and same-process embeds pass a loopback transport;
// real frames negotiate one with transport.Negotiate.
func NewClient(cfg transport.ChannelConfig, tr interfaces.Transport, onSession SessionCallback, log zerolog.Logger) (*Client, error) {
	ch, err := channel.New(cfg.ChannelName, tr, log.With().Str("component", "widget").Logger())
	if err != nil {
		return nil, err
	}
	c := &Client{
		channel:   ch,
		log:       log.With().Str("component", "widget").Str("channel", cfg.ChannelName).Logger(),
		onSession: onSession,
	}
	ch.RegisterService(types.ServiceInitSession, c.handleInitSession)
	ch.RegisterService(types.ServiceSendSession, c.handleSendSession)
	return c, nil
}

// Connect establishes the channel and proactively force-inits the
// session handshake. Connection timing between host and widget has no
// well-defined first mover, so both sides may race to initialize; the
// host end is idempotent on repeats.
func (c *Client) Connect(ctx context.Context) error {
	return c.channel.Connect(ctx, func() {
		if err := c.channel.Send(types.ServiceInitSession, types.InitForce); err != nil {
			c.log.Warn().Err(err).Msg("init_session send failed")
		}
	})
}

// SessionID returns the session identity the host pushed, or
// ErrNoSession before the handshake completes.
func (c *Client) SessionID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasSess {
		return "", ErrNoSession
	}
	return c.sessionID, nil
}

// UpdateProgress reports a frequent interaction event, such as one
// quiz question answered.
func (c *Client) UpdateProgress(progress, score int) error {
	if c.isDisposed() {
		return ErrClientDisposed
	}
	update := types.ProgressUpdate{Progress: progress, Score: score}
	if err := update.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return c.channel.Send(types.ServiceUpdateProgress, string(data))
}

// UpdateSession reports a full session update with user data. The
// current session ID is attached automatically; before the handshake
// completes there is no identity to update under and the call fails.
func (c *Client) UpdateSession(progress, score int, userData string) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrClientDisposed
	}
	if !c.hasSess {
		c.mu.Unlock()
		return ErrNoSession
	}
	session := types.SessionInfo{
		SessionID: c.sessionID,
		Progress:  progress,
		Score:     score,
		UserData:  userData,
	}
	c.mu.Unlock()

	if err := session.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.channel.Send(types.ServiceUpdateSession, string(data))
}

// UpdateLayout measures the document against the viewport and asks the
// host for more room only when content exceeds it. Content that fits
// sends nothing.
func (c *Client) UpdateLayout(m Metrics) error {
	if c.isDisposed() {
		return ErrClientDisposed
	}
	if m == nil {
		return nil
	}
	docHeight := m.DocumentHeight()
	if docHeight <= m.ViewportHeight() {
		return nil
	}
	width := m.ViewportWidth()
	layout := types.LayoutInfo{Width: &width, Height: &docHeight}
	data, err := json.Marshal(layout)
	if err != nil {
		return err
	}
	return c.channel.Send(types.ServiceUpdateLayout, string(data))
}

// Dispose releases the channel. Idempotent.
func (c *Client) Dispose() error {
	var err error
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		c.disposed = true
		c.mu.Unlock()
		err = c.channel.Dispose()
	})
	return err
}

func (c *Client) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// handleInitSession answers a host-initiated re-handshake by asking
// for a fresh session push.
func (c *Client) handleInitSession(string) {
	if err := c.channel.Send(types.ServiceInitSession, types.InitForce); err != nil {
		c.log.Warn().Err(err).Msg("re-handshake send failed")
	}
}

// handleSendSession stores the identity from the host's authoritative
// push and fires the one-shot handshake callback with the session
// exactly as sent.
func (c *Client) handleSendSession(payload string) {
	var session types.SessionInfo
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		c.log.Debug().Err(err).Msg("malformed send_session dropped")
		return
	}

	c.mu.Lock()
	c.sessionID = session.SessionID
	c.hasSess = true
	c.mu.Unlock()

	c.handshakeOnce.Do(func() {
		if c.onSession != nil {
			c.onSession(session)
		}
	})
}
