package host

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"widgetbridge/internal/channel"
	"widgetbridge/internal/transport"
	"widgetbridge/internal/widget"
	"widgetbridge/pkg/interfaces"
	"widgetbridge/pkg/types"
)

// Params describe one widget embed on the page.
type Params struct {
	// ContainerID is the page-unique ID of the element holding the
	// widget frame, and the registry key for this controller.
	ContainerID string

	// ThirdPartyBaseURI is the widget origin's base URI from which the
	// peer channel endpoints derive.
	ThirdPartyBaseURI string

	// IframeURI is the document loaded into the widget frame. The
	// channel token is appended to it as a query parameter.
	IframeURI string

	// WidgetID names the widget; WidgetIndex distinguishes repeated
	// embeds of the same widget on one page, so each gets its own
	// session instead of sharing one. Index 0 keeps the bare ID.
	WidgetID    string
	WidgetIndex int

	DocID   string
	TrunkID string

	// Height and Width are the frame's initial size in pixels. Height
	// is the floor of the grow-only resize policy.
	Height int
	Width  int

	// Absolute makes score updates overwrite the document score
	// instead of averaging into it.
	Absolute bool

	// OnResize is called with the new frame height when the widget
	// requests more room. Optional.
	OnResize func(height int)

	// OnDocScore is called with the refreshed progress-chart URL after
	// a persisted update. Optional.
	OnDocScore func(chartURL string)
}

func (p Params) validate() error {
	if p.ContainerID == "" {
		return ErrMissingContainerID
	}
	if !types.IsValidWidgetID(p.WidgetID) {
		return types.ErrInvalidWidgetID
	}
	if p.ThirdPartyBaseURI == "" {
		return ErrMissingPeerBase
	}
	return nil
}

// Controller owns the lifecycle of one RPC channel per embedded widget
// container and bridges channel events to the persistence service. Its
// four inbound services are the host half of the wire contract.
type Controller struct {
	page      *PageContext
	params    Params
	widgetKey string
	cfg       transport.ChannelConfig
	channel   *channel.Channel
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	initialized bool
	disposed    bool
	frameHeight int
	chartURL    string

	disposeOnce sync.Once
}

func newController(page *PageContext, params Params, cfg transport.ChannelConfig, tr interfaces.Transport) (*Controller, error) {
	log := page.log.With().Str("widget_id", params.WidgetID).Str("container", params.ContainerID).Logger()
	ch, err := channel.New(cfg.ChannelName, tr, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		page:        page,
		params:      params,
		widgetKey:   widgetKey(params),
		cfg:         cfg,
		channel:     ch,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		frameHeight: params.Height,
	}

	ch.RegisterService(types.ServiceInitSession, c.handleInitSession)
	ch.RegisterService(types.ServiceUpdateProgress, c.handleUpdateProgress)
	ch.RegisterService(types.ServiceUpdateSession, c.handleUpdateSession)
	ch.RegisterService(types.ServiceUpdateLayout, c.handleUpdateLayout)
	return c, nil
}

// widgetKey composes the persistence identity for one embed. The index
// is folded in so two embeds of the same widget keep separate sessions.
func widgetKey(params Params) string {
	if params.WidgetIndex == 0 {
		return params.WidgetID
	}
	return fmt.Sprintf("%s_%d", params.WidgetID, params.WidgetIndex)
}

// Start begins the channel handshake. The widget side force-inits on
// its own connect, so no callback is needed here beyond logging.
func (c *Controller) Start(ctx context.Context) error {
	return c.channel.Connect(ctx, func() {
		c.log.Debug().Msg("widget channel connected")
	})
}

// FrameSrc returns the iframe URI with the channel token attached. The
// token carries the mirrored channel configuration so the widget frame
// can construct its own end, and survives reloads via the widget-side
// cookie.
func (c *Controller) FrameSrc() (string, error) {
	token, err := c.cfg.Mirror(c.page.localBase, c.params.ThirdPartyBaseURI).EncodeToken()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(c.params.IframeURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(widget.TokenParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FrameHeight returns the current frame height under the grow-only
// layout policy.
func (c *Controller) FrameHeight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameHeight
}

// ChartURL returns the last rendered progress-chart URL, empty before
// the first persisted update.
func (c *Controller) ChartURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chartURL
}

// Initialized reports whether the session handshake ran.
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Dispose releases the channel and drops the registry entry. Safe at
// any lifecycle point; persistence callbacks that land afterwards are
// ignored via the disposed flag rather than aborted.
func (c *Controller) Dispose() error {
	var err error
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		c.disposed = true
		c.mu.Unlock()

		c.cancel()
		err = c.channel.Dispose()
		c.page.remove(c.params.ContainerID, c)
	})
	return err
}

func (c *Controller) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// handleInitSession answers the widget's handshake: fetch the
// authoritative session and push it back via send_session. Payload ""
// initializes once; "force" always retriggers. Both sides may race to
// initialize after connect, so repeats must be cheap no-ops.
func (c *Controller) handleInitSession(payload string) {
	force := payload == types.InitForce

	c.mu.Lock()
	if c.disposed || (c.initialized && !force) {
		c.mu.Unlock()
		return
	}
	c.initialized = true
	c.mu.Unlock()

	session, err := c.page.sessions.SessionForWidget(c.ctx, c.widgetKey)
	if err != nil {
		c.log.Warn().Err(err).Msg("session fetch failed")
		c.mu.Lock()
		c.initialized = false
		c.mu.Unlock()
		return
	}
	if c.isDisposed() {
		return
	}

	data, err := json.Marshal(session)
	if err != nil {
		c.log.Error().Err(err).Msg("session encode failed")
		return
	}
	if err := c.channel.Send(types.ServiceSendSession, string(data)); err != nil {
		c.log.Warn().Err(err).Msg("send_session failed")
	}
}

// handleUpdateProgress persists a frequent-interaction update, subject
// to the completed/ignore gating, and refreshes the progress chart
// from the returned document score. A malformed payload is dropped so
// one bad message cannot take down the channel.
func (c *Controller) handleUpdateProgress(payload string) {
	var update types.ProgressUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		c.log.Debug().Err(err).Msg("malformed update_progress dropped")
		return
	}
	if err := update.Validate(); err != nil {
		c.log.Debug().Err(err).Msg("invalid update_progress dropped")
		return
	}

	if !c.page.allowScoreUpdates(c.ctx, c.params.WidgetID) {
		c.log.Debug().Msg("progress update suppressed by module policy")
		return
	}
	if c.isDisposed() {
		return
	}

	docScore, err := c.page.sessions.UpdateScore(c.ctx, &types.ScoreUpdate{
		WidgetID: c.widgetKey,
		DocID:    c.params.DocID,
		TrunkID:  c.params.TrunkID,
		Progress: update.Progress,
		Score:    update.Score,
		Absolute: c.params.Absolute,
	})
	if err != nil {
		// No retry: the indicator stays stale until the next update.
		c.log.Warn().Err(err).Msg("score persistence failed")
		return
	}
	c.refreshChart(docScore)
}

// handleUpdateSession persists a full session update. User data is
// stored unconditionally; score and progress only when the gate
// allows.
func (c *Controller) handleUpdateSession(payload string) {
	var session types.SessionInfo
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		c.log.Debug().Err(err).Msg("malformed update_session dropped")
		return
	}
	if err := session.Validate(); err != nil {
		c.log.Debug().Err(err).Msg("invalid update_session dropped")
		return
	}

	allowed := c.page.allowScoreUpdates(c.ctx, c.params.WidgetID)
	if c.isDisposed() {
		return
	}

	docScore, err := c.page.sessions.UpdateWidgetSession(c.ctx, &types.SessionUpdate{
		WidgetID:   c.widgetKey,
		DocID:      c.params.DocID,
		TrunkID:    c.params.TrunkID,
		SessionID:  session.SessionID,
		Progress:   session.Progress,
		Score:      session.Score,
		UserData:   session.UserData,
		Absolute:   c.params.Absolute,
		ApplyScore: allowed,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("session persistence failed")
		return
	}
	if allowed {
		c.refreshChart(docScore)
	}
}

// handleUpdateLayout applies the widget's sizing request. Only height
// changes, and only upward: widget-induced horizontal scroll and
// shrink flicker are both product decisions carried over as-is.
func (c *Controller) handleUpdateLayout(payload string) {
	var layout types.LayoutInfo
	if err := json.Unmarshal([]byte(payload), &layout); err != nil {
		c.log.Debug().Err(err).Msg("malformed update_layout dropped")
		return
	}
	if layout.Height == nil {
		return
	}

	c.mu.Lock()
	if c.disposed || *layout.Height <= c.frameHeight {
		c.mu.Unlock()
		return
	}
	c.frameHeight = *layout.Height
	height := c.frameHeight
	onResize := c.params.OnResize
	c.mu.Unlock()

	if onResize != nil {
		onResize(height)
	}
}

func (c *Controller) refreshChart(docScore int) {
	chartURL := ProgressChartURL(docScore)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.chartURL = chartURL
	onDocScore := c.params.OnDocScore
	c.mu.Unlock()

	if onDocScore != nil {
		onDocScore(chartURL)
	}
}
