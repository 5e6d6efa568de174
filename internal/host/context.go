package host

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"widgetbridge/internal/transport"
	"widgetbridge/pkg/interfaces"
)

// TransportFactory produces the transport for one widget embed. The
// default negotiates among the real transports; tests inject loopback
// pairs.
type TransportFactory func(ctx context.Context, cfg transport.ChannelConfig, side string) (interfaces.Transport, error)

// PageOptions configure a page context.
type PageOptions struct {
	// LocalBase is this application's own origin base URI, from which
	// the local poll and relay endpoints derive.
	LocalBase string

	// Sessions is the persistence collaborator for session fetches and
	// score updates.
	Sessions interfaces.SessionService

	// Prompter shows the keep-or-sync confirmation. Required when
	// Completed is true.
	Prompter interfaces.Prompter

	// Completed marks the containing module as already 100% complete
	// before this page load, which gates widget score updates behind
	// the confirmation.
	Completed bool

	// Transport overrides transport selection. Nil means negotiate.
	Transport TransportFactory

	// TransportOptions tune the negotiated transports: poll intervals,
	// relay pickup, handshake repeat, dial budget. Zero values take the
	// transport defaults; ignored when Transport is set.
	TransportOptions transport.Options

	Logger zerolog.Logger
}

// PageContext carries the page-session state the controllers share: the
// container-to-controller registry and the module-scoped policy flags.
// One instance per page load, disposed at page unload. It replaces the
// ambient globals of older embeds with an explicitly passed object.
type PageContext struct {
	localBase string
	sessions  interfaces.SessionService
	prompter  interfaces.Prompter
	factory   TransportFactory
	log       zerolog.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
	completed   bool
	ignore      bool
	warnedOnce  bool
	promptDone  chan struct{}
	disposed    bool
}

// NewPageContext creates the shared page state.
func NewPageContext(opts PageOptions) *PageContext {
	factory := opts.Transport
	if factory == nil {
		topts := opts.TransportOptions
		topts.Logger = opts.Logger
		factory = func(ctx context.Context, cfg transport.ChannelConfig, side string) (interfaces.Transport, error) {
			return transport.Negotiate(ctx, cfg, side, topts)
		}
	}
	return &PageContext{
		localBase:   opts.LocalBase,
		sessions:    opts.Sessions,
		prompter:    opts.Prompter,
		factory:     factory,
		log:         opts.Logger.With().Str("component", "host").Logger(),
		controllers: make(map[string]*Controller),
		completed:   opts.Completed,
	}
}

// Embed creates the controller for one widget container, builds its
// channel configuration and transport, and registers it under the
// container ID. The caller starts it with Controller.Start.
func (p *PageContext) Embed(ctx context.Context, params Params) (*Controller, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil, ErrPageDisposed
	}
	if _, taken := p.controllers[params.ContainerID]; taken {
		p.mu.Unlock()
		return nil, ErrContainerInUse
	}
	p.mu.Unlock()

	cfg := transport.DeriveConfig(params.ThirdPartyBaseURI, p.localBase)
	tr, err := p.factory(ctx, cfg, transport.SideOuter)
	if err != nil {
		return nil, err
	}

	ctrl, err := newController(p, params, cfg, tr)
	if err != nil {
		_ = tr.Dispose()
		return nil, err
	}

	p.mu.Lock()
	if p.disposed || p.controllers[params.ContainerID] != nil {
		p.mu.Unlock()
		_ = ctrl.Dispose()
		if p.Disposed() {
			return nil, ErrPageDisposed
		}
		return nil, ErrContainerInUse
	}
	p.controllers[params.ContainerID] = ctrl
	p.mu.Unlock()

	return ctrl, nil
}

// Controller returns the registered controller for a container.
func (p *PageContext) Controller(containerID string) (*Controller, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctrl, exists := p.controllers[containerID]
	return ctrl, exists
}

// Len returns the number of live controllers.
func (p *PageContext) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.controllers)
}

// Disposed reports whether DisposeAll ran.
func (p *PageContext) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// DisposeAll tears down every controller. Bound to page unload.
func (p *PageContext) DisposeAll() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	controllers := make([]*Controller, 0, len(p.controllers))
	for _, ctrl := range p.controllers {
		controllers = append(controllers, ctrl)
	}
	p.controllers = make(map[string]*Controller)
	p.mu.Unlock()

	for _, ctrl := range controllers {
		_ = ctrl.Dispose()
	}
}

// remove drops a controller's registry entry on its disposal.
func (p *PageContext) remove(containerID string, ctrl *Controller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.controllers[containerID] == ctrl {
		delete(p.controllers, containerID)
	}
}

// allowScoreUpdates runs the completed/ignore gate shared by
// update_progress and update_session. The confirmation shows at most
// once per page load; "keep scores" permanently suppresses persistence
// for the rest of the page session, "sync scores" re-opens the module.
// Updates arriving while the dialog is open wait for its resolution
// and are judged against the decided flags, not the stale ones.
func (p *PageContext) allowScoreUpdates(ctx context.Context, widgetID string) bool {
	p.mu.Lock()
	for p.promptDone != nil {
		wait := p.promptDone
		p.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return false
		}
		p.mu.Lock()
	}
	if p.completed && !p.ignore && !p.warnedOnce && p.prompter != nil {
		p.warnedOnce = true
		p.promptDone = make(chan struct{})
		p.mu.Unlock()

		keep, err := p.prompter.ConfirmScoreSync(ctx, widgetID)

		p.mu.Lock()
		if err != nil {
			// Unresolved prompt keeps the module gated; the next page
			// load can ask again.
			p.log.Warn().Err(err).Str("widget_id", widgetID).Msg("score sync confirmation failed")
		} else if keep {
			p.ignore = true
		} else {
			p.completed = false
		}
		close(p.promptDone)
		p.promptDone = nil
	}
	allowed := !p.completed && !p.ignore
	p.mu.Unlock()
	return allowed
}
