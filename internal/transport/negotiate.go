package transport

import (
	"context"
	"io"
	"net/http"

	"widgetbridge/pkg/interfaces"
)

// Negotiate selects the best transport the current configuration
// supports, in order of preference: native websocket messaging, then
// polling, then relay. Selection is automatic and invisible to
// callers, who supply only the ChannelConfig URIs. The returned
// transport is not yet connected.
func Negotiate(ctx context.Context, cfg ChannelConfig, side string, opts Options) (interfaces.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	if probeNative(ctx, cfg, opts) {
		opts.Logger.Debug().Str("channel", cfg.ChannelName).Msg("negotiated native transport")
		return NewNative(cfg, side, opts), nil
	}
	if probeMailbox(ctx, cfg.LocalPollURI, cfg.ChannelName, side, opts) {
		opts.Logger.Debug().Str("channel", cfg.ChannelName).Msg("negotiated polling transport")
		return NewPolling(cfg, side, opts), nil
	}
	if probeMailbox(ctx, cfg.LocalRelayURI, cfg.ChannelName, side, opts) {
		opts.Logger.Debug().Str("channel", cfg.ChannelName).Msg("negotiated relay transport")
		return NewRelay(cfg, side, opts), nil
	}
	return nil, ErrNoTransportAvailable
}

// probeNative checks that the peer's websocket endpoint accepts an
// upgrade. The probe connection is discarded; the real dial happens in
// Connect.
func probeNative(ctx context.Context, cfg ChannelConfig, opts Options) bool {
	if cfg.PeerURI == "" {
		return false
	}
	uri, err := wsEndpoint(cfg.PeerURI, cfg.ChannelName, "probe")
	if err != nil {
		return false
	}
	dialer := *opts.Dialer
	dialer.HandshakeTimeout = opts.DialTimeout
	conn, resp, err := dialer.DialContext(ctx, uri, nil)
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// probeMailbox checks that a mailbox endpoint answers a drain request.
// Availability of the backing page is a hard precondition for the
// non-native transports, so an unreachable endpoint disqualifies the
// transport outright.
func probeMailbox(ctx context.Context, endpoint, channelName, side string, opts Options) bool {
	if endpoint == "" {
		return false
	}
	uri, err := mailboxEndpoint(endpoint, channelName, side)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return false
	}
	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}
