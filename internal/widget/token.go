package widget

import (
	"net/http"

	"widgetbridge/internal/transport"
)

// TokenParam is the query parameter carrying the channel token into
// the widget frame, and TokenCookie the fallback that survives reloads
// inside the frame after the original query string is lost.
const (
	TokenParam  = "channel_token"
	TokenCookie = "widgetbridge_channel"
)

// ResolveToken extracts the channel configuration for this frame from
// the request: query parameter first, cookie second. A token resolved
// from the query is returned as a cookie for the caller to set, so the
// next reload can still find it. With neither source present the
// widget cannot establish a channel and the caller must fail loudly.
func ResolveToken(r *http.Request) (transport.ChannelConfig, *http.Cookie, error) {
	if token := r.URL.Query().Get(TokenParam); token != "" {
		cfg, err := transport.DecodeToken(token)
		if err != nil {
			return transport.ChannelConfig{}, nil, err
		}
		return cfg, &http.Cookie{
			Name:     TokenCookie,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteNoneMode,
			Secure:   true,
		}, nil
	}

	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		cfg, err := transport.DecodeToken(cookie.Value)
		if err != nil {
			return transport.ChannelConfig{}, nil, err
		}
		return cfg, nil, nil
	}

	return transport.ChannelConfig{}, nil, ErrMissingChannelToken
}
