package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Options tune transport behavior. Zero values select the defaults
// below; a ChannelConfig never carries tuning, only endpoints.
type Options struct {
	HTTPClient    *http.Client
	Dialer        *websocket.Dialer
	DialTimeout   time.Duration // native probe/dial budget
	SetupInterval time.Duration // handshake frame repeat interval
	PollMin       time.Duration // polling floor, reset on traffic
	PollMax       time.Duration // polling ceiling while idle
	RelayInterval time.Duration // fixed relay pickup interval
	Logger        zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.SetupInterval == 0 {
		o.SetupInterval = 100 * time.Millisecond
	}
	if o.PollMin == 0 {
		o.PollMin = 10 * time.Millisecond
	}
	if o.PollMax == 0 {
		o.PollMax = time.Second
	}
	if o.RelayInterval == 0 {
		o.RelayInterval = 250 * time.Millisecond
	}
	return o
}
