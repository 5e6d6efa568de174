package transport

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Path suffixes the application serves on every participating origin.
// PollPath and RelayPath are the message endpoints; BlankPage and
// RelayPage are the static bootstrap pages whose availability is a
// hard precondition for the non-native transports.
const (
	WSPath    = "/channel/ws"
	PollPath  = "/channel/poll"
	RelayPath = "/channel/relay"
	BlankPage = "/static/blank.html"
	RelayPage = "/static/relay.html"
)

// ChannelConfig parametrizes one channel instance: where the peer
// listens and where the local side's poll and relay endpoints live.
// Immutable once a channel is constructed; created per widget embed
// and discarded when the channel is disposed.
type ChannelConfig struct {
	ChannelName   string `json:"channel"`
	PeerURI       string `json:"peer_uri"`
	PeerPollURI   string `json:"peer_poll_uri"`
	LocalPollURI  string `json:"local_poll_uri"`
	PeerRelayURI  string `json:"peer_relay_uri"`
	LocalRelayURI string `json:"local_relay_uri"`
}

// DeriveConfig builds a config from the widget's third-party base URI
// and this application's own base URI. The channel name is fresh per
// embed so concurrent widgets on one page never share a link.
func DeriveConfig(peerBase, localBase string) ChannelConfig {
	peerBase = strings.TrimRight(peerBase, "/")
	localBase = strings.TrimRight(localBase, "/")
	return ChannelConfig{
		ChannelName:   uuid.New().String(),
		PeerURI:       toWebsocketURI(peerBase) + WSPath,
		PeerPollURI:   peerBase + PollPath,
		LocalPollURI:  localBase + PollPath,
		PeerRelayURI:  peerBase + RelayPath,
		LocalRelayURI: localBase + RelayPath,
	}
}

// Validate checks the config is usable. The poll and relay URIs are
// only required for their respective fallbacks, so only the channel
// name and peer URI are mandatory.
func (c ChannelConfig) Validate() error {
	if c.ChannelName == "" {
		return ErrMissingChannelName
	}
	return nil
}

// Mirror returns the same link seen from the opposite side: peer and
// local endpoints swapped, channel name preserved. The host embeds the
// mirrored config in the widget's token.
func (c ChannelConfig) Mirror(peerBase, localBase string) ChannelConfig {
	m := DeriveConfig(peerBase, localBase)
	m.ChannelName = c.ChannelName
	return m
}

// EncodeToken serializes the config to a compact cookie-safe token.
// The widget frame carries it in a URL query parameter and persists it
// in a cookie so a reload inside the frame can resume the channel.
func (c ChannelConfig) EncodeToken() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken parses a token produced by EncodeToken.
func DecodeToken(token string) (ChannelConfig, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ChannelConfig{}, ErrInvalidToken
	}
	var cfg ChannelConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ChannelConfig{}, ErrInvalidToken
	}
	if err := cfg.Validate(); err != nil {
		return ChannelConfig{}, ErrInvalidToken
	}
	return cfg, nil
}

func toWebsocketURI(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
