package transport

import (
	"errors"
	"testing"
)

func TestDeriveConfig_BuildsEndpoints(t *testing.T) {
	cfg := DeriveConfig("https://widgets.example.com/", "https://books.example.com")

	if cfg.ChannelName == "" {
		t.Fatal("channel name not generated")
	}
	if cfg.PeerURI != "wss://widgets.example.com/channel/ws" {
		t.Errorf("peer URI = %s", cfg.PeerURI)
	}
	if cfg.PeerPollURI != "https://widgets.example.com/channel/poll" {
		t.Errorf("peer poll URI = %s", cfg.PeerPollURI)
	}
	if cfg.LocalPollURI != "https://books.example.com/channel/poll" {
		t.Errorf("local poll URI = %s", cfg.LocalPollURI)
	}
	if cfg.PeerRelayURI != "https://widgets.example.com/channel/relay" {
		t.Errorf("peer relay URI = %s", cfg.PeerRelayURI)
	}
	if cfg.LocalRelayURI != "https://books.example.com/channel/relay" {
		t.Errorf("local relay URI = %s", cfg.LocalRelayURI)
	}
}

func TestDeriveConfig_FreshChannelNamePerEmbed(t *testing.T) {
	a := DeriveConfig("https://w.example.com", "https://b.example.com")
	b := DeriveConfig("https://w.example.com", "https://b.example.com")
	if a.ChannelName == b.ChannelName {
		t.Error("two embeds share a channel name")
	}
}

func TestMirror_SwapsEndpointsKeepsName(t *testing.T) {
	cfg := DeriveConfig("https://w.example.com", "https://b.example.com")
	mirrored := cfg.Mirror("https://b.example.com", "https://w.example.com")

	if mirrored.ChannelName != cfg.ChannelName {
		t.Error("mirror changed the channel name")
	}
	if mirrored.PeerPollURI != cfg.LocalPollURI {
		t.Errorf("mirror peer poll = %s, want %s", mirrored.PeerPollURI, cfg.LocalPollURI)
	}
	if mirrored.LocalPollURI != cfg.PeerPollURI {
		t.Errorf("mirror local poll = %s, want %s", mirrored.LocalPollURI, cfg.PeerPollURI)
	}
}

func TestToken_RoundTrip(t *testing.T) {
	cfg := DeriveConfig("https://w.example.com", "https://b.example.com")

	token, err := cfg.EncodeToken()
	if err != nil {
		t.Fatalf("EncodeToken failed: %v", err)
	}
	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken failed: %v", err)
	}
	if decoded != cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, cfg)
	}
}

func TestDecodeToken_RejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "not base64 ***", "aGVsbG8"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("DecodeToken(%q): expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestEncodeToken_RequiresChannelName(t *testing.T) {
	var cfg ChannelConfig
	if _, err := cfg.EncodeToken(); !errors.Is(err, ErrMissingChannelName) {
		t.Errorf("expected ErrMissingChannelName, got %v", err)
	}
}
