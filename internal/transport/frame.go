package transport

import "encoding/json"

// Frame kinds. Setup and setup_ack drive the connect handshake; msg
// carries one service invocation; frag carries one piece of an
// oversized relay payload.
const (
	KindSetup    = "setup"
	KindSetupAck = "setup_ack"
	KindMessage  = "msg"
	KindFragment = "frag"
)

// Sides of a channel. The host document is the outer side, the
// embedded widget frame the inner one. The hub pairs one of each per
// channel name.
const (
	SideOuter = "outer"
	SideInner = "inner"
)

// Frame is the wire unit all transports exchange, the JSON port of the
// original "channel|service:payload" framing. Seq orders fragments;
// FragIndex/FragTotal describe reassembly for KindFragment.
type Frame struct {
	Channel   string `json:"channel"`
	Kind      string `json:"kind"`
	Service   string `json:"service,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	FragIndex int    `json:"frag_index,omitempty"`
	FragTotal int    `json:"frag_total,omitempty"`
}

// EncodeFrame marshals a frame for the wire.
func EncodeFrame(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses a wire frame. Malformed frames are the caller's
// cue to drop the message, never to tear down the transport.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// OppositeSide returns the peer's side label.
func OppositeSide(side string) string {
	if side == SideOuter {
		return SideInner
	}
	return SideOuter
}
