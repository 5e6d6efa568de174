package transport

import "errors"

var (
	ErrTransportDisposed    = errors.New("transport is disposed")
	ErrTransportNotReady    = errors.New("transport is not connected")
	ErrNoReceiver           = errors.New("receiver must be set before connect")
	ErrNoTransportAvailable = errors.New("no transport available for configuration")
	ErrInvalidToken         = errors.New("invalid channel token")
	ErrMissingChannelName   = errors.New("channel name is required")
	ErrPeerUnreachable      = errors.New("peer endpoint unreachable")
)
