package channel

import "errors"

var (
	ErrChannelDisposed    = errors.New("channel is disposed")
	ErrAlreadyConnecting  = errors.New("channel connect already started")
	ErrNilTransport       = errors.New("channel requires a transport")
	ErrDuplicateRequestID = errors.New("request ID already in flight")
	ErrRequestNotFound    = errors.New("no request in flight for ID")
)
