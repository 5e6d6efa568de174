package widget

import "errors"

var (
	ErrMissingChannelToken = errors.New("no channel token in query or cookie")
	ErrNoSession           = errors.New("session handshake has not completed")
	ErrClientDisposed      = errors.New("widget client is disposed")
)
