package host

import "errors"

var (
	ErrPageDisposed       = errors.New("page context is disposed")
	ErrContainerInUse     = errors.New("container already has a controller")
	ErrMissingContainerID = errors.New("container ID is required")
	ErrMissingPeerBase    = errors.New("third-party base URI is required")
)
