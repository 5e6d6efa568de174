package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrSideOccupied      = errors.New("channel side already connected")
	ErrMailboxFull       = errors.New("mailbox is full")
)
