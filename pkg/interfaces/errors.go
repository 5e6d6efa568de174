package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrSessionNotFound = errors.New("widget session not found")
	ErrStoreClosed     = errors.New("session store is closed")
)
