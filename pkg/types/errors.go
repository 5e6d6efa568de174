package types

import "errors"

var (
	ErrInvalidWidgetID    = errors.New("invalid widget ID")
	ErrInvalidService     = errors.New("invalid service name")
	ErrProgressOutOfRange = errors.New("progress must be between 0 and 100")
	ErrScoreOutOfRange    = errors.New("score must be between 0 and 100")
	ErrPayloadTooLarge    = errors.New("payload exceeds maximum size")
)
