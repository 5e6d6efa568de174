package types

import "regexp"

// Compiled once at package initialization; these run on every inbound
// channel message.
var (
	widgetIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	serviceRegex  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// MaxPayloadSize bounds a single service payload. Payloads larger than
// this must be fragmented by the transport (relay) or rejected.
const MaxPayloadSize = 65536

// Validate ensures the session record meets the shared invariants
// before it crosses the channel or reaches the store.
func (s *SessionInfo) Validate() error {
	if s.Progress < 0 || s.Progress > 100 {
		return ErrProgressOutOfRange
	}
	if s.Score < 0 || s.Score > 100 {
		return ErrScoreOutOfRange
	}
	if len(s.UserData) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	return nil
}

// Validate checks a progress update's range invariants.
func (p *ProgressUpdate) Validate() error {
	if p.Progress < 0 || p.Progress > 100 {
		return ErrProgressOutOfRange
	}
	if p.Score < 0 || p.Score > 100 {
		return ErrScoreOutOfRange
	}
	return nil
}

// Validate checks a score update before it is persisted.
func (u *ScoreUpdate) Validate() error {
	if !IsValidWidgetID(u.WidgetID) {
		return ErrInvalidWidgetID
	}
	if u.Progress < 0 || u.Progress > 100 {
		return ErrProgressOutOfRange
	}
	if u.Score < 0 || u.Score > 100 {
		return ErrScoreOutOfRange
	}
	return nil
}

// Validate checks a full session update before it is persisted.
func (u *SessionUpdate) Validate() error {
	if !IsValidWidgetID(u.WidgetID) {
		return ErrInvalidWidgetID
	}
	if u.Progress < 0 || u.Progress > 100 {
		return ErrProgressOutOfRange
	}
	if u.Score < 0 || u.Score > 100 {
		return ErrScoreOutOfRange
	}
	if len(u.UserData) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	return nil
}

// IsValidWidgetID checks widget identifier format. 1-100 characters
// keeps ids usable as map keys, URL path segments and database keys.
func IsValidWidgetID(id string) bool {
	if len(id) < 1 || len(id) > 100 {
		return false
	}
	return widgetIDRegex.MatchString(id)
}

// IsValidServiceName checks a channel service name. Reserved transport
// services start with an underscore and are rejected here so user
// registrations cannot shadow them.
func IsValidServiceName(name string) bool {
	if len(name) < 1 || len(name) > 50 {
		return false
	}
	return serviceRegex.MatchString(name)
}
