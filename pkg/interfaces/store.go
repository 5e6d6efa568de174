package interfaces

import (
	"context"

	"widgetbridge/pkg/types"
)

// SessionStore handles persistence of widget sessions and document
// scores. Single interface for all store operations keeps transaction
// coordination in one place.
type SessionStore interface {
	// GetWidgetSession retrieves the session for a widget, or
	// ErrSessionNotFound if the widget has never reported.
	GetWidgetSession(ctx context.Context, widgetID string) (*types.SessionInfo, error)

	// PutWidgetSession creates or replaces the session for a widget.
	PutWidgetSession(ctx context.Context, widgetID string, session *types.SessionInfo) error

	// ApplyScoreUpdate records a widget score and returns the
	// recomputed score for the owning document.
	ApplyScoreUpdate(ctx context.Context, update *types.ScoreUpdate) (int, error)

	// GetDocScore returns the current score for a document, 0 if the
	// document has no recorded widgets.
	GetDocScore(ctx context.Context, docID string) (int, error)

	// HealthCheck verifies store connectivity.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the store.
	Close() error
}
