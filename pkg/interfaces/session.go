package interfaces

import (
	"context"

	"widgetbridge/pkg/types"
)

// SessionService is the server collaborator the host controller talks
// to. Implementations: the HTTP API client used on real pages, and the
// direct store adapter used in process.
type SessionService interface {
	// SessionForWidget fetches the authoritative session record for a
	// widget instance, creating an empty one on first contact.
	SessionForWidget(ctx context.Context, widgetID string) (*types.SessionInfo, error)

	// UpdateScore persists a progress/score update and returns the
	// recomputed document score in [0,100].
	UpdateScore(ctx context.Context, update *types.ScoreUpdate) (int, error)

	// UpdateWidgetSession persists a full session update. UserData is
	// stored unconditionally; score and progress are applied only when
	// the caller sets ApplyScore after its own gating checks.
	UpdateWidgetSession(ctx context.Context, update *types.SessionUpdate) (int, error)
}
