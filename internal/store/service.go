package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"widgetbridge/pkg/interfaces"
	"widgetbridge/pkg/types"
)

// Service adapts a SessionStore to the SessionService the host
// controller consumes, for deployments where the page server and the
// persistence layer share a process. Remote pages use the HTTP client
// in internal/api instead.
type Service struct {
	store interfaces.SessionStore
}

// NewService wraps the store.
func NewService(store interfaces.SessionStore) *Service {
	return &Service{store: store}
}

// SessionForWidget fetches the session, minting an empty one with a
// fresh session ID on first contact so the widget always handshakes
// against a stable identity.
func (s *Service) SessionForWidget(ctx context.Context, widgetID string) (*types.SessionInfo, error) {
	session, err := s.store.GetWidgetSession(ctx, widgetID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, interfaces.ErrSessionNotFound) {
		return nil, err
	}

	session = &types.SessionInfo{SessionID: uuid.New().String()}
	if err := s.store.PutWidgetSession(ctx, widgetID, session); err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateScore persists a gated progress update and returns the
// recomputed document score.
func (s *Service) UpdateScore(ctx context.Context, update *types.ScoreUpdate) (int, error) {
	return s.store.ApplyScoreUpdate(ctx, update)
}

// UpdateWidgetSession persists a full session update. User data lands
// unconditionally; the score tables move only when the host's gating
// set ApplyScore.
func (s *Service) UpdateWidgetSession(ctx context.Context, update *types.SessionUpdate) (int, error) {
	if err := update.Validate(); err != nil {
		return 0, err
	}

	session := &types.SessionInfo{
		SessionID: update.SessionID,
		Progress:  update.Progress,
		Score:     update.Score,
		UserData:  update.UserData,
	}
	if !update.ApplyScore {
		// Preserve the stored score when the update is gated.
		if prev, err := s.store.GetWidgetSession(ctx, update.WidgetID); err == nil {
			session.Progress = prev.Progress
			session.Score = prev.Score
		}
	}
	if err := s.store.PutWidgetSession(ctx, update.WidgetID, session); err != nil {
		return 0, err
	}

	if !update.ApplyScore {
		return s.store.GetDocScore(ctx, update.DocID)
	}
	return s.store.ApplyScoreUpdate(ctx, &types.ScoreUpdate{
		WidgetID: update.WidgetID,
		DocID:    update.DocID,
		TrunkID:  update.TrunkID,
		Progress: update.Progress,
		Score:    update.Score,
		Absolute: update.Absolute,
	})
}
