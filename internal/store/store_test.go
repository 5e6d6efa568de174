package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"widgetbridge/pkg/interfaces"
	"widgetbridge/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{
		Path:   filepath.Join(t.TempDir(), "widgetbridge.db"),
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetWidgetSession(ctx, "quiz-1"); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	session := &types.SessionInfo{SessionID: "s1", Progress: 40, Score: 85, UserData: `{"q":3}`}
	if err := s.PutWidgetSession(ctx, "quiz-1", session); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := s.GetWidgetSession(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if *got != *session {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, session)
	}

	// Upsert replaces in place.
	session.Score = 90
	session.UserData = `{"q":4}`
	if err := s.PutWidgetSession(ctx, "quiz-1", session); err != nil {
		t.Fatalf("second put failed: %v", err)
	}
	got, err = s.GetWidgetSession(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Score != 90 || got.UserData != `{"q":4}` {
		t.Errorf("upsert did not replace: %+v", got)
	}
}

func TestStore_PutValidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutWidgetSession(ctx, "bad id!", &types.SessionInfo{}); !errors.Is(err, types.ErrInvalidWidgetID) {
		t.Errorf("expected ErrInvalidWidgetID, got %v", err)
	}
	if err := s.PutWidgetSession(ctx, "quiz-1", &types.SessionInfo{Score: 200}); !errors.Is(err, types.ErrScoreOutOfRange) {
		t.Errorf("expected ErrScoreOutOfRange, got %v", err)
	}
}

func TestStore_ApplyScoreUpdate_AveragesAcrossDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docScore, err := s.ApplyScoreUpdate(ctx, &types.ScoreUpdate{
		WidgetID: "quiz-1", DocID: "doc-1", TrunkID: "trunk-1", Progress: 100, Score: 80,
	})
	if err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if docScore != 80 {
		t.Errorf("single-widget doc score = %d, want 80", docScore)
	}

	docScore, err = s.ApplyScoreUpdate(ctx, &types.ScoreUpdate{
		WidgetID: "quiz-2", DocID: "doc-1", TrunkID: "trunk-1", Progress: 50, Score: 40,
	})
	if err != nil {
		t.Fatalf("second update failed: %v", err)
	}
	if docScore != 60 {
		t.Errorf("two-widget doc score = %d, want mean 60", docScore)
	}

	stored, err := s.GetDocScore(ctx, "doc-1")
	if err != nil || stored != 60 {
		t.Errorf("GetDocScore = %d, %v; want 60", stored, err)
	}

	// Re-scoring an existing widget replaces its contribution rather
	// than adding a row.
	docScore, err = s.ApplyScoreUpdate(ctx, &types.ScoreUpdate{
		WidgetID: "quiz-2", DocID: "doc-1", TrunkID: "trunk-1", Progress: 100, Score: 100,
	})
	if err != nil {
		t.Fatalf("re-score failed: %v", err)
	}
	if docScore != 90 {
		t.Errorf("re-scored doc score = %d, want 90", docScore)
	}
}

func TestStore_ApplyScoreUpdate_AbsoluteOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ApplyScoreUpdate(ctx, &types.ScoreUpdate{
		WidgetID: "quiz-1", DocID: "doc-1", Score: 20,
	}); err != nil {
		t.Fatalf("seed update failed: %v", err)
	}

	docScore, err := s.ApplyScoreUpdate(ctx, &types.ScoreUpdate{
		WidgetID: "quiz-2", DocID: "doc-1", Score: 100, Absolute: true,
	})
	if err != nil {
		t.Fatalf("absolute update failed: %v", err)
	}
	if docScore != 100 {
		t.Errorf("absolute doc score = %d, want 100", docScore)
	}
	if stored, _ := s.GetDocScore(ctx, "doc-1"); stored != 100 {
		t.Errorf("stored doc score = %d, want 100", stored)
	}
}

func TestStore_ApplyScoreUpdate_Validates(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.ApplyScoreUpdate(context.Background(), &types.ScoreUpdate{
		WidgetID: "quiz-1", Score: 999,
	}); !errors.Is(err, types.ErrScoreOutOfRange) {
		t.Errorf("expected ErrScoreOutOfRange, got %v", err)
	}
}

func TestStore_GetDocScore_UnknownDocIsZero(t *testing.T) {
	s := newTestStore(t)

	score, err := s.GetDocScore(context.Background(), "ghost")
	if err != nil || score != 0 {
		t.Errorf("GetDocScore = %d, %v; want 0, nil", score, err)
	}
}

func TestStore_HealthCheck(t *testing.T) {
	s := newTestStore(t)

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestStore_CloseRejectsFurtherWrites(t *testing.T) {
	s := newTestStore(t)

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	err := s.PutWidgetSession(context.Background(), "quiz-1", &types.SessionInfo{SessionID: "s1"})
	if !errors.Is(err, interfaces.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestService_MintsStableSessionOnFirstContact(t *testing.T) {
	svc := NewService(newTestStore(t))
	ctx := context.Background()

	first, err := svc.SessionForWidget(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if first.SessionID == "" {
		t.Fatal("no session ID minted")
	}

	second, err := svc.SessionForWidget(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("identity not stable: %q then %q", first.SessionID, second.SessionID)
	}

	other, err := svc.SessionForWidget(ctx, "quiz-2")
	if err != nil {
		t.Fatalf("other widget fetch failed: %v", err)
	}
	if other.SessionID == first.SessionID {
		t.Error("distinct widgets share a session ID")
	}
}

func TestService_GatedUpdateKeepsScoreCarriesUserData(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s)
	ctx := context.Background()

	seed := &types.SessionInfo{SessionID: "s1", Progress: 100, Score: 95, UserData: "old"}
	if err := s.PutWidgetSession(ctx, "quiz-1", seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := s.ApplyScoreUpdate(ctx, &types.ScoreUpdate{
		WidgetID: "quiz-1", DocID: "doc-1", Progress: 100, Score: 95,
	}); err != nil {
		t.Fatalf("seed score failed: %v", err)
	}

	docScore, err := svc.UpdateWidgetSession(ctx, &types.SessionUpdate{
		WidgetID: "quiz-1", DocID: "doc-1", SessionID: "s1",
		Progress: 10, Score: 5, UserData: "new",
		ApplyScore: false,
	})
	if err != nil {
		t.Fatalf("gated update failed: %v", err)
	}
	if docScore != 95 {
		t.Errorf("gated update moved the doc score to %d", docScore)
	}

	got, err := s.GetWidgetSession(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Score != 95 || got.Progress != 100 {
		t.Errorf("gated update regressed the stored score: %+v", got)
	}
	if got.UserData != "new" {
		t.Errorf("user data not carried: %q", got.UserData)
	}
}

func TestService_UngatedUpdateAppliesScore(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s)
	ctx := context.Background()

	docScore, err := svc.UpdateWidgetSession(ctx, &types.SessionUpdate{
		WidgetID: "quiz-1", DocID: "doc-1", SessionID: "s1",
		Progress: 60, Score: 80, UserData: "state",
		ApplyScore: true,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if docScore != 80 {
		t.Errorf("doc score = %d, want 80", docScore)
	}

	got, err := s.GetWidgetSession(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Score != 80 || got.Progress != 60 || got.UserData != "state" {
		t.Errorf("session not applied: %+v", got)
	}
}
