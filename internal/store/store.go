package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"widgetbridge/pkg/interfaces"
	"widgetbridge/pkg/types"
)

// Store is the SQLite-backed SessionStore. All writes funnel through a
// single goroutine so SQLite never sees write contention; reads go
// straight to the pool.
type Store struct {
	db       *sql.DB
	log      zerolog.Logger
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	run    func(db *sql.DB) error
	result chan error
}

// Options configure the store.
type Options struct {
	Path         string
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// New opens (creating if needed) the database at opts.Path and applies
// the schema.
func New(opts Options) (*Store, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	db, err := sql.Open("sqlite3", opts.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)

	if err := applySQLitePragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		log:      opts.Logger.With().Str("component", "store").Logger(),
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop(opts.WriteTimeout)
	return s, nil
}

func (s *Store) writeLoop(timeout time.Duration) {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			op.result <- op.run(s.db)
		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(run func(db *sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{run: run, result: result}:
		return <-result
	case <-s.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// GetWidgetSession retrieves the session for a widget.
func (s *Store) GetWidgetSession(ctx context.Context, widgetID string) (*types.SessionInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, progress, score, user_data FROM widget_sessions WHERE widget_id = ?`,
		widgetID)

	var session types.SessionInfo
	err := row.Scan(&session.SessionID, &session.Progress, &session.Score, &session.UserData)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query widget session: %w", err)
	}
	return &session, nil
}

// PutWidgetSession creates or replaces the session for a widget.
func (s *Store) PutWidgetSession(ctx context.Context, widgetID string, session *types.SessionInfo) error {
	if !types.IsValidWidgetID(widgetID) {
		return types.ErrInvalidWidgetID
	}
	if err := session.Validate(); err != nil {
		return err
	}
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO widget_sessions (widget_id, session_id, progress, score, user_data, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(widget_id) DO UPDATE SET
				session_id = excluded.session_id,
				progress   = excluded.progress,
				score      = excluded.score,
				user_data  = excluded.user_data,
				updated_at = CURRENT_TIMESTAMP`,
			widgetID, session.SessionID, session.Progress, session.Score, session.UserData)
		if err != nil {
			return fmt.Errorf("upsert widget session: %w", err)
		}
		return nil
	})
}

// ApplyScoreUpdate records a widget score and recomputes the owning
// document's score in the same transaction: the mean of its widgets'
// scores, or the raw score for absolute updates.
func (s *Store) ApplyScoreUpdate(ctx context.Context, update *types.ScoreUpdate) (int, error) {
	if err := update.Validate(); err != nil {
		return 0, err
	}

	var docScore int
	err := s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO widget_scores (widget_id, doc_id, trunk_id, progress, score, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(widget_id) DO UPDATE SET
				doc_id     = excluded.doc_id,
				trunk_id   = excluded.trunk_id,
				progress   = excluded.progress,
				score      = excluded.score,
				updated_at = CURRENT_TIMESTAMP`,
			update.WidgetID, update.DocID, update.TrunkID, update.Progress, update.Score)
		if err != nil {
			return fmt.Errorf("upsert widget score: %w", err)
		}

		if update.Absolute {
			docScore = update.Score
		} else {
			row := tx.QueryRowContext(ctx,
				`SELECT CAST(ROUND(AVG(score)) AS INTEGER) FROM widget_scores WHERE doc_id = ?`,
				update.DocID)
			if err := row.Scan(&docScore); err != nil {
				return fmt.Errorf("compute doc score: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO doc_scores (doc_id, trunk_id, score, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(doc_id) DO UPDATE SET
				trunk_id   = excluded.trunk_id,
				score      = excluded.score,
				updated_at = CURRENT_TIMESTAMP`,
			update.DocID, update.TrunkID, docScore)
		if err != nil {
			return fmt.Errorf("upsert doc score: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return docScore, nil
}

// GetDocScore returns the rollup score for a document, 0 when the
// document has no recorded widgets.
func (s *Store) GetDocScore(ctx context.Context, docID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT score FROM doc_scores WHERE doc_id = ?`, docID)
	var score int
	err := row.Scan(&score)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query doc score: %w", err)
	}
	return score, nil
}

// HealthCheck verifies connectivity and a basic read.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.QueryContext(ctx, "SELECT COUNT(*) FROM widget_sessions LIMIT 1"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains the write loop and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
