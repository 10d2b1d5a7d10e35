package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"playback-observer/internal/logging"
	"playback-observer/internal/metrics"
	"playback-observer/internal/observe"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Store persists analyzed sessions and their per-observation results so
// past recordings stay queryable after the test runner has moved on.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens (or creates) the results database.
// dbPath must be the full path to the database file and the parent
// directory must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Store, error) {
	logging.Info("Results database path: %s", dbPath)

	// busy_timeout helps prevent "database is locked" errors
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Analysis is single-writer; a small pool is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Results database initialized at %s", dbPath)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL,
		state TEXT NOT NULL,
		camera_fps REAL NOT NULL,
		recording TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		test_id TEXT NOT NULL,
		test_path TEXT NOT NULL,
		observation TEXT NOT NULL,
		verdict TEXT NOT NULL,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token);
	CREATE INDEX IF NOT EXISTS idx_results_session ON results(session_id);
	`

	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := s.timed("initialize_schema", func() error {
		_, execErr := s.db.ExecContext(opCtx, schema)
		return execErr
	})
	return err
}

// CreateSession records a new analyzed session and returns its row id.
func (s *Store) CreateSession(ctx context.Context, token, state, recording string, cameraFPS float64) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var id int64
	err := s.timed("insert_session", func() error {
		res, execErr := s.db.ExecContext(opCtx,
			`INSERT INTO sessions (token, state, camera_fps, recording) VALUES (?, ?, ?, ?)`,
			token, state, cameraFPS, recording)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// FinishSession updates the session's final state.
func (s *Store) FinishSession(ctx context.Context, sessionID int64, state string) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return s.timed("finish_session", func() error {
		_, err := s.db.ExecContext(opCtx,
			`UPDATE sessions SET state = ? WHERE id = ?`, state, sessionID)
		return err
	})
}

// SaveResults persists every observation result of one test.
func (s *Store) SaveResults(ctx context.Context, sessionID int64, testID, testPath string, results []observe.Result) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return s.timed("insert_result", func() error {
		tx, err := s.db.BeginTx(opCtx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(opCtx,
			`INSERT INTO results (session_id, test_id, test_path, observation, verdict, message)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range results {
			if _, err := stmt.ExecContext(opCtx, sessionID, testID, testPath,
				string(r.Kind), string(r.Verdict), r.Message); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// PruneSessions deletes sessions older than the retention window.
func (s *Store) PruneSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var pruned int64
	err := s.timed("prune_sessions", func() error {
		res, execErr := s.db.ExecContext(opCtx,
			`DELETE FROM sessions WHERE created_at < datetime('now', ?)`,
			fmt.Sprintf("-%d seconds", int(olderThan.Seconds())))
		if execErr != nil {
			return execErr
		}
		pruned, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	if pruned > 0 {
		logging.Info("Pruned %d sessions older than %s", pruned, olderThan)
	}
	return pruned, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// timed wraps a query with duration and outcome metrics.
func (s *Store) timed(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBQueryTotal.WithLabelValues(operation, "error").Inc()
	} else {
		metrics.DBQueryTotal.WithLabelValues(operation, "success").Inc()
	}
	return err
}
