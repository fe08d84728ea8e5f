package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/shared"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements SessionStore using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

type sessionRow struct {
	ID               string         `db:"session_id"`
	Stage            string         `db:"stage"`
	CustomerID       string         `db:"customer_id"`
	CustomerName     string         `db:"customer_name"`
	QuoteJSON        sql.NullString `db:"quote_json"`
	KYCJSON          sql.NullString `db:"kyc_json"`
	UnderwritingJSON sql.NullString `db:"underwriting_json"`
	SanctionJSON     sql.NullString `db:"sanction_json"`
	Version          int64          `db:"version"`
	CreatedAt        int64          `db:"created_at"`
	UpdatedAt        int64          `db:"updated_at"`
}

type turnRow struct {
	Seq       int64  `db:"seq"`
	Role      string `db:"role"`
	Content   string `db:"content"`
	CreatedAt int64  `db:"created_at"`
}

// NewSQLite opens (creating if needed) the session database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT '',
		quote_json TEXT,
		kyc_json TEXT,
		underwriting_json TEXT,
		sanction_json TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Create inserts a new session row together with any initial turns.
func (s *SQLiteStore) Create(ctx context.Context, sess *domain.Session) error {
	row, err := toRow(sess)
	if err != nil {
		return err
	}

	return s.withRetry(ctx, "create session", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO sessions (
				session_id, stage, customer_id, customer_name,
				quote_json, kyc_json, underwriting_json, sanction_json,
				version, created_at, updated_at
			) VALUES (
				:session_id, :stage, :customer_id, :customer_name,
				:quote_json, :kyc_json, :underwriting_json, :sanction_json,
				:version, :created_at, :updated_at
			)`, row)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		for i, t := range sess.Turns {
			if err := insertTurn(ctx, tx, sess.ID, int64(i+1), t); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// Load retrieves a session and its transcript.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT session_id, stage, customer_id, customer_name,
		       quote_json, kyc_json, underwriting_json, sanction_json,
		       version, created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var turns []turnRow
	if err := s.db.SelectContext(ctx, &turns, `
		SELECT seq, role, content, created_at
		FROM turns WHERE session_id = ? ORDER BY seq`, sessionID); err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}

	sess, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	sess.Turns = make([]domain.Turn, 0, len(turns))
	for _, t := range turns {
		sess.Turns = append(sess.Turns, domain.Turn{
			Role:      domain.Role(t.Role),
			Text:      t.Content,
			Timestamp: time.Unix(0, t.CreatedAt),
		})
	}
	return sess, nil
}

// Save writes the session's stage and results with an optimistic version
// check.
func (s *SQLiteStore) Save(ctx context.Context, sess *domain.Session) error {
	row, err := toRow(sess)
	if err != nil {
		return err
	}

	err = s.withRetry(ctx, "save session", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.NamedExecContext(ctx, `
			UPDATE sessions SET
				stage = :stage,
				customer_id = :customer_id,
				customer_name = :customer_name,
				quote_json = :quote_json,
				kyc_json = :kyc_json,
				underwriting_json = :underwriting_json,
				sanction_json = :sanction_json,
				version = version + 1,
				updated_at = :updated_at
			WHERE session_id = :session_id AND version = :version`, row)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if n == 0 {
			var exists int
			if err := tx.GetContext(ctx, &exists, `SELECT COUNT(1) FROM sessions WHERE session_id = ?`, sess.ID); err != nil {
				return fmt.Errorf("check session: %w", err)
			}
			if exists == 0 {
				return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sess.ID)
			}
			return fmt.Errorf("%w: session %s changed since version %d", domain.ErrPersistenceConflict, sess.ID, sess.Version)
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	sess.Version++
	return nil
}

// AppendTurn adds a turn after the last persisted one.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	return s.withRetry(ctx, "append turn", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = MAX(updated_at, ?) WHERE session_id = ?`,
			turn.Timestamp.UnixNano(), sessionID)
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}

		var seq int64
		if err := tx.GetContext(ctx, &seq,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("next turn seq: %w", err)
		}
		if err := insertTurn(ctx, tx, sessionID, seq, turn); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// DeleteExpired removes sessions, and their turns, idle for longer than ttl.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixNano()
	var deleted int64

	err := s.withRetry(ctx, "delete expired sessions", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM turns WHERE session_id IN (
				SELECT session_id FROM sessions WHERE updated_at < ?
			)`, threshold); err != nil {
			return fmt.Errorf("delete expired turns: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("delete expired sessions: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return tx.Commit()
	})
	return deleted, err
}

// withRetry retries fn on SQLITE_BUSY and reports exhausted retries as a
// persistence conflict.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	err := shared.RetryOnConflict(ctx, op, retryAttempts, retryBaseDelay, fn)
	if err != nil && shared.IsSQLiteConflictError(err) {
		slog.Warn("SQLite still busy after retries", "op", op, "error", err)
		return fmt.Errorf("%w: %s: %v", domain.ErrPersistenceConflict, op, err)
	}
	return err
}

func insertTurn(ctx context.Context, tx *sqlx.Tx, sessionID string, seq int64, t domain.Turn) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, seq, string(t.Role), t.Text, t.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func toRow(sess *domain.Session) (sessionRow, error) {
	row := sessionRow{
		ID:           sess.ID,
		Stage:        string(sess.Stage),
		CustomerID:   sess.CustomerID,
		CustomerName: sess.CustomerName,
		Version:      sess.Version,
		CreatedAt:    sess.CreatedAt.UnixNano(),
		UpdatedAt:    sess.UpdatedAt.UnixNano(),
	}

	var err error
	if row.QuoteJSON, err = marshalOptional(sess.Quote != nil, sess.Quote); err != nil {
		return row, fmt.Errorf("marshal quote: %w", err)
	}
	if row.KYCJSON, err = marshalOptional(sess.KYC != nil, sess.KYC); err != nil {
		return row, fmt.Errorf("marshal kyc: %w", err)
	}
	if row.UnderwritingJSON, err = marshalOptional(sess.Underwriting != nil, sess.Underwriting); err != nil {
		return row, fmt.Errorf("marshal underwriting: %w", err)
	}
	if row.SanctionJSON, err = marshalOptional(sess.Sanction != nil, sess.Sanction); err != nil {
		return row, fmt.Errorf("marshal sanction: %w", err)
	}
	return row, nil
}

func fromRow(row sessionRow) (*domain.Session, error) {
	sess := &domain.Session{
		ID:           row.ID,
		Stage:        domain.Stage(row.Stage),
		CustomerID:   row.CustomerID,
		CustomerName: row.CustomerName,
		Version:      row.Version,
		CreatedAt:    time.Unix(0, row.CreatedAt),
		UpdatedAt:    time.Unix(0, row.UpdatedAt),
	}

	if row.QuoteJSON.Valid {
		sess.Quote = &domain.SalesQuote{}
		if err := json.Unmarshal([]byte(row.QuoteJSON.String), sess.Quote); err != nil {
			return nil, fmt.Errorf("unmarshal quote: %w", err)
		}
	}
	if row.KYCJSON.Valid {
		sess.KYC = &domain.KYCResult{}
		if err := json.Unmarshal([]byte(row.KYCJSON.String), sess.KYC); err != nil {
			return nil, fmt.Errorf("unmarshal kyc: %w", err)
		}
	}
	if row.UnderwritingJSON.Valid {
		sess.Underwriting = &domain.UnderwritingResult{}
		if err := json.Unmarshal([]byte(row.UnderwritingJSON.String), sess.Underwriting); err != nil {
			return nil, fmt.Errorf("unmarshal underwriting: %w", err)
		}
	}
	if row.SanctionJSON.Valid {
		sess.Sanction = &domain.SanctionRecord{}
		if err := json.Unmarshal([]byte(row.SanctionJSON.String), sess.Sanction); err != nil {
			return nil, fmt.Errorf("unmarshal sanction: %w", err)
		}
	}
	return sess, nil
}

func marshalOptional(present bool, v any) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
