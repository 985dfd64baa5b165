package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS reflections (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		judge_session_id TEXT,
		generation INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		task TEXT NOT NULL,
		result TEXT NOT NULL,
		tool_trace TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT,
		verdict_json TEXT,
		outcome TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reflections_session ON reflections(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_reflections_created ON reflections(created_at);
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
	return s.db.Close()
}

// Record inserts a reflection record.
func (s *SQLiteStore) Record(ctx context.Context, rec *domain.ReflectionRecord) error {
	var verdictJSON sql.NullString
	if rec.Verdict != nil {
		data, err := json.Marshal(rec.Verdict)
		if err != nil {
			return fmt.Errorf("encode verdict: %w", err)
		}
		verdictJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
	INSERT INTO reflections (id, session_id, judge_session_id, generation, attempt, task, result,
		tool_trace, prompt, response, verdict_json, outcome, error, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := withConflictRetry(ctx, "record", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID, rec.SessionID, nullString(rec.JudgeSessionID), rec.Generation, rec.Attempt,
			rec.Task, rec.Result, rec.ToolTrace, rec.Prompt, nullString(rec.Response),
			verdictJSON, rec.Outcome, nullString(rec.Error), rec.DurationMs, rec.CreatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert reflection %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecords returns the newest records first. An empty sessionID lists all sessions.
func (s *SQLiteStore) ListRecords(ctx context.Context, sessionID string, limit int) ([]*domain.ReflectionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, session_id, judge_session_id, generation, attempt, task, result,
		       tool_trace, prompt, response, verdict_json, outcome, error, duration_ms, created_at
		FROM reflections`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reflections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*domain.ReflectionRecord
	for rows.Next() {
		var (
			rec                              domain.ReflectionRecord
			judgeID, response, verdict, errS sql.NullString
			createdAt                        int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &judgeID, &rec.Generation, &rec.Attempt, &rec.Task, &rec.Result,
			&rec.ToolTrace, &rec.Prompt, &response, &verdict, &rec.Outcome, &errS, &rec.DurationMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan reflection row: %w", err)
		}
		rec.JudgeSessionID = judgeID.String
		rec.Response = response.String
		rec.Error = errS.String
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		if verdict.Valid {
			var v domain.Verdict
			if err := json.Unmarshal([]byte(verdict.String), &v); err != nil {
				return nil, fmt.Errorf("decode verdict of %s: %w", rec.ID, err)
			}
			rec.Verdict = &v
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reflections: %w", err)
	}
	return records, nil
}

// CleanupOlderThan removes records older than age.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	var deleted int64
	err := withConflictRetry(ctx, "cleanup", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM reflections WHERE created_at < ?`, cutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup reflections: %w", err)
	}
	return deleted, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
