// Package sqlite provides a SQLite-backed match storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/worldbuild.space/internal/challenge"
	sqlitemigrate "github.com/louisbranch/worldbuild.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/worldbuild.space/internal/storage"
	"github.com/louisbranch/worldbuild.space/internal/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists match state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite match store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateMatch inserts one match record.
func (s *Store) CreateMatch(ctx context.Context, record storage.MatchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	matchID := strings.TrimSpace(record.ID)
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}
	createdAt := record.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := record.Status
	if status == "" {
		status = storage.StatusRunning
	}
	var challengeJSON sql.NullString
	if record.Challenge != nil {
		payload, err := json.Marshal(record.Challenge)
		if err != nil {
			return fmt.Errorf("marshal challenge: %w", err)
		}
		challengeJSON = sql.NullString{String: string(payload), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO matches (
		   match_id,
		   created_at,
		   status,
		   seed,
		   tier,
		   challenge_json,
		   completed_at,
		   canon_hash_a,
		   canon_hash_b,
		   error
		 ) VALUES (?, ?, ?, ?, ?, ?, NULL, '', '', '')`,
		matchID,
		toMillis(createdAt),
		string(status),
		record.Seed,
		record.Tier,
		challengeJSON,
	)
	if err != nil {
		if isMatchUniqueViolation(err) {
			return fmt.Errorf("match %s already exists", matchID)
		}
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

// GetMatch loads one match record by id.
func (s *Store) GetMatch(ctx context.Context, matchID string) (storage.MatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MatchRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MatchRecord{}, fmt.Errorf("storage is not configured")
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return storage.MatchRecord{}, fmt.Errorf("match id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT match_id, created_at, status, seed, tier, challenge_json, completed_at, canon_hash_a, canon_hash_b, error
		 FROM matches
		 WHERE match_id = ?`,
		matchID,
	)

	var record storage.MatchRecord
	var createdAt int64
	var status string
	var challengeJSON sql.NullString
	var completedAt sql.NullInt64
	if err := row.Scan(
		&record.ID,
		&createdAt,
		&status,
		&record.Seed,
		&record.Tier,
		&challengeJSON,
		&completedAt,
		&record.CanonHashA,
		&record.CanonHashB,
		&record.Error,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MatchRecord{}, storage.ErrNotFound
		}
		return storage.MatchRecord{}, fmt.Errorf("get match: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.Status = storage.MatchStatus(status)
	if challengeJSON.Valid && challengeJSON.String != "" {
		var ch challenge.Challenge
		if err := json.Unmarshal([]byte(challengeJSON.String), &ch); err != nil {
			return storage.MatchRecord{}, fmt.Errorf("unmarshal challenge: %w", err)
		}
		record.Challenge = &ch
	}
	if completedAt.Valid {
		completed := fromMillis(completedAt.Int64)
		record.CompletedAt = &completed
	}
	return record, nil
}

// SetChallenge stores the revealed challenge on an existing match.
func (s *Store) SetChallenge(ctx context.Context, matchID string, ch challenge.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE matches SET challenge_json = ? WHERE match_id = ?`,
		string(payload),
		matchID,
	)
	if err != nil {
		return fmt.Errorf("set challenge: %w", err)
	}
	return requireRowUpdated(result)
}

// MarkCompleted transitions a match to completed with its final canon hashes.
func (s *Store) MarkCompleted(ctx context.Context, matchID string, completedAt time.Time, canonHashA, canonHashB string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE matches
		 SET status = ?, completed_at = ?, canon_hash_a = ?, canon_hash_b = ?
		 WHERE match_id = ?`,
		string(storage.StatusCompleted),
		toMillis(completedAt),
		canonHashA,
		canonHashB,
		matchID,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireRowUpdated(result)
}

// MarkFailed transitions a match to failed with an error message.
func (s *Store) MarkFailed(ctx context.Context, matchID string, completedAt time.Time, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE matches
		 SET status = ?, completed_at = ?, error = ?
		 WHERE match_id = ?`,
		string(storage.StatusFailed),
		toMillis(completedAt),
		errorMessage,
		matchID,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRowUpdated(result)
}

// AppendEvent stores one wrapped event. The (match_id, seq) pair must be
// unique; a replayed sequence number is rejected.
func (s *Store) AppendEvent(ctx context.Context, event storage.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(event.MatchID) == "" {
		return fmt.Errorf("match id is required")
	}
	if event.Seq < 1 {
		return fmt.Errorf("event seq must be at least 1")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO events (match_id, seq, event_json) VALUES (?, ?, ?)`,
		event.MatchID,
		event.Seq,
		string(payload),
	)
	if err != nil {
		if isEventUniqueViolation(err) {
			return fmt.Errorf("event %d already appended for match %s", event.Seq, event.MatchID)
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns events for a match with seq greater than afterSeq, in
// sequence order. Pass 0 to list from the beginning.
func (s *Store) ListEvents(ctx context.Context, matchID string, afterSeq int64) ([]storage.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, fmt.Errorf("match id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT event_json FROM events WHERE match_id = ? AND seq > ? ORDER BY seq ASC`,
		matchID,
		afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []storage.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var event storage.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// AddJudgingScore inserts one blind judging score and returns its row id.
func (s *Store) AddJudgingScore(ctx context.Context, record storage.JudgingScoreRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	matchID := strings.TrimSpace(record.MatchID)
	if matchID == "" {
		return 0, fmt.Errorf("match id is required")
	}
	createdAt := record.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	scoresJSON, err := json.Marshal(record.Scores)
	if err != nil {
		return 0, fmt.Errorf("marshal scores: %w", err)
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO judging_scores (match_id, created_at, judge, blind_id, scores_json, notes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		matchID,
		toMillis(createdAt),
		strings.TrimSpace(record.Judge),
		strings.TrimSpace(record.BlindID),
		string(scoresJSON),
		record.Notes,
	)
	if err != nil {
		return 0, fmt.Errorf("add judging score: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("judging score id: %w", err)
	}
	return id, nil
}

// ListJudgingScores returns all judging scores for a match in insertion order.
func (s *Store) ListJudgingScores(ctx context.Context, matchID string) ([]storage.JudgingScoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, fmt.Errorf("match id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, match_id, created_at, judge, blind_id, scores_json, notes
		 FROM judging_scores
		 WHERE match_id = ?
		 ORDER BY id ASC`,
		matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list judging scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.JudgingScoreRecord
	for rows.Next() {
		var record storage.JudgingScoreRecord
		var createdAt int64
		var scoresJSON string
		var notes sql.NullString
		if err := rows.Scan(
			&record.ID,
			&record.MatchID,
			&createdAt,
			&record.Judge,
			&record.BlindID,
			&scoresJSON,
			&notes,
		); err != nil {
			return nil, fmt.Errorf("scan judging score: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(scoresJSON), &record.Scores); err != nil {
			return nil, fmt.Errorf("unmarshal scores: %w", err)
		}
		record.Notes = notes.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list judging scores: %w", err)
	}
	return records, nil
}

func requireRowUpdated(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isMatchUniqueViolation(err error) bool {
	return isUniqueViolation(err, "matches.match_id")
}

func isEventUniqueViolation(err error) bool {
	return isUniqueViolation(err, "events.match_id")
}

func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, column)
}

var _ storage.Store = (*Store)(nil)
