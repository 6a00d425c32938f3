// Package sqlite provides the SQLite-backed match store for durable
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"turnforge/internal/state"
	"turnforge/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	match_id      TEXT PRIMARY KEY,
	game_name     TEXT NOT NULL,
	initial_state TEXT NOT NULL,
	state         TEXT NOT NULL,
	metadata      TEXT NOT NULL,
	is_gameover   INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS match_log (
	match_id TEXT NOT NULL,
	state_id INTEGER NOT NULL,
	entry    TEXT NOT NULL,
	PRIMARY KEY (match_id, state_id)
);
`

// Store persists matches in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite match store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateMatch inserts a new match record.
func (s *Store) CreateMatch(ctx context.Context, matchID string, initial *state.State, md *state.Metadata) error {
	initialJSON, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("marshal initial state: %w", err)
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO matches
		(match_id, game_name, initial_state, state, metadata, is_gameover, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		matchID, md.GameName, string(initialJSON), string(initialJSON), string(mdJSON), md.CreatedAt, md.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// SetState replaces the match state and appends log entries.
func (s *Store) SetState(ctx context.Context, matchID string, st *state.State, deltalog []state.LogEntry) error {
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE matches SET state = ?, is_gameover = ? WHERE match_id = ?`,
		string(stateJSON), boolToInt(st.Ctx.Gameover != nil), matchID)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	for _, entry := range deltalog {
		entryJSON, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal log entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO match_log (match_id, state_id, entry) VALUES (?, ?, ?)`,
			matchID, entry.StateID, string(entryJSON)); err != nil {
			return fmt.Errorf("append log entry: %w", err)
		}
	}
	return tx.Commit()
}

// SetMetadata replaces the match metadata.
func (s *Store) SetMetadata(ctx context.Context, matchID string, md *state.Metadata) error {
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE matches SET metadata = ?, updated_at = ? WHERE match_id = ?`,
		string(mdJSON), md.UpdatedAt, matchID)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Fetch loads the requested parts of a match.
func (s *Store) Fetch(ctx context.Context, matchID string, opts storage.FetchOpts) (storage.FetchResult, error) {
	var out storage.FetchResult
	var stateJSON, mdJSON, initialJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state, metadata, initial_state FROM matches WHERE match_id = ?`, matchID).
		Scan(&stateJSON, &mdJSON, &initialJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return out, storage.ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("select match: %w", err)
	}

	if opts.State {
		out.State = new(state.State)
		if err := json.Unmarshal([]byte(stateJSON), out.State); err != nil {
			return out, fmt.Errorf("unmarshal state: %w", err)
		}
	}
	if opts.Metadata {
		out.Metadata = new(state.Metadata)
		if err := json.Unmarshal([]byte(mdJSON), out.Metadata); err != nil {
			return out, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if opts.InitialState {
		out.InitialState = new(state.State)
		if err := json.Unmarshal([]byte(initialJSON), out.InitialState); err != nil {
			return out, fmt.Errorf("unmarshal initial state: %w", err)
		}
	}
	if opts.Log {
		rows, err := s.db.QueryContext(ctx,
			`SELECT entry FROM match_log WHERE match_id = ? ORDER BY state_id`, matchID)
		if err != nil {
			return out, fmt.Errorf("select log: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var entryJSON string
			if err := rows.Scan(&entryJSON); err != nil {
				return out, fmt.Errorf("scan log entry: %w", err)
			}
			var entry state.LogEntry
			if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
				return out, fmt.Errorf("unmarshal log entry: %w", err)
			}
			out.Log = append(out.Log, entry)
		}
		if err := rows.Err(); err != nil {
			return out, fmt.Errorf("iterate log: %w", err)
		}
	}
	return out, nil
}

// Wipe removes a match and its log.
func (s *Store) Wipe(ctx context.Context, matchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM match_log WHERE match_id = ?`, matchID); err != nil {
		return fmt.Errorf("delete log: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE match_id = ?`, matchID); err != nil {
		return fmt.Errorf("delete match: %w", err)
	}
	return tx.Commit()
}

// ListMatches returns IDs passing the filter, ordered by match ID.
func (s *Store) ListMatches(ctx context.Context, filter storage.ListFilter) ([]string, error) {
	query := `SELECT match_id, metadata FROM matches ORDER BY match_id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select matches: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id, mdJSON string
		if err := rows.Scan(&id, &mdJSON); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		var md state.Metadata
		if err := json.Unmarshal([]byte(mdJSON), &md); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		if filter.Matches(&md) {
			out = append(out, id)
		}
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
