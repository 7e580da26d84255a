// Package sqlite provides a durable ContextStore and LedgerSink backed by a
// local SQLite database file.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/debatemesh/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS contexts (
	agent_id     TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	root_id      TEXT NOT NULL,
	state        TEXT NOT NULL,
	latest       INTEGER NOT NULL DEFAULT 0,
	payload      BLOB NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (agent_id, execution_id)
);
CREATE INDEX IF NOT EXISTS idx_contexts_latest ON contexts(agent_id, latest);

CREATE TABLE IF NOT EXISTS ledger (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id     TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	participant  TEXT NOT NULL,
	provider     TEXT NOT NULL,
	request      TEXT NOT NULL,
	response     TEXT,
	error        TEXT,
	cost         REAL NOT NULL,
	tokens       INTEGER NOT NULL,
	started_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP NOT NULL
);
`

// Store is a ContextStore and LedgerSink persisting to a SQLite database.
// Snapshots are stored as JSON payloads; the relational columns exist only for
// lookup and filtering.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and initializes the schema.
// WAL mode is enabled so concurrent readers do not block the writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the latest snapshot for an agent.
func (s *Store) Load(agentID string) (*core.AgentContext, error) {
	row := s.db.QueryRow(
		`SELECT payload FROM contexts WHERE agent_id = ? AND latest = 1`, agentID)
	return scanContext(row)
}

// LoadExecution returns the snapshot of one specific execution attempt.
func (s *Store) LoadExecution(agentID, executionID string) (*core.AgentContext, error) {
	row := s.db.QueryRow(
		`SELECT payload FROM contexts WHERE agent_id = ? AND execution_id = ?`,
		agentID, executionID)
	return scanContext(row)
}

// Save persists a snapshot and marks it as the agent's latest.
func (s *Store) Save(c *core.AgentContext) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE contexts SET latest = 0 WHERE agent_id = ?`, c.AgentID); err != nil {
		return fmt.Errorf("demote previous snapshots: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO contexts (agent_id, execution_id, root_id, state, latest, payload, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (agent_id, execution_id) DO UPDATE SET
		 state = excluded.state, latest = 1, payload = excluded.payload, updated_at = excluded.updated_at`,
		c.AgentID, c.ExecutionID, c.RootID, string(c.State), payload, c.Updated); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return tx.Commit()
}

// Delete removes all snapshots for the given agents.
func (s *Store) Delete(agentIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range agentIDs {
		if _, err := tx.Exec(`DELETE FROM contexts WHERE agent_id = ?`, id); err != nil {
			return fmt.Errorf("delete snapshots for %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// List returns the latest snapshot of every agent matching the filter.
// Filtering happens in memory on the decoded payloads so the filter semantics
// stay identical to the in-memory store.
func (s *Store) List(filter core.ListFilter) ([]*core.AgentContext, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM contexts WHERE latest = 1 ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []*core.AgentContext
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var c core.AgentContext
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		if filter.Matches(&c) {
			out = append(out, &c)
		}
	}

	return out, rows.Err()
}

// Record implements core.LedgerSink. Failures are swallowed: the ledger is an
// audit trail, not a dependency of the execution path.
func (s *Store) Record(entry core.LedgerEntry) {
	_, _ = s.db.Exec(
		`INSERT INTO ledger (agent_id, execution_id, participant, provider, request, response, error, cost, tokens, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.AgentID, entry.ExecutionID, entry.Participant, entry.Provider,
		entry.Request, entry.Response, entry.Error, entry.Cost, entry.Tokens,
		entry.StartedAt, entry.CompletedAt)
}

// Entries returns recorded ledger rows for an agent, oldest first. Useful for
// cost audits and tests.
func (s *Store) Entries(agentID string) ([]core.LedgerEntry, error) {
	rows, err := s.db.Query(
		`SELECT agent_id, execution_id, participant, provider, request,
		        COALESCE(response, ''), COALESCE(error, ''), cost, tokens, started_at, completed_at
		 FROM ledger WHERE agent_id = ? ORDER BY id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		var e core.LedgerEntry
		if err := rows.Scan(&e.AgentID, &e.ExecutionID, &e.Participant, &e.Provider,
			&e.Request, &e.Response, &e.Error, &e.Cost, &e.Tokens, &e.StartedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

func scanContext(row *sql.Row) (*core.AgentContext, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	var c core.AgentContext
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &c, nil
}
