package sink

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/yamakatsunamamugi/autoai/internal/model"
)

// logSeparator joins successive audit entries in one cell.
const logSeparator = "\n\n"

// SQLiteStore implements Sink and RunStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS answers (
	channel    TEXT NOT NULL,
	row        INTEGER NOT NULL,
	answer     TEXT NOT NULL DEFAULT '',
	log        TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (channel, row)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	summary     TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_answers_channel ON answers(channel);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WriteAnswer upserts the answer for a cell, preserving any log text.
func (s *SQLiteStore) WriteAnswer(ctx context.Context, key model.RowKey, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO answers (channel, row, answer, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT (channel, row) DO UPDATE SET
			answer = excluded.answer,
			updated_at = excluded.updated_at`,
		key.Channel, key.Row, value,
	)
	return eris.Wrapf(err, "sqlite: write answer %s/%d", key.Channel, key.Row)
}

// AppendLog merges an audit entry onto the cell's existing log text with a
// blank-line separator. When first is true any prior log text is still
// preserved; first only suppresses the separator for an empty log.
func (s *SQLiteStore) AppendLog(ctx context.Context, key model.RowKey, entry model.LogEntry, first bool) error {
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT log FROM answers WHERE channel = ? AND row = ?`,
		key.Channel, key.Row,
	).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return eris.Wrapf(err, "sqlite: read log %s/%d", key.Channel, key.Row)
	}

	text := entry.Format()
	if existing != "" {
		text = existing + logSeparator + text
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO answers (channel, row, log, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT (channel, row) DO UPDATE SET
			log = excluded.log,
			updated_at = excluded.updated_at`,
		key.Channel, key.Row, text,
	)
	return eris.Wrapf(err, "sqlite: append log %s/%d", key.Channel, key.Row)
}

// ReadAnswer returns the stored answer for a cell, empty if absent.
func (s *SQLiteStore) ReadAnswer(ctx context.Context, key model.RowKey) (string, error) {
	var answer string
	err := s.db.QueryRowContext(ctx,
		`SELECT answer FROM answers WHERE channel = ? AND row = ?`,
		key.Channel, key.Row,
	).Scan(&answer)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: read answer %s/%d", key.Channel, key.Row)
	}
	return answer, nil
}

// ReadLog returns the stored log text for a cell, empty if absent.
func (s *SQLiteStore) ReadLog(ctx context.Context, key model.RowKey) (string, error) {
	var log string
	err := s.db.QueryRowContext(ctx,
		`SELECT log FROM answers WHERE channel = ? AND row = ?`,
		key.Channel, key.Row,
	).Scan(&log)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: read log %s/%d", key.Channel, key.Row)
	}
	return log, nil
}

// CreateRun inserts a run row and returns its ID.
func (s *SQLiteStore) CreateRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id) VALUES (?)`, id)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: create run")
	}
	return id, nil
}

// FinishRun records the summary and finish time for a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, summary *model.Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET summary = ?, finished_at = datetime('now') WHERE id = ?`,
		string(payload), runID,
	)
	return eris.Wrapf(err, "sqlite: finish run %s", runID)
}
