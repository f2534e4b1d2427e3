package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/insights-cli/internal/model"
)

// SQLiteStore implements Store and SourceLog using modernc.org/sqlite.
// Intended for local development and single-worker runs.
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
CREATE TABLE IF NOT EXISTS member_insights (
	id                  TEXT PRIMARY KEY,
	contact_id          TEXT NOT NULL,
	synthetic_id        TEXT NOT NULL,
	member_name         TEXT NOT NULL DEFAULT '',
	sections            TEXT NOT NULL,
	source_types        TEXT NOT NULL DEFAULT '[]',
	source_subtypes     TEXT NOT NULL DEFAULT '[]',
	total_records_seen  INTEGER NOT NULL DEFAULT 0,
	record_count        INTEGER NOT NULL DEFAULT 0,
	version             INTEGER NOT NULL,
	is_latest           INTEGER NOT NULL DEFAULT 0,
	est_input_tokens    INTEGER NOT NULL DEFAULT 0,
	est_insights_tokens INTEGER NOT NULL DEFAULT 0,
	generation_seconds  REAL NOT NULL DEFAULT 0,
	generated_at        DATETIME NOT NULL,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (contact_id, version)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_member_insights_latest
	ON member_insights(contact_id) WHERE is_latest = 1;

CREATE TABLE IF NOT EXISTS source_log (
	record_id      TEXT PRIMARY KEY,
	contact_id     TEXT NOT NULL,
	description    TEXT NOT NULL,
	logged_at      DATETIME NOT NULL,
	source_type    TEXT NOT NULL,
	source_subtype TEXT NOT NULL DEFAULT '',
	processed      INTEGER NOT NULL DEFAULT 0,
	processed_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_source_log_pending
	ON source_log(contact_id, source_type, source_subtype, processed);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteInsightColumns = `id, contact_id, synthetic_id, member_name, sections,
	source_types, source_subtypes, total_records_seen, record_count, version,
	is_latest, est_input_tokens, est_insights_tokens, generation_seconds,
	generated_at, created_at`

func (s *SQLiteStore) GetLatest(ctx context.Context, contactID string) (*model.Insight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteInsightColumns+` FROM member_insights WHERE contact_id = ? AND is_latest = 1`,
		contactID,
	)
	ins, err := scanInsight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage(err, "sqlite: get latest insight")
	}
	return ins, nil
}

func (s *SQLiteStore) CommitVersion(ctx context.Context, insight *model.Insight) error {
	sectionsJSON, typesJSON, subtypesJSON, err := marshalInsightJSON(insight)
	if err != nil {
		return wrapStorage(err, "sqlite: marshal insight")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage(err, "sqlite: begin commit version")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE member_insights SET is_latest = 0 WHERE contact_id = ? AND is_latest = 1`,
		insight.ContactID,
	); err != nil {
		return wrapStorage(err, "sqlite: retire prior version")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO member_insights (id, contact_id, synthetic_id, member_name, sections,
			source_types, source_subtypes, total_records_seen, record_count, version,
			is_latest, est_input_tokens, est_insights_tokens, generation_seconds, generated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), insight.ContactID, insight.SyntheticID, insight.MemberName,
		string(sectionsJSON), string(typesJSON), string(subtypesJSON),
		insight.TotalRecordsSeen, insight.RecordCount, insight.Version,
		boolToInt(insight.IsLatest), insight.EstInputTokens, insight.EstInsightsTokens,
		insight.GenerationSeconds, insight.GeneratedAt.UTC(), time.Now().UTC(),
	); err != nil {
		return wrapStorage(err, "sqlite: insert version")
	}

	if err := tx.Commit(); err != nil {
		return wrapStorage(err, "sqlite: commit version")
	}
	return nil
}

func (s *SQLiteStore) ListLatest(ctx context.Context, limit int) ([]model.Insight, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteInsightColumns+` FROM member_insights WHERE is_latest = 1
		ORDER BY generated_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, wrapStorage(err, "sqlite: list latest")
	}
	defer rows.Close()
	return collectSQLInsights(rows)
}

func (s *SQLiteStore) History(ctx context.Context, contactID string) ([]model.Insight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteInsightColumns+` FROM member_insights WHERE contact_id = ?
		ORDER BY version ASC`,
		contactID,
	)
	if err != nil {
		return nil, wrapStorage(err, "sqlite: history")
	}
	defer rows.Close()
	return collectSQLInsights(rows)
}

func (s *SQLiteStore) InsertRecords(ctx context.Context, records []model.SourceRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStorage(err, "sqlite: begin insert records")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO source_log (record_id, contact_id, description, logged_at, source_type, source_subtype)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			description = excluded.description,
			logged_at = excluded.logged_at`,
	)
	if err != nil {
		return 0, wrapStorage(err, "sqlite: prepare insert records")
	}
	defer stmt.Close()

	var n int64
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.RecordID, r.ContactID, r.Description,
			r.LoggedAt.UTC(), r.SourceType, r.SourceSubtype); err != nil {
			return 0, wrapStorage(err, "sqlite: insert record")
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapStorage(err, "sqlite: commit insert records")
	}
	return n, nil
}

func (s *SQLiteStore) FetchBatch(ctx context.Context, contactID, sourceType, subtype string) ([]model.SourceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, contact_id, description, logged_at, source_type, source_subtype
		FROM source_log
		WHERE contact_id = ? AND source_type = ? AND source_subtype = ? AND processed = 0
		ORDER BY logged_at ASC, record_id ASC`,
		contactID, sourceType, subtype,
	)
	if err != nil {
		return nil, wrapStorage(err, "sqlite: fetch batch")
	}
	defer rows.Close()

	var records []model.SourceRecord
	for rows.Next() {
		var r model.SourceRecord
		if err := rows.Scan(&r.RecordID, &r.ContactID, &r.Description, &r.LoggedAt,
			&r.SourceType, &r.SourceSubtype); err != nil {
			return nil, wrapStorage(err, "sqlite: scan record")
		}
		records = append(records, r)
	}
	return records, wrapStorage(rows.Err(), "sqlite: fetch batch iterate")
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(recordIDs)), ",")
	args := make([]any, 0, len(recordIDs)+1)
	args = append(args, time.Now().UTC())
	for _, id := range recordIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE source_log SET processed = 1, processed_at = ? WHERE record_id IN (`+placeholders+`)`,
		args...,
	)
	return wrapStorage(err, "sqlite: mark processed")
}

func (s *SQLiteStore) PendingContacts(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT contact_id FROM source_log WHERE processed = 0
		GROUP BY contact_id ORDER BY min(logged_at) ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, wrapStorage(err, "sqlite: pending contacts")
	}
	defer rows.Close()

	var contacts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStorage(err, "sqlite: scan contact id")
		}
		contacts = append(contacts, id)
	}
	return contacts, wrapStorage(rows.Err(), "sqlite: pending contacts iterate")
}

func collectSQLInsights(rows *sql.Rows) ([]model.Insight, error) {
	var out []model.Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, wrapStorage(err, "sqlite: scan insight")
		}
		out = append(out, *ins)
	}
	return out, wrapStorage(rows.Err(), "sqlite: iterate insights")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
