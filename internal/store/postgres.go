package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/insights-cli/internal/db"
	"github.com/sells-group/insights-cli/internal/model"
)

// PostgresStore implements Store and SourceLog using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems needing direct
// query access (e.g., bulk record ingestion).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS member_insights (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	contact_id          TEXT NOT NULL,
	synthetic_id        TEXT NOT NULL,
	member_name         TEXT NOT NULL DEFAULT '',
	sections            JSONB NOT NULL,
	source_types        JSONB NOT NULL DEFAULT '[]',
	source_subtypes     JSONB NOT NULL DEFAULT '[]',
	total_records_seen  INTEGER NOT NULL DEFAULT 0,
	record_count        INTEGER NOT NULL DEFAULT 0,
	version             INTEGER NOT NULL,
	is_latest           BOOLEAN NOT NULL DEFAULT false,
	est_input_tokens    INTEGER NOT NULL DEFAULT 0,
	est_insights_tokens INTEGER NOT NULL DEFAULT 0,
	generation_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0,
	generated_at        TIMESTAMPTZ NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (contact_id, version)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_member_insights_latest
	ON member_insights(contact_id) WHERE is_latest;
CREATE INDEX IF NOT EXISTS idx_member_insights_contact
	ON member_insights(contact_id, version);

CREATE TABLE IF NOT EXISTS source_log (
	record_id      TEXT PRIMARY KEY,
	contact_id     TEXT NOT NULL,
	description    TEXT NOT NULL,
	logged_at      TIMESTAMPTZ NOT NULL,
	source_type    TEXT NOT NULL,
	source_subtype TEXT NOT NULL DEFAULT '',
	processed      BOOLEAN NOT NULL DEFAULT false,
	processed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_source_log_pending
	ON source_log(contact_id, source_type, source_subtype) WHERE NOT processed;
CREATE INDEX IF NOT EXISTS idx_source_log_contact ON source_log(contact_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const insightColumns = `id, contact_id, synthetic_id, member_name, sections,
	source_types, source_subtypes, total_records_seen, record_count, version,
	is_latest, est_input_tokens, est_insights_tokens, generation_seconds,
	generated_at, created_at`

func (s *PostgresStore) GetLatest(ctx context.Context, contactID string) (*model.Insight, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+insightColumns+` FROM member_insights WHERE contact_id = $1 AND is_latest`,
		contactID,
	)
	ins, err := scanInsight(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage(err, "postgres: get latest insight")
	}
	return ins, nil
}

func (s *PostgresStore) CommitVersion(ctx context.Context, insight *model.Insight) error {
	sectionsJSON, typesJSON, subtypesJSON, err := marshalInsightJSON(insight)
	if err != nil {
		return wrapStorage(err, "postgres: marshal insight")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapStorage(err, "postgres: begin commit version")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE member_insights SET is_latest = false WHERE contact_id = $1 AND is_latest`,
		insight.ContactID,
	); err != nil {
		return wrapStorage(err, "postgres: retire prior version")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO member_insights (contact_id, synthetic_id, member_name, sections,
			source_types, source_subtypes, total_records_seen, record_count, version,
			is_latest, est_input_tokens, est_insights_tokens, generation_seconds, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		insight.ContactID, insight.SyntheticID, insight.MemberName, sectionsJSON,
		typesJSON, subtypesJSON, insight.TotalRecordsSeen, insight.RecordCount,
		insight.Version, insight.IsLatest, insight.EstInputTokens,
		insight.EstInsightsTokens, insight.GenerationSeconds, insight.GeneratedAt,
	); err != nil {
		return wrapStorage(err, "postgres: insert version")
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapStorage(err, "postgres: commit version")
	}
	return nil
}

func (s *PostgresStore) ListLatest(ctx context.Context, limit int) ([]model.Insight, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+insightColumns+` FROM member_insights WHERE is_latest
		ORDER BY generated_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrapStorage(err, "postgres: list latest")
	}
	defer rows.Close()
	return collectInsights(rows)
}

func (s *PostgresStore) History(ctx context.Context, contactID string) ([]model.Insight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+insightColumns+` FROM member_insights WHERE contact_id = $1
		ORDER BY version ASC`,
		contactID,
	)
	if err != nil {
		return nil, wrapStorage(err, "postgres: history")
	}
	defer rows.Close()
	return collectInsights(rows)
}

func (s *PostgresStore) InsertRecords(ctx context.Context, records []model.SourceRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.RecordID, r.ContactID, r.Description, r.LoggedAt.UTC(),
			r.SourceType, r.SourceSubtype,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "source_log",
		Columns:      []string{"record_id", "contact_id", "description", "logged_at", "source_type", "source_subtype"},
		ConflictKeys: []string{"record_id"},
	}, rows)
	if err != nil {
		return 0, wrapStorage(err, "postgres: insert records")
	}
	return n, nil
}

func (s *PostgresStore) FetchBatch(ctx context.Context, contactID, sourceType, subtype string) ([]model.SourceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id, contact_id, description, logged_at, source_type, source_subtype
		FROM source_log
		WHERE contact_id = $1 AND source_type = $2 AND source_subtype = $3 AND NOT processed
		ORDER BY logged_at ASC, record_id ASC`,
		contactID, sourceType, subtype,
	)
	if err != nil {
		return nil, wrapStorage(err, "postgres: fetch batch")
	}
	defer rows.Close()

	var records []model.SourceRecord
	for rows.Next() {
		var r model.SourceRecord
		if err := rows.Scan(&r.RecordID, &r.ContactID, &r.Description, &r.LoggedAt,
			&r.SourceType, &r.SourceSubtype); err != nil {
			return nil, wrapStorage(err, "postgres: scan record")
		}
		records = append(records, r)
	}
	return records, wrapStorage(rows.Err(), "postgres: fetch batch iterate")
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE source_log SET processed = true, processed_at = now() WHERE record_id = ANY($1)`,
		recordIDs,
	)
	return wrapStorage(err, "postgres: mark processed")
}

func (s *PostgresStore) PendingContacts(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT contact_id FROM source_log WHERE NOT processed
		GROUP BY contact_id ORDER BY min(logged_at) ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrapStorage(err, "postgres: pending contacts")
	}
	defer rows.Close()

	var contacts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStorage(err, "postgres: scan contact id")
		}
		contacts = append(contacts, id)
	}
	return contacts, wrapStorage(rows.Err(), "postgres: pending contacts iterate")
}

func marshalInsightJSON(insight *model.Insight) (sections, types, subtypes []byte, err error) {
	sections, err = json.Marshal(insight.Sections)
	if err != nil {
		return nil, nil, nil, err
	}
	types, err = json.Marshal(emptyAsList(insight.SourceTypes))
	if err != nil {
		return nil, nil, nil, err
	}
	subtypes, err = json.Marshal(emptyAsList(insight.SourceSubtypes))
	if err != nil {
		return nil, nil, nil, err
	}
	return sections, types, subtypes, nil
}

// emptyAsList keeps nil slices from serializing as JSON null.
func emptyAsList(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInsight(row rowScanner) (*model.Insight, error) {
	var ins model.Insight
	var sectionsJSON, typesJSON, subtypesJSON []byte
	if err := row.Scan(&ins.ID, &ins.ContactID, &ins.SyntheticID, &ins.MemberName,
		&sectionsJSON, &typesJSON, &subtypesJSON, &ins.TotalRecordsSeen,
		&ins.RecordCount, &ins.Version, &ins.IsLatest, &ins.EstInputTokens,
		&ins.EstInsightsTokens, &ins.GenerationSeconds, &ins.GeneratedAt,
		&ins.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sectionsJSON, &ins.Sections); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(typesJSON, &ins.SourceTypes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(subtypesJSON, &ins.SourceSubtypes); err != nil {
		return nil, err
	}
	return &ins, nil
}

func collectInsights(rows pgx.Rows) ([]model.Insight, error) {
	var out []model.Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, wrapStorage(err, "postgres: scan insight")
		}
		out = append(out, *ins)
	}
	return out, wrapStorage(rows.Err(), "postgres: iterate insights")
}
