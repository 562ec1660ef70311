package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/concept-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'queued',
	result      TEXT,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dependency_edges (
	from_category TEXT NOT NULL,
	to_category   TEXT NOT NULL,
	count         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (from_category, to_category)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_document_id ON runs(document_id);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, doc model.Document) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, document_id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, doc.ID, doc.Title, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:         id,
		DocumentID: doc.ID,
		Title:      doc.Title,
		Status:     model.RunStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, result *model.ExtractionResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, document_id, title, status, result, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) GetResultByDocument(ctx context.Context, documentID string) (*model.ExtractionResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs
		 WHERE document_id = ? AND status = ? AND result IS NOT NULL
		 ORDER BY updated_at DESC LIMIT 1`,
		documentID, string(model.RunStatusComplete),
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result for document %s", documentID)
	}
	return r.Result, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) LoadGraph(ctx context.Context) (map[model.Category]map[model.Category]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_category, to_category, count FROM dependency_edges`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load graph")
	}
	defer rows.Close() //nolint:errcheck

	graph := make(map[model.Category]map[model.Category]int)
	for rows.Next() {
		var from, to string
		var n int
		if err := rows.Scan(&from, &to, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan edge")
		}
		addEdge(graph, from, to, n)
	}
	return graph, eris.Wrap(rows.Err(), "sqlite: load graph iterate")
}

func (s *SQLiteStore) SaveGraph(ctx context.Context, delta map[model.Category]map[model.Category]int) error {
	rows := edgeRows(delta)
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: save graph begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dependency_edges (from_category, to_category, count) VALUES (?, ?, ?)
		 ON CONFLICT (from_category, to_category) DO UPDATE SET count = dependency_edges.count + excluded.count`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare edge upsert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			return eris.Wrapf(err, "sqlite: upsert edge %v->%v", r[0], r[1])
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: save graph commit")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.DocumentID, &r.Title, &r.Status, &resultJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.ExtractionResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	return &r, nil
}
