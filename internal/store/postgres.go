package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/concept-cli/internal/db"
	"github.com/sells-group/concept-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, document_id, title, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"save_result":       `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT ` + pgRunColumns + ` FROM runs WHERE id = $1`,
	"load_graph":        `SELECT from_category, to_category, count FROM dependency_edges`,
}

const pgRunColumns = `id, document_id, title, status, result, error, created_at, updated_at`

// edgeUpsert adds incoming counts to the stored ones.
var edgeUpsert = db.UpsertConfig{
	Table:          "dependency_edges",
	Columns:        []string{"from_category", "to_category", "count"},
	ConflictKeys:   []string{"from_category", "to_category"},
	AccumulateCols: []string{"count"},
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'queued',
	result      JSONB,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_document_id ON runs(document_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS dependency_edges (
	from_category TEXT NOT NULL,
	to_category   TEXT NOT NULL,
	count         BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (from_category, to_category)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, doc model.Document) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, document_id, title, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, doc.ID, doc.Title, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, runID string, result *model.ExtractionResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT `+pgRunColumns+` FROM runs WHERE id = $1`,
		runID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) GetResultByDocument(ctx context.Context, documentID string) (*model.ExtractionResult, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT `+pgRunColumns+` FROM runs
		 WHERE document_id = $1 AND status = $2 AND result IS NOT NULL
		 ORDER BY updated_at DESC LIMIT 1`,
		documentID, string(model.RunStatusComplete),
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get result for document %s", documentID)
	}
	return r.Result, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.DocumentID != "" {
		query += fmt.Sprintf(` AND document_id = $%d`, argIdx)
		args = append(args, filter.DocumentID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) LoadGraph(ctx context.Context) (map[model.Category]map[model.Category]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT from_category, to_category, count FROM dependency_edges`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load graph")
	}
	defer rows.Close()

	graph := make(map[model.Category]map[model.Category]int)
	for rows.Next() {
		var from, to string
		var n int64
		if err := rows.Scan(&from, &to, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan edge")
		}
		addEdge(graph, from, to, int(n))
	}
	return graph, eris.Wrap(rows.Err(), "postgres: load graph iterate")
}

func (s *PostgresStore) SaveGraph(ctx context.Context, delta map[model.Category]map[model.Category]int) error {
	_, err := db.BulkUpsert(ctx, s.pool, edgeUpsert, edgeRows(delta))
	return eris.Wrap(err, "postgres: save graph")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var resultJSON []byte

	err := row.Scan(&r.ID, &r.DocumentID, &r.Title, &status, &resultJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	r.Status = model.RunStatus(status)

	if resultJSON != nil {
		r.Result = &model.ExtractionResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	return &r, nil
}
