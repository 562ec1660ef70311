package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table          string   // target table (e.g., "dependency_edges")
	Columns        []string // all columns being inserted
	ConflictKeys   []string // columns forming the unique constraint
	UpdateCols     []string // columns overwritten on conflict; nil = all remaining columns
	AccumulateCols []string // columns summed with the stored value on conflict
}

// BulkUpsert writes rows through a temp table and INSERT ... ON CONFLICT
// inside one transaction:
// 1. CREATE TEMP TABLE ... (LIKE target) ON COMMIT DROP
// 2. COPY rows into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO UPDATE
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	setClauses := buildSetClauses(cfg)
	if len(setClauses) == 0 {
		return 0, eris.Errorf("db: upsert: nothing to update for %s", cfg.Table)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		strings.Join(setClauses, ", "),
	)

	tag, err := tx.Exec(ctx, upsertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return tag.RowsAffected(), nil
}

func buildSetClauses(cfg UpsertConfig) []string {
	skip := make(map[string]bool, len(cfg.ConflictKeys)+len(cfg.AccumulateCols))
	for _, k := range cfg.ConflictKeys {
		skip[k] = true
	}
	for _, k := range cfg.AccumulateCols {
		skip[k] = true
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		for _, c := range cfg.Columns {
			if !skip[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	var clauses []string
	for _, col := range updateCols {
		id := pgx.Identifier{col}.Sanitize()
		clauses = append(clauses, fmt.Sprintf("%s = EXCLUDED.%s", id, id))
	}
	for _, col := range cfg.AccumulateCols {
		id := pgx.Identifier{col}.Sanitize()
		clauses = append(clauses, fmt.Sprintf("%s = %s.%s + EXCLUDED.%s", id, sanitizeTable(cfg.Table), id, id))
	}
	return clauses
}

// sanitizeTable handles schema-qualified table names like "concept.dependency_edges".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
