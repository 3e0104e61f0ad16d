package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool the Postgres store uses. pgxmock
// pools satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
}

// keyedTable is a table whose rows are merged on a unique key. Non-key
// columns take the incoming values.
type keyedTable struct {
	name    string
	columns []string
	keys    []string
}

var (
	transactionsTable = keyedTable{name: "transactions", columns: transactionColumns, keys: []string{"id"}}
	tractsTable       = keyedTable{name: "tracts", columns: tractColumns, keys: []string{"tract_id"}}
)

func (k keyedTable) staging() string {
	return "_tmp_upsert_" + k.name
}

func (k keyedTable) mutable() []string {
	isKey := make(map[string]bool, len(k.keys))
	for _, c := range k.keys {
		isKey[c] = true
	}
	var out []string
	for _, c := range k.columns {
		if !isKey[c] {
			out = append(out, c)
		}
	}
	return out
}

// mergeSQL moves the staged rows into the table.
func (k keyedTable) mergeSQL() string {
	action := "DO NOTHING"
	if cols := k.mutable(); len(cols) > 0 {
		set := make([]string, len(cols))
		for i, c := range cols {
			q := pgx.Identifier{c}.Sanitize()
			set[i] = q + " = EXCLUDED." + q
		}
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	cols := quoteColumns(k.columns)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		pgx.Identifier{k.name}.Sanitize(), cols, cols,
		pgx.Identifier{k.staging()}.Sanitize(), quoteColumns(k.keys), action)
}

// bulkUpsert stages rows in a temp table with COPY and merges them in one
// transaction. Re-imported transactions and tracts replace stored rows.
func bulkUpsert(ctx context.Context, pool Pool, k keyedTable, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(k.columns) == 0 || len(k.keys) == 0 {
		return 0, eris.Errorf("postgres: %s needs columns and key columns to upsert", k.name)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{k.staging()}.Sanitize(), pgx.Identifier{k.name}.Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert: stage %s", k.name)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{k.staging()}, k.columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert: copy %d rows into staging for %s", len(rows), k.name)
	}
	tag, err := tx.Exec(ctx, k.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert: merge %s", k.name)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: upsert: commit")
	}
	return tag.RowsAffected(), nil
}

// copyRows appends rows with COPY.
func copyRows(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: copy into %s", table)
	}
	return n, nil
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
