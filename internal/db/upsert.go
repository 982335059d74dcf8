package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Dialect selects the placeholder style.
type Dialect int

const (
	// Postgres uses $1, $2, ...
	Postgres Dialect = iota
	// SQLite uses ?.
	SQLite
)

func (d Dialect) placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// UpsertConfig defines a single-row upsert keyed on a unique constraint.
type UpsertConfig struct {
	Table        string   // target table
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	// Wrap maps a column to a format string applied to its placeholder,
	// e.g. "ST_GeomFromEWKB(%s)".
	Wrap      map[string]string
	Returning string // column returned, default "id"
	Dialect   Dialect
}

// BuildUpsertSQL renders INSERT ... ON CONFLICT (keys) DO UPDATE ... RETURNING.
func BuildUpsertSQL(cfg UpsertConfig) (string, error) {
	if cfg.Table == "" {
		return "", eris.New("db: upsert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	values := make([]string, len(cfg.Columns))
	for i, col := range cfg.Columns {
		ph := cfg.Dialect.placeholder(i + 1)
		if wrap, ok := cfg.Wrap[col]; ok {
			ph = fmt.Sprintf(wrap, ph)
		}
		values[i] = ph
	}

	returning := cfg.Returning
	if returning == "" {
		returning = "id"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(values, ", "),
		quoteAndJoin(cfg.ConflictKeys),
	)
	if len(updateCols) == 0 {
		// DO NOTHING would skip RETURNING for existing rows.
		key := pgx.Identifier{cfg.ConflictKeys[0]}.Sanitize()
		fmt.Fprintf(&b, " DO UPDATE SET %s = EXCLUDED.%s", key, key)
	} else {
		setClauses := make([]string, len(updateCols))
		for i, col := range updateCols {
			q := pgx.Identifier{col}.Sanitize()
			setClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
		}
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(setClauses, ", "))
	}
	fmt.Fprintf(&b, " RETURNING %s", pgx.Identifier{returning}.Sanitize())
	return b.String(), nil
}

// UpsertReturningID upserts one row and returns its id.
func UpsertReturningID(ctx context.Context, q Querier, cfg UpsertConfig, values []any) (int64, error) {
	if len(values) != len(cfg.Columns) {
		return 0, eris.Errorf("db: upsert %s: %d values for %d columns", cfg.Table, len(values), len(cfg.Columns))
	}
	query, err := BuildUpsertSQL(cfg)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := q.QueryRow(ctx, query, values...).Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s", cfg.Table)
	}
	return id, nil
}

// sanitizeTable handles schema-qualified table names like "public.venues".
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
