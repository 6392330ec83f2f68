package load

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bjaus/docsync/internal/schema"
)

// Execer is the write side of a pgx pool or connection.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresUpserter writes a chunk as one INSERT ... ON CONFLICT statement.
type PostgresUpserter struct {
	db Execer
}

// NewPostgresUpserter returns an upserter over db.
func NewPostgresUpserter(db Execer) *PostgresUpserter {
	return &PostgresUpserter{db: db}
}

func (u *PostgresUpserter) Upsert(ctx context.Context, entity schema.Entity, columns []string, rows []schema.Row) error {
	if len(rows) == 0 {
		return nil
	}
	sql, args := upsertStatement(entity, columns, rows)
	if _, err := u.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", entity.Table, err)
	}
	return nil
}

func upsertStatement(entity schema.Entity, columns []string, rows []schema.Row) (string, []any) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = ident(c)
	}

	args := make([]any, 0, len(rows)*len(columns))
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		params := make([]string, len(columns))
		for i, c := range columns {
			args = append(args, row[c])
			p := fmt.Sprintf("$%d", len(args))
			if expr, ok := entity.Expressions[c]; ok {
				p = fmt.Sprintf(expr, p)
			}
			params[i] = p
		}
		values = append(values, "("+strings.Join(params, ", ")+")")
	}

	conflict := make([]string, len(entity.ConflictColumns))
	for i, c := range entity.ConflictColumns {
		conflict[i] = ident(c)
	}

	var sets []string
	for _, c := range columns {
		if slices.Contains(entity.ConflictColumns, c) || c == "created_at" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", ident(c), ident(c)))
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) %s",
		ident(entity.Table),
		strings.Join(quoted, ", "),
		strings.Join(values, ", "),
		strings.Join(conflict, ", "),
		action)
	return sql, args
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
