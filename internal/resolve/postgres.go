package resolve

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the read side of a pgx pool or connection.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresLookup implements Lookup with ANY($1) predicates.
type PostgresLookup struct {
	db Querier
}

// NewPostgresLookup returns a lookup over db.
func NewPostgresLookup(db Querier) *PostgresLookup {
	return &PostgresLookup{db: db}
}

func (l *PostgresLookup) IDs(ctx context.Context, table, column string, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := l.db.Query(ctx, idsQuery(table, column), keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out[key] = id
	}
	return out, rows.Err()
}

func (l *PostgresLookup) TypedIDs(ctx context.Context, table, column, discriminator string, keys []string) (map[Key]int64, error) {
	out := make(map[Key]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := l.db.Query(ctx, typedIDsQuery(table, column, discriminator), keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var k Key
		var id int64
		if err := rows.Scan(&k.ID, &k.Type, &id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out[k] = id
	}
	return out, rows.Err()
}

func idsQuery(table, column string) string {
	col := pgx.Identifier{column}.Sanitize()
	return fmt.Sprintf("SELECT %s::text, id FROM %s WHERE %s = ANY($1)",
		col, pgx.Identifier{table}.Sanitize(), col)
}

func typedIDsQuery(table, column, discriminator string) string {
	col := pgx.Identifier{column}.Sanitize()
	return fmt.Sprintf("SELECT %s::text, %s::text, id FROM %s WHERE %s = ANY($1)",
		col, pgx.Identifier{discriminator}.Sanitize(), pgx.Identifier{table}.Sanitize(), col)
}
