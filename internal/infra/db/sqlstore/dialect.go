// Package sqlstore implements every repository port on database/sql. Queries
// are built with squirrel so MySQL and Postgres share one implementation.
package sqlstore

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// Dialect captures what differs between the supported databases.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	// IsDuplicate reports a unique or primary key violation.
	IsDuplicate func(error) bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func exec(ctx context.Context, q querier, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.ExecContext(ctx, query, args...)
}

func queryRows(ctx context.Context, q querier, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, query, args...)
}

func queryRow(ctx context.Context, q querier, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.QueryRowContext(ctx, query, args...), nil
}
