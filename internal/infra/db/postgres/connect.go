package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/Macnelson9/Soroban-Registry/internal/infra/db/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

var Dialect = sqlstore.Dialect{
	Name:        "postgres",
	Placeholder: sq.Dollar,
	IsDuplicate: isDuplicate,
}

func isDuplicate(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == uniqueViolation
}

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}
	return nil
}

// Open connects, migrates and returns the store.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, *sql.DB, error) {
	db, err := Connect(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return sqlstore.New(db, Dialect), db, nil
}
