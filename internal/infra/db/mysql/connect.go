package mysql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"

	"github.com/Macnelson9/Soroban-Registry/internal/infra/db/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// errDuplicateEntry is ER_DUP_ENTRY.
const errDuplicateEntry = 1062

var Dialect = sqlstore.Dialect{
	Name:        "mysql",
	Placeholder: sq.Question,
	IsDuplicate: isDuplicate,
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
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
	p, err := goose.NewProvider(goose.DialectMySQL, db, fsys)
	if err != nil {
		return fmt.Errorf("mysql migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("mysql migrations: %w", err)
	}
	return nil
}

// Open connects, migrates and returns the store.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, *sql.DB, error) {
	db, err := Connect(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connect: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return sqlstore.New(db, Dialect), db, nil
}
