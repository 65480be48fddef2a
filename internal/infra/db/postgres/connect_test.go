package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/lib/pq"
)

func TestIsDuplicate(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("insert scan lock: %w", &pq.Error{Code: "23505"})
	if !Dialect.IsDuplicate(dup) {
		t.Fatalf("unique_violation should be a duplicate")
	}
	if Dialect.IsDuplicate(&pq.Error{Code: "23503"}) || Dialect.IsDuplicate(errors.New("boom")) {
		t.Fatalf("other errors are not duplicates")
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil || len(files) == 0 {
		t.Fatalf("expected embedded migrations, got %v (%v)", files, err)
	}
}
