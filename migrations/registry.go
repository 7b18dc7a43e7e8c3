// Package migrations resolves the pipeline's embedded schema migrations.
// The schema ships in two dialect trees, postgres at the root and sqlite
// nested beside it; Apply hands each requested dialect's filesystem to a
// persistence client's registration hook after checking every up migration
// carries its rollback.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	pipeline "github.com/mdresch/cognisync-pipeline"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

var dialectDirs = map[string]string{
	DialectPostgres: "data/sql/migrations",
	DialectSQLite:   "data/sql/migrations/sqlite",
}

// RegisterFunc receives one dialect's migration filesystem. The persistence
// client's RegisterSQLMigrations is the intended target.
type RegisterFunc func(ctx context.Context, dialect string, fsys fs.FS) error

// FS returns the embedded migration tree for one dialect. It fails when the
// dialect is unknown, when the tree holds no up migrations, or when an up
// migration has no matching down file.
func FS(dialect string) (fs.FS, error) {
	dialect = strings.TrimSpace(strings.ToLower(dialect))
	dir, ok := dialectDirs[dialect]
	if !ok {
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}

	sub, err := fs.Sub(pipeline.GetMigrationsFS(), dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s tree: %w", dialect, err)
	}

	ups, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s tree: %w", dialect, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s tree %q has no *.up.sql files", dialect, dir)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, statErr := fs.Stat(sub, down); statErr != nil {
			return nil, fmt.Errorf("migrations: %s migration %q has no rollback %q", dialect, up, down)
		}
	}
	return sub, nil
}

// Apply resolves each requested dialect and passes its filesystem to
// registerFn. No dialects means both.
func Apply(ctx context.Context, registerFn RegisterFunc, dialects ...string) error {
	if registerFn == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	if len(dialects) == 0 {
		dialects = []string{DialectPostgres, DialectSQLite}
	}

	seen := make(map[string]struct{}, len(dialects))
	for _, dialect := range dialects {
		dialect = strings.TrimSpace(strings.ToLower(dialect))
		if _, done := seen[dialect]; done {
			continue
		}
		seen[dialect] = struct{}{}

		fsys, err := FS(dialect)
		if err != nil {
			return err
		}
		if err := registerFn(ctx, dialect, fsys); err != nil {
			return fmt.Errorf("migrations: register %s: %w", dialect, err)
		}
	}
	return nil
}
