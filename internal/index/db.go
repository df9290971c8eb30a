// Package index implements the spec §4.5/§4.6 collaborator: the
// relational tables backing reachability/touch bookkeeping, GC, process
// cache lookup, and the tag/root/remote registries, behind the two
// database.kind backends spec §6 names.
package index

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/tangramdotdev/tangram/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to the database named by cfg and applies every pending
// goose migration, matching the teacher's migration-on-boot idiom.
func Open(cfg config.Database) (*sql.DB, error) {
	driver, dsn, err := driverAndDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", driver, err)
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(gooseDialect(cfg.Kind)); err != nil {
		return nil, fmt.Errorf("index: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("index: migrate: %w", err)
	}
	return db, nil
}

func driverAndDSN(cfg config.Database) (string, string, error) {
	switch cfg.Kind {
	case config.DatabaseSQLite, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		return "sqlite", dsn, nil
	case config.DatabasePostgres:
		return "pgx", cfg.DSN, nil
	default:
		return "", "", fmt.Errorf("index: unknown database.kind %q", cfg.Kind)
	}
}

func gooseDialect(k config.DatabaseKind) string {
	if k == config.DatabasePostgres {
		return "postgres"
	}
	return "sqlite3"
}

// placeholderStyle selects the bind placeholder syntax for db's dialect:
// sqlite accepts "?" but postgres (pgx) requires "$N".
type placeholderStyle int

const (
	placeholderQuestion placeholderStyle = iota
	placeholderDollar
)

func stylesFor(kind config.DatabaseKind) placeholderStyle {
	if kind == config.DatabasePostgres {
		return placeholderDollar
	}
	return placeholderQuestion
}
