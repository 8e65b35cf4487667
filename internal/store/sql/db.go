// Package sql is the PostgreSQL-backed implementation of the state store
// (C2), grounded on the teacher's store/database/sql package: squirrel
// statement builders over a *sqlx.DB, with the atomic lease and atomic
// oldest-eligible delete built as raw CTE queries the way the teacher's
// outbox.go FindAndClaimPending is.
package sql

import (
	"context"
	"embed"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/maragudk/migrate"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Open connects to PostgreSQL and applies pending migrations.
func Open(ctx context.Context, dataSource string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dataSource)
	if err != nil {
		return nil, fmt.Errorf("sql: connect: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies every pending migration in migrations/.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	m := migrate.New(migrate.Options{
		FS: migrationsFS,
		DB: db.DB,
	})
	if err := m.MigrateUp(ctx); err != nil {
		return fmt.Errorf("sql: migrate: %w", err)
	}
	logrus.WithField("component", "store").Infoln("sql: migrations applied")
	return nil
}
