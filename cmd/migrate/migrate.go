// Package migrate owns the schema for the jobs audit trail. The gateway
// applies it on boot whenever a database DSN is configured; there is no
// separate migration step to run.
package migrate

import (
	"database/sql"
	"embed"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrations embeds the jobs table SQL.
//
//go:embed migrations
var Migrations embed.FS

// Migrate brings the audit schema up to date.
func Migrate(dsn string, path fs.FS) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return err
	}

	goose.SetBaseFS(path)
	return goose.Up(db, "migrations")
}
