package storage

import (
	"embed"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"

	logx "chorebot/pkg/logx"
)

//go:embed migrations/*
var embeddedMigrations embed.FS

type dialect string

const (
	dialectSQLite dialect = "sqlite3"
	dialectMySQL  dialect = "mysql"
)

func (d dialect) root() string {
	if d == dialectMySQL {
		return "migrations/mysql"
	}
	return "migrations/sqlite"
}

func (s *sqlStore) migrate() error {
	src := &migrate.EmbedFileSystemMigrationSource{FileSystem: embeddedMigrations, Root: s.dialect.root()}
	n, err := migrate.Exec(s.db.DB, string(s.dialect), src, migrate.Up)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", s.dialect, err)
	}
	if n > 0 {
		s.log.Info("migrations applied", logx.Int("count", n), logx.String("dialect", string(s.dialect)))
	}
	return nil
}
