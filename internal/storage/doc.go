// Package storage persists reminders and their audit trail.
//
// Both drivers (pure-Go SQLite and MySQL) go through sqlx; the schema is
// owned by embedded sql-migrate migrations, one directory per dialect.
// Timestamps are stored as unix seconds.
package storage
