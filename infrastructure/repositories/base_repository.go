package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"drivesync/database"
)

// BaseRepository provides read/write connection access and SQL type conversion helpers
// that can be embedded in all repositories.
type BaseRepository struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

// NewBaseRepository creates a BaseRepository over the application's SQLite database.
func NewBaseRepository(database *database.Database) *BaseRepository {
	return &BaseRepository{
		readDB:  database.ReadDB(),
		writeDB: database.WriteDB(),
	}
}

// newPooledBaseRepository uses one pool for both reads and writes.
func newPooledBaseRepository(db *sql.DB) *BaseRepository {
	return &BaseRepository{readDB: db, writeDB: db}
}

// ReadDB returns the connection pool for SELECT operations
func (b *BaseRepository) ReadDB() *sql.DB {
	return b.readDB
}

// WriteDB returns the connection for INSERT/UPDATE/DELETE operations
func (b *BaseRepository) WriteDB() *sql.DB {
	return b.writeDB
}

// WithTx executes a function within a write transaction
func (b *BaseRepository) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := b.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FromNullTime safely converts sql.NullTime to *time.Time.
// Returns nil if the SQL value is NULL.
func (b *BaseRepository) FromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// ToNullTime converts a *time.Time to sql.NullTime in UTC.
// Nil pointer becomes NULL for database storage.
func (b *BaseRepository) ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
