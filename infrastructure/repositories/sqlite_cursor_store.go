package repositories

import (
	"drivesync/database"
	"drivesync/domain/contracts"
)

// SqliteCursorStore keeps drive checkpoints in the application database.
type SqliteCursorStore struct {
	*sqlCursorStore
}

// NewSqliteCursorStore creates a cursor store with read/write database separation.
func NewSqliteCursorStore(database *database.Database) contracts.CursorStore {
	return &SqliteCursorStore{
		sqlCursorStore: newSQLCursorStore(
			NewBaseRepository(database),
			newCheckpointStatements("drive_checkpoints", identityBind),
		),
	}
}

// Close is a no-op; the database is owned by the caller.
func (s *SqliteCursorStore) Close() error {
	return nil
}
