package repositories

import (
	"fmt"
	"net/url"
	"strings"

	"drivesync/database"
	"drivesync/domain/contracts"
)

// BuildCursorStoreFromDSN selects the checkpoint backend. An empty DSN or the sqlite scheme
// uses the application database.
func BuildCursorStoreFromDSN(dsn string, appDB *database.Database) (contracts.CursorStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return sqliteCursorStore(appDB)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor store dsn: %w", err)
	}

	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "sqlite", "file":
		return sqliteCursorStore(appDB)
	case "memory", "mem", "inmem":
		return NewMemoryCursorStore(), nil
	case "postgres", "postgresql":
		return NewPostgresCursorStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported cursor store scheme: %s", scheme)
	}
}

func sqliteCursorStore(appDB *database.Database) (contracts.CursorStore, error) {
	if appDB == nil {
		return nil, fmt.Errorf("sqlite cursor store requires the application database")
	}
	return NewSqliteCursorStore(appDB), nil
}
