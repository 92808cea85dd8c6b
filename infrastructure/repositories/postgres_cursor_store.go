package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"drivesync/domain/checkpoint"
	"drivesync/domain/contracts"
	"drivesync/domain/drive"

	_ "github.com/lib/pq"
)

const (
	postgresCheckpointTable  = "drive_checkpoints"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresCursorStore keeps drive checkpoints in PostgreSQL. The connection and table are
// created on first use.
type PostgresCursorStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
	store    *sqlCursorStore
}

// NewPostgresCursorStore validates the DSN without connecting.
func NewPostgresCursorStore(dsn string) (*PostgresCursorStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres cursor store: empty dsn")
	}
	return &PostgresCursorStore{
		dsn:    dsn,
		openDB: sql.Open,
	}, nil
}

func (p *PostgresCursorStore) ensureReady() error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				tenant_id TEXT NOT NULL,
				site_id TEXT NOT NULL,
				drive_id TEXT NOT NULL,
				phase TEXT NOT NULL,
				page_token TEXT NOT NULL DEFAULT '',
				delta_token TEXT NOT NULL DEFAULT '',
				crawl_started_at TIMESTAMPTZ,
				subscription_id TEXT NOT NULL DEFAULT '',
				subscription_state TEXT NOT NULL DEFAULT 'none',
				subscription_expires_at TIMESTAMPTZ,
				client_state TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (tenant_id, site_id, drive_id)
			)`, postgresQuoteIdentifier(postgresCheckpointTable))
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			_ = db.Close()
			p.initErr = err
			return
		}
		index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (subscription_id)`,
			postgresQuoteIdentifier(postgresCheckpointTable+"_subscription_idx"),
			postgresQuoteIdentifier(postgresCheckpointTable))
		if _, err := db.ExecContext(ctx, index); err != nil {
			_ = db.Close()
			p.initErr = err
			return
		}

		p.db = db
		p.store = newSQLCursorStore(
			newPooledBaseRepository(db),
			newCheckpointStatements(postgresQuoteIdentifier(postgresCheckpointTable), postgresBind),
		)
	})
	return p.initErr
}

// withTimeout bounds an operation when the caller's context has no deadline.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, postgresOperationTimeout)
}

func (p *PostgresCursorStore) Create(ctx context.Context, state *checkpoint.DeltaState) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.Create(ctx, state)
}

func (p *PostgresCursorStore) Get(ctx context.Context, scope drive.DriveScope) (*checkpoint.DeltaState, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.Get(ctx, scope)
}

func (p *PostgresCursorStore) SaveProgress(ctx context.Context, scope drive.DriveScope, progress checkpoint.Progress) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.SaveProgress(ctx, scope, progress)
}

func (p *PostgresCursorStore) SaveSubscription(ctx context.Context, scope drive.DriveScope, info checkpoint.SubscriptionInfo) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.SaveSubscription(ctx, scope, info)
}

func (p *PostgresCursorStore) ClearSubscriptions(ctx context.Context, scopes []drive.DriveScope) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.ClearSubscriptions(ctx, scopes)
}

func (p *PostgresCursorStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*checkpoint.DeltaState, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.FindBySubscriptionID(ctx, subscriptionID)
}

func (p *PostgresCursorStore) ListByTenant(ctx context.Context, tenantID string) ([]*checkpoint.DeltaState, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.ListByTenant(ctx, tenantID)
}

func (p *PostgresCursorStore) ListAll(ctx context.Context) ([]*checkpoint.DeltaState, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.ListAll(ctx)
}

func (p *PostgresCursorStore) ListWithSubscriptions(ctx context.Context, tenantID string, limit int) ([]*checkpoint.DeltaState, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.ListWithSubscriptions(ctx, tenantID, limit)
}

func (p *PostgresCursorStore) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*checkpoint.DeltaState, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.ListExpiringBefore(ctx, cutoff)
}

func (p *PostgresCursorStore) Delete(ctx context.Context, scope drive.DriveScope) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.Delete(ctx, scope)
}

func (p *PostgresCursorStore) DeleteByTenant(ctx context.Context, tenantID string) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return p.store.DeleteByTenant(ctx, tenantID)
}

func (p *PostgresCursorStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

var _ contracts.CursorStore = (*PostgresCursorStore)(nil)
