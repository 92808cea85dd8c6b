package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"drivesync/domain/checkpoint"
	"drivesync/domain/drive"
	"drivesync/domain/subscription"
)

const checkpointColumns = `tenant_id, site_id, drive_id, phase, page_token, delta_token, crawl_started_at,
	subscription_id, subscription_state, subscription_expires_at, client_state, updated_at`

// checkpointStatements holds the cursor store SQL for one dialect.
type checkpointStatements struct {
	upsert            string
	get               string
	saveProgress      string
	saveSubscription  string
	clearSubscription string
	findBySub         string
	listByTenant      string
	listAll           string
	listWithSubs      string
	listExpiring      string
	deleteOne         string
	deleteByTenant    string
}

// newCheckpointStatements builds the statements with '?' placeholders passed through bind.
func newCheckpointStatements(table string, bind func(string) string) checkpointStatements {
	return checkpointStatements{
		upsert: bind(fmt.Sprintf(`
			INSERT INTO %s (`+checkpointColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, site_id, drive_id) DO UPDATE SET
				phase = excluded.phase,
				page_token = excluded.page_token,
				delta_token = excluded.delta_token,
				crawl_started_at = excluded.crawl_started_at,
				subscription_id = excluded.subscription_id,
				subscription_state = excluded.subscription_state,
				subscription_expires_at = excluded.subscription_expires_at,
				client_state = excluded.client_state,
				updated_at = excluded.updated_at`, table)),
		get: bind(fmt.Sprintf(`SELECT `+checkpointColumns+` FROM %s
			WHERE tenant_id = ? AND site_id = ? AND drive_id = ?`, table)),
		saveProgress: bind(fmt.Sprintf(`UPDATE %s
			SET phase = ?, page_token = ?, delta_token = ?, crawl_started_at = ?, updated_at = ?
			WHERE tenant_id = ? AND site_id = ? AND drive_id = ?`, table)),
		saveSubscription: bind(fmt.Sprintf(`UPDATE %s
			SET subscription_id = ?, subscription_state = ?, subscription_expires_at = ?, client_state = ?, updated_at = ?
			WHERE tenant_id = ? AND site_id = ? AND drive_id = ?`, table)),
		clearSubscription: bind(fmt.Sprintf(`UPDATE %s
			SET subscription_id = '', subscription_state = 'none', subscription_expires_at = NULL, client_state = '', updated_at = ?
			WHERE tenant_id = ? AND site_id = ? AND drive_id = ?`, table)),
		findBySub: bind(fmt.Sprintf(`SELECT `+checkpointColumns+` FROM %s
			WHERE subscription_id = ?`, table)),
		listByTenant: bind(fmt.Sprintf(`SELECT `+checkpointColumns+` FROM %s
			WHERE tenant_id = ? ORDER BY site_id, drive_id`, table)),
		listAll: fmt.Sprintf(`SELECT `+checkpointColumns+` FROM %s
			ORDER BY tenant_id, site_id, drive_id`, table),
		listWithSubs: bind(fmt.Sprintf(`SELECT `+checkpointColumns+` FROM %s
			WHERE tenant_id = ? AND subscription_id <> '' ORDER BY site_id, drive_id LIMIT ?`, table)),
		listExpiring: bind(fmt.Sprintf(`SELECT `+checkpointColumns+` FROM %s
			WHERE subscription_state IN ('active', 'renewing') AND subscription_expires_at < ?
			ORDER BY subscription_expires_at`, table)),
		deleteOne: bind(fmt.Sprintf(`DELETE FROM %s
			WHERE tenant_id = ? AND site_id = ? AND drive_id = ?`, table)),
		deleteByTenant: bind(fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = ?`, table)),
	}
}

func identityBind(query string) string {
	return query
}

// postgresBind rewrites '?' placeholders to $1..$n.
func postgresBind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlCursorStore implements the cursor store over any database/sql connection pair.
type sqlCursorStore struct {
	*BaseRepository
	stmts checkpointStatements
	now   func() time.Time
}

func newSQLCursorStore(base *BaseRepository, stmts checkpointStatements) *sqlCursorStore {
	return &sqlCursorStore{
		BaseRepository: base,
		stmts:          stmts,
		now:            time.Now,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqlCursorStore) scanState(row rowScanner) (*checkpoint.DeltaState, error) {
	var (
		state                        checkpoint.DeltaState
		phase, subState              string
		crawlStartedAt, subExpiresAt sql.NullTime
	)
	err := row.Scan(
		&state.Scope.TenantID, &state.Scope.SiteID, &state.Scope.DriveID,
		&phase, &state.PageToken, &state.DeltaToken, &crawlStartedAt,
		&state.SubscriptionID, &subState, &subExpiresAt, &state.ClientState, &state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if state.Phase, err = checkpoint.ParsePhase(phase); err != nil {
		return nil, err
	}
	if state.SubscriptionState, err = subscription.ParseState(subState); err != nil {
		return nil, err
	}
	state.CrawlStartedAt = s.FromNullTime(crawlStartedAt)
	state.SubscriptionExpiresAt = s.FromNullTime(subExpiresAt)
	state.UpdatedAt = state.UpdatedAt.UTC()
	return &state, nil
}

func (s *sqlCursorStore) queryStates(ctx context.Context, query string, args ...any) ([]*checkpoint.DeltaState, error) {
	rows, err := s.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make([]*checkpoint.DeltaState, 0)
	for rows.Next() {
		state, err := s.scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func (s *sqlCursorStore) Create(ctx context.Context, state *checkpoint.DeltaState) error {
	if err := state.Scope.Validate(); err != nil {
		return err
	}
	subState := state.SubscriptionState
	if subState == "" {
		subState = subscription.StateNone
	}
	_, err := s.WriteDB().ExecContext(ctx, s.stmts.upsert,
		state.Scope.TenantID, state.Scope.SiteID, state.Scope.DriveID,
		string(state.Phase), state.PageToken, state.DeltaToken, s.ToNullTime(state.CrawlStartedAt),
		state.SubscriptionID, string(subState), s.ToNullTime(state.SubscriptionExpiresAt), state.ClientState,
		s.now().UTC(),
	)
	return err
}

func (s *sqlCursorStore) Get(ctx context.Context, scope drive.DriveScope) (*checkpoint.DeltaState, error) {
	row := s.ReadDB().QueryRowContext(ctx, s.stmts.get, scope.TenantID, scope.SiteID, scope.DriveID)
	state, err := s.scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return state, err
}

func (s *sqlCursorStore) SaveProgress(ctx context.Context, scope drive.DriveScope, progress checkpoint.Progress) error {
	res, err := s.WriteDB().ExecContext(ctx, s.stmts.saveProgress,
		string(progress.Phase), progress.PageToken, progress.DeltaToken, s.ToNullTime(progress.CrawlStartedAt),
		s.now().UTC(),
		scope.TenantID, scope.SiteID, scope.DriveID,
	)
	return expectOneRow(res, err, scope)
}

func (s *sqlCursorStore) SaveSubscription(ctx context.Context, scope drive.DriveScope, info checkpoint.SubscriptionInfo) error {
	state := info.State
	if state == "" {
		state = subscription.StateNone
	}
	res, err := s.WriteDB().ExecContext(ctx, s.stmts.saveSubscription,
		info.ID, string(state), s.ToNullTime(info.ExpiresAt), info.ClientState,
		s.now().UTC(),
		scope.TenantID, scope.SiteID, scope.DriveID,
	)
	return expectOneRow(res, err, scope)
}

func (s *sqlCursorStore) ClearSubscriptions(ctx context.Context, scopes []drive.DriveScope) error {
	if len(scopes) == 0 {
		return nil
	}
	now := s.now().UTC()
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, scope := range scopes {
			if _, err := tx.ExecContext(ctx, s.stmts.clearSubscription,
				now, scope.TenantID, scope.SiteID, scope.DriveID); err != nil {
				return fmt.Errorf("clear subscription for %s: %w", scope, err)
			}
		}
		return nil
	})
}

func (s *sqlCursorStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*checkpoint.DeltaState, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	state, err := s.scanState(s.ReadDB().QueryRowContext(ctx, s.stmts.findBySub, subscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return state, err
}

func (s *sqlCursorStore) ListByTenant(ctx context.Context, tenantID string) ([]*checkpoint.DeltaState, error) {
	return s.queryStates(ctx, s.stmts.listByTenant, tenantID)
}

func (s *sqlCursorStore) ListAll(ctx context.Context) ([]*checkpoint.DeltaState, error) {
	return s.queryStates(ctx, s.stmts.listAll)
}

func (s *sqlCursorStore) ListWithSubscriptions(ctx context.Context, tenantID string, limit int) ([]*checkpoint.DeltaState, error) {
	if limit <= 0 {
		limit = 1
	}
	return s.queryStates(ctx, s.stmts.listWithSubs, tenantID, limit)
}

func (s *sqlCursorStore) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*checkpoint.DeltaState, error) {
	return s.queryStates(ctx, s.stmts.listExpiring, cutoff.UTC())
}

func (s *sqlCursorStore) Delete(ctx context.Context, scope drive.DriveScope) error {
	_, err := s.WriteDB().ExecContext(ctx, s.stmts.deleteOne, scope.TenantID, scope.SiteID, scope.DriveID)
	return err
}

func (s *sqlCursorStore) DeleteByTenant(ctx context.Context, tenantID string) error {
	_, err := s.WriteDB().ExecContext(ctx, s.stmts.deleteByTenant, tenantID)
	return err
}

func expectOneRow(res sql.Result, err error, scope drive.DriveScope) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCheckpointNotFound{Scope: scope}
	}
	return nil
}
