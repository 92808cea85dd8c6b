package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"drivesync/logging"

	_ "modernc.org/sqlite"
)

// Config holds database configuration
type Config struct {
	Path              string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	BusyTimeoutMs     int
	EnableForeignKeys bool
	EnableWAL         bool
}

// DefaultConfig returns a configuration for the database file at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:              path,
		MaxOpenConns:      25,
		MaxIdleConns:      5,
		ConnMaxLifetime:   time.Hour,
		ConnMaxIdleTime:   15 * time.Minute,
		BusyTimeoutMs:     5000,
		EnableForeignKeys: true,
		EnableWAL:         true,
	}
}

const migrateTimeout = time.Minute

// Database holds the application's SQLite file behind two pools: a read pool and a single
// write connection, so writers never contend for the file lock.
type Database struct {
	readDB  *sql.DB
	writeDB *sql.DB
	config  Config
	logger  *logging.Logger
}

// New opens the database, creating the file if needed, and applies pending migrations.
func New(config Config, logger *logging.Logger) (*Database, error) {
	existed := fileHasData(config.Path)
	dsn := buildDSN(config)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	readDB.SetMaxOpenConns(config.MaxOpenConns)
	readDB.SetMaxIdleConns(config.MaxIdleConns)
	readDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	readDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		readDB.Close()
		return nil, fmt.Errorf("open write pool: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	writeDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	d := &Database{readDB: readDB, writeDB: writeDB, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	if err := d.verify(ctx); err != nil {
		d.closePools()
		return nil, err
	}
	if err := d.runMigrations(ctx); err != nil {
		d.closePools()
		return nil, fmt.Errorf("migrate %s: %w", config.Path, err)
	}

	logger.Database("Database ready",
		"path", config.Path,
		"existed", existed,
		"wal", config.EnableWAL,
		"read_max_open_conns", config.MaxOpenConns)
	return d, nil
}

// buildDSN passes connection settings as _pragma parameters so every pooled connection
// gets them.
func buildDSN(config Config) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.BusyTimeoutMs))
	if config.EnableWAL {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	if config.EnableForeignKeys {
		q.Add("_pragma", "foreign_keys(1)")
	}
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "temp_store(MEMORY)")
	q.Set("_time_format", "sqlite")
	return "file:" + config.Path + "?" + q.Encode()
}

func (d *Database) verify(ctx context.Context) error {
	if err := d.readDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping read pool: %w", err)
	}
	if err := d.writeDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping write pool: %w", err)
	}
	if !d.config.EnableWAL {
		return nil
	}

	var mode string
	if err := d.writeDB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("read journal mode: %w", err)
	}
	if mode != "wal" {
		d.logger.Warn("WAL mode not enabled", "journal_mode", mode)
	}
	return nil
}

// ReadDB returns the read pool.
func (d *Database) ReadDB() *sql.DB {
	return d.readDB
}

// WriteDB returns the single write connection.
func (d *Database) WriteDB() *sql.DB {
	return d.writeDB
}

// WithTx runs fn in a transaction on the write connection. fn's error rolls it back.
func (d *Database) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PoolStats is the state of one connection pool.
type PoolStats struct {
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	WaitDuration    string `json:"wait_duration"`
	MaxOpenConns    int    `json:"max_open_conns"`
}

// HealthReport is returned by Health.
type HealthReport struct {
	SchemaVersion int64     `json:"schema_version"`
	ReadPool      PoolStats `json:"read_pool"`
	WritePool     PoolStats `json:"write_pool"`
}

// Health pings both pools and reports their statistics.
func (d *Database) Health(ctx context.Context) (*HealthReport, error) {
	if err := d.readDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("read pool: %w", err)
	}
	if err := d.writeDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("write pool: %w", err)
	}
	version, err := d.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	return &HealthReport{
		SchemaVersion: version,
		ReadPool:      poolStats(d.readDB.Stats(), d.config.MaxOpenConns),
		WritePool:     poolStats(d.writeDB.Stats(), 1),
	}, nil
}

func poolStats(s sql.DBStats, maxOpen int) PoolStats {
	return PoolStats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
		WaitDuration:    s.WaitDuration.String(),
		MaxOpenConns:    maxOpen,
	}
}

// Close truncates the WAL and closes both pools.
func (d *Database) Close() error {
	d.logger.Database("Closing database", "path", d.config.Path)
	if d.config.EnableWAL {
		if _, err := d.writeDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			d.logger.Warn("Failed to checkpoint WAL", "error", err)
		}
	}
	return d.closePools()
}

func (d *Database) closePools() error {
	var errs []error
	if err := d.readDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("read pool: %w", err))
	}
	if err := d.writeDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("write pool: %w", err))
	}
	return errors.Join(errs...)
}

func fileHasData(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.Size() > 0
}
