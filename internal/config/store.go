package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/nikoai/niko/internal/clock"
	"github.com/nikoai/niko/internal/model"
)

// Store is the credential store. It persists identities and process
// settings in SQLite by default, or in PostgreSQL, MySQL or SQL Server.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	clock   clock.Clock

	// mu serializes writers so a read-modify-write never interleaves with
	// another on the same database handle.
	mu sync.Mutex
}

// NewStore creates a new SQLite-backed store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "niko.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open("sqlite", dsn)
}

// Open connects to the store using one of the supported drivers: "sqlite",
// "postgres", "mysql" or "sqlserver".
func Open(driver, dsn string) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	if driver == "mysql" {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	}

	db, err := sqlx.Connect(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	}

	s := &Store{db: db, dialect: d, clock: clock.System{}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate credential store: %w", err)
	}
	return s, nil
}

// SetClock overrides the time source used to stamp records.
func (s *Store) SetClock(c clock.Clock) {
	s.clock = clock.OrSystem(c)
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// ---------------------------------------------------------------------------
// Identity CRUD
// ---------------------------------------------------------------------------

const identityColumns = `name, secret_hash, is_privileged, email, full_name,
	created_at, updated_at, last_login_at, deleted_at`

// CreateIdentity inserts a new identity. It fails with ErrAlreadyExists when
// the name is taken, including by a record pending deletion. CreatedAt and
// UpdatedAt are stamped when zero.
func (s *Store) CreateIdentity(ctx context.Context, id *model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id.CreatedAt.IsZero() {
		id.CreatedAt = now
	}
	if id.UpdatedAt.IsZero() {
		id.UpdatedAt = id.CreatedAt
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int
	if err := tx.GetContext(ctx, &count,
		tx.Rebind("SELECT COUNT(*) FROM identities WHERE name = ?"), id.Name); err != nil {
		return fmt.Errorf("check identity: %w", err)
	}
	if count > 0 {
		return ErrAlreadyExists
	}

	const q = `INSERT INTO identities (` + identityColumns + `)
		VALUES
		(:name, :secret_hash, :is_privileged, :email, :full_name,
		 :created_at, :updated_at, :last_login_at, :deleted_at)`

	if _, err := tx.NamedExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return tx.Commit()
}

// GetIdentity returns an identity by name, whether or not it is pending
// deletion.
func (s *Store) GetIdentity(ctx context.Context, name string) (*model.Identity, error) {
	var id model.Identity
	q := s.db.Rebind("SELECT " + identityColumns + " FROM identities WHERE name = ?")
	if err := s.db.GetContext(ctx, &id, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &id, nil
}

// ListFilter narrows and orders ListIdentities.
type ListFilter struct {
	IncludeDeleted bool
	// Privileged, when set, keeps only identities whose flag matches.
	Privileged *bool
	// SortBy is one of "name", "created_at", "updated_at" or
	// "last_login_at". Anything else sorts by name.
	SortBy string
	Desc   bool
}

var sortColumns = map[string]string{
	"name":          "name",
	"created_at":    "created_at",
	"updated_at":    "updated_at",
	"last_login_at": "last_login_at",
}

// ListIdentities returns identities matching f.
func (s *Store) ListIdentities(ctx context.Context, f ListFilter) ([]model.Identity, error) {
	q := "SELECT " + identityColumns + " FROM identities WHERE 1=1"
	var args []interface{}
	if !f.IncludeDeleted {
		q += " AND deleted_at IS NULL"
	}
	if f.Privileged != nil {
		q += " AND is_privileged = ?"
		args = append(args, *f.Privileged)
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "name"
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	q += fmt.Sprintf(" ORDER BY %s %s", col, dir)
	// SQL Server rejects a column repeated in ORDER BY.
	if col != "name" {
		q += ", name ASC"
	}

	ids := []model.Identity{}
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return ids, nil
}

// HasAnyPrivileged reports whether at least one live privileged identity
// exists. Used for first-run detection.
func (s *Store) HasAnyPrivileged(ctx context.Context) (bool, error) {
	var count int
	q := s.db.Rebind("SELECT COUNT(*) FROM identities WHERE is_privileged = ? AND deleted_at IS NULL")
	if err := s.db.GetContext(ctx, &count, q, true); err != nil {
		return false, fmt.Errorf("count privileged identities: %w", err)
	}
	return count > 0, nil
}

// UpdateIdentity loads the identity called name, applies fn and writes the
// result back in one transaction. If fn returns an error nothing is written
// and the error is returned unchanged. The name cannot be changed; UpdatedAt
// is refreshed unless fn set it.
func (s *Store) UpdateIdentity(ctx context.Context, name string, fn func(*model.Identity) error) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id model.Identity
	q := tx.Rebind("SELECT " + identityColumns + " FROM identities" + s.dialect.tableHint +
		" WHERE name = ?" + s.dialect.lockClause)
	if err := tx.GetContext(ctx, &id, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}

	before := id.UpdatedAt
	if err := fn(&id); err != nil {
		return nil, err
	}
	id.Name = name
	if id.UpdatedAt.Equal(before) {
		id.UpdatedAt = s.now()
	}

	const upd = `UPDATE identities SET
		secret_hash = :secret_hash, is_privileged = :is_privileged, email = :email,
		full_name = :full_name, updated_at = :updated_at, last_login_at = :last_login_at,
		deleted_at = :deleted_at
		WHERE name = :name`

	if _, err := tx.NamedExecContext(ctx, upd, &id); err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit identity update: %w", err)
	}
	return &id, nil
}

// DeleteIdentity permanently removes an identity by name.
func (s *Store) DeleteIdentity(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM identities WHERE name = ?"), name)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete identity rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeDeletedBefore permanently removes every identity whose deletion
// marker is at or before cutoff and returns their names.
func (s *Store) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var pending []struct {
		Name      string    `db:"name"`
		DeletedAt time.Time `db:"deleted_at"`
	}
	if err := tx.SelectContext(ctx, &pending,
		"SELECT name, deleted_at FROM identities WHERE deleted_at IS NOT NULL ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list pending deletions: %w", err)
	}

	var purged []string
	del := tx.Rebind("DELETE FROM identities WHERE name = ?")
	for _, p := range pending {
		if p.DeletedAt.After(cutoff) {
			continue
		}
		if _, err := tx.ExecContext(ctx, del, p.Name); err != nil {
			return nil, fmt.Errorf("purge identity %s: %w", p.Name, err)
		}
		purged = append(purged, p.Name)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purge: %w", err)
	}
	return purged, nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns a process setting, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value,
		s.db.Rebind("SELECT value FROM settings WHERE name = ?"), name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting creates or replaces a process setting.
func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(s.dialect.upsertSetting), name, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
