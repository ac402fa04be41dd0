// Package migrate applies the embedded PostgreSQL schema and optional seed
// files, keeping one history table keyed by kind and version.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"solarforecast.org/internal/obs"
)

const (
	defaultHistoryTable = "schema_history"

	kindMigration = "migration"
	kindSeed      = "seed"

	// lockKey serializes concurrent migrators ("SFA_MIG").
	lockKey int64 = 0x5346415f4d4947
)

var (
	// ErrChecksumMismatch reports an applied migration whose file changed.
	ErrChecksumMismatch = errors.New("migrate: applied migration was modified")
	// ErrNothingApplied is returned by Down on an empty history.
	ErrNothingApplied = errors.New("migrate: no migrations applied")

	identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// Record is one migration or seed with its applied state.
type Record struct {
	Kind      string     `json:"kind" yaml:"kind"`
	Version   string     `json:"version" yaml:"version"`
	Checksum  string     `json:"checksum" yaml:"checksum"`
	AppliedAt *time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
}

// Applied reports whether the record is in the history table.
func (r Record) Applied() bool { return r.AppliedAt != nil }

type step struct {
	version  string
	up, down string
}

// Manager runs migrations against one database.
type Manager struct {
	db     *sql.DB
	schema fs.FS
	seeds  fs.FS
	table  string
	log    logrus.FieldLogger
}

// Option configures Manager.
type Option func(*Manager)

// WithHistoryTable overrides the history table name.
func WithHistoryTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithSeeds sets the file system *.sql seed files are read from.
func WithSeeds(seeds fs.FS) Option {
	return func(m *Manager) {
		m.seeds = seeds
	}
}

// WithLogger replaces the process logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager builds a Manager for the schema files in schema, which must
// hold NNNN_name.up.sql and NNNN_name.down.sql pairs.
func NewManager(db *sql.DB, schema fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		schema: schema,
		table:  defaultHistoryTable,
		log:    obs.Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in version order. Each one runs in its own
// transaction together with its history row.
func (m *Manager) Up(ctx context.Context) error {
	steps, err := loadSteps(m.schema)
	if err != nil {
		return err
	}
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.history(ctx, kindMigration)
	if err != nil {
		return err
	}
	sums := make(map[string]string, len(applied))
	for _, r := range applied {
		sums[r.Version] = r.Checksum
	}
	for _, s := range steps {
		body, sum, err := readSQL(m.schema, s.up)
		if err != nil {
			return err
		}
		if prev, ok := sums[s.version]; ok {
			if prev != sum {
				return fmt.Errorf("%w: %s", ErrChecksumMismatch, s.version)
			}
			continue
		}
		ran, err := m.apply(ctx, kindMigration, s.version, sum, body)
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", s.version, err)
		}
		if ran {
			m.log.WithField("version", s.version).Info("migration applied")
		}
	}
	return nil
}

// Down reverts the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	steps, err := loadSteps(m.schema)
	if err != nil {
		return err
	}
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.history(ctx, kindMigration)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingApplied
	}
	last := applied[len(applied)-1].Version
	i := slices.IndexFunc(steps, func(s step) bool { return s.version == last })
	if i < 0 {
		return fmt.Errorf("migration %s is applied but has no files", last)
	}
	body, _, err := readSQL(m.schema, steps[i].down)
	if err != nil {
		return err
	}
	err = m.inTx(ctx, func(tx *sql.Tx) error {
		if err := execAll(ctx, tx, body); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`delete from %s where kind = $1 and version = $2`, m.table), kindMigration, last)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("migration %s was reverted concurrently", last)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("revert migration %s: %w", last, err)
	}
	m.log.WithField("version", last).Info("migration reverted")
	return nil
}

// Status lists every known migration in version order, followed by applied
// versions whose files are gone.
func (m *Manager) Status(ctx context.Context) ([]Record, error) {
	steps, err := loadSteps(m.schema)
	if err != nil {
		return nil, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.history(ctx, kindMigration)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]Record, len(applied))
	for _, r := range applied {
		byVersion[r.Version] = r
	}
	out := make([]Record, 0, len(steps))
	for _, s := range steps {
		if r, ok := byVersion[s.version]; ok {
			out = append(out, r)
			delete(byVersion, s.version)
			continue
		}
		_, sum, err := readSQL(m.schema, s.up)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Kind: kindMigration, Version: s.version, Checksum: sum})
	}
	for _, r := range applied {
		if _, orphan := byVersion[r.Version]; orphan {
			out = append(out, r)
		}
	}
	return out, nil
}

// Seed runs seed files that have not run yet, in name order. A seed edited
// after it ran is skipped with a warning.
func (m *Manager) Seed(ctx context.Context) error {
	if m.seeds == nil {
		return nil
	}
	names, err := fs.Glob(m.seeds, "*.sql")
	if err != nil {
		return err
	}
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.history(ctx, kindSeed)
	if err != nil {
		return err
	}
	sums := make(map[string]string, len(applied))
	for _, r := range applied {
		sums[r.Version] = r.Checksum
	}
	slices.Sort(names)
	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		body, sum, err := readSQL(m.seeds, name)
		if err != nil {
			return err
		}
		if prev, ok := sums[version]; ok {
			if prev != sum {
				m.log.WithField("seed", version).Warn("seed changed after it ran; skipping")
			}
			continue
		}
		if _, err := m.apply(ctx, kindSeed, version, sum, body); err != nil {
			return fmt.Errorf("apply seed %s: %w", version, err)
		}
		m.log.WithField("seed", version).Info("seed applied")
	}
	return nil
}

// apply runs body and records it under the migration lock. It reports false
// when another migrator recorded the same version first.
func (m *Manager) apply(ctx context.Context, kind, version, sum, body string) (bool, error) {
	ran := false
	err := m.inTx(ctx, func(tx *sql.Tx) error {
		var seen int
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf(`select count(*) from %s where kind = $1 and version = $2`, m.table),
			kind, version).Scan(&seen)
		if err != nil {
			return err
		}
		if seen > 0 {
			return nil
		}
		if err := execAll(ctx, tx, body); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`insert into %s (kind, version, checksum) values ($1, $2, $3)`, m.table),
			kind, version, sum)
		ran = err == nil
		return err
	})
	return ran, err
}

func (m *Manager) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) ensureTable(ctx context.Context) error {
	if !identifier.MatchString(m.table) {
		return fmt.Errorf("invalid history table name %q", m.table)
	}
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			kind       text not null,
			version    text not null,
			checksum   text not null,
			applied_at timestamptz not null default now(),
			primary key (kind, version)
		)`, m.table))
	return err
}

func (m *Manager) history(ctx context.Context, kind string) ([]Record, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select version, checksum, applied_at from %s where kind = $1 order by applied_at, version`, m.table),
		kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r := Record{Kind: kind}
		var at time.Time
		if err := rows.Scan(&r.Version, &r.Checksum, &at); err != nil {
			return nil, err
		}
		r.AppliedAt = &at
		out = append(out, r)
	}
	return out, rows.Err()
}

// loadSteps pairs every up file with its down file.
func loadSteps(fsys fs.FS) ([]step, error) {
	if fsys == nil {
		return nil, errors.New("no schema files")
	}
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	steps := make([]step, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		down := version + ".down.sql"
		if _, err := fs.Stat(fsys, down); err != nil {
			return nil, fmt.Errorf("migration %s has no down file: %w", version, err)
		}
		steps = append(steps, step{version: version, up: up, down: down})
	}
	slices.SortFunc(steps, func(a, b step) int { return strings.Compare(a.version, b.version) })
	return steps, nil
}

func readSQL(fsys fs.FS, name string) (string, string, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(b)
	return string(b), hex.EncodeToString(sum[:]), nil
}

func execAll(ctx context.Context, tx *sql.Tx, body string) error {
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
