package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// MigratorConfig configures where migrations come from and where applied versions are tracked
type MigratorConfig struct {
	// FS holds the migration files, named <version>_<description>.sql
	FS fs.FS
	// Dir is the directory inside FS containing the migration files
	Dir string
	// Table records applied migration versions
	Table string
	// LockKey is the advisory lock serializing concurrent migrators
	LockKey int64
}

// Migration is a single schema change
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies pending migrations in version order
type Migrator struct {
	conn *pgx.Conn
	cfg  MigratorConfig
}

// NewMigrator creates a migrator bound to a single connection
func NewMigrator(conn *pgx.Conn, cfg MigratorConfig) *Migrator {
	if cfg.Table == "" {
		cfg.Table = "schema_migrations"
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	return &Migrator{conn: conn, cfg: cfg}
}

// LoadMigrations reads and orders the migration files from the configured FS
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, name, ok := strings.Cut(strings.TrimSuffix(entry.Name(), ".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("migration %q: expected <version>_<name>.sql", entry.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %q: invalid version: %w", entry.Name(), err)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %q and %q share version %d", other, entry.Name(), version)
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %q: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrate applies every migration newer than the latest recorded version
func (m *Migrator) Migrate(ctx context.Context) error {
	logger := log.FromContext(ctx)

	migrations, err := LoadMigrations(m.cfg.FS, m.cfg.Dir)
	if err != nil {
		return err
	}

	if m.cfg.LockKey != 0 {
		if _, err := m.conn.Exec(ctx, "SELECT pg_advisory_lock($1)", m.cfg.LockKey); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		defer func() {
			_, _ = m.conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", m.cfg.LockKey)
		}()
	}

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, pgx.Identifier{m.cfg.Table}.Sanitize())
	if _, err := m.conn.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	query := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", pgx.Identifier{m.cfg.Table}.Sanitize())
	if err := m.conn.QueryRow(ctx, query).Scan(&current); err != nil {
		return fmt.Errorf("failed to read current migration version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.apply(ctx, migration); err != nil {
			return err
		}
		logger.Info("Applied migration", "version", migration.Version, "name", migration.Name)
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, migration Migration) error {
	tx, err := m.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
	}
	insert := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", pgx.Identifier{m.cfg.Table}.Sanitize())
	if _, err := tx.Exec(ctx, insert, migration.Version, migration.Name); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
