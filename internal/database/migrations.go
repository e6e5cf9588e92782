package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/tern/v2/migrate"
)

// tern records the applied schema version of the history ledger here.
const versionTable = "db_version"

// LatestVersion selects the newest embedded schema version.
const LatestVersion int32 = -1

var ErrUnknownVersion = errors.New("unknown schema version")

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator moves the history ledger schema between embedded versions.
type Migrator struct {
	tern *migrate.Migrator
}

func NewMigrator(ctx context.Context, conn *pgx.Conn) (*Migrator, error) {
	m, err := migrate.NewMigratorEx(ctx, conn, versionTable, &migrate.MigratorOptions{})
	if err != nil {
		return nil, fmt.Errorf("unable to create migrator: %w", err)
	}
	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	if err := m.LoadMigrations(files); err != nil {
		return nil, fmt.Errorf("unable to load migrations: %w", err)
	}
	return &Migrator{tern: m}, nil
}

// Latest returns the newest embedded version, 0 without migrations.
func (m *Migrator) Latest() int32 {
	if n := len(m.tern.Migrations); n > 0 {
		return m.tern.Migrations[n-1].Sequence
	}
	return 0
}

// SchemaStatus is the applied version of the ledger and the embedded migrations.
type SchemaStatus struct {
	Current    int32
	Latest     int32
	Migrations []string
}

// String renders the status with an arrow at the applied migration.
func (s SchemaStatus) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version %d of %d\n", s.Current, s.Latest)
	for i, name := range s.Migrations {
		marker := "  "
		if int32(i+1) == s.Current {
			marker = "->"
		}
		fmt.Fprintf(&b, "%s %3d %s\n", marker, i+1, name)
	}
	return b.String()
}

func (m *Migrator) Status(ctx context.Context) (SchemaStatus, error) {
	current, err := m.tern.GetCurrentVersion(ctx)
	if err != nil {
		return SchemaStatus{}, fmt.Errorf("unable to read schema version: %w", err)
	}
	s := SchemaStatus{Current: current, Latest: m.Latest()}
	for _, mig := range m.tern.Migrations {
		s.Migrations = append(s.Migrations, mig.Name)
	}
	return s, nil
}

// MigrateTo moves the schema to version, LatestVersion for the newest one.
// Version 0 drops the ledger.
func (m *Migrator) MigrateTo(ctx context.Context, version int32) error {
	if version == LatestVersion {
		version = m.Latest()
	}
	if version < 0 || version > m.Latest() {
		return fmt.Errorf("%w: %d (latest is %d)", ErrUnknownVersion, version, m.Latest())
	}
	return m.tern.MigrateTo(ctx, version)
}
