// Package databasetest starts a throwaway PostgreSQL for history ledger tests.
package databasetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mpilhlt/pe-platform-classes/internal/database"
	"github.com/mpilhlt/pe-platform-classes/internal/models"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Database is a running container.
type Database struct {
	// Options carry the connection settings, ready for database.InitDB.
	Options    models.Options
	ConnString string
	container  *postgres.PostgresContainer
}

// Start runs postgres:16-alpine and waits until it accepts connections.
func Start(ctx context.Context) (db *Database, err error) {
	// testcontainers panics instead of failing when no Docker host is found
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	options := models.Options{DBName: "testdb", DBUser: "test", DBPassword: "test"}
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(options.DBName),
		postgres.WithUsername(options.DBUser),
		postgres.WithPassword(options.DBPassword),
		testcontainers.WithWaitStrategy(
			// Postgres restarts itself after the first startup.
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(120*time.Second),
			wait.ForListeningPort("5432/tcp").WithStartupTimeout(120*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}
	db = &Database{container: container}

	if options.DBHost, err = container.Host(ctx); err != nil {
		db.Terminate()
		return nil, err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		db.Terminate()
		return nil, err
	}
	options.DBPort = port.Int()
	db.Options = options
	db.ConnString = database.ConnString(&options) + "?sslmode=disable"
	return db, nil
}

// Terminate removes the container.
func (db *Database) Terminate() {
	if err := db.container.Terminate(context.Background()); err != nil {
		fmt.Printf("    Error terminating container: %v\n", err)
	}
}

// Require starts a database for one test, skipping it with -short or when
// Docker is unavailable.
func Require(t *testing.T) *Database {
	t.Helper()
	if testing.Short() {
		t.Skip("database tests need Docker")
	}
	db, err := Start(context.Background())
	if err != nil {
		t.Skipf("no database available: %v", err)
	}
	t.Cleanup(db.Terminate)
	return db
}
