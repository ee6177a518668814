// Package testsupport provides a disposable Postgres+pgvector container for
// integration tests against pgstore.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testsupport.MustStartPostgres()
//	    store, _ = tc.NewTestStore(context.Background(), testsupport.TestLogger())
//	    code := m.Run()
//	    tc.Terminate() // a deferred call would not run past os.Exit
//	    os.Exit(code)
//	}
package testsupport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/khalidsaidi/ragmap/internal/catalog/pgstore"
	"github.com/khalidsaidi/ragmap/migrations"
)

// Container wraps a testcontainers container with a DSN for connecting.
type Container struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a pgvector-enabled Postgres container. Calls
// os.Exit(1) on failure (suitable for TestMain).
func MustStartPostgres() *Container {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "ragmap",
			"POSTGRES_PASSWORD": "ragmap",
			"POSTGRES_DB":       "ragmap",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testsupport: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testsupport: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testsupport: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://ragmap:ragmap@%s:%s/ragmap?sslmode=disable", host, port.Port())

	// Bootstrap the vector extension before any pool is created so pgvector
	// types register on the pool's AfterConnect hook.
	bootstrapConn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testsupport: failed to bootstrap connection: %v\n", err)
		os.Exit(1)
	}
	if _, err := bootstrapConn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		fmt.Fprintf(os.Stderr, "testsupport: failed to create vector extension: %v\n", err)
		os.Exit(1)
	}
	_ = bootstrapConn.Close(ctx)

	return &Container{Container: container, DSN: dsn}
}

// NewTestStore creates a pgstore.Store connected to this container and runs
// all migrations.
func (c *Container) NewTestStore(ctx context.Context, logger *slog.Logger) (*pgstore.Store, error) {
	store, err := pgstore.New(ctx, c.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testsupport: create store: %w", err)
	}
	if err := store.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("testsupport: run migrations: %w", err)
	}
	return store, nil
}

// Terminate stops and removes the container.
func (c *Container) Terminate() {
	_ = c.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
