package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce      sync.Once
	pgContainer testcontainers.Container
	pgClient    *Client
	pgError     error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if pgClient != nil {
		pgClient.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(context.Background())
	}
	os.Exit(code)
}

// startPostgres returns a migrated client on a shared Postgres container with
// empty tables. Tests are skipped when Docker is not available.
func startPostgres(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	pgOnce.Do(func() {
		ctx := context.Background()

		req := testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "dayahead",
				"POSTGRES_PASSWORD": "dayahead",
				"POSTGRES_DB":       "dayahead",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(60 * time.Second),
		}

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			pgError = fmt.Errorf("start postgres container: %w", err)
			return
		}
		pgContainer = container

		host, err := container.Host(ctx)
		if err != nil {
			pgError = fmt.Errorf("get postgres host: %w", err)
			return
		}
		port, err := container.MappedPort(ctx, "5432/tcp")
		if err != nil {
			pgError = fmt.Errorf("get postgres port: %w", err)
			return
		}

		client, err := New(ctx, ClientConfig{
			Host:     host,
			Port:     port.Int(),
			Database: "dayahead",
			User:     "dayahead",
			Password: "dayahead",
		})
		if err != nil {
			pgError = err
			return
		}
		if err := client.RunMigrations(ctx); err != nil {
			client.Close()
			pgError = err
			return
		}
		pgClient = client
	})

	if pgError != nil {
		t.Fatalf("postgres container failed: %v", pgError)
	}

	_, err := pgClient.Pool().Exec(context.Background(), "TRUNCATE prices, audit_log")
	require.NoError(t, err)
	return pgClient
}
