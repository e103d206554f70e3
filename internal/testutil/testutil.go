// Package testutil provides helpers for integration-backed tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql in tests

	"github.com/target/portal-identity/internal/migrate"
)

// SetupTestRedis returns a client for the Redis named by TEST_REDIS_URI
// (default redis://127.0.0.1:6379/15) and skips the test when it is not
// reachable.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	uri := os.Getenv("TEST_REDIS_URI")
	if uri == "" {
		uri = "redis://127.0.0.1:6379/15"
	}
	opt, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse TEST_REDIS_URI: %v", err)
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", uri, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetupTestDB connects to the test PostgreSQL (TEST_DB_HOST, TEST_DB_PORT,
// TEST_DB_USER, TEST_DB_PASSWORD, TEST_DB_NAME), applies the production
// migrations, and truncates the record tables. The test is skipped when no
// database is reachable.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	hostPort := net.JoinHostPort(
		getEnvOrDefault("TEST_DB_HOST", "localhost"),
		getEnvOrDefault("TEST_DB_PORT", "55432"),
	)
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		getEnvOrDefault("TEST_DB_USER", "portal"),
		getEnvOrDefault("TEST_DB_PASSWORD", "portal"),
		hostPort,
		getEnvOrDefault("TEST_DB_NAME", "portal"),
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("postgres not available at %s: %v", hostPort, err)
	}

	if err := migrate.Run(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	CleanupTestDB(t, db)
	return db
}

// CleanupTestDB removes all rows from the record tables.
func CleanupTestDB(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"institutions", "user_roles", "profiles"} {
		if _, err := db.Exec("TRUNCATE TABLE " + table + " CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}
