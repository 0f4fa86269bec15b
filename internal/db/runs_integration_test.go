package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func requireTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	return dsn
}

func mustDeriveDatabaseURL(t *testing.T, baseURL, dbName string) string {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		t.Skipf("TEST_DATABASE_URL must be a URL-style DSN (e.g. postgres://...); got %q", baseURL)
	}

	u.Path = "/" + dbName
	return u.String()
}

func newTestDatabaseName() string {
	// Safe identifier (letters/digits/underscores) so we can use it without quoting.
	return fmt.Sprintf("basemap_test_%d", time.Now().UnixNano())
}

func createDatabase(ctx context.Context, adminURL, dbName string) error {
	adminConn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		return err
	}
	defer adminConn.Close(ctx)

	_, err = adminConn.Exec(ctx, "CREATE DATABASE "+dbName)
	return err
}

func dropDatabase(ctx context.Context, adminURL, dbName string) error {
	adminConn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		return err
	}
	defer adminConn.Close(ctx)

	if _, err := adminConn.Exec(ctx, "DROP DATABASE "+dbName+" WITH (FORCE)"); err == nil {
		return nil
	}
	_, err = adminConn.Exec(ctx, "DROP DATABASE "+dbName)
	return err
}

func applySchema(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	raw, err := os.ReadFile(filepath.Join(filepath.Dir(thisFile), "schema.sql"))
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, string(raw)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func TestBasemapRunQueries_postgres(t *testing.T) {
	adminURL := requireTestDatabaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	dbName := newTestDatabaseName()
	if err := createDatabase(ctx, adminURL, dbName); err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := dropDatabase(cleanupCtx, adminURL, dbName); err != nil {
			t.Logf("drop database %s: %v", dbName, err)
		}
	})

	databaseURL := mustDeriveDatabaseURL(t, adminURL, dbName)
	applySchema(ctx, t, databaseURL)

	pool, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	defer pool.Close()
	q := pool.Queries()

	saved := "/data/Moulins_basemap"
	inserted, err := q.InsertBasemapRun(ctx, InsertBasemapRunParams{
		CommuneName: "Moulins",
		INSEECode:   "03190",
		Department:  "03",
		State:       "persisted",
		SavedTo:     &saved,
		DurationMs:  1500,
		Outcomes: []map[string]any{
			{"source_id": "parcels", "status": "ok", "features": float64(12)},
		},
	})
	if err != nil {
		t.Fatalf("insert run: %v", err)
	}
	if inserted.ID == "" {
		t.Fatalf("expected a generated id")
	}
	if inserted.SavedTo == nil || *inserted.SavedTo != saved {
		t.Fatalf("unexpected saved_to %v", inserted.SavedTo)
	}

	if _, err := q.InsertBasemapRun(ctx, InsertBasemapRunParams{
		CommuneName: "Saint-Denis",
		INSEECode:   "97411",
		Department:  "974",
		State:       "ready",
	}); err != nil {
		t.Fatalf("insert second run: %v", err)
	}

	got, err := q.GetBasemapRun(ctx, inserted.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.CommuneName != "Moulins" || got.State != "persisted" {
		t.Fatalf("unexpected run %+v", got)
	}
	if len(got.Outcomes) != 1 || got.Outcomes[0]["source_id"] != "parcels" {
		t.Fatalf("outcomes did not round-trip: %+v", got.Outcomes)
	}

	runs, err := q.ListBasemapRuns(ctx, ListBasemapRunsParams{Limit: 10})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].INSEECode != "97411" {
		t.Fatalf("expected newest-first ordering, got %+v", runs)
	}

	if _, err := q.GetBasemapRun(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for an unknown id, got %v", err)
	}
}
