package migrate_test

import (
	"context"
	"testing"

	"supervisory/internal/db"
	"supervisory/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if v, err := migrate.Version(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	latest, err := migrate.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	n, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if n != latest {
		t.Fatalf("applied %d migrations, want %d", n, latest)
	}
	n, err = migrate.MigrateContext(ctx, conn)
	if err != nil || n != 0 {
		t.Fatalf("second run applied %d, err %v", n, err)
	}
	if v, err := migrate.Version(ctx, conn); err != nil || v != latest {
		t.Fatalf("version = %d, %v; want %d", v, err, latest)
	}

	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('events','webhook_cursors')`).Scan(&count); err != nil {
		t.Fatalf("inspect schema: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected audit tables, found %d", count)
	}
}
