package migrate_test

import (
	"testing"

	"pressline/internal/db"
	"pressline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Fatalf("schema version after migrate: %d", v)
	}

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}
	again, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if again != v {
		t.Fatalf("version changed on rerun: %d -> %d", v, again)
	}
}
