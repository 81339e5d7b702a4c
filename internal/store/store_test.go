package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestMigrateFreshReportsChange(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Changed || result.Version != 1 {
		t.Errorf("Migrate() = %+v, want Changed at version 1", result)
	}
}

func TestMigrateRefusesDirtySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirty.db")
	db, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a migration that stopped halfway.
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatal(err)
	}
	_, err = db.Migrate()
	_ = db.Close()
	if !errors.Is(err, ErrDirtySchema) {
		t.Fatalf("Migrate() error = %v, want ErrDirtySchema", err)
	}

	if reopened, err := OpenMigrated(path); !errors.Is(err, ErrDirtySchema) {
		if reopened != nil {
			_ = reopened.Close()
		}
		t.Errorf("OpenMigrated() error = %v, want ErrDirtySchema", err)
	}
}

func TestLoadEmpty(t *testing.T) {
	db := testDB(t)

	c, err := db.LoadCredentials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Access != "" || c.Refresh != "" {
		t.Errorf("LoadCredentials() = %+v, want empty", c)
	}
}

func TestSaveReplacesBoth(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.SaveCredentials(ctx, Credentials{Access: "a1", Refresh: "r1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCredentials(ctx, Credentials{Access: "a2", Refresh: "r2"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.LoadCredentials(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Access != "a2" || c.Refresh != "r2" {
		t.Errorf("LoadCredentials() = %+v, want a2/r2", c)
	}
}

func TestSaveEmptyRemoves(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_ = db.SaveCredentials(ctx, Credentials{Access: "a1", Refresh: "r1"})
	if err := db.SaveCredentials(ctx, Credentials{Refresh: "r1"}); err != nil {
		t.Fatal(err)
	}

	c, _ := db.LoadCredentials(ctx)
	if c.Access != "" || c.Refresh != "r1" {
		t.Errorf("LoadCredentials() = %+v, want access removed", c)
	}
}

func TestClear(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_ = db.SaveCredentials(ctx, Credentials{Access: "a", Refresh: "r"})
	if err := db.ClearCredentials(ctx); err != nil {
		t.Fatal(err)
	}

	c, _ := db.LoadCredentials(ctx)
	if c != (Credentials{}) {
		t.Errorf("after clear = %+v", c)
	}
}

func TestSaveRollsBackOnCancel(t *testing.T) {
	db := testDB(t)
	_ = db.SaveCredentials(context.Background(), Credentials{Access: "a1", Refresh: "r1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := db.SaveCredentials(ctx, Credentials{Access: "a2", Refresh: "r2"}); err == nil {
		t.Fatal("SaveCredentials() with canceled context should fail")
	}

	c, _ := db.LoadCredentials(context.Background())
	if c.Access != "a1" || c.Refresh != "r1" {
		t.Errorf("pair partially replaced: %+v", c)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgr.db")
	db, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = db.SaveCredentials(context.Background(), Credentials{Access: "a", Refresh: "r"})
	_ = db.Close()

	db, err = OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	c, _ := db.LoadCredentials(context.Background())
	if c.Refresh != "r" {
		t.Errorf("refresh after reopen = %q", c.Refresh)
	}
}
