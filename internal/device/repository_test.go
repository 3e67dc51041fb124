package device

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/greemqtt/internal/bridges/gree"
	"github.com/nerrad567/greemqtt/internal/infrastructure/database"
	"github.com/nerrad567/greemqtt/migrations"
)

func setupRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "devices.db")})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRepositorySaveAndGetAll(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	ids := []gree.Identity{
		{DeviceID: "b2", IP: "10.0.0.2", Name: "bedroom", IsGCM: true, Key: "0123456789abcdef"},
		{DeviceID: "a1", IP: "10.0.0.1", Key: "fedcba9876543210"},
	}
	for _, id := range ids {
		if err := repo.Save(ctx, id); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	want := []gree.Identity{ids[1], ids[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetAll() mismatch (-want +got):\n%s", diff)
	}
}

func TestRepositorySaveReplaces(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	if err := repo.Save(ctx, gree.Identity{DeviceID: "a1", IP: "10.0.0.1", Key: "0123456789abcdef"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	seen := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	if err := repo.MarkSeen(ctx, "a1", seen); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}

	rebound := gree.Identity{DeviceID: "a1", IP: "10.0.0.9", IsGCM: true, Key: "fedcba9876543210"}
	if err := repo.Save(ctx, rebound); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(got) != 1 || got[0] != rebound {
		t.Errorf("GetAll() = %+v, want [%+v]", got, rebound)
	}

	last, err := repo.LastSeen(ctx)
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if !last["a1"].Equal(seen) {
		t.Errorf("seen_at = %v, want it kept across Save", last["a1"])
	}
}

func TestRepositorySaveRejectsIncompleteIdentity(t *testing.T) {
	repo := setupRepository(t)
	err := repo.Save(context.Background(), gree.Identity{DeviceID: "a1"})
	if !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("Save() error = %v, want ErrInvalidIdentity", err)
	}
}

func TestRepositoryMarkSeen(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	if err := repo.MarkSeen(ctx, "missing", time.Now()); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("MarkSeen(missing) error = %v, want ErrDeviceNotFound", err)
	}

	if err := repo.Save(ctx, gree.Identity{DeviceID: "a1", IP: "10.0.0.1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(ctx, gree.Identity{DeviceID: "b2", IP: "10.0.0.2"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	at := time.Date(2026, 2, 1, 8, 30, 15, 250_000_000, time.FixedZone("CET", 3600))
	if err := repo.MarkSeen(ctx, "a1", at); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}

	last, err := repo.LastSeen(ctx)
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if !last["a1"].Equal(at) {
		t.Errorf("LastSeen[a1] = %v, want %v", last["a1"], at)
	}
	if !last["b2"].IsZero() {
		t.Errorf("LastSeen[b2] = %v, want zero", last["b2"])
	}
}
