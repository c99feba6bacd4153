package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/obsdb/obsdb/db/migrations"
)

func catalogMigrations() Migrations {
	return Migrations{FS: migrations.Files, Dir: migrations.CatalogDir}
}

func upstreamMigrations() Migrations {
	return Migrations{FS: migrations.Files, Dir: migrations.UpstreamDir}
}

func setupTestDB(t *testing.T, m Migrations) *Context {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "test.db")

	ctx, err := Open(path, m)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	t.Cleanup(func() {
		if err := Close(ctx); err != nil {
			t.Fatalf("Close error: %v", err)
		}
	})

	return ctx
}

func TestCatalogCreationAndMigration(t *testing.T) {
	ctx := setupTestDB(t, catalogMigrations())

	tables := []string{"db_version", "project", "srcpackage", "package", "source", "patch", "file", "rpmlint"}
	for _, table := range tables {
		if !tableExists(t, ctx.DB, table) {
			t.Fatalf("expected table %s to exist", table)
		}
	}
}

func TestOpenTwiceKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.db")
	bg := context.Background()

	first, err := Open(path, catalogMigrations())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := NewVersionRepository(first).Set(bg, 4, 0); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := Close(first); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	second, err := Open(path, catalogMigrations())
	if err != nil {
		t.Fatalf("second Open returned error: %v", err)
	}
	defer func() { _ = Close(second) }()

	major, minor, err := NewVersionRepository(second).Get(bg)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if major != 4 || minor != 0 {
		t.Fatalf("expected version 4.0, got %d.%d", major, minor)
	}
}

func TestVersionMissing(t *testing.T) {
	ctx := setupTestDB(t, catalogMigrations())

	if _, _, err := NewVersionRepository(ctx).Get(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProjectDeleteRemovesDescendants(t *testing.T) {
	ctx := setupTestDB(t, catalogMigrations())
	bg := context.Background()

	projects := NewProjectRepository(ctx)
	packages := NewSrcPackageRepository(ctx)
	children := NewChildRepository(ctx)

	projectID, err := projects.Create(bg, ProjectRecord{Name: "GNOME:Factory", Parent: ""})
	if err != nil {
		t.Fatalf("Create project: %v", err)
	}
	otherID, err := projects.Create(bg, ProjectRecord{Name: "other"})
	if err != nil {
		t.Fatalf("Create project: %v", err)
	}

	srcID, err := packages.Create(bg, SrcPackageRecord{ProjectID: projectID, Name: "gedit", Version: "3.38.1"})
	if err != nil {
		t.Fatalf("Create srcpackage: %v", err)
	}
	otherSrc, err := packages.Create(bg, SrcPackageRecord{ProjectID: otherID, Name: "gedit"})
	if err != nil {
		t.Fatalf("Create srcpackage: %v", err)
	}

	for _, id := range []int64{srcID, otherSrc} {
		if err := children.CreateBinaryPackage(bg, BinaryPackageRecord{SrcPackageID: id, Name: "gedit"}); err != nil {
			t.Fatalf("CreateBinaryPackage: %v", err)
		}
		if err := children.CreatePatch(bg, PatchRecord{SrcPackageID: id, Filename: "fix.patch", ApplyOrder: -1, Disabled: true}); err != nil {
			t.Fatalf("CreatePatch: %v", err)
		}
		if err := children.CreateFile(bg, FileRecord{SrcPackageID: id, Filename: "gedit.spec", Mtime: 1}); err != nil {
			t.Fatalf("CreateFile: %v", err)
		}
	}

	if err := projects.Delete(bg, projectID); err != nil {
		t.Fatalf("Delete project: %v", err)
	}

	assertCount(t, ctx.DB, "project", 1)
	assertCount(t, ctx.DB, "srcpackage", 1)
	assertCount(t, ctx.DB, "package", 1)
	assertCount(t, ctx.DB, "patch", 1)
	assertCount(t, ctx.DB, "file", 1)

	if _, err := projects.FindByName(bg, "GNOME:Factory"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInTxRollsBack(t *testing.T) {
	ctx := setupTestDB(t, catalogMigrations())
	bg := context.Background()

	failure := errors.New("boom")
	err := InTx(bg, ctx, func(tx *Context) error {
		if _, err := NewProjectRepository(tx).Create(bg, ProjectRecord{Name: "A"}); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected the callback error, got %v", err)
	}
	assertCount(t, ctx.DB, "project", 0)

	err = InTx(bg, ctx, func(tx *Context) error {
		_, err := NewProjectRepository(tx).Create(bg, ProjectRecord{Name: "A"})
		return err
	})
	if err != nil {
		t.Fatalf("InTx returned error: %v", err)
	}
	assertCount(t, ctx.DB, "project", 1)
}

func TestUpstreamChangedSince(t *testing.T) {
	ctx := setupTestDB(t, upstreamMigrations())
	bg := context.Background()
	repo := NewUpstreamRepository(ctx)

	branch, err := repo.Branch(bg, "latest")
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	again, err := repo.Branch(bg, "latest")
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if again.ID != branch.ID {
		t.Fatalf("expected the same branch id, got %d and %d", branch.ID, again.ID)
	}

	if err := repo.Create(bg, branch.ID, UpstreamRecord{Name: "gedit", Version: "3.38.1", UpdatedAt: 100}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(bg, branch.ID, UpstreamRecord{Name: "gtk", Version: "4.0", UpdatedAt: 200}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.MarkRemoved(bg, "latest", "glib", 300); err != nil {
		t.Fatalf("MarkRemoved: %v", err)
	}

	changed, err := repo.ChangedSince(bg, 150)
	if err != nil {
		t.Fatalf("ChangedSince: %v", err)
	}
	want := []ChangedName{{Branch: "latest", Name: "glib"}, {Branch: "latest", Name: "gtk"}}
	if len(changed) != len(want) {
		t.Fatalf("expected %v, got %v", want, changed)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, changed)
		}
	}

	rec, err := repo.Find(bg, "latest", "gedit")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rec.Version != "3.38.1" || rec.Branch != "latest" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("tableExists query failed for %s: %v", table, err)
	}
	return true
}

func assertCount(t *testing.T, db *sql.DB, table string, expected int) {
	t.Helper()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		t.Fatalf("count query failed for %s: %v", table, err)
	}
	if count != expected {
		t.Fatalf("expected %s to have %d rows, got %d", table, expected, count)
	}
}
