package filesystem

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func TestWriteAtomicAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg", "pkg.spec")

	if err := WriteAtomic(path, []byte("hello world")); err != nil {
		t.Fatalf("WriteAtomic returned error: %v", err)
	}
	if FileExists(path + ".new") {
		t.Fatalf("expected temporary file to be renamed away")
	}

	// md5("hello world")
	ok, err := VerifyFile(path, "5eb63bbbe01eeed093cb22bb8f5acdc3")
	if err != nil {
		t.Fatalf("VerifyFile error: %v", err)
	}
	if !ok {
		t.Fatalf("VerifyFile expected true")
	}

	ok, err = VerifyFile(path, "00000000000000000000000000000000")
	if err != nil || ok {
		t.Fatalf("expected mismatch, got %v, %v", ok, err)
	}

	ok, err = VerifyFile(filepath.Join(t.TempDir(), "missing"), "x")
	if err != nil || ok {
		t.Fatalf("expected missing file to be unverified, got %v, %v", ok, err)
	}
}

func TestWriteIfChangedSkipsIdenticalContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "A.xml")

	changed, err := WriteIfChanged(path, []byte("<project/>"))
	if err != nil || !changed {
		t.Fatalf("expected first write to publish, got %v, %v", changed, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}

	changed, err = WriteIfChanged(path, []byte("<project/>"))
	if err != nil || changed {
		t.Fatalf("expected identical write to be skipped, got %v, %v", changed, err)
	}
	if FileExists(path + ".tmp") {
		t.Fatalf("expected no temporary file to be left behind")
	}

	again, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if !os.SameFile(info, again) {
		t.Fatalf("expected the published file to be untouched")
	}

	changed, err = WriteIfChanged(path, []byte("<project name=\"A\"/>"))
	if err != nil || !changed {
		t.Fatalf("expected changed content to publish, got %v, %v", changed, err)
	}
}

func TestSubDirsAndRemoveAll(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"a", "b"} {
		if err := os.MkdirAll(filepath.Join(root, dir, "inner"), 0o755); err != nil {
			t.Fatalf("mkdir error: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "_pkgmeta"), nil, 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}

	dirs, err := SubDirs(root)
	if err != nil {
		t.Fatalf("SubDirs error: %v", err)
	}
	sort.Strings(dirs)
	if !reflect.DeepEqual(dirs, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", dirs)
	}

	if err := RemoveAll(filepath.Join(root, "a")); err != nil {
		t.Fatalf("RemoveAll error: %v", err)
	}
	if err := RemoveAll(filepath.Join(root, "missing")); err != nil {
		t.Fatalf("RemoveAll on a missing dir error: %v", err)
	}
	if IsDir(filepath.Join(root, "a")) {
		t.Fatalf("expected a to be removed")
	}

	none, err := SubDirs(filepath.Join(root, "missing"))
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no dirs for a missing root, got %v, %v", none, err)
	}
}
