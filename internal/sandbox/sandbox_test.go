package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func newRoot(t *testing.T) *Root {
	t.Helper()
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestResolveRelativeWithinRoot(t *testing.T) {
	r := newRoot(t)

	resolved, err := r.Resolve("subdir/file.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(r.Dir(), "subdir", "file.txt"); resolved != want {
		t.Errorf("got %q, want %q", resolved, want)
	}
}

func TestResolveAbsoluteWithinRoot(t *testing.T) {
	r := newRoot(t)
	abs := filepath.Join(r.Dir(), "a", "b.go")

	resolved, err := r.Resolve(abs)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved != abs {
		t.Errorf("got %q, want %q", resolved, abs)
	}
}

func TestResolveRootItself(t *testing.T) {
	r := newRoot(t)
	resolved, err := r.Resolve(".")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved != r.Dir() {
		t.Errorf("got %q, want %q", resolved, r.Dir())
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	r := newRoot(t)

	for _, p := range []string{
		"../escape.txt",
		"subdir/../../escape.txt",
		"a/b/c/../../../../escape.txt",
		filepath.Join(filepath.Dir(r.Dir()), "sibling.txt"),
		r.Dir() + "2/file.txt",
	} {
		if _, err := r.Resolve(p); !errors.Is(err, ErrEscape) {
			t.Errorf("Resolve(%q) = %v, want ErrEscape", p, err)
		}
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not reliable on Windows")
	}

	r := newRoot(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(r.Dir(), "escape-link")); err != nil {
		t.Fatalf("creating symlink: %v", err)
	}

	if _, err := r.Resolve("escape-link/file.txt"); !errors.Is(err, ErrEscape) {
		t.Fatalf("expected ErrEscape, got %v", err)
	}
}

func TestResolveAllowsInternalSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not reliable on Windows")
	}

	r := newRoot(t)
	realDir := filepath.Join(r.Dir(), "real")
	if err := os.MkdirAll(realDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(realDir, filepath.Join(r.Dir(), "link")); err != nil {
		t.Fatal(err)
	}

	resolved, err := r.Resolve("link/file.txt")
	if err != nil {
		t.Fatalf("internal symlink should resolve: %v", err)
	}
	if want := filepath.Join(realDir, "file.txt"); resolved != want {
		t.Errorf("got %q, want %q", resolved, want)
	}
}

func TestNewInvalidRoot(t *testing.T) {
	if _, err := New("/nonexistent-root-dir-12345"); err == nil {
		t.Fatal("expected error for non-existent root")
	}
}

func TestWriteFileOverwritesAtomically(t *testing.T) {
	r := newRoot(t)
	path := filepath.Join(r.Dir(), "file.txt")

	if err := r.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.WriteFile(path, []byte("updated"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "updated" {
		t.Errorf("content = %q, want %q", data, "updated")
	}

	entries, _ := os.ReadDir(r.Dir())
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, found %d entries", len(entries))
	}
}

func TestWriteFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission test not reliable on Windows")
	}

	r := newRoot(t)
	if err := r.WriteFile("secret.txt", []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	info, err := os.Stat(filepath.Join(r.Dir(), "secret.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestWriteFileRequiresParent(t *testing.T) {
	r := newRoot(t)
	if err := r.WriteFile("missing/file.txt", []byte("x"), 0o644); err == nil {
		t.Fatal("expected error when the parent directory is missing")
	}
}

func TestWriteFileRejectsEscape(t *testing.T) {
	r := newRoot(t)
	if err := r.WriteFile("../escape.txt", []byte("bad"), 0o644); !errors.Is(err, ErrEscape) {
		t.Fatalf("expected ErrEscape, got %v", err)
	}
}

func TestCopyFile(t *testing.T) {
	r := newRoot(t)
	src := filepath.Join(r.Dir(), "src.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o640); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(r.Dir(), "dst.txt")
	if err := r.CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}

	data, _ := os.ReadFile(dst)
	if string(data) != "payload" {
		t.Errorf("content = %q, want %q", data, "payload")
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source should remain: %v", err)
	}
}

func TestCopyFileMissingSource(t *testing.T) {
	r := newRoot(t)
	err := r.CopyFile("nope.txt", "dst.txt")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	r := newRoot(t)
	if err := r.WriteFile("to-delete.txt", []byte("bye"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("to-delete.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(r.Dir(), "to-delete.txt")); !os.IsNotExist(err) {
		t.Error("file should be removed")
	}
}

func TestRemoveRejectsEscape(t *testing.T) {
	r := newRoot(t)
	if err := r.Remove("../escape.txt"); !errors.Is(err, ErrEscape) {
		t.Fatalf("expected ErrEscape, got %v", err)
	}
}

func TestMkdirAll(t *testing.T) {
	r := newRoot(t)
	if err := r.MkdirAll("a/b/c", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	info, err := os.Stat(filepath.Join(r.Dir(), "a", "b", "c"))
	if err != nil {
		t.Fatalf("directory should exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("should be a directory")
	}

	if err := r.MkdirAll("a/b/c", 0o755); err != nil {
		t.Errorf("MkdirAll on existing directory: %v", err)
	}
}

func TestMkdirAllRejectsEscape(t *testing.T) {
	r := newRoot(t)
	if err := r.MkdirAll("../outside", 0o755); !errors.Is(err, ErrEscape) {
		t.Fatalf("expected ErrEscape, got %v", err)
	}
}
