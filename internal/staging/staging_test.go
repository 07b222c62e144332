package staging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPutAndGet(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path, err := s.Put("abc.txt", []byte("hello world"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if path != filepath.Join(s.Dir(), "abc.txt") {
		t.Errorf("path = %q", path)
	}

	got, found, err := s.Get("abc.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected staged file")
	}
	if string(got) != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestGetMiss(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, found, err := s.Get("missing.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected miss")
	}
	if s.Has("missing.txt") {
		t.Error("Has should be false")
	}
}

func TestPutIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	first, err := s.Put("x.go", []byte("package x\n"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Put("x.go", []byte("package x\n"))
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}

	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 1 {
		t.Errorf("expected exactly one staged file, got %d", len(entries))
	}
}

func TestPutConflictingContent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put("x.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put("x.txt", []byte("b")); err == nil {
		t.Fatal("expected error for different content under the same name")
	}
}

func TestPutRejectsPathNames(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		if _, err := s.Put(name, []byte("x")); err == nil {
			t.Errorf("Put(%q) should fail", name)
		}
	}
}

func TestNewCreatesDirError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(filepath.Join(blocker, "sub")); err == nil {
		t.Fatal("expected error when a file blocks the directory")
	}
}

func TestSize(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, _ = s.Put("a", []byte("12345"))
	_, _ = s.Put("b", []byte("123"))

	size, err := s.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != 8 {
		t.Errorf("size = %d, want 8", size)
	}
}

func TestDefaultLogDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/custom/state")
	if got := DefaultLogDir(); got != filepath.Join("/custom/state", "codemod-runner") {
		t.Errorf("got %q", got)
	}

	t.Setenv("XDG_STATE_HOME", "")
	if got := DefaultLogDir(); !filepath.IsAbs(got) {
		t.Errorf("DefaultLogDir should be absolute, got %q", got)
	}
}

func TestOpenExisting(t *testing.T) {
	dir := t.TempDir()
	created, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := created.Put("a.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !s.Has("a.txt") {
		t.Error("staged file not visible through Open")
	}

	if _, err := Open(filepath.Join(dir, "missing")); err == nil {
		t.Error("Open created or accepted a missing directory")
	}
	if _, err := Open(s.Path("a.txt")); err == nil {
		t.Error("Open accepted a file")
	}
}
