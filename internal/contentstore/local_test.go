package contentstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewLocal(logger.Nop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return store
}

func TestSafeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Projectile Motion Quiz", "Projectile_Motion_Quiz"},
		{"what is 2+2?", "what_is_22"},
		{"../../etc/passwd", "etcpasswd"},
		{"...", "untitled"},
		{"", "untitled"},
		{"a.b-c_d", "a.b-c_d"},
	}
	for _, c := range cases {
		if got := SafeName(c.in); got != c.want {
			t.Fatalf("SafeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSafeNameCapsLength(t *testing.T) {
	long := bytes.Repeat([]byte("a"), 300)
	got := SafeName(string(long))
	if len(got) != 100 {
		t.Fatalf("expected 100-char cap, got %d", len(got))
	}
}

func TestSaveReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	dir, err := store.CreatePath(ctx, "questions/q1")
	if err != nil {
		t.Fatalf("CreatePath: %v", err)
	}
	payload := []byte{0x00, 0x01, 0xFF, 0x7E}
	if err := store.Save(ctx, dir, "figure.png", payload); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Read(ctx, dir, "figure.png")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %v", got)
	}
}

func TestSaveCoercesJSON(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, err := store.CreatePath(ctx, "q2"); err != nil {
		t.Fatalf("CreatePath: %v", err)
	}
	if err := store.Save(ctx, "q2", "metadata.json", map[string]any{"title": "T", "n": 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Read(ctx, "q2", "metadata.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if want := `{"n":1,"title":"T"}`; string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestReadMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Read(context.Background(), "nowhere", "missing.txt")
	if err != nil {
		t.Fatalf("Read of missing object should not error, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing object, got %v", got)
	}
}

func TestSaveRejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, err := store.CreatePath(ctx, "q3"); err != nil {
		t.Fatalf("CreatePath: %v", err)
	}

	bad := []struct {
		path, name string
	}{
		{"../q3", "a.txt"},
		{"q3", "../a.txt"},
		{"q3", "no_extension"},
		{"q3", "shell.sh"},
		{"/abs", "a.txt"},
		{"q3", "space name.txt"},
	}
	for _, c := range bad {
		err := store.Save(ctx, c.path, c.name, "x")
		if err == nil {
			t.Fatalf("Save(%q, %q) should fail", c.path, c.name)
		}
		var se *StorageError
		if !errors.As(err, &se) {
			t.Fatalf("expected StorageError, got %T", err)
		}
	}
}

func TestExistsRejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	bad := []struct {
		path, name string
	}{
		{"../q4", "a.txt"},
		{"q4", "../a.txt"},
		{"/abs", "a.txt"},
		{"q4", "space name.txt"},
	}
	for _, c := range bad {
		_, err := store.Exists(ctx, c.path, c.name)
		if err == nil {
			t.Fatalf("Exists(%q, %q) should fail", c.path, c.name)
		}
		var se *StorageError
		if !errors.As(err, &se) {
			t.Fatalf("expected StorageError, got %T", err)
		}
	}
}

func TestListAndDirs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, dir := range []string{"alpha", "beta"} {
		if _, err := store.CreatePath(ctx, dir); err != nil {
			t.Fatalf("CreatePath(%s): %v", dir, err)
		}
	}
	if err := store.Save(ctx, "alpha", "question.html", "<html/>"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, "alpha", "server.js", "module.exports = {}"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	files, err := store.List(ctx, "alpha")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}

	dirs, err := store.ListDirs(ctx)
	if err != nil {
		t.Fatalf("ListDirs: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 dirs, got %v", dirs)
	}

	empty, err := store.List(ctx, "missing")
	if err != nil {
		t.Fatalf("List of missing dir: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty listing, got %v", empty)
	}
}

func TestDeleteTree(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, err := store.CreatePath(ctx, "doomed"); err != nil {
		t.Fatalf("CreatePath: %v", err)
	}
	if err := store.Save(ctx, "doomed", "a.txt", "x"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.DeleteTree(ctx, "doomed"); err != nil {
		t.Fatalf("DeleteTree: %v", err)
	}
	ok, err := store.Exists(ctx, "doomed", "a.txt")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatalf("tree should be gone")
	}
	// Deleting again is a no-op.
	if err := store.DeleteTree(ctx, "doomed"); err != nil {
		t.Fatalf("second DeleteTree should be a no-op, got %v", err)
	}
}
