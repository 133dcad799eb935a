package pdfrender

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGlobSortedOrdersPages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"page-03.png", "page-01.png", "page-02.png", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	paths, err := globSorted(dir, `^page-?\d+\.png$`)
	if err != nil {
		t.Fatalf("globSorted: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 pages, got %v", paths)
	}
	if filepath.Base(paths[0]) != "page-01.png" || filepath.Base(paths[2]) != "page-03.png" {
		t.Fatalf("pages out of order: %v", paths)
	}
}
