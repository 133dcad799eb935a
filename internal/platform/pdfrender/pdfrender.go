// Package pdfrender rasterizes PDF pages to images via poppler-utils.
// Required binaries in the runtime: pdftoppm and pdfinfo.
package pdfrender

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quizsmith/quizsmith-backend/internal/platform/ctxutil"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

const baseDPI = 72

// Renderer turns PDF bytes into per-page PNG images.
type Renderer interface {
	AssertReady(ctx context.Context) error
	CountPages(ctx context.Context, pdf []byte) (int, error)
	// RenderPages rasterizes up to maxPages pages (0 means all) at the given
	// zoom factor. Zoom 1.0 renders at 72 DPI.
	RenderPages(ctx context.Context, pdf []byte, zoom float64, maxPages int) ([][]byte, error)
}

type renderer struct {
	log *logger.Logger

	pdftoppmPath string
	pdfinfoPath  string
	workRoot     string

	defaultTimeout time.Duration
}

func New(log *logger.Logger) Renderer {
	return &renderer{
		log:            log.With("service", "PDFRender"),
		pdftoppmPath:   "pdftoppm",
		pdfinfoPath:    "pdfinfo",
		workRoot:       filepath.Join(os.TempDir(), "quizsmith-pdfrender"),
		defaultTimeout: 5 * time.Minute,
	}
}

func (r *renderer) AssertReady(ctx context.Context) error {
	for _, bin := range []string{r.pdftoppmPath, r.pdfinfoPath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	if err := os.MkdirAll(r.workRoot, 0o755); err != nil {
		return fmt.Errorf("create work root: %w", err)
	}
	return nil
}

func (r *renderer) writeTemp(pdf []byte) (string, func(), error) {
	if err := os.MkdirAll(r.workRoot, 0o755); err != nil {
		return "", nil, fmt.Errorf("create work root: %w", err)
	}
	f, err := os.CreateTemp(r.workRoot, "doc-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create temp pdf: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(pdf); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", nil, fmt.Errorf("close temp pdf: %w", err)
	}
	return name, func() { _ = os.Remove(name) }, nil
}

func (r *renderer) CountPages(ctx context.Context, pdf []byte) (int, error) {
	ctx = ctxutil.Default(ctx)
	if len(pdf) == 0 {
		return 0, fmt.Errorf("empty pdf")
	}
	path, cleanup, err := r.writeTemp(pdf)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.pdfinfoPath, path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed: %w; out=%s", err, string(out))
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		n, convErr := strconv.Atoi(fields[len(fields)-1])
		if convErr != nil || n <= 0 {
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo output missing Pages field")
}

func (r *renderer) RenderPages(ctx context.Context, pdf []byte, zoom float64, maxPages int) ([][]byte, error) {
	ctx = ctxutil.Default(ctx)
	if len(pdf) == 0 {
		return nil, fmt.Errorf("empty pdf")
	}
	if zoom <= 0 {
		zoom = 1.0
	}
	dpi := int(zoom * baseDPI)
	if dpi < baseDPI {
		dpi = baseDPI
	}

	path, cleanup, err := r.writeTemp(pdf)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outDir, err := os.MkdirTemp(r.workRoot, "pages-*")
	if err != nil {
		return nil, fmt.Errorf("create page dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	ctx, cancel := context.WithTimeout(ctx, r.defaultTimeout)
	defer cancel()

	prefix := filepath.Join(outDir, "page")
	args := []string{"-r", strconv.Itoa(dpi), "-png"}
	if maxPages > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(maxPages))
	}
	args = append(args, path, prefix)

	cmd := exec.CommandContext(ctx, r.pdftoppmPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w; out=%s", err, string(out))
	}

	paths, err := globSorted(outDir, `^page-?\d+\.png$`)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images produced by pdftoppm; out=%s", string(out))
	}

	pages := make([][]byte, 0, len(paths))
	for _, p := range paths {
		b, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil, fmt.Errorf("read rendered page %s: %w", filepath.Base(p), readErr)
		}
		pages = append(pages, b)
	}
	r.log.Debug("rendered pdf pages", "pages", len(pages), "dpi", dpi)
	return pages, nil
}

func globSorted(dir, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read page dir: %w", err)
	}
	out := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if re.MatchString(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
