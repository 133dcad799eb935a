package contentstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/quizsmith/quizsmith-backend/internal/observability"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

type localStore struct {
	log      *logger.Logger
	basepath string
}

// NewLocal returns a Store rooted at basepath on the local filesystem.
func NewLocal(log *logger.Logger, basepath string) (Store, error) {
	if basepath == "" {
		return nil, &StorageError{Backend: BackendLocal, Op: "init", Cause: errors.New("base directory required")}
	}
	abs, err := filepath.Abs(basepath)
	if err != nil {
		return nil, &StorageError{Backend: BackendLocal, Op: "init", Path: basepath, Cause: err}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &StorageError{Backend: BackendLocal, Op: "init", Path: abs, Cause: err}
	}
	log.Info("Local content store ready", "base", abs)
	return &localStore{log: log.With("service", "LocalContentStore"), basepath: abs}, nil
}

func (s *localStore) BasePath() string { return s.basepath }
func (s *localStore) Backend() string  { return BackendLocal }

func (s *localStore) fullpath(rel string) string {
	return filepath.Join(s.basepath, filepath.FromSlash(rel))
}

func (s *localStore) CreatePath(ctx context.Context, identifier string) (string, error) {
	_ = ctx
	if err := validatePath(identifier); err != nil {
		return "", &StorageError{Backend: BackendLocal, Op: "create_path", Path: identifier, Cause: err}
	}
	if err := os.MkdirAll(s.fullpath(identifier), 0o755); err != nil {
		observability.ObserveStorageOp(BackendLocal, "create_path", "error")
		return "", &StorageError{Backend: BackendLocal, Op: "create_path", Path: identifier, Cause: err}
	}
	observability.ObserveStorageOp(BackendLocal, "create_path", "ok")
	return identifier, nil
}

func (s *localStore) Save(ctx context.Context, path, filename string, content any) error {
	_ = ctx
	if err := validatePath(path); err != nil {
		return &StorageError{Backend: BackendLocal, Op: "save", Path: path, Cause: err}
	}
	if err := validateFilename(filename); err != nil {
		return &StorageError{Backend: BackendLocal, Op: "save", Path: path + "/" + filename, Cause: err}
	}
	data, err := coerceContent(content)
	if err != nil {
		return &StorageError{Backend: BackendLocal, Op: "save", Path: path + "/" + filename, Cause: err}
	}
	full := s.fullpath(path + "/" + filename)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		observability.ObserveStorageOp(BackendLocal, "save", "error")
		return &StorageError{Backend: BackendLocal, Op: "save", Path: path + "/" + filename, Cause: err}
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		observability.ObserveStorageOp(BackendLocal, "save", "error")
		return &StorageError{Backend: BackendLocal, Op: "save", Path: path + "/" + filename, Cause: err}
	}
	observability.ObserveStorageOp(BackendLocal, "save", "ok")
	return nil
}

func (s *localStore) Read(ctx context.Context, path, filename string) ([]byte, error) {
	_ = ctx
	if err := validatePath(path); err != nil {
		return nil, &StorageError{Backend: BackendLocal, Op: "read", Path: path, Cause: err}
	}
	if err := validateSegment(filename); err != nil {
		return nil, &StorageError{Backend: BackendLocal, Op: "read", Path: path + "/" + filename, Cause: err}
	}
	data, err := os.ReadFile(s.fullpath(path + "/" + filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Backend: BackendLocal, Op: "read", Path: path + "/" + filename, Cause: err}
	}
	return data, nil
}

func (s *localStore) Exists(ctx context.Context, path, filename string) (bool, error) {
	_ = ctx
	if err := validatePath(path); err != nil {
		return false, &StorageError{Backend: BackendLocal, Op: "exists", Path: path, Cause: err}
	}
	target := path
	if filename != "" {
		if err := validateSegment(filename); err != nil {
			return false, &StorageError{Backend: BackendLocal, Op: "exists", Path: path + "/" + filename, Cause: err}
		}
		target = path + "/" + filename
	}
	_, err := os.Stat(s.fullpath(target))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &StorageError{Backend: BackendLocal, Op: "exists", Path: target, Cause: err}
}

func (s *localStore) List(ctx context.Context, path string) ([]string, error) {
	_ = ctx
	if err := validatePath(path); err != nil {
		return nil, &StorageError{Backend: BackendLocal, Op: "list", Path: path, Cause: err}
	}
	entries, err := os.ReadDir(s.fullpath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, &StorageError{Backend: BackendLocal, Op: "list", Path: path, Cause: err}
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (s *localStore) ListDirs(ctx context.Context) ([]string, error) {
	_ = ctx
	entries, err := os.ReadDir(s.basepath)
	if err != nil {
		return nil, &StorageError{Backend: BackendLocal, Op: "list_dirs", Path: ".", Cause: err}
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (s *localStore) Delete(ctx context.Context, path, filename string) error {
	_ = ctx
	if err := validatePath(path); err != nil {
		return &StorageError{Backend: BackendLocal, Op: "delete", Path: path, Cause: err}
	}
	if err := validateSegment(filename); err != nil {
		return &StorageError{Backend: BackendLocal, Op: "delete", Path: path + "/" + filename, Cause: err}
	}
	err := os.Remove(s.fullpath(path + "/" + filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Backend: BackendLocal, Op: "delete", Path: path + "/" + filename, Cause: err}
	}
	return nil
}

func (s *localStore) DeleteTree(ctx context.Context, path string) error {
	_ = ctx
	if err := validatePath(path); err != nil {
		return &StorageError{Backend: BackendLocal, Op: "delete_tree", Path: path, Cause: err}
	}
	if err := os.RemoveAll(s.fullpath(path)); err != nil {
		observability.ObserveStorageOp(BackendLocal, "delete_tree", "error")
		return &StorageError{Backend: BackendLocal, Op: "delete_tree", Path: path, Cause: err}
	}
	observability.ObserveStorageOp(BackendLocal, "delete_tree", "ok")
	return nil
}
