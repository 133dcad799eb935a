package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/quizsmith/quizsmith-backend/internal/observability"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

const (
	gcsOpTimeout     = 2 * time.Minute
	gcsWriteAttempts = 3
)

type gcsStore struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
	base   string
}

// GCSConfig configures the cloud backend. Credentials come from the ambient
// GCP environment unless CredentialsFile is set.
type GCSConfig struct {
	Bucket          string
	BasePrefix      string
	CredentialsFile string
}

// NewGCS returns a Store backed by a GCS bucket under cfg.BasePrefix.
func NewGCS(ctx context.Context, log *logger.Logger, cfg GCSConfig) (Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, &StorageError{Backend: BackendCloud, Op: "init", Cause: errors.New("bucket name required")}
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, &StorageError{Backend: BackendCloud, Op: "init", Cause: fmt.Errorf("failed to create storage client: %w", err)}
	}
	base := strings.Trim(strings.TrimSpace(cfg.BasePrefix), "/")
	log.Info("GCS content store ready", "bucket", cfg.Bucket, "base", base)
	return &gcsStore{
		log:    log.With("service", "GCSContentStore"),
		client: client,
		bucket: cfg.Bucket,
		base:   base,
	}, nil
}

func (s *gcsStore) BasePath() string { return s.base }
func (s *gcsStore) Backend() string  { return BackendCloud }

func (s *gcsStore) key(rel string) string {
	if s.base == "" {
		return rel
	}
	return s.base + "/" + rel
}

func isTransientGCS(err error) bool {
	if err == nil {
		return false
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code == 429 || ge.Code >= 500
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func (s *gcsStore) CreatePath(ctx context.Context, identifier string) (string, error) {
	// Object stores have no real directories; validate and hand the prefix
	// back so Save can lay objects under it.
	if err := validatePath(identifier); err != nil {
		return "", &StorageError{Backend: BackendCloud, Op: "create_path", Path: identifier, Cause: err}
	}
	observability.ObserveStorageOp(BackendCloud, "create_path", "ok")
	return identifier, nil
}

func (s *gcsStore) Save(ctx context.Context, path, filename string, content any) error {
	if err := validatePath(path); err != nil {
		return &StorageError{Backend: BackendCloud, Op: "save", Path: path, Cause: err}
	}
	if err := validateFilename(filename); err != nil {
		return &StorageError{Backend: BackendCloud, Op: "save", Path: path + "/" + filename, Cause: err}
	}
	data, err := coerceContent(content)
	if err != nil {
		return &StorageError{Backend: BackendCloud, Op: "save", Path: path + "/" + filename, Cause: err}
	}

	rel := path + "/" + filename
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < gcsWriteAttempts; attempt++ {
		lastErr = s.writeOnce(ctx, rel, data)
		if lastErr == nil {
			observability.ObserveStorageOp(BackendCloud, "save", "ok")
			return nil
		}
		if !isTransientGCS(lastErr) {
			break
		}
		s.log.Warn("GCS write retrying", "path", rel, "attempt", attempt+1, "error", lastErr)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = gcsWriteAttempts
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	observability.ObserveStorageOp(BackendCloud, "save", "error")
	return &StorageError{Backend: BackendCloud, Op: "save", Path: rel, Cause: lastErr}
}

func (s *gcsStore) writeOnce(ctx context.Context, rel string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()
	w := s.client.Bucket(s.bucket).Object(s.key(rel)).NewWriter(ctx)
	if ct := contentTypeForKey(rel); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *gcsStore) Read(ctx context.Context, path, filename string) ([]byte, error) {
	if err := validatePath(path); err != nil {
		return nil, &StorageError{Backend: BackendCloud, Op: "read", Path: path, Cause: err}
	}
	if err := validateSegment(filename); err != nil {
		return nil, &StorageError{Backend: BackendCloud, Op: "read", Path: path + "/" + filename, Cause: err}
	}
	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()

	rel := path + "/" + filename
	r, err := s.client.Bucket(s.bucket).Object(s.key(rel)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Backend: BackendCloud, Op: "read", Path: rel, Cause: err}
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &StorageError{Backend: BackendCloud, Op: "read", Path: rel, Cause: err}
	}
	return data, nil
}

func (s *gcsStore) Exists(ctx context.Context, path, filename string) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, &StorageError{Backend: BackendCloud, Op: "exists", Path: path, Cause: err}
	}
	rel := path
	if filename != "" {
		if err := validateSegment(filename); err != nil {
			return false, &StorageError{Backend: BackendCloud, Op: "exists", Path: path + "/" + filename, Cause: err}
		}
		rel = path + "/" + filename
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := s.client.Bucket(s.bucket).Object(s.key(rel)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		// May still be a prefix with objects under it.
		keys, listErr := s.listKeys(ctx, rel+"/")
		if listErr != nil {
			return false, listErr
		}
		return len(keys) > 0, nil
	}
	return false, &StorageError{Backend: BackendCloud, Op: "exists", Path: rel, Cause: err}
}

func (s *gcsStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.key(prefix)})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &StorageError{Backend: BackendCloud, Op: "list", Path: prefix, Cause: err}
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (s *gcsStore) List(ctx context.Context, path string) ([]string, error) {
	if err := validatePath(path); err != nil {
		return nil, &StorageError{Backend: BackendCloud, Op: "list", Path: path, Cause: err}
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	keys, err := s.listKeys(ctx, path+"/")
	if err != nil {
		return nil, err
	}
	prefix := s.key(path) + "/"
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if name != "" && !strings.Contains(name, "/") {
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *gcsStore) ListDirs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	prefix := ""
	if s.base != "" {
		prefix = s.base + "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &StorageError{Backend: BackendCloud, Op: "list_dirs", Path: ".", Cause: err}
		}
		if attrs.Prefix != "" {
			dir := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/")
			if dir != "" {
				out = append(out, dir)
			}
		}
	}
	return out, nil
}

func (s *gcsStore) Delete(ctx context.Context, path, filename string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	rel := path + "/" + filename
	err := s.client.Bucket(s.bucket).Object(s.key(rel)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return &StorageError{Backend: BackendCloud, Op: "delete", Path: rel, Cause: err}
	}
	return nil
}

func (s *gcsStore) DeleteTree(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return &StorageError{Backend: BackendCloud, Op: "delete_tree", Path: path, Cause: err}
	}
	keys, err := s.listKeys(ctx, path+"/")
	if err != nil {
		return err
	}
	for _, k := range keys {
		ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
		delErr := s.client.Bucket(s.bucket).Object(k).Delete(ctx2)
		cancel()
		if delErr != nil && !errors.Is(delErr, storage.ErrObjectNotExist) {
			observability.ObserveStorageOp(BackendCloud, "delete_tree", "error")
			return &StorageError{Backend: BackendCloud, Op: "delete_tree", Path: path, Cause: delErr}
		}
	}
	observability.ObserveStorageOp(BackendCloud, "delete_tree", "ok")
	return nil
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".html"):
		return "text/html"
	case strings.HasSuffix(s, ".js"):
		return "text/javascript"
	case strings.HasSuffix(s, ".py"):
		return "text/x-python"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(s, ".csv"):
		return "text/csv"
	case strings.HasSuffix(s, ".txt"):
		return "text/plain"
	default:
		return ""
	}
}
