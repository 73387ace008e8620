// Package storage implements the storage source on the local filesystem.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/logger"
	"github.com/kailas-cloud/cmskit/internal/usecase/upload"
)

// Compile-time check: Local implements upload.StorageSource.
var _ upload.StorageSource = (*Local)(nil)

// ErrTooLarge signals an upload above the configured size limit.
var ErrTooLarge = errors.New("file too large")

// Object describes a stored file.
type Object struct {
	Path   string
	Size   int64
	SHA256 string
}

// Local stores files under a root directory and serves them under a base
// URL. Download URLs are cached per path for the lifetime of the instance.
type Local struct {
	root     string
	baseURL  string
	maxBytes int64

	urls sync.Map // path -> url
}

// NewLocal creates the root directory if needed. maxBytes <= 0 disables
// the size limit.
func NewLocal(root, baseURL string, maxBytes int64) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: root, baseURL: strings.TrimSuffix(baseURL, "/"), maxBytes: maxBytes}, nil
}

// UploadFile writes the file to <root>/<path>/<file name> and returns the
// stored path relative to the root.
func (l *Local) UploadFile(ctx context.Context, req upload.UploadRequest) (upload.UploadResult, error) {
	if req.File == nil || req.File.Body == nil {
		return upload.UploadResult{}, fmt.Errorf("upload without content: %w", domain.ErrInvalidPath)
	}
	rel, err := cleanPath(path.Join(req.Path, req.FileName))
	if err != nil {
		return upload.UploadResult{}, err
	}
	obj, err := l.write(rel, req.File.Body)
	if err != nil {
		return upload.UploadResult{}, err
	}
	l.urls.Delete(rel)

	logger.FromContext(ctx).Info("File stored",
		zap.String("path", obj.Path),
		zap.Int64("size", obj.Size),
		zap.String("sha256", obj.SHA256),
		zap.Any("metadata", req.Metadata),
	)
	return upload.UploadResult{Path: obj.Path}, nil
}

func (l *Local) write(rel string, body io.Reader) (Object, error) {
	full := filepath.Join(l.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Object{}, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if l.maxBytes > 0 {
		body = io.LimitReader(body, l.maxBytes+1)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Object{}, fmt.Errorf("write file: %w", err)
	}
	if l.maxBytes > 0 && n > l.maxBytes {
		return Object{}, fmt.Errorf("file exceeds %d bytes: %w", l.maxBytes, ErrTooLarge)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return Object{}, fmt.Errorf("rename file: %w", err)
	}
	return Object{Path: rel, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// GetDownloadURL returns the public URL of a stored path.
func (l *Local) GetDownloadURL(_ context.Context, p string) (string, error) {
	rel, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if u, ok := l.urls.Load(rel); ok {
		return u.(string), nil
	}
	if _, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(rel))); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file %s: %w", rel, domain.ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}
	u := l.baseURL + "/" + (&url.URL{Path: rel}).EscapedPath()
	l.urls.Store(rel, u)
	return u, nil
}

// HealthCheck verifies the root directory is still a reachable directory.
func (l *Local) HealthCheck(_ context.Context) error {
	fi, err := os.Stat(l.root)
	if err != nil {
		return fmt.Errorf("stat storage root: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", l.root)
	}
	return nil
}

// Open returns the stored file for serving.
func (l *Local) Open(p string) (*os.File, error) {
	rel, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.root, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s: %w", rel, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	return f, nil
}

// cleanPath turns a storage path into a slash-separated path relative to
// the root, rejecting paths escaping it.
func cleanPath(p string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("storage path %q: %w", p, domain.ErrInvalidPath)
	}
	return rel, nil
}
