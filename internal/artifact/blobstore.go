// Package artifact implements the APK blob store (spec §4.2): a
// filesystem-backed Blobstore fronted by a ttlcache/v3 LRU+TTL cache,
// grounded on the teacher's use of jellydator/ttlcache/v3 in
// internal/api_server/middleware/enrollment_auth.go.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Blobstore is the storage-backend seam; the filesystem implementation
// below is the only one this service ships, but handlers depend on the
// interface so tests can substitute an in-memory fake.
type Blobstore interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// FileBlobstore stores each artifact as a single file under root,
// keyed by a caller-supplied opaque key (an APK version id).
type FileBlobstore struct {
	root string
}

func NewFileBlobstore(root string) (*FileBlobstore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blobstore root: %w", err)
	}
	return &FileBlobstore{root: root}, nil
}

func (f *FileBlobstore) path(key string) string {
	return filepath.Join(f.root, filepath.Base(key)+".apk")
}

func (f *FileBlobstore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	dst := f.path(key)
	tmp := dst + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("creating artifact temp file: %w", err)
	}
	n, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("writing artifact: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("closing artifact temp file: %w", closeErr)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("finalizing artifact: %w", err)
	}
	return n, nil
}

func (f *FileBlobstore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	file, err := os.Open(f.path(key))
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	return file, info.Size(), nil
}

func (f *FileBlobstore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(f.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *FileBlobstore) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
