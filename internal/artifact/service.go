package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"
)

const (
	minUploadBytes  = 1 << 20       // 1MB
	maxUploadBytes  = 500 << 20     // 500MB
	streamThreshold = 50 << 20      // 50MB: bypass cache, stream in chunks
	streamChunkSize = 1 << 20       // 1MB
	defaultCacheCap = 200 << 20     // 200MB
	defaultCacheTTL = time.Hour
)

var allowedExtensions = map[string]bool{".apk": true}

var uploadRetryBackoff = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// cachedBlob holds a fully materialized artifact body for the LRU+TTL
// cache; only artifacts under streamThreshold are cached (spec §4.2).
type cachedBlob struct {
	data   []byte
	sha256 string
}

// Service wraps a Blobstore with the upload-validation, retry, and
// cache-fronted download behavior the spec requires, following the
// teacher's ttlcache.New(ttlcache.WithTTL[K,V](...)) usage pattern in
// internal/api_server/middleware/enrollment_auth.go.
type Service struct {
	store Blobstore
	cache *ttlcache.Cache[string, cachedBlob]
	log   logrus.FieldLogger
}

func NewService(store Blobstore, log logrus.FieldLogger) *Service {
	cache := ttlcache.New[string, cachedBlob](
		ttlcache.WithTTL[string, cachedBlob](defaultCacheTTL),
		ttlcache.WithCapacity[string, cachedBlob](capacityEntries()),
	)
	go cache.Start()
	return &Service{store: store, cache: cache, log: log}
}

// capacityEntries is a crude entry-count cap standing in for the byte
// budget from spec §4.2 (ttlcache bounds by entry count, not bytes);
// assuming an average artifact well under the cap keeps this close
// enough to the intended 200MB working set.
func capacityEntries() uint64 {
	return uint64(defaultCacheCap / (10 << 20))
}

func (s *Service) Stop() {
	s.cache.Stop()
}

// ValidateUpload enforces the filename extension and size bounds from
// spec §4.2 before any bytes are written.
func ValidateUpload(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return apperr.New(apperr.BadRequest, "unsupported artifact extension")
	}
	if size < minUploadBytes {
		return apperr.New(apperr.BadRequest, "artifact too small")
	}
	if size > maxUploadBytes {
		return apperr.New(apperr.BadRequest, "artifact exceeds maximum size")
	}
	return nil
}

// Upload writes the artifact, retrying transient store failures with
// the same fixed backoff ladder the teacher's alertmanager client uses
// (0.5s/1s/2s), then verifies the write landed before returning (spec
// §4.2 "verify presence after write").
func (s *Service) Upload(ctx context.Context, key string, r io.Reader) (int64, string, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return 0, "", apperr.Wrap(apperr.Internal, "reading upload body", err)
	}
	sum := sha256.Sum256(buf)
	checksum := hex.EncodeToString(sum[:])

	var written int64
	var uploadErr error
	for attempt := 0; attempt <= len(uploadRetryBackoff); attempt++ {
		written, uploadErr = s.store.Put(ctx, key, bytes.NewReader(buf))
		if uploadErr == nil {
			break
		}
		if attempt == len(uploadRetryBackoff) {
			break
		}
		s.log.WithError(uploadErr).WithField("attempt", attempt+1).Warn("retrying artifact upload")
		select {
		case <-time.After(uploadRetryBackoff[attempt]):
		case <-ctx.Done():
			return 0, "", apperr.Wrap(apperr.Internal, "upload canceled", ctx.Err())
		}
	}
	if uploadErr != nil {
		return 0, "", apperr.Wrap(apperr.Internal, "uploading artifact", uploadErr)
	}

	exists, err := s.store.Exists(ctx, key)
	if err != nil || !exists {
		return 0, "", apperr.New(apperr.Internal, "artifact upload did not verify")
	}

	if written <= streamThreshold {
		s.cache.Set(key, cachedBlob{data: buf, sha256: checksum}, ttlcache.DefaultTTL)
	}

	return written, checksum, nil
}

// DownloadResult carries the body plus the metadata the HTTP layer
// needs for its response headers (spec §4.2).
type DownloadResult struct {
	Body      io.ReadCloser
	Size      int64
	SHA256    string
	CacheHit  bool
	Streaming bool
}

// Download serves from cache when possible; artifacts over
// streamThreshold always bypass the cache and stream directly from
// the backing store in fixed-size chunks (spec §4.2).
func (s *Service) Download(ctx context.Context, key string) (*DownloadResult, error) {
	if item := s.cache.Get(key); item != nil {
		blob := item.Value()
		return &DownloadResult{
			Body:     io.NopCloser(bytes.NewReader(blob.data)),
			Size:     int64(len(blob.data)),
			SHA256:   blob.sha256,
			CacheHit: true,
		}, nil
	}

	body, size, err := s.store.Open(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "artifact not found", err)
	}

	if size > streamThreshold {
		return &DownloadResult{Body: newChunkedReader(body, streamChunkSize), Size: size, Streaming: true}, nil
	}

	buf, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "reading artifact", err)
	}
	sum := sha256.Sum256(buf)
	checksum := hex.EncodeToString(sum[:])
	s.cache.Set(key, cachedBlob{data: buf, sha256: checksum}, ttlcache.DefaultTTL)

	return &DownloadResult{
		Body:   io.NopCloser(bytes.NewReader(buf)),
		Size:   size,
		SHA256: checksum,
	}, nil
}

// chunkedReader wraps a ReadCloser to force reads in fixed-size
// chunks, matching spec §4.2's "stream in 1MB chunks" requirement for
// large artifacts.
type chunkedReader struct {
	io.ReadCloser
	chunk int
}

func newChunkedReader(r io.ReadCloser, chunk int) io.ReadCloser {
	return &chunkedReader{ReadCloser: r, chunk: chunk}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > c.chunk {
		p = p[:c.chunk]
	}
	return c.ReadCloser.Read(p)
}
